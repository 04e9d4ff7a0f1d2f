// File: cmd/hioload-net/console.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"io"
	"os"

	"github.com/fatih/color"
)

// stdout receives the payload lines.
var stdout io.Writer = os.Stdout

var (
	red   = color.New(color.FgRed).FprintfFunc()
	blue  = color.New(color.FgBlue).FprintfFunc()
	green = color.New(color.FgGreen).FprintfFunc()
)

// errorMsg prints an error message to stderr in red.
func errorMsg(format string, a ...any) {
	red(os.Stderr, "[!] Error: "+format+"\n", a...)
}

// infoMsg prints an informational message to stderr in blue.
func infoMsg(format string, a ...any) {
	blue(os.Stderr, "[+] "+format+"\n", a...)
}

// dataMsg prints received payload to stdout in green.
func dataMsg(format string, a ...any) {
	green(stdout, format+"\n", a...)
}
