// File: internal/sock/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package sock is the thin platform socket layer under the NET transport:
// non-blocking TCP socket lifecycle, socket options, wait handles for the
// multiplexer and the errno to api.ErrorCode resolver.
//
// POSIX builds use golang.org/x/sys/unix, Windows builds golang.org/x/sys/windows
// plus a few ws2_32 procedures loaded lazily.
package sock
