// File: reactor/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package reactor provides the OS readiness backends behind the event loop:
// epoll on Linux, poll(2) on Darwin and WSAEventSelect with
// WaitForMultipleObjects on Windows.
package reactor
