// Copyright 2026 The Nyanstream Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides connection error classification shared by
// the transport adapters.
//
// A client dropping mid-stream is the normal way a session ends, not a
// server fault: the next frame write (or the adapter's pending read)
// fails with one of a small set of teardown errors. The adapters use
// [IsExpectedCloseError] to log those at debug level and reserve the
// error level for genuinely unexpected failures.
package netutil

import (
	"errors"
	"io"
	"net"
	"os"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, an exceeded I/O deadline, a
// broken pipe, or a connection reset. These occur during normal session
// teardown when the peer disconnects and an in-flight read or write
// fails as a result.
//
// Sinks that close the connection outright (rather than half-close)
// produce ECONNRESET and EPIPE instead of EOF on the surviving side.
// All of these are expected and should not be logged as errors.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
