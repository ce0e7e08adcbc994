// Package transport opens the byte streams the protocol runs over: serial
// ports for real hardware and network connections for development.
//
// Reads on every Port return (0, nil) once the poll interval passes without
// data, so callers can enforce their own timeouts and cancellation.
package transport

import (
	"io"
	"time"
)

// DefaultPollInterval bounds how long a single Read blocks.
const DefaultPollInterval = 100 * time.Millisecond

// Port is a bidirectional byte stream with polling reads.
type Port interface {
	io.ReadWriteCloser
	String() string
}
