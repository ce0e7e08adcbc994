// Package server implements the programmer side of the protocol: a loop that
// reads one command tag at a time and drives the flash chip accordingly.
package server

import (
	"context"
	"io"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/gentam/spiprog"
	"github.com/gentam/spiprog/protocol"
)

// Flasher is the subset of *spiprog.Flash the dispatcher drives.
type Flasher interface {
	ReadID() (id [3]byte, name string, err error)
	ReadChunk(addr uint32, p []byte) error
	PageProgram(addr uint32, data []byte) error
	EraseChip() error
}

// Result is the outcome of dispatching one tag.
type Result int

const (
	Handled      Result = iota // command ran to completion
	Unrecognized               // tag is not a command
	Failed                     // command started but did not complete
)

func (r Result) String() string {
	switch r {
	case Handled:
		return "handled"
	case Unrecognized:
		return "unrecognized"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}

// inputFlusher is implemented by ports that can drop unread input, such as
// transport.SerialPort.
type inputFlusher interface {
	Flush() error
}

// Server serves the protocol for a single flash chip. Commands are processed
// strictly one at a time in arrival order.
type Server struct {
	flash Flasher
	rw    io.ReadWriter
	fr    *protocol.Framer
	cfg   Config
	buf   []byte
}

// New returns a Server driving flash and talking on rw. Reads on rw should
// return (0, nil) periodically when idle (see the transport package) for
// timeouts and cancellation to take effect.
func New(flash Flasher, rw io.ReadWriter, opts ...Option) (*Server, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize > spiprog.MaxChunk {
		return nil, errors.Errorf("chunk size %d out of range 1..%d", cfg.ChunkSize, spiprog.MaxChunk)
	}
	if cfg.ReadTimeout < 0 {
		return nil, errors.Errorf("negative read timeout %v", cfg.ReadTimeout)
	}

	return &Server{
		flash: flash,
		rw:    rw,
		fr:    protocol.NewFramer(rw, cfg.ReadTimeout),
		cfg:   cfg,
		buf:   make([]byte, cfg.ChunkSize),
	}, nil
}

// Serve processes commands until ctx is done or the transport fails. It
// returns nil when ctx ends the loop.
func (s *Server) Serve(ctx context.Context) error {
	glog.Infof("serving %v (chunk %d, timeout %v)", s.flash, s.cfg.ChunkSize, s.cfg.ReadTimeout)
	for {
		tag, err := s.fr.ReadCommand(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read command")
		}

		res, err := s.Dispatch(tag)
		switch res {
		case Failed:
			glog.Warningf("%s: %v", protocol.CommandName(tag), err)
		case Unrecognized:
			glog.V(1).Infof("ignored tag 0x%02X", tag)
		}
	}
}

// Dispatch runs the command selected by tag. Every byte value maps to exactly
// one Result.
func (s *Server) Dispatch(tag byte) (Result, error) {
	var err error
	switch tag {
	case protocol.CmdRead:
		err = s.handleRead()
	case protocol.CmdWrite:
		err = s.handleWrite()
	case protocol.CmdErase:
		err = s.handleErase()
	case protocol.CmdDetect:
		err = s.handleDetect()
	default:
		if s.cfg.NackUnknown {
			s.reply(protocol.Nack)
		}
		return Unrecognized, nil
	}
	if err != nil {
		return Failed, err
	}
	return Handled, nil
}

// reply sends an ACK or NACK. A failed reply is only logged: the host will
// time out and the next command resynchronizes the stream.
func (s *Server) reply(b byte) {
	if err := s.fr.WriteByte(b); err != nil {
		glog.Warningf("reply 0x%02X: %v", b, err)
	}
}

// flushInput drops input that is buffered but not yet read, when the port
// supports it.
func (s *Server) flushInput() {
	if fl, ok := s.rw.(inputFlusher); ok {
		if err := fl.Flush(); err != nil {
			glog.Warningf("flush input: %v", err)
		}
	}
}

func (s *Server) readRange() (addr, length uint32, err error) {
	if addr, err = s.fr.ReadU32(); err != nil {
		return 0, 0, errors.Wrap(err, "address")
	}
	if length, err = s.fr.ReadU32(); err != nil {
		return 0, 0, errors.Wrap(err, "length")
	}
	return addr, length, nil
}
