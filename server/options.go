package server

import (
	"time"

	"github.com/gentam/spiprog"
	"github.com/gentam/spiprog/protocol"
)

// Config holds the dispatcher configuration.
type Config struct {
	// ChunkSize is the number of bytes moved per bus transaction (1..256).
	ChunkSize int

	// ReadTimeout bounds how long a command may wait for its parameters or
	// payload. Zero waits forever.
	ReadTimeout time.Duration

	// NackUnknown answers unrecognized tags with NACK instead of silence.
	NackUnknown bool

	// CapacityRules are the vendor fallbacks used by Detect.
	CapacityRules []spiprog.CapacityRule
}

func defaultConfig() Config {
	return Config{
		ChunkSize:     protocol.DefaultChunkSize,
		ReadTimeout:   2 * time.Second,
		CapacityRules: spiprog.DefaultCapacityRules,
	}
}

// Option is a functional option for configuring the Server.
type Option func(*Config)

// WithChunkSize sets the number of bytes per bus transaction.
func WithChunkSize(size int) Option {
	return func(c *Config) {
		c.ChunkSize = size
	}
}

// WithReadTimeout sets how long a command waits for host data.
//
// Example:
//
//	srv, err := server.New(flash, port, server.WithReadTimeout(0)) // never time out
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = timeout
	}
}

// WithNackUnknown enables NACK replies to unrecognized tags.
func WithNackUnknown(nack bool) Option {
	return func(c *Config) {
		c.NackUnknown = nack
	}
}

// WithCapacityRules replaces the vendor fallback rules used by Detect.
func WithCapacityRules(rules []spiprog.CapacityRule) Option {
	return func(c *Config) {
		c.CapacityRules = rules
	}
}
