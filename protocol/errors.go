package protocol

import "github.com/pkg/errors"

var (
	// ErrTimeout is returned when the peer stops sending mid-frame.
	ErrTimeout = errors.New("timeout waiting for data")
	// ErrNoAck is returned when the peer answers with neither ACK nor NACK.
	ErrNoAck = errors.New("no acknowledgement")
	// ErrNack is returned when the peer answers NACK.
	ErrNack = errors.New("negative acknowledgement")
)

// IsTimeout reports whether err is, or wraps, ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
