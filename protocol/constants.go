package protocol

// Command tags.
const (
	CmdRead   = 'R'
	CmdWrite  = 'W'
	CmdErase  = 'E'
	CmdDetect = 'D'
)

// Acknowledgement bytes.
const (
	Ack  = 0xAA
	Nack = 0x55
)

const (
	// DefaultBaudRate is the serial line rate of the reference hardware.
	DefaultBaudRate = 500000
	// DefaultChunkSize is the number of bytes moved per bus transaction.
	DefaultChunkSize = 256
)

// DetectResponseSize is the length of the answer to CmdDetect: the JEDEC ID
// followed by the capacity.
const DetectResponseSize = 3 + 4

// CommandName returns a human-readable name for a tag byte.
func CommandName(tag byte) string {
	switch tag {
	case CmdRead:
		return "read"
	case CmdWrite:
		return "write"
	case CmdErase:
		return "erase"
	case CmdDetect:
		return "detect"
	default:
		return "unknown"
	}
}
