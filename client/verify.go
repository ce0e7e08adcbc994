package client

import (
	"fmt"

	"github.com/snksoft/crc"
)

var crcTable = crc.NewTable(crc.CRC32)

// Checksum returns the CRC-32 (IEEE) of data.
func Checksum(data []byte) uint32 {
	return uint32(crcTable.CalculateCRC(data))
}

// VerifyError reports a read-back that does not match what was written.
type VerifyError struct {
	Addr     uint32
	Offset   int // first differing byte
	Expected uint32
	Actual   uint32
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("verify at 0x%06X: CRC mismatch: expected %08X, got %08X (first difference at offset %d)",
		e.Addr, e.Expected, e.Actual, e.Offset)
}

// Verify reads back len(data) bytes from addr and compares checksums.
func (c *Client) Verify(addr uint32, data []byte) error {
	got, err := c.Read(addr, len(data))
	if err != nil {
		return err
	}
	want, have := Checksum(data), Checksum(got)
	if want == have {
		return nil
	}
	off := 0
	for off < len(data) && data[off] == got[off] {
		off++
	}
	return &VerifyError{Addr: addr, Offset: off, Expected: want, Actual: have}
}
