// Package flashsim emulates an SPI NOR flash chip behind a periph.io spi.Conn
// and a chip-select line. It models the write enable latch, page-wrapping
// page program, chip erase and a status register that reports busy for a
// configurable number of reads after each program or erase.
package flashsim

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/spi"
)

const pageSize = 256

// Forever makes the chip report busy on every status read after a program or
// erase.
const Forever = -1

var ErrNotSelected = errors.New("flashsim: transfer without chip select")

// Transaction is one chip-select framed exchange as seen by the chip.
type Transaction struct {
	Bytes   []byte // everything clocked in on MOSI
	Ignored bool   // dropped because the chip was busy or powered down
}

// Opcode returns the first byte of the transaction, or 0 if it is empty.
func (t Transaction) Opcode() byte {
	if len(t.Bytes) == 0 {
		return 0
	}
	return t.Bytes[0]
}

// Chip is a simulated flash chip. It implements spi.Conn; its chip-select
// line is returned by CS.
type Chip struct {
	mu sync.Mutex

	id        [3]byte
	mem       []byte
	busyPolls int
	record    bool

	selected    bool
	cur         []byte
	wel         bool
	busyLeft    int
	poweredDown bool

	log         []Transaction
	statusReads int
	violations  []string
}

// Option configures a Chip.
type Option func(*Chip)

// WithBusyPolls makes the chip report busy for n status reads after each
// program or erase. Pass Forever for a chip that never finishes.
func WithBusyPolls(n int) Option {
	return func(c *Chip) { c.busyPolls = n }
}

// WithRecording keeps every transaction for inspection with Transactions.
func WithRecording() Option {
	return func(c *Chip) { c.record = true }
}

// New returns an erased chip of size bytes answering with the JEDEC id.
// Sizes below one page are raised to one page.
func New(id [3]byte, size int, opts ...Option) *Chip {
	c := &Chip{
		id:  id,
		mem: bytes.Repeat([]byte{0xFF}, max(size, pageSize)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// String implements conn.Resource.
func (c *Chip) String() string {
	return fmt.Sprintf("flashsim(%02X%02X%02X, %d bytes)", c.id[0], c.id[1], c.id[2], len(c.mem))
}

// Duplex implements conn.Conn.
func (c *Chip) Duplex() conn.Duplex { return conn.Full }

// Tx clocks w into the chip and fills r with what the chip drives on MISO.
func (c *Chip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.selected {
		c.violations = append(c.violations, fmt.Sprintf("tx of %d bytes with CS high", len(w)))
		return ErrNotSelected
	}
	in := append([]byte(nil), w...)
	start := len(c.cur)
	c.cur = append(c.cur, in...)
	for i := range r {
		r[i] = c.output(start + i)
	}
	return nil
}

// TxPackets implements spi.Conn. Chip select stays under control of the CS
// line, so KeepCS is ignored.
func (c *Chip) TxPackets(p []spi.Packet) error {
	for _, pk := range p {
		if err := c.Tx(pk.W, pk.R); err != nil {
			return err
		}
	}
	return nil
}

// output is the byte driven on MISO at position pos of the current
// transaction.
func (c *Chip) output(pos int) byte {
	if pos == 0 || c.poweredDown {
		return 0xFF
	}
	op := c.cur[0]
	if c.busyLeft != 0 && op != opReadStatus {
		return 0xFF
	}
	switch op {
	case opReadID:
		if pos <= 3 {
			return c.id[pos-1]
		}
	case opReadStatus:
		return c.status()
	case opRead:
		if pos >= 4 {
			return c.mem[(c.addr(c.cur)+uint32(pos-4))%uint32(len(c.mem))]
		}
	}
	return 0xFF
}

func (c *Chip) status() byte {
	var sr byte
	if c.busyLeft != 0 {
		sr |= 1 << 0
	}
	if c.wel {
		sr |= 1 << 1
	}
	return sr
}

// addr decodes the 24-bit address of tx, wrapped to the chip size.
func (c *Chip) addr(tx []byte) uint32 {
	var a uint32
	for i := 1; i <= 3; i++ {
		a <<= 8
		if i < len(tx) {
			a |= uint32(tx[i])
		}
	}
	return a % uint32(len(c.mem))
}

func (c *Chip) selectChip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.selected {
		c.violations = append(c.violations, "CS asserted while already low")
	}
	c.selected = true
	c.cur = nil
}

func (c *Chip) deselectChip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.selected {
		return
	}
	c.selected = false
	tx := Transaction{Bytes: c.cur}
	tx.Ignored = !c.execute(c.cur)
	if c.record {
		c.log = append(c.log, tx)
	}
	c.cur = nil
}
