package spiprog

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/spi"
)

// ChipSelect drives the (active low) chip-select line of the flash chip.
// Any gpio.PinOut satisfies it.
type ChipSelect interface {
	Out(l gpio.Level) error
}

// Flash is a single SPI NOR chip on a dedicated bus. It is not safe for
// concurrent use: every transaction assumes it owns the bus.
type Flash struct {
	conn spi.Conn
	cs   ChipSelect
	id   [3]byte // JEDEC ID of the flash chip
	pr   *flashParams
	poll pollConfig
}

type pollConfig struct {
	interval time.Duration
	maxPolls int
	program  time.Duration // < 0: derive from chip parameters
	erase    time.Duration // < 0: derive from chip parameters
}

// FlashOption configures a Flash.
type FlashOption func(*Flash)

// WithPollInterval sets the delay between status register reads while the
// chip is busy. Default is 1ms.
func WithPollInterval(d time.Duration) FlashOption {
	return func(f *Flash) { f.poll.interval = d }
}

// WithMaxPolls caps the number of status register reads per busy-wait.
// Zero means no cap.
func WithMaxPolls(n int) FlashOption {
	return func(f *Flash) { f.poll.maxPolls = max(n, 0) }
}

// WithProgramTimeout overrides the busy-wait budget after a page program.
// Zero waits forever.
func WithProgramTimeout(d time.Duration) FlashOption {
	return func(f *Flash) { f.poll.program = max(d, 0) }
}

// WithEraseTimeout overrides the busy-wait budget after a chip erase.
// Zero waits forever.
func WithEraseTimeout(d time.Duration) FlashOption {
	return func(f *Flash) { f.poll.erase = max(d, 0) }
}

// NewFlash returns a driver for the chip behind conn and cs. The bus must
// already be configured (mode 0, 8 bits per word).
func NewFlash(conn spi.Conn, cs ChipSelect, opts ...FlashOption) *Flash {
	f := &Flash{
		conn: conn,
		cs:   cs,
		poll: pollConfig{
			interval: time.Millisecond,
			program:  -1,
			erase:    -1,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Flash commands:
//   - [N25Q32|Table 16: Command Set]
//   - [W25Q128|8.1.2 Instruction Set Table 1]
const (
	flashCmdPowerUp            = 0xAB // Release Power Down
	flashCmdPowerDown          = 0xB9
	flashCmdReadID             = 0x9F
	flashCmdRead               = 0x03
	flashCmdWriteEnable        = 0x06
	flashCmdPageProgram        = 0x02
	flashCmdEraseChip          = 0xC7 // Bulk Erase / Chip Erase
	flashCmdReadStatusRegister = 0x05
)

// tWREN is the pause between the write enable transaction and the command it
// unlocks.
const tWREN = time.Microsecond

const noAddr = -1

var ErrDeviceUnresponsive = errors.New("flash device unresponsive")

// UnresponsiveError reports a busy-wait that gave up while the chip still
// reported write-in-progress.
type UnresponsiveError struct {
	Op      string
	Status  StatusRegister
	Polls   int
	Elapsed time.Duration
}

func (e *UnresponsiveError) Error() string {
	return fmt.Sprintf("%s: %v after %d polls (%v), status %v",
		e.Op, ErrDeviceUnresponsive, e.Polls, e.Elapsed.Round(time.Millisecond), e.Status)
}

func (e *UnresponsiveError) Unwrap() error { return ErrDeviceUnresponsive }

// tx wraps SPI transaction with CS assertion.
func (f *Flash) tx(buf []byte) (err error) {
	if err = f.cs.Out(gpio.Low); err != nil {
		return err
	}
	defer func() {
		if csErr := f.cs.Out(gpio.High); csErr != nil && err == nil {
			err = csErr
		}
	}()
	err = f.conn.Tx(buf, buf)
	return
}

// transact runs one chip-select framed transaction: the opcode, a 24-bit
// address (MSB first) unless addr is noAddr, the payload, then n dummy zero
// bytes. It returns the n bytes clocked in during the dummy phase.
func (f *Flash) transact(op byte, addr int, payload []byte, n int) ([]byte, error) {
	hdr := 1
	if addr != noAddr {
		hdr += 3
	}
	buf := make([]byte, hdr+len(payload)+n)
	buf[0] = op
	if addr != noAddr {
		buf[1] = byte(addr >> 16)
		buf[2] = byte(addr >> 8)
		buf[3] = byte(addr)
	}
	copy(buf[hdr:], payload)

	if err := f.tx(buf); err != nil {
		return nil, errors.Wrapf(err, "spi transaction 0x%02X", op)
	}
	return buf[hdr+len(payload):], nil
}

func (f *Flash) String() string {
	return fmt.Sprintf("flash(%s)", f.conn)
}

func (f *Flash) PowerUp() error {
	if _, err := f.transact(flashCmdPowerUp, noAddr, nil, 0); err != nil {
		return err
	}
	time.Sleep(f.tRES1())
	return nil
}

func (f *Flash) PowerDown() error {
	if _, err := f.transact(flashCmdPowerDown, noAddr, nil, 0); err != nil {
		return err
	}
	time.Sleep(f.tDP())
	return nil
}

// ReadID returns the JEDEC ID of the flash chip and configures its parameters.
// It returns a non-empty name for known IDs. The extended device string is ignored.
func (f *Flash) ReadID() (id [3]byte, name string, err error) {
	resp, err := f.transact(flashCmdReadID, noAddr, nil, 3)
	if err != nil {
		return
	}

	f.id = [3]byte(resp)
	f.pr = nil
	if params, ok := knownFlash[f.id]; ok {
		f.pr = &params
		name = params.name
	}
	return f.id, name, nil
}

// ReadChunk fills p from addr in a single Read Data transaction. p must not
// exceed MaxChunk bytes.
func (f *Flash) ReadChunk(addr uint32, p []byte) error {
	if len(p) > MaxChunk {
		return errors.Errorf("read of %d bytes exceeds %d byte chunk", len(p), MaxChunk)
	}
	resp, err := f.transact(flashCmdRead, int(addr&0xFFFFFF), nil, len(p))
	if err != nil {
		return err
	}
	copy(p, resp)
	return nil
}

// Read returns n bytes from addr, one transaction per chunk.
func (f *Flash) Read(addr uint32, n int) ([]byte, error) {
	out := make([]byte, n)
	err := ForEachChunk(addr, uint32(n), MaxChunk, 0, func(a uint32, chunk int) error {
		off := a - addr
		return f.ReadChunk(a, out[off:off+uint32(chunk)])
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (f *Flash) writeEnable() error {
	_, err := f.transact(flashCmdWriteEnable, noAddr, nil, 0)
	return err
}

// PageProgram writes up to MaxChunk bytes at addr and waits for the chip to
// finish. The chip wraps writes that cross a page boundary.
func (f *Flash) PageProgram(addr uint32, data []byte) error {
	if len(data) > MaxChunk {
		return errors.Errorf("data must not exceed %d bytes", MaxChunk)
	}
	if err := f.writeEnable(); err != nil {
		return err
	}
	time.Sleep(tWREN)

	if _, err := f.transact(flashCmdPageProgram, int(addr&0xFFFFFF), data, 0); err != nil {
		return err
	}
	return f.BusyWait("page program", f.poll.interval, f.programTimeout())
}

// Write programs data at addr in page-aligned chunks. The range must have
// been erased.
func (f *Flash) Write(addr uint32, data []byte) error {
	return ForEachChunk(addr, uint32(len(data)), MaxChunk, MaxChunk, func(a uint32, n int) error {
		off := a - addr
		return f.PageProgram(a, data[off:off+uint32(n)])
	})
}

// EraseChip bulk erase the entire chip.
func (f *Flash) EraseChip() error {
	if err := f.writeEnable(); err != nil {
		return err
	}
	time.Sleep(tWREN)

	if _, err := f.transact(flashCmdEraseChip, noAddr, nil, 0); err != nil {
		return err
	}
	return f.BusyWait("chip erase", f.poll.interval, f.eraseTimeout())
}

// BusyWait waits for the flash to become ready by polling the status register's
// bit 0 with specified intervals. The first read is immediate. It returns an
// *UnresponsiveError once timeout elapses or the poll limit is reached; set
// timeout to 0 to wait indefinitely.
func (f *Flash) BusyWait(op string, interval, timeout time.Duration) error {
	start := time.Now()
	for polls := 1; ; polls++ {
		sr, err := f.ReadStatusRegister()
		if err != nil {
			return err
		}
		if !sr.Busy() {
			glog.V(2).Infof("%s: ready after %d polls", op, polls)
			return nil
		}

		elapsed := time.Since(start)
		if (timeout > 0 && elapsed >= timeout) || (f.poll.maxPolls > 0 && polls >= f.poll.maxPolls) {
			return &UnresponsiveError{Op: op, Status: sr, Polls: polls, Elapsed: elapsed}
		}
		time.Sleep(interval)
	}
}

// StatusRegister represents the status register of the flash chip.
//
//	Bits| [N25Q32|Table 9]                     | [W25Q128|7.1 Status Registers]
//	----+--------------------------------------+-------------------------------
//	7   | Status register write enable/disable | SRP: Status Register Protect
//	6   | Reserved                             | SEC: Sector protect
//	5   | Top/bottom                           | TB: Top/Bottom protect
//	4:2 | Block protect 2-0                    | BP2-0: Block Protect bit 2-0
//	1   | Write enable latch                   | WEL: Write Enable Latch
//	0   | Write in progress                    | BUSY: Erase/Write in progress
type StatusRegister byte

func (sr StatusRegister) StatusRegisterProtect() bool { return sr&(1<<7) != 0 }
func (sr StatusRegister) TopBottom() bool             { return sr&(1<<5) != 0 }
func (sr StatusRegister) BlockProtect() byte          { return byte(sr>>2) & 0b111 }
func (sr StatusRegister) WriteEnabled() bool          { return sr&(1<<1) != 0 }
func (sr StatusRegister) Busy() bool                  { return sr&(1<<0) != 0 }

func (sr StatusRegister) String() string {
	b := fmt.Sprintf("%08b", byte(sr))
	s := []string{}
	if sr.StatusRegisterProtect() {
		s = append(s, "SRP")
	}
	if sr.TopBottom() {
		s = append(s, "TB")
	}
	if bp := sr.BlockProtect(); bp != 0 {
		s = append(s, fmt.Sprintf("BP=%d", bp))
	}
	if sr.WriteEnabled() {
		s = append(s, "WEL")
	}
	if sr.Busy() {
		s = append(s, "BUSY")
	}
	if len(s) == 0 {
		return b
	}
	return b + " " + strings.Join(s, ",")
}

func (f *Flash) ReadStatusRegister() (StatusRegister, error) {
	resp, err := f.transact(flashCmdReadStatusRegister, noAddr, nil, 1)
	if err != nil {
		return 0, err
	}
	return StatusRegister(resp[0]), nil
}
