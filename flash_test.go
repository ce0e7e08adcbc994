package spiprog

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/gentam/spiprog/flashsim"
)

var testID = [3]byte{0xEF, 0x70, 0x18} // W25Q128

func newTestFlash(t *testing.T, size int, chipOpts []flashsim.Option, opts ...FlashOption) (*Flash, *flashsim.Chip) {
	t.Helper()
	chip := flashsim.New(testID, size, append(chipOpts, flashsim.WithRecording())...)
	f := NewFlash(chip, chip.CS(), opts...)
	t.Cleanup(func() {
		if v := chip.Violations(); len(v) != 0 {
			t.Errorf("chip select violations: %v", v)
		}
		if chip.Selected() {
			t.Error("chip select left asserted")
		}
	})
	return f, chip
}

func opcodes(txs []flashsim.Transaction) []byte {
	ops := make([]byte, len(txs))
	for i, tx := range txs {
		ops[i] = tx.Opcode()
	}
	return ops
}

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7) ^ seed
	}
	return b
}

func TestReadID(t *testing.T) {
	f, chip := newTestFlash(t, 64<<10, nil)

	id, name, err := f.ReadID()
	if err != nil {
		t.Fatalf("ReadID: %v", err)
	}
	if id != testID {
		t.Errorf("id = %X, want %X", id, testID)
	}
	if name != "Winbond W25Q 128Mb" {
		t.Errorf("name = %q", name)
	}

	txs := chip.Transactions()
	if len(txs) != 1 || !bytes.Equal(txs[0].Bytes, []byte{0x9F, 0, 0, 0}) {
		t.Errorf("transactions = %v, want one 9F 00 00 00", txs)
	}
}

func TestReadID_Unknown(t *testing.T) {
	chip := flashsim.New([3]byte{0x12, 0x34, 0x56}, 4096)
	f := NewFlash(chip, chip.CS())

	id, name, err := f.ReadID()
	if err != nil {
		t.Fatalf("ReadID: %v", err)
	}
	if id != [3]byte{0x12, 0x34, 0x56} || name != "" {
		t.Errorf("ReadID = %X %q, want 123456 and no name", id, name)
	}
}

func TestReadChunk_Transaction(t *testing.T) {
	f, chip := newTestFlash(t, 1<<20, nil)
	chip.Load(0x012345, []byte{1, 2, 3, 4})

	buf := make([]byte, 4)
	if err := f.ReadChunk(0x012345, buf); err != nil {
		t.Fatalf("ReadChunk: %v", err)
	}
	if !bytes.Equal(buf, []byte{1, 2, 3, 4}) {
		t.Errorf("data = %X", buf)
	}

	want := []byte{0x03, 0x01, 0x23, 0x45, 0, 0, 0, 0}
	if txs := chip.Transactions(); len(txs) != 1 || !bytes.Equal(txs[0].Bytes, want) {
		t.Errorf("transactions = %v, want %X", txs, want)
	}
}

func TestReadChunk_TooLarge(t *testing.T) {
	f, _ := newTestFlash(t, 4096, nil)
	if err := f.ReadChunk(0, make([]byte, MaxChunk+1)); err == nil {
		t.Error("ReadChunk accepted more than one chunk")
	}
}

func TestPageProgram_Sequence(t *testing.T) {
	f, chip := newTestFlash(t, 1<<20, nil)

	data := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := f.PageProgram(0x0ABC00, data); err != nil {
		t.Fatalf("PageProgram: %v", err)
	}

	txs := chip.Transactions()
	if got := opcodes(txs); !bytes.Equal(got, []byte{0x06, 0x02, 0x05}) {
		t.Fatalf("opcodes = %X, want 06 02 05", got)
	}
	want := append([]byte{0x02, 0x0A, 0xBC, 0x00}, data...)
	if !bytes.Equal(txs[1].Bytes, want) {
		t.Errorf("page program = %X, want %X", txs[1].Bytes, want)
	}
	if !bytes.Equal(chip.Memory()[0x0ABC00:0x0ABC04], data) {
		t.Error("data not programmed")
	}
}

func TestPageProgram_TooLarge(t *testing.T) {
	f, chip := newTestFlash(t, 4096, nil)
	if err := f.PageProgram(0, make([]byte, MaxChunk+1)); err == nil {
		t.Error("PageProgram accepted more than one page")
	}
	if n := len(chip.Transactions()); n != 0 {
		t.Errorf("%d transactions issued for a rejected program", n)
	}
}

func TestBusyWait_PollsUntilClear(t *testing.T) {
	for _, busy := range []int{0, 1, 5} {
		f, chip := newTestFlash(t, 4096, []flashsim.Option{flashsim.WithBusyPolls(busy)})

		if err := f.PageProgram(0, []byte{0x00}); err != nil {
			t.Fatalf("busy %d: PageProgram: %v", busy, err)
		}
		if got := chip.StatusReads(); got != busy+1 {
			t.Errorf("busy %d: %d status reads, want %d", busy, got, busy+1)
		}
	}
}

func TestBusyWait_Unresponsive(t *testing.T) {
	f, chip := newTestFlash(t, 4096, []flashsim.Option{flashsim.WithBusyPolls(flashsim.Forever)},
		WithMaxPolls(3))

	err := f.EraseChip()
	if !errors.Is(err, ErrDeviceUnresponsive) {
		t.Fatalf("err = %v, want ErrDeviceUnresponsive", err)
	}
	var ue *UnresponsiveError
	if !errors.As(err, &ue) {
		t.Fatalf("err = %T, want *UnresponsiveError", err)
	}
	if ue.Polls != 3 || !ue.Status.Busy() {
		t.Errorf("UnresponsiveError = %+v", ue)
	}
	if got := chip.StatusReads(); got != 3 {
		t.Errorf("%d status reads, want 3", got)
	}
}

func TestBusyWait_Timeout(t *testing.T) {
	f, _ := newTestFlash(t, 4096, []flashsim.Option{flashsim.WithBusyPolls(flashsim.Forever)},
		WithProgramTimeout(20*time.Millisecond))

	start := time.Now()
	err := f.PageProgram(0, []byte{0x00})
	if !errors.Is(err, ErrDeviceUnresponsive) {
		t.Fatalf("err = %v, want ErrDeviceUnresponsive", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("gave up after %v", elapsed)
	}
}

func TestBusyWait_PollInterval(t *testing.T) {
	const interval = 10 * time.Millisecond
	f, chip := newTestFlash(t, 4096, []flashsim.Option{flashsim.WithBusyPolls(3)},
		WithPollInterval(interval))

	start := time.Now()
	if err := f.PageProgram(0, []byte{0x00}); err != nil {
		t.Fatalf("PageProgram: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 3*interval {
		t.Errorf("4 polls took %v, want at least %v", elapsed, 3*interval)
	}
	if got := chip.StatusReads(); got != 4 {
		t.Errorf("%d status reads, want 4", got)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	f, chip := newTestFlash(t, 64<<10, []flashsim.Option{flashsim.WithBusyPolls(1)})

	data := pattern(1000, 0x5A)
	if err := f.Write(0x1F0, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for _, tx := range chip.Transactions() {
		if tx.Opcode() != 0x02 {
			continue
		}
		a := uint32(tx.Bytes[1])<<16 | uint32(tx.Bytes[2])<<8 | uint32(tx.Bytes[3])
		n := uint32(len(tx.Bytes) - 4)
		if a/MaxChunk != (a+n-1)/MaxChunk {
			t.Errorf("page program 0x%X+%d crosses a page", a, n)
		}
	}

	chip.Reset()
	got, err := f.Read(0x1F0, len(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read back differs from written data")
	}
	if n := len(chip.Transactions()); n != 4 {
		t.Errorf("%d read transactions, want 4", n)
	}
}

func TestEraseChip(t *testing.T) {
	f, chip := newTestFlash(t, 8192, nil)
	chip.Load(0, pattern(8192, 0))

	if err := f.EraseChip(); err != nil {
		t.Fatalf("EraseChip: %v", err)
	}
	if got := opcodes(chip.Transactions()); !bytes.Equal(got, []byte{0x06, 0xC7, 0x05}) {
		t.Errorf("opcodes = %X, want 06 C7 05", got)
	}
	for i, b := range chip.Memory() {
		if b != 0xFF {
			t.Fatalf("byte %d = 0x%02X after erase", i, b)
		}
	}
}

func TestPowerCycle(t *testing.T) {
	f, chip := newTestFlash(t, 4096, nil)
	if err := f.PowerDown(); err != nil {
		t.Fatalf("PowerDown: %v", err)
	}
	if id, _, _ := f.ReadID(); id != [3]byte{0xFF, 0xFF, 0xFF} {
		t.Errorf("powered down chip answered %X", id)
	}
	if err := f.PowerUp(); err != nil {
		t.Fatalf("PowerUp: %v", err)
	}
	if id, _, _ := f.ReadID(); id != testID {
		t.Errorf("id = %X after power up", id)
	}
	if got := opcodes(chip.Transactions()); !bytes.Equal(got, []byte{0xB9, 0x9F, 0xAB, 0x9F}) {
		t.Errorf("opcodes = %X", got)
	}
}

// failingConn fails every transfer after the chip is selected.
type failingConn struct {
	*flashsim.Chip
}

var errBus = errors.New("bus fault")

func (failingConn) Tx(w, r []byte) error { return errBus }

func TestTx_ReleasesChipSelectOnError(t *testing.T) {
	chip := flashsim.New(testID, 4096)
	f := NewFlash(failingConn{chip}, chip.CS())

	_, _, err := f.ReadID()
	if !errors.Is(err, errBus) {
		t.Fatalf("err = %v, want %v", err, errBus)
	}
	if chip.Selected() {
		t.Error("chip select still asserted after failed transfer")
	}
}

func TestStatusRegister_String(t *testing.T) {
	tests := []struct {
		sr   StatusRegister
		want string
	}{
		{0x00, "00000000"},
		{0x01, "00000001 BUSY"},
		{0x03, "00000011 WEL,BUSY"},
		{0x9C, "10011100 SRP,BP=7"},
	}
	for _, tc := range tests {
		if got := tc.sr.String(); got != tc.want {
			t.Errorf("StatusRegister(0x%02X).String() = %q, want %q", byte(tc.sr), got, tc.want)
		}
	}
}
