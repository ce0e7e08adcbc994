package client

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gentam/spiprog"
	"github.com/gentam/spiprog/flashsim"
	"github.com/gentam/spiprog/protocol"
	"github.com/gentam/spiprog/server"
	"github.com/gentam/spiprog/transport"
)

// serve starts a programmer for flash and returns a Client connected to it.
func serve(t *testing.T, flash server.Flasher, opts ...Option) *Client {
	t.Helper()
	a, b := net.Pipe()
	srv, err := server.New(flash, transport.FromConn(a, 5*time.Millisecond))
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		b.Close()
		if err := <-done; err != nil {
			t.Errorf("Serve: %v", err)
		}
		a.Close()
	})
	return New(transport.FromConn(b, 5*time.Millisecond), opts...)
}

func newChip(t *testing.T, id [3]byte, size int, opts ...flashsim.Option) (*Client, *flashsim.Chip) {
	t.Helper()
	chip := flashsim.New(id, size, opts...)
	return serve(t, spiprog.NewFlash(chip, chip.CS())), chip
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*31 + i>>8)
	}
	return b
}

func TestDetect(t *testing.T) {
	tests := []struct {
		id   [3]byte
		want Info
	}{
		{
			id: [3]byte{0xEF, 0x40, 0x18},
			want: Info{
				JEDEC:        [3]byte{0xEF, 0x40, 0x18},
				Capacity:     16 << 20,
				Manufacturer: "Winbond",
				Part:         "W25Q40 (1MB)",
			},
		},
		{
			id: [3]byte{0xEF, 0x40, 0x00},
			want: Info{
				JEDEC:        [3]byte{0xEF, 0x40, 0x00},
				Capacity:     1 << 20,
				Manufacturer: "Winbond",
				Part:         "W25Q40 (1MB)",
			},
		},
		{
			id: [3]byte{0xC2, 0x20, 0x17},
			want: Info{
				JEDEC:        [3]byte{0xC2, 0x20, 0x17},
				Capacity:     8 << 20,
				Manufacturer: "Macronix",
				Part:         "8MB Chip",
			},
		},
	}
	for _, tc := range tests {
		t.Run(spiprog.FormatSize(tc.want.Capacity), func(t *testing.T) {
			c, _ := newChip(t, tc.id, 4096)
			info, err := c.Detect()
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if *info != tc.want {
				t.Errorf("Detect() = %+v, want %+v", *info, tc.want)
			}
		})
	}
}

func TestWriteReadVerify(t *testing.T) {
	c, chip := newChip(t, [3]byte{0xEF, 0x40, 0x18}, 64<<10)
	data := pattern(1000)

	var last [2]int
	calls := 0
	c.SetProgress(func(done, total int) {
		if done < last[0] {
			t.Errorf("progress went backwards: %d after %d", done, last[0])
		}
		last = [2]int{done, total}
		calls++
	})

	if err := c.Write(0x80, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if last != [2]int{1000, 1000} || calls != 4 {
		t.Errorf("write progress: %d calls, last %v", calls, last)
	}
	if !bytes.Equal(chip.Memory()[0x80:0x80+1000], data) {
		t.Fatal("chip memory does not hold written data")
	}

	got, err := c.Read(0x80, len(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read back differs from written data")
	}
	if err := c.Verify(0x80, data); err != nil {
		t.Errorf("Verify: %v", err)
	}
}

func TestRead_Large(t *testing.T) {
	chip := flashsim.New([3]byte{0xEF, 0x40, 0x18}, 64<<10)
	data := pattern(10000)
	chip.Load(0x1234, data)

	var steps []int
	c := serve(t, spiprog.NewFlash(chip, chip.CS()),
		WithProgress(func(done, _ int) { steps = append(steps, done) }))
	got, err := c.Read(0x1234, len(data))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("read data mismatch")
	}
	if want := []int{4096, 8192, 10000}; len(steps) != 3 || steps[2] != want[2] || steps[0] != want[0] {
		t.Errorf("progress steps = %v, want %v", steps, want)
	}
}

func TestVerify_Mismatch(t *testing.T) {
	c, chip := newChip(t, [3]byte{0xEF, 0x40, 0x18}, 4096)
	data := pattern(300)
	chip.Load(0x100, data)
	chip.Load(0x100+42, []byte{^data[42]})

	err := c.Verify(0x100, data)
	var ve *VerifyError
	if !errors.As(err, &ve) {
		t.Fatalf("Verify() = %v, want *VerifyError", err)
	}
	if ve.Addr != 0x100 || ve.Offset != 42 || ve.Expected != Checksum(data) {
		t.Errorf("VerifyError = %+v", ve)
	}
}

func TestErase(t *testing.T) {
	c, chip := newChip(t, [3]byte{0xEF, 0x40, 0x18}, 8192, flashsim.WithBusyPolls(4))
	chip.Load(0, pattern(8192))

	if err := c.Erase(); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	got, err := c.Read(0, 8192)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, 8192)) {
		t.Error("chip not blank after erase")
	}
}

func TestWrite_Unresponsive(t *testing.T) {
	chip := flashsim.New([3]byte{0xEF, 0x40, 0x18}, 4096, flashsim.WithBusyPolls(flashsim.Forever))
	c := serve(t, spiprog.NewFlash(chip, chip.CS(), spiprog.WithMaxPolls(2)))

	err := c.Write(0, pattern(512))
	if !errors.Is(err, protocol.ErrNack) {
		t.Errorf("Write() = %v, want ErrNack", err)
	}
}

type brokenFlash struct{}

var errBus = errors.New("bus fault")

func (brokenFlash) ReadID() ([3]byte, string, error) { return [3]byte{}, "", errBus }
func (brokenFlash) ReadChunk(uint32, []byte) error   { return errBus }
func (brokenFlash) PageProgram(uint32, []byte) error { return errBus }
func (brokenFlash) EraseChip() error                 { return errBus }

func TestNack(t *testing.T) {
	c := serve(t, brokenFlash{}, WithTimeout(50*time.Millisecond), WithEraseTimeout(time.Second))

	if _, err := c.Detect(); !errors.Is(err, protocol.ErrNack) {
		t.Errorf("Detect() = %v, want ErrNack", err)
	}
	if err := c.Erase(); !errors.Is(err, protocol.ErrNack) {
		t.Errorf("Erase() = %v, want ErrNack", err)
	}
	if err := c.Write(0, pattern(600)); !errors.Is(err, protocol.ErrNack) {
		t.Errorf("Write() = %v, want ErrNack", err)
	}
}

func TestChecksum(t *testing.T) {
	// CRC-32/IEEE check value
	if got := Checksum([]byte("123456789")); got != 0xCBF43926 {
		t.Errorf("Checksum = %08X, want CBF43926", got)
	}
}
