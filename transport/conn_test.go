package transport

import (
	"bytes"
	"net"
	"testing"
	"time"
)

func TestConnPort_IdleReadReturnsNothing(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	p := FromConn(a, 5*time.Millisecond)
	start := time.Now()
	n, err := p.Read(make([]byte, 8))
	if err != nil || n != 0 {
		t.Fatalf("Read = %d, %v, want 0, nil", n, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("idle read blocked for %v", elapsed)
	}
}

func TestConnPort_PassesData(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	p := FromConn(a, 5*time.Millisecond)
	go func() {
		b.Write([]byte{'D'})
		buf := make([]byte, 3)
		n, _ := b.Read(buf)
		b.Write(buf[:n])
	}()

	var got []byte
	buf := make([]byte, 8)
	for len(got) < 1 {
		n, err := p.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if _, err := p.Write([]byte{0xEF, 0x40, 0x18}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	for len(got) < 4 {
		n, err := p.Read(buf)
		if err != nil {
			t.Fatalf("Read: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if want := []byte{'D', 0xEF, 0x40, 0x18}; !bytes.Equal(got, want) {
		t.Errorf("got %X, want %X", got, want)
	}
}

func TestConnPort_ClosedPeer(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	b.Close()

	if _, err := FromConn(a, time.Millisecond).Read(make([]byte, 1)); err == nil {
		t.Error("Read from closed pipe succeeded")
	}
}

func TestFromConn_DefaultPoll(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	if p := FromConn(a, 0); p.poll != DefaultPollInterval {
		t.Errorf("poll = %v, want %v", p.poll, DefaultPollInterval)
	}
	if s := FromConn(a, 0).String(); s != "pipe" {
		t.Errorf("String() = %q", s)
	}
}
