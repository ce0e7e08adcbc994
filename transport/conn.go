package transport

import (
	"net"
	"os"
	"time"

	"github.com/pkg/errors"
)

// ConnPort adapts a net.Conn to Port semantics by arming a read deadline of
// one poll interval before every Read.
type ConnPort struct {
	conn net.Conn
	poll time.Duration
}

// FromConn wraps c. A zero poll uses DefaultPollInterval.
func FromConn(c net.Conn, poll time.Duration) *ConnPort {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &ConnPort{conn: c, poll: poll}
}

// Read reads from the connection, mapping an expired poll deadline to
// (n, nil).
func (p *ConnPort) Read(b []byte) (int, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(p.poll)); err != nil {
		return 0, err
	}
	n, err := p.conn.Read(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (p *ConnPort) Write(b []byte) (int, error) {
	return p.conn.Write(b)
}

func (p *ConnPort) Close() error {
	return p.conn.Close()
}

func (p *ConnPort) String() string {
	return p.conn.RemoteAddr().String()
}

// Dial connects to a programmer served over TCP.
func Dial(addr string, timeout time.Duration) (*ConnPort, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	return FromConn(c, 0), nil
}
