package probe

import (
	"context"
	"net"
	"strconv"
	"time"
)

// DefaultTimeout bounds a single connection attempt.
const DefaultTimeout = time.Second

// Prober checks whether anything accepts TCP connections on a local port.
type Prober struct {
	Host    string
	Timeout time.Duration
}

// New returns a Prober dialing localhost with the given per-attempt timeout.
// A non-positive timeout falls back to DefaultTimeout.
func New(timeout time.Duration) *Prober {
	return &Prober{Host: "localhost", Timeout: timeout}
}

// IsPortAvailable reports true when a connection to port could not be
// established. Refusals, timeouts and resolver failures all count as
// available; only a successful connect means the port is taken.
func (p *Prober) IsPortAvailable(ctx context.Context, port int) bool {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return true
	}
	_ = conn.Close()
	return false
}
