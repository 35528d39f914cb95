package probe

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestIsPortAvailable_Listening(t *testing.T) {
	ln, port := listen(t)
	defer func() { _ = ln.Close() }()

	p := New(500 * time.Millisecond)
	assert.False(t, p.IsPortAvailable(context.Background(), port))
}

func TestIsPortAvailable_Closed(t *testing.T) {
	ln, port := listen(t)
	require.NoError(t, ln.Close())

	p := New(500 * time.Millisecond)
	assert.True(t, p.IsPortAvailable(context.Background(), port))
}

func TestIsPortAvailable_UnresolvableHost(t *testing.T) {
	p := &Prober{Host: "host.invalid", Timeout: 200 * time.Millisecond}
	assert.True(t, p.IsPortAvailable(context.Background(), 80))
}

func TestIsPortAvailable_CanceledContext(t *testing.T) {
	ln, port := listen(t)
	defer func() { _ = ln.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// a canceled probe cannot connect, so the port reads as free
	assert.True(t, New(0).IsPortAvailable(ctx, port))
}

func TestZeroValueProber(t *testing.T) {
	ln, port := listen(t)
	defer func() { _ = ln.Close() }()

	var p Prober
	assert.False(t, p.IsPortAvailable(context.Background(), port))
}
