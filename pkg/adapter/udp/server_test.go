package udp

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/tcprest/pkg/adapter"
)

var echoHandler = adapter.HandlerFunc(func(ctx context.Context, line string) adapter.Reply {
	if line == "drop" {
		return adapter.Reply{}
	}
	return adapter.Reply{Line: strings.ToUpper(line)}
})

func freePort(t *testing.T) int {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func startServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = freePort(t)
	}

	srv, err := New(cfg, echoHandler, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := srv.Serve(ctx); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()

	// The socket binds synchronously before the read loop; give it a moment.
	require.Eventually(t, func() bool { return srv.Addr() != nil },
		5*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		_ = srv.Shutdown(shutdownCtx)
	})
	return srv
}

func sendAndReceive(t *testing.T, srv *Server, frame string) (string, error) {
	t.Helper()
	conn, err := net.Dial("udp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte(frame + "\n"))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64*1024)
	n, err := conn.Read(buf)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(buf[:n]), "\n"), nil
}

func TestServeRoundTrip(t *testing.T) {
	srv := startServer(t, Config{})

	reply, err := sendAndReceive(t, srv, "hello")
	require.NoError(t, err)
	assert.Equal(t, "HELLO", reply)
}

func TestEmptyReplySendsNothing(t *testing.T) {
	srv := startServer(t, Config{})

	_, err := sendAndReceive(t, srv, "drop")
	assert.Error(t, err) // read deadline, no datagram comes back
}

func TestOversizedDatagramDropped(t *testing.T) {
	srv := startServer(t, Config{MaxDatagramBytes: 64})

	_, err := sendAndReceive(t, srv, strings.Repeat("x", 200))
	assert.Error(t, err)
}

func TestShutdownClosesSocket(t *testing.T) {
	srv := startServer(t, Config{})

	shutdownCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
	defer c()
	require.NoError(t, srv.Shutdown(shutdownCtx))
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	assert.Equal(t, 8001, cfg.Port)
	assert.Equal(t, DefaultMaxDatagramBytes, cfg.MaxDatagramBytes)
}
