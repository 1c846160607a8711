package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/l0p7/journalgate/internal/config"
	"github.com/l0p7/journalgate/internal/logging"
)

func TestNewRequiresHandler(t *testing.T) {
	_, err := New(config.DefaultConfig(), logging.Discard(), nil)
	require.Error(t, err)
}

func TestNewUsesConfiguredAddress(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Listen.Address = "127.0.0.1"
	cfg.Server.Listen.Port = 9090

	srv, err := New(cfg, logging.Discard(), http.NewServeMux())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9090", srv.httpServer.Addr)
}

func TestRunShutsDownWhenContextCancelled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Listen.Address = "127.0.0.1"
	cfg.Server.Listen.Port = 0

	srv, err := New(cfg, logging.Discard(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not return after cancellation")
	}
}

func TestRunReportsListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	cfg := config.DefaultConfig()
	cfg.Server.Listen.Address = "127.0.0.1"
	cfg.Server.Listen.Port = ln.Addr().(*net.TCPAddr).Port

	srv, err := New(cfg, logging.Discard(), http.NewServeMux())
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:"+strconv.Itoa(cfg.Server.Listen.Port), srv.httpServer.Addr)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = srv.Run(ctx)
	require.Error(t, err)
	require.ErrorContains(t, err, "server: listen")
}
