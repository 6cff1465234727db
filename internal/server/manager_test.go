package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// --- helpers ---

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func randomPortConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// runAsync 在后台运行 Manager 并等待开始监听
func runAsync(t *testing.T, m *Manager) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case <-m.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server exited before listening: %v", err)
	case <-time.After(2 * time.Second):
		cancel()
		t.Fatal("server did not start listening")
	}
	return cancel, done
}

// --- DefaultConfig ---

func TestDefaultConfig_Values(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.WriteTimeout)
	assert.Equal(t, 120*time.Second, cfg.IdleTimeout)
	assert.Equal(t, 1<<20, cfg.MaxHeaderBytes)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

// --- Run lifecycle ---

func TestManager_RunServesUntilCancelled(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	assert.False(t, m.IsRunning())

	cancel, done := runAsync(t, m)
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.IsRunning())
}

func TestManager_ShutdownDrainsInflightRequests(t *testing.T) {
	started := make(chan struct{})
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte("late"))
	})
	m := NewManager("api", slow, randomPortConfig(), zap.NewNop())
	cancel, done := runAsync(t, m)

	type result struct {
		body string
		err  error
	}
	got := make(chan result, 1)
	go func() {
		resp, err := http.Get("http://" + m.Addr() + "/")
		if err != nil {
			got <- result{err: err}
			return
		}
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		got <- result{body: string(b), err: err}
	}()

	<-started
	cancel()

	r := <-got
	require.NoError(t, r.err)
	assert.Equal(t, "late", r.body)
	assert.NoError(t, <-done)
}

func TestManager_ListenFailure(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { busy.Close() })

	cfg := randomPortConfig()
	cfg.Addr = busy.Addr().String()
	m := NewManager("api", okHandler(), cfg, zap.NewNop())

	err = m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}

func TestManager_DoubleRun(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	cancel, done := runAsync(t, m)
	t.Cleanup(func() { cancel(); <-done })

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManager_ShutdownIdempotent(t *testing.T) {
	m := NewManager("api", okHandler(), randomPortConfig(), zap.NewNop())
	_, done := runAsync(t, m)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
	assert.NoError(t, <-done)
}

func TestManager_RunAfterShutdown(t *testing.T) {
	m := NewManager("metrics", okHandler(), randomPortConfig(), zap.NewNop())
	require.NoError(t, m.Shutdown(context.Background()))

	err := m.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManager_AddrBeforeListen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Addr = ":9999"
	m := NewManager("api", okHandler(), cfg, nil)

	assert.Equal(t, ":9999", m.Addr())
}
