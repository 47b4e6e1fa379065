package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

func TestManagerServesRequests(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})
	m := NewManager(handler, testConfig(), nil)

	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())
	assert.True(t, m.IsRunning())

	resp, err := http.Get("http://" + m.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestManagerDoubleStart(t *testing.T) {
	m := NewManager(http.NotFoundHandler(), testConfig(), nil)
	require.NoError(t, m.Start())
	defer m.Shutdown(context.Background())

	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestManagerShutdown(t *testing.T) {
	m := NewManager(http.NotFoundHandler(), testConfig(), nil)
	require.NoError(t, m.Start())

	require.NoError(t, m.Shutdown(context.Background()))
	assert.False(t, m.IsRunning())

	// Shutdown is idempotent, and a closed server cannot restart.
	require.NoError(t, m.Shutdown(context.Background()))
	err := m.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
}

func TestManagerListenFailure(t *testing.T) {
	first := NewManager(http.NotFoundHandler(), testConfig(), nil)
	require.NoError(t, first.Start())
	defer first.Shutdown(context.Background())

	cfg := testConfig()
	cfg.Addr = first.Addr()
	second := NewManager(http.NotFoundHandler(), cfg, nil)
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to listen")
}
