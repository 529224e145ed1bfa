package metric

import (
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffersonLab/e2sar-utils/errors"
)

// startServer runs Start on its own goroutine and waits for the listener.
// Stop and the Start error are checked at cleanup.
func startServer(t *testing.T, srv *Server) string {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	require.Eventually(t, func() bool { return srv.Port() != 0 },
		2*time.Second, 10*time.Millisecond)

	t.Cleanup(func() {
		require.NoError(t, srv.Stop())
		require.NoError(t, <-errCh)
	})

	return fmt.Sprintf("http://127.0.0.1:%d", srv.Port())
}

func httpGet(t *testing.T, url string) (int, string) {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServerServesEndpoints(t *testing.T) {
	registry := NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "probe_total", Help: "probe"})
	require.NoError(t, registry.RegisterCounter("probe", "probe_total", counter))
	counter.Inc()

	srv := NewServer(Config{Port: 0}, registry)
	srv.Handle("/ws", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	base := startServer(t, srv)

	status, body := httpGet(t, base+"/metrics")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, "probe_total 1")
	assert.Contains(t, body, "go_goroutines")

	status, body = httpGet(t, base+"/healthz")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "OK", body)

	status, body = httpGet(t, base+"/")
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `href="/metrics"`)

	status, _ = httpGet(t, base+"/ws")
	assert.Equal(t, http.StatusTeapot, status)

	assert.Equal(t, fmt.Sprintf("http://localhost:%d/metrics", srv.Port()), srv.Address())
}

func TestServerDoubleStartRejected(t *testing.T) {
	srv := NewServer(Config{Port: 0}, NewRegistry())
	startServer(t, srv)

	err := srv.Start()
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestServerNilRegistryRejected(t *testing.T) {
	srv := NewServer(Config{Port: 0}, nil)

	err := srv.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestServerStopWithoutStart(t *testing.T) {
	srv := NewServer(Config{Port: 0}, NewRegistry())
	require.NoError(t, srv.Stop())
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Port: 9090}.Enabled())
}
