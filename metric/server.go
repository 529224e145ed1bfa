package metric

import (
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JeffersonLab/e2sar-utils/errors"
	"github.com/JeffersonLab/e2sar-utils/pkg/tlsutil"
)

// Config controls the observability endpoint.
type Config struct {
	// Port to listen on. 0, the default, keeps the endpoint off.
	Port int `yaml:"port"`

	// Path for the Prometheus handler. Defaults to /metrics.
	Path string `yaml:"path"`

	TLS tlsutil.ServerConfig `yaml:"tls"`
}

// Enabled reports whether the endpoint should be served.
func (c Config) Enabled() bool {
	return c.Port > 0
}

// Server serves Prometheus metrics, a liveness probe at /healthz, and any
// extra handlers mounted before Start.
type Server struct {
	cfg      Config
	registry *Registry
	extra    map[string]http.Handler
	server   *http.Server
	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates the observability server around a registry.
func NewServer(cfg Config, registry *Registry) *Server {
	if cfg.Path == "" {
		cfg.Path = "/metrics"
	}

	return &Server{
		cfg:      cfg,
		registry: registry,
		extra:    make(map[string]http.Handler),
	}
}

// Handle mounts an extra handler, such as the websocket monitor. It must be
// called before Start.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extra[pattern] = h
}

// Start listens and serves until Stop. It blocks, so run it on its own
// goroutine. A clean Stop returns nil.
func (s *Server) Start() error {
	s.mu.Lock()

	if s.server != nil {
		s.mu.Unlock()
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"Server", "Start", "running server check")
	}
	if s.registry == nil {
		s.mu.Unlock()
		return errors.WrapFatal(
			fmt.Errorf("nil registry"),
			"Server", "Start", "registry check")
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{
			EnableOpenMetrics: true,
		},
	))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>e2sar-utils</title></head>
<body>
<h1>e2sar-utils</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/healthz">Health</a></p>
</body>
</html>`, s.cfg.Path)
	})
	for pattern, h := range s.extra {
		mux.Handle(pattern, h)
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		s.mu.Unlock()
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("listen on port %d", s.cfg.Port))
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.TLS.Enabled {
		tlsConfig, err := tlsutil.LoadServerTLSConfig(s.cfg.TLS)
		if err != nil {
			_ = ln.Close()
			s.server = nil
			s.mu.Unlock()
			return errors.WrapFatal(err, "Server", "Start", "load TLS config")
		}
		s.server.TLSConfig = tlsConfig
	}

	s.listener = ln
	srv := s.server
	// Serve outside the lock so Stop can take it.
	s.mu.Unlock()

	if s.cfg.TLS.Enabled {
		err = srv.ServeTLS(ln, "", "")
	} else {
		err = srv.Serve(ln)
	}
	if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return errors.WrapFatal(err, "Server", "Start",
			fmt.Sprintf("serve on port %d", s.cfg.Port))
	}

	return nil
}

// Stop closes the server. Safe to call when never started.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		err := s.server.Close()
		s.server = nil
		s.listener = nil
		if err != nil {
			return errors.WrapTransient(err, "Server", "Stop", "close HTTP server")
		}
	}
	return nil
}

// Port returns the bound port once Start has a listener, or the configured
// port before that. With Port 0 in the config, the bound port is the
// ephemeral one the kernel picked.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener != nil {
		if addr, ok := s.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return s.cfg.Port
}

// Address returns the URL of the metrics handler.
func (s *Server) Address() string {
	scheme := "http"
	if s.cfg.TLS.Enabled {
		scheme = "https"
	}
	return fmt.Sprintf("%s://localhost:%d%s", scheme, s.Port(), s.cfg.Path)
}
