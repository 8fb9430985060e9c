package proxy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/cr0hn/devproxy/internal/config"
	"github.com/cr0hn/devproxy/internal/control"
	"github.com/cr0hn/devproxy/internal/health"
	"github.com/cr0hn/devproxy/internal/logger"
	"github.com/cr0hn/devproxy/internal/metrics"
	"github.com/cr0hn/devproxy/internal/queue"
	"github.com/cr0hn/devproxy/internal/store"
)

// Server is the reverse-proxy HTTP server: it sits between the client and
// the single target application server at http://localhost:<targetPort>.
type Server struct {
	cfg        *config.Config
	httpServer *http.Server

	store   *store.Store
	queue   *queue.Queue
	stats   *metrics.StatsCollector
	monitor *health.Monitor
	breaker *health.CircuitBreaker

	transport  *http.Transport
	control    *control.Controller
	targetPort int
}

// NewServer wires the proxy pipeline: the control router, the
// serialization queue, the target transport, and (when enabled) the
// health monitor and circuit breaker.
func NewServer(cfg *config.Config, stats *metrics.StatsCollector, monitor *health.Monitor) *Server {
	st := store.New()

	s := &Server{
		cfg:        cfg,
		store:      st,
		queue:      queue.New(),
		stats:      stats,
		monitor:    monitor,
		transport:  newTargetTransport(cfg.ForwardTimeout),
		targetPort: cfg.TargetPort,
	}

	if cfg.CircuitBreakerEnabled {
		s.breaker = health.NewCircuitBreaker(health.CircuitBreakerConfig{
			FailureThreshold: cfg.CBFailureThreshold,
			SuccessThreshold: cfg.CBSuccessThreshold,
			Timeout:          cfg.CBTimeout,
		})
	}

	s.control = control.New(st, monitor, cfg.ContextBodyMaxBytes)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.ProxyPort),
		Handler:     NewHandler(s),
		IdleTimeout: cfg.IdleTimeout,
	}

	return s
}

// Start starts the proxy server.
func (s *Server) Start() error {
	logger.Info("proxy_server_starting",
		"proxy_port", s.cfg.ProxyPort,
		"target_port", s.cfg.TargetPort,
	)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server, per spec §6 ("stop accepting
// new connections... exit 0").
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("proxy_server_stopping")
	s.transport.CloseIdleConnections()
	return s.httpServer.Shutdown(ctx)
}

// QueueDepth reports the live depth of the serialization queue, used by
// the metrics /stats endpoint.
func (s *Server) QueueDepth() int64 {
	return int64(s.queue.Depth())
}
