package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/iot-mcp-bridge/internal/dispatch"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/config"
	"github.com/nerrad567/iot-mcp-bridge/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// healthCheckTimeout bounds each dependency check on /health.
const healthCheckTimeout = 2 * time.Second

// HealthChecker is a dependency checked by the health endpoint.
// *mqtt.Client and *database.DB satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Dispatcher *dispatch.Dispatcher

	// Gatherer serves /metrics. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// Health lists named dependencies reported by /health.
	Health map[string]HealthChecker

	Version string
}

// Server is the HTTP seam in front of the tool Dispatcher.
//
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	dispatcher *dispatch.Dispatcher
	gatherer   prometheus.Gatherer
	health     map[string]HealthChecker
	version    string
	server     *http.Server
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		dispatcher: deps.Dispatcher,
		gatherer:   deps.Gatherer,
		health:     deps.Health,
		version:    deps.Version,
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}
	return s, nil
}

// Handler returns the routed HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listener and serves in a background goroutine.
// A bind failure is returned immediately.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	s.logger.Info("API server starting", "address", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
