package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/instance-watch/internal/history"
	"github.com/nerrad567/instance-watch/internal/infrastructure/config"
	"github.com/nerrad567/instance-watch/internal/infrastructure/database"
	"github.com/nerrad567/instance-watch/internal/infrastructure/logging"
	"github.com/nerrad567/instance-watch/internal/instance"
	"github.com/nerrad567/instance-watch/internal/metrics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Watcher is the part of *watcher.Watcher served by the API.
type Watcher interface {
	Instances() []instance.Instance
	Instance(id string) (instance.Instance, bool)
	NotOperating() []string
	SummaryLog() []history.Entry
	InstanceLog(id string) []history.Entry
	NextRun(id string) (time.Time, bool)
	SetEnabled(ctx context.Context, id string, flag bool) error
	RequestUpdate(id string)
}

// Database is the part of *database.DB reported by GET /api/v1/system.
type Database interface {
	Path() string
	Stats() sql.DBStats
	SchemaStatus(ctx context.Context) (database.SchemaStatus, error)
}

// HealthChecker is implemented by infrastructure clients
// (database, MQTT, InfluxDB).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config  config.APIConfig
	Logger  *logging.Logger
	Watcher Watcher
	Metrics *metrics.Metrics // optional; /metrics answers 404 without it
	DB      Database         // optional

	// Health maps a component name to its check, e.g. "database".
	Health map[string]HealthChecker

	Version string
}

// Server is the HTTP API server.
//
// It is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	watcher   Watcher
	metrics   *metrics.Metrics
	db        Database
	health    map[string]HealthChecker
	version   string
	startTime time.Time
	server    *http.Server
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Watcher == nil {
		return nil, fmt.Errorf("watcher is required")
	}

	return &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		watcher:   deps.Watcher,
		metrics:   deps.Metrics,
		db:        deps.DB,
		health:    deps.Health,
		version:   deps.Version,
		startTime: time.Now(),
	}, nil
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
//
// Returns:
//   - error: If the listen address cannot be bound
func (s *Server) Start(_ context.Context) error {
	s.server = &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.ReadTimeout(),
		WriteTimeout:      s.cfg.WriteTimeout(),
		IdleTimeout:       s.cfg.IdleTimeout(),
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
