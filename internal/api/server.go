package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/cmdbroker/internal/audit"
	"github.com/nerrad567/cmdbroker/internal/command"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/config"
	"github.com/nerrad567/cmdbroker/internal/infrastructure/logging"
)

// gracefulShutdownTimeout bounds how long Close waits for in-flight requests.
const gracefulShutdownTimeout = 10 * time.Second

// Connectivity reports whether an optional backend is reachable.
// *mqtt.Client and *influxdb.Client satisfy it.
type Connectivity interface {
	IsConnected() bool
}

// DBStatter exposes connection pool statistics for /metrics.
// *database.DB satisfies it.
type DBStatter interface {
	Stats() sql.DBStats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	WS       config.WebSocketConfig
	Security config.SecurityConfig

	// SweepInterval drives the background retention sweeper. 0 disables it.
	SweepInterval time.Duration

	Logger *logging.Logger
	Queue  *command.Queue

	// Optional collaborators. Nil disables the related route or metric.
	History  audit.Repository
	MQTT     Connectivity
	InfluxDB Connectivity
	DB       DBStatter

	Version string
}

// Server serves the queue API and the WebSocket event stream.
type Server struct {
	cfg           config.APIConfig
	wsCfg         config.WebSocketConfig
	secCfg        config.SecurityConfig
	sweepInterval time.Duration
	logger        *logging.Logger
	queue         *command.Queue
	history       audit.Repository
	mqtt          Connectivity
	influx        Connectivity
	db            DBStatter
	version       string
	startTime     time.Time

	hub     *Hub
	tickets *ticketStore

	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc // stops the hub, sweeper and ticket cleanup
}

// New validates deps and builds a Server. The WebSocket hub is registered
// as a queue observer here; nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Queue == nil:
		return nil, errors.New("command queue is required")
	}

	s := &Server{
		cfg:           deps.Config,
		wsCfg:         deps.WS,
		secCfg:        deps.Security,
		sweepInterval: deps.SweepInterval,
		logger:        deps.Logger,
		queue:         deps.Queue,
		history:       deps.History,
		mqtt:          deps.MQTT,
		influx:        deps.InfluxDB,
		db:            deps.DB,
		version:       deps.Version,
		startTime:     time.Now(),
		hub:           NewHub(deps.WS, deps.Logger),
		tickets:       newTicketStore(),
	}
	s.queue.AddObserver(s.hub)

	return s, nil
}

// Start binds the listen address, then serves in the background. A bind
// failure (port in use, bad host) is returned here. Background work stops
// when ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	s.listener = ln

	var bgCtx context.Context
	bgCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(bgCtx)
	go s.cleanTicketsLoop(bgCtx)
	if s.sweepInterval > 0 {
		go s.sweepLoop(bgCtx)
	}

	read, write, idle := s.cfg.Timeouts.Durations()
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       read,
		ReadHeaderTimeout: read,
		WriteTimeout:      write,
		IdleTimeout:       idle,
	}

	tls := s.cfg.TLS
	s.logger.Info("API server starting", "address", ln.Addr().String(), "tls", tls.Enabled)
	go func() {
		var err error
		if tls.Enabled {
			err = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close stops background work and drains in-flight requests for up to
// gracefulShutdownTimeout. Closing a server that never started is a no-op.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has bound the listener.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.listener == nil {
		return errors.New("api server not started")
	}
	return nil
}

// sweepLoop applies the retention policy every sweepInterval so timeouts
// and evictions happen without request traffic.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.queue.Sweep(ctx)
		}
	}
}
