// Package adminapi is a small read-only-plus-purge HTTP surface over the
// request queue and sync processor, for operator use (spec.md's
// supplemented admin API). It is grounded on the teacher's
// pkg/controlplane/api package: the same Server/NewRouter split, the same
// goroutine-plus-errChan Start, and the same idempotent Stop, narrowed to a
// single unauthenticated resource since there is no multi-tenant control
// plane here to guard.
package adminapi

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rqmirror/rqmirror/internal/logger"
	"github.com/rqmirror/rqmirror/pkg/queue"
	"github.com/rqmirror/rqmirror/pkg/syncproc"
)

// Config configures a Server.
type Config struct {
	// Port is the TCP port to listen on.
	Port int
	// ReadTimeout, WriteTimeout, IdleTimeout bound the HTTP server's
	// connection lifecycle. Zero values fall back to ambient defaults.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 60 * time.Second
	}
}

// Server provides an HTTP server exposing queue inspection and a purge
// trigger.
//
// Endpoints:
//   - GET /queue: every pending entry
//   - GET /queue/{parent}: entries under one parent directory
//   - GET /stats: queue and processor counters
//   - POST /queue/purge: purge entries that exhausted their retries
type Server struct {
	server       *http.Server
	q            *queue.Queue
	proc         *syncproc.Processor
	config       Config
	shutdownOnce sync.Once
}

// NewServer creates a Server in a stopped state. Call Start to begin
// serving requests. proc may be nil if nothing should back GET /stats'
// active-sync count.
func NewServer(config Config, q *queue.Queue, proc *syncproc.Processor) *Server {
	config.applyDefaults()

	router := NewRouter(q, proc)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.Port),
		Handler:      router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Server{server: server, q: q, proc: proc, config: config}
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// returns nil. Returns an error if the listener fails to start.
func (s *Server) Start(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		logger.Info("admin API listening", "port", s.config.Port)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			select {
			case errChan <- err:
			default:
			}
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("admin API shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errChan:
		return fmt.Errorf("admin API failed: %w", err)
	}
}

// Stop initiates graceful shutdown. Safe to call multiple times and
// concurrently with Start.
func (s *Server) Stop(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("admin API shutdown error: %w", err)
			logger.Error("admin API shutdown error", "error", err)
		} else {
			logger.Info("admin API stopped gracefully")
		}
	})
	return shutdownErr
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.config.Port
}
