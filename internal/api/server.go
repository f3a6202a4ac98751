package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mckuadrat/wa-broadcast/internal/config"
	"github.com/redis/go-redis/v9"
)

// Server represents the API server
type Server struct {
	config   config.ServerConfig
	handler  http.Handler
	handlers *Handlers
	health   *HealthChecker
	server   *http.Server
	router   *chi.Mux
}

// NewServer creates a new API server. db and redisClient only feed the
// health checks and may be nil.
func NewServer(
	cfg *config.Config,
	broadcasts BroadcastService,
	inbound InboundHandler,
	runner Runner,
	db *sql.DB,
	redisClient *redis.Client,
) *Server {
	handlers := NewHandlers(broadcasts, inbound, runner, cfg)
	health := NewHealthChecker(db, redisClient, cfg.Scheduler.PollInterval())
	router := SetupRoutes(handlers, health, cfg.Server.AllowedOrigins)

	return &Server{
		config:   cfg.Server,
		handler:  router,
		handlers: handlers,
		health:   health,
		router:   router,
	}
}

// Addr returns the listen address from configuration.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler,
		// A broadcast request dispatches every recipient before answering.
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
