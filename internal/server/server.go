// Package server exposes the anonymizer over HTTP. Mappings arrive with each
// request and are dropped when it completes; the server keeps no store of
// its own.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/chat-anonymizer/internal/audit"
	"github.com/raaihank/chat-anonymizer/internal/cache"
	"github.com/raaihank/chat-anonymizer/internal/config"
	"github.com/raaihank/chat-anonymizer/internal/logger"
	"github.com/raaihank/chat-anonymizer/internal/web"
	"github.com/raaihank/chat-anonymizer/internal/websocket"
)

// Version is reported by /info and the CLI
const Version = "0.1.0"

// ResultCache is the part of cache.ResultCache the server uses
type ResultCache interface {
	Key(input []byte, fingerprint string, variant ...string) string
	Get(ctx context.Context, key string) (*cache.Entry, bool)
	Set(ctx context.Context, key string, entry *cache.Entry) error
}

// RunLog is the part of audit.Store the server uses
type RunLog interface {
	Record(ctx context.Context, run *audit.Run) error
	Recent(ctx context.Context, limit int) ([]audit.Run, error)
}

// Option configures optional server dependencies
type Option func(*Server)

// WithCache enables result caching
func WithCache(c ResultCache) Option {
	return func(s *Server) { s.cache = c }
}

// WithRunLog enables the audit log of runs
func WithRunLog(r RunLog) Option {
	return func(s *Server) { s.runs = r }
}

// Server represents the HTTP anonymization server
type Server struct {
	config  atomic.Pointer[config.Config]
	logger  *logger.Logger
	router  *mux.Router
	server  *http.Server
	wsHub   *websocket.Hub
	limiter *RateLimiter
	cache   ResultCache
	runs    RunLog
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if log == nil {
		log = logger.NewNop()
	}

	server := &Server{
		logger:  log.WithComponent("server"),
		router:  mux.NewRouter(),
		wsHub:   websocket.NewHub(hubConfig(cfg.WebSocket), log),
		limiter: NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}
	server.config.Store(cfg)
	for _, opt := range opts {
		opt(server)
	}

	if err := server.setupRoutes(); err != nil {
		return nil, fmt.Errorf("failed to set up routes: %w", err)
	}

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

func hubConfig(ws config.WebSocketConfig) websocket.HubConfig {
	return websocket.HubConfig{
		BroadcastProgress:    ws.Events.BroadcastProgress,
		BroadcastRuns:        ws.Events.BroadcastRuns,
		BroadcastConnections: ws.Events.BroadcastConnections,
		MaxConnections:       ws.MaxConnections,
		AllowedOrigins:       ws.AllowedOrigins,
		ReadBufferSize:       ws.ReadBufferSize,
		WriteBufferSize:      ws.WriteBufferSize,
		PingInterval:         ws.PingInterval,
		PongTimeout:          ws.PongTimeout,
		WriteTimeout:         ws.WriteTimeout,
		MaxMessageSize:       ws.MaxMessageSize,
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() error {
	cfg := s.config.Load()

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	if cfg.WebSocket.Enabled {
		path := cfg.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		s.router.HandleFunc(path, s.wsHub.HandleWebSocket).Methods("GET")

		dashboard, err := web.Dashboard(path)
		if err != nil {
			return err
		}
		s.router.Handle("/", dashboard).Methods("GET")
		s.router.Handle("/dashboard", dashboard).Methods("GET")
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.Use(s.bodyLimitMiddleware)
	api.HandleFunc("/anonymize", s.handleAnonymize).Methods("POST")
	api.HandleFunc("/mappings/check", s.handleMappingsCheck).Methods("POST")
	api.HandleFunc("/runs", s.handleRuns).Methods("GET")
	return nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the hub and serves HTTP until Stop is called or ctx is done
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Load()
	s.logger.Info("Starting chat anonymizer server",
		zap.Int("port", cfg.Server.Port),
		zap.Bool("websocket", cfg.WebSocket.Enabled),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
		zap.Bool("cache", s.cache != nil),
		zap.Bool("audit", s.runs != nil),
	)

	go s.wsHub.Run(ctx)
	go s.limiter.runCleanup(ctx, cfg.RateLimit.CleanupInterval)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping chat anonymizer server")
	return s.server.Shutdown(ctx)
}

// UpdateConfig swaps in a reloaded configuration. Anonymization defaults
// and rate limits apply to the next request; listener settings need a
// restart.
func (s *Server) UpdateConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	old := s.config.Swap(cfg)
	s.limiter.Update(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)

	if old.Server.Port != cfg.Server.Port || old.WebSocket.Enabled != cfg.WebSocket.Enabled {
		s.logger.Warn("Listener settings changed; restart to apply them")
	}
	s.logger.Info("Server configuration updated",
		zap.String("schema_policy", cfg.Anonymization.SchemaPolicy),
		zap.String("link_mode", cfg.Anonymization.LinkMode),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
	)
}
