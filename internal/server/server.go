// Package server is the read-only reporting API: portfolio views, the
// event websocket and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alanyoungcy/polysniper/internal/server/handler"
	"github.com/alanyoungcy/polysniper/internal/server/middleware"
	"github.com/alanyoungcy/polysniper/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr        string
	CORSOrigins []string
	APIKey      string  // empty disables auth
	RateLimit   float64 // requests per second per client, 0 disables
	RateBurst   int
}

// Handlers are the route handlers. Hub and Metrics may be nil.
type Handlers struct {
	Health    *handler.HealthHandler
	Portfolio *handler.PortfolioHandler
	Hub       *ws.Hub
	Metrics   http.Handler
	// Instrument wraps every route, e.g. with request metrics.
	Instrument func(http.Handler) http.Handler
}

// Server wraps an http.Server around the chi router.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and middleware.
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	if h.Instrument != nil {
		r.Use(h.Instrument)
	}

	r.Get("/api/health", h.Health.HealthCheck)
	if h.Metrics != nil {
		r.Handle("/metrics", h.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.APIKey))
		r.Use(middleware.RateLimit(cfg.RateLimit, cfg.RateBurst))

		r.Route("/api", func(r chi.Router) {
			r.Get("/positions", h.Portfolio.ListPositions)
			r.Get("/trades", h.Portfolio.ListTrades)
			r.Get("/pnl", h.Portfolio.PnL)
			r.Get("/stats", h.Portfolio.Stats)
			r.Get("/markets", h.Portfolio.Markets)
		})
		if h.Hub != nil {
			r.Get("/ws", h.Hub.HandleWS)
		}
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return <-errCh
}
