// Package server exposes the custody engine over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/server/handler"
	"github.com/alanyoungcy/custodex/internal/server/middleware"
	"github.com/alanyoungcy/custodex/internal/server/ws"
)

// Config holds the HTTP server settings.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey gates every route except health. Empty disables the gate.
	APIKey string
	// RateLimit is requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
	// Faucet registers the /api/dev routes.
	Faucet bool
}

// Handlers aggregates the route handlers. Events and Hub may be nil.
type Handlers struct {
	Health   *handler.HealthHandler
	Markets  *handler.MarketHandler
	Sessions *handler.SessionHandler
	Assets   *handler.AssetHandler
	Events   *handler.EventsHandler
}

// Server is the HTTP + WebSocket API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in middleware.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("POST /api/roots", handlers.Markets.InitRoot)
	mux.HandleFunc("GET /api/roots/{name}", handlers.Markets.GetRoot)
	mux.HandleFunc("POST /api/offers", handlers.Markets.OpenOffer)
	mux.HandleFunc("DELETE /api/offers", handlers.Markets.CancelOffer)
	mux.HandleFunc("POST /api/offers/settle", handlers.Markets.SettleOffer)
	mux.HandleFunc("GET /api/offers/{marketplace}/{mint}", handlers.Markets.GetOffer)
	mux.HandleFunc("GET /api/receipts", handlers.Markets.ListReceipts)
	mux.HandleFunc("GET /api/receipts/{id}", handlers.Markets.GetReceipt)

	mux.HandleFunc("POST /api/sessions/config", handlers.Sessions.InitConfig)
	mux.HandleFunc("GET /api/sessions/config", handlers.Sessions.GetConfig)
	mux.HandleFunc("POST /api/profiles", handlers.Sessions.InitProfile)
	mux.HandleFunc("GET /api/profiles/{owner}", handlers.Sessions.GetProfile)
	mux.HandleFunc("POST /api/sessions", handlers.Sessions.InitSession)
	mux.HandleFunc("POST /api/sessions/join", handlers.Sessions.JoinSession)
	mux.HandleFunc("GET /api/sessions/{owner}/{seed}", handlers.Sessions.GetSession)

	mux.HandleFunc("GET /api/accounts/{address}", handlers.Assets.GetAccount)
	if cfg.Faucet {
		mux.HandleFunc("POST /api/dev/airdrop", handlers.Assets.Airdrop)
		mux.HandleFunc("POST /api/dev/mints", handlers.Assets.CreateMint)
		mux.HandleFunc("POST /api/dev/mint-to", handlers.Assets.MintTo)
	}

	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events/{channel}", handlers.Events.ReadEvents)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: h,
		logger:  logger.With(slog.String("component", "server")),
	}
}

// Handler returns the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
