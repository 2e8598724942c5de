package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/custodex/internal/server"
	"github.com/alanyoungcy/custodex/internal/server/handler"
	"github.com/alanyoungcy/custodex/internal/server/ws"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API and event stream.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svcs.exec.Run(ctx)
	})
	a.startHTTPServer(ctx, g, deps, svcs)
	return g.Wait()
}

// ArchiveMode only moves old receipts to object storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Duration("interval", a.cfg.Archive.Interval.Duration),
		slog.Duration("retention", a.cfg.Archive.Retention.Duration),
	)
	return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, a.cfg.Archive.Retention.Duration)
}

// FullMode runs the API and, when enabled, the archive loop in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svcs *services) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svcs.exec.Run(ctx)
	})
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(ctx, a.cfg.Archive.Interval.Duration, a.cfg.Archive.Retention.Duration)
		})
	}
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}
	return g.Wait()
}

// startHTTPServer registers the hub and HTTP server on g. The server is shut
// down when ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
		Faucet:      a.cfg.Ledger.Faucet,
	}, newHandlers(deps, svcs, a.logger), hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func newHandlers(deps *Dependencies, svcs *services, logger *slog.Logger) server.Handlers {
	return server.Handlers{
		Health:   handler.NewHealthHandler(deps.Health, logger),
		Markets:  handler.NewMarketHandler(svcs.markets, logger),
		Sessions: handler.NewSessionHandler(svcs.sessions, logger),
		Assets:   handler.NewAssetHandler(svcs.assets, logger),
		Events:   handler.NewEventsHandler(deps.Journal, logger),
	}
}
