package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

// Run serves HTTP on ln and runs the prober and the asset cache until ctx
// is done, then shuts the server down gracefully.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Log.Info("server listening", zap.String("addr", ln.Addr().String()), zap.String("base_url", a.Config.BaseURL))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.Log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Log.Warn("graceful shutdown failed", zap.Error(err))
			return srv.Close()
		}
		return nil
	})

	if a.Prober != nil {
		g.Go(func() error { return a.Prober.Run(ctx) })
	}

	if a.Assets != nil {
		g.Go(func() error {
			err := a.Assets.Run(ctx)
			if err != nil {
				a.Log.Error("asset cache stopped", zap.Error(err))
			}
			return err
		})
	}

	return g.Wait()
}
