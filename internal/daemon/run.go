// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/vencode/internal/log"
)

type listeners struct {
	api     net.Listener
	metrics net.Listener
}

// Listen binds the configured addresses. Run calls it when it has not been
// called already.
func (a *App) Listen() error {
	if a.listeners.api != nil {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.API.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen api %s: %w", a.cfg.API.ListenAddr, err)
	}
	a.listeners.api = ln
	if a.metrics != nil {
		mln, err := net.Listen("tcp", a.cfg.API.MetricsAddr)
		if err != nil {
			_ = ln.Close()
			a.listeners.api = nil
			return fmt.Errorf("listen metrics %s: %w", a.cfg.API.MetricsAddr, err)
		}
		a.listeners.metrics = mln
	}
	return nil
}

// APIAddr reports the bound API address, or "" before Listen.
func (a *App) APIAddr() string {
	if a.listeners.api == nil {
		return ""
	}
	return a.listeners.api.Addr().String()
}

// Run serves until ctx is done, then drains. HTTP servers stop accepting
// requests before the worker pool is told to stop, so no upload is admitted
// after the pool shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Listen(); err != nil {
		return err
	}

	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.orch.Run(workCtx) })
	g.Go(func() error { return a.dispatcher.Run(workCtx) })
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}
	g.Go(func() error { return serve(a.apiServer, a.listeners.api) })
	if a.metrics != nil {
		g.Go(func() error { return serve(a.metrics, a.listeners.metrics) })
	}

	g.Go(func() error {
		<-gctx.Done()
		defer stopWork()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.API.ShutdownTimeout)
		defer cancel()
		a.logger.Info().Str(log.FieldEvent, "daemon.shutdown").Msg("shutting down")
		var errs []error
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("api shutdown: %w", err))
		}
		if a.metrics != nil {
			if err := a.metrics.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	a.logger.Info().
		Str(log.FieldEvent, "daemon.started").
		Str("api_addr", a.APIAddr()).
		Str("store", a.cfg.Storage.Backend).
		Int("workers", a.cfg.Workers.PoolSize).
		Msg("vencoded started")

	return g.Wait()
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
