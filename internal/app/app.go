// Package app wires up all subsystems and owns the application lifecycle.
//
// Startup order:
//  1. initProviders — build one adapter per configured provider (closed type set)
//  2. initServices  — usage ledger, circuit breaker, metrics registry
//  3. initGateway   — router + HTTP gateway + management routes
package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/nulpointcorp/llm-cost-router/internal/breaker"
	"github.com/nulpointcorp/llm-cost-router/internal/config"
	"github.com/nulpointcorp/llm-cost-router/internal/gateway"
	"github.com/nulpointcorp/llm-cost-router/internal/ledger"
	"github.com/nulpointcorp/llm-cost-router/internal/metrics"
	"github.com/nulpointcorp/llm-cost-router/internal/providers"
	_ "github.com/nulpointcorp/llm-cost-router/internal/providers/gemini"
	_ "github.com/nulpointcorp/llm-cost-router/internal/providers/mistralcompat"
	"github.com/nulpointcorp/llm-cost-router/internal/router"
)

// App owns all long-lived resources and exposes Run / Close.
type App struct {
	version string
	cfg     *config.Config
	baseCtx context.Context
	log     *slog.Logger

	ledger  *ledger.Ledger
	breaker *breaker.Breaker
	prom    *metrics.Registry

	adapters []providers.Adapter
	rtr      *router.Router
	mgmt     *gateway.ManagementRoutes
	gw       *gateway.Gateway
}

// New initialises all subsystems and returns a ready-to-run App. All
// resources allocated here are released by Close.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger, version string) (*App, error) {
	if ctx == nil {
		return nil, fmt.Errorf("app: context must not be nil")
	}

	a := &App{cfg: cfg, version: version, baseCtx: ctx, log: log}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"providers", a.initProviders},
		{"services", a.initServices},
		{"gateway", a.initGateway},
	}

	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}

	return a, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or an error
// occurs. It closes the app gracefully when returning.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Port)

	a.log.Info("starting router",
		slog.String("version", a.version),
		slog.String("addr", addr),
		slog.Int("providers", len(a.adapters)),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.gw.StartWithRoutes(addr, a.mgmt)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Close()
		return nil
	})

	return g.Wait()
}

// Close releases all resources in reverse-init order. Safe to call multiple
// times.
func (a *App) Close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.log.Error("ledger close error", slog.String("error", err.Error()))
		}
		a.ledger = nil
	}
}
