package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nulpointcorp/llm-cost-router/internal/breaker"
	"github.com/nulpointcorp/llm-cost-router/internal/gateway"
	"github.com/nulpointcorp/llm-cost-router/internal/ledger"
	"github.com/nulpointcorp/llm-cost-router/internal/metrics"
	"github.com/nulpointcorp/llm-cost-router/internal/providers"
	"github.com/nulpointcorp/llm-cost-router/internal/router"
)

// initProviders builds one adapter per configured provider. Config.Load
// already rejected unsupported types and an empty provider list, so Build
// failing here would indicate an adapter package wasn't registered.
func (a *App) initProviders(_ context.Context) error {
	adapters := make([]providers.Adapter, len(a.cfg.Providers))
	for i, pc := range a.cfg.Providers {
		adapter, err := providers.Build(pc)
		if err != nil {
			return fmt.Errorf("build adapter for %q: %w", pc.Name, err)
		}
		adapters[i] = adapter
	}
	a.adapters = adapters

	names := make([]string, len(a.cfg.Providers))
	for i, pc := range a.cfg.Providers {
		names[i] = pc.Name
	}
	a.log.Info("providers loaded", slog.Any("providers", names))

	return nil
}

// initServices creates the usage ledger, circuit breaker, and metrics
// registry.
func (a *App) initServices(_ context.Context) error {
	l, err := ledger.New(a.cfg.UsageLogPath)
	if err != nil {
		return fmt.Errorf("usage ledger: %w", err)
	}
	a.ledger = l

	a.breaker = breaker.New(breaker.Config{})

	a.prom = metrics.New()
	a.prom.SetBuildInfo(a.version)

	return nil
}

// initGateway wires the router and HTTP gateway together.
func (a *App) initGateway(_ context.Context) error {
	a.rtr = router.New(a.cfg.Providers, a.adapters, a.ledger, a.breaker, a.prom)

	a.gw = gateway.New(a.rtr, a.ledger, a.prom, a.cfg.CORSOrigins)

	a.mgmt = &gateway.ManagementRoutes{
		Metrics: a.prom.Handler(),
	}

	return nil
}
