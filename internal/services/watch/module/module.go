// Package module wires the watch service and exposes its ports
package module

import (
	"context"

	"pkgsearch/internal/adapters/registry"
	"pkgsearch/internal/adapters/search"
	"pkgsearch/internal/platform/config"
	"pkgsearch/internal/platform/logger"
	"pkgsearch/internal/platform/observability"
	"pkgsearch/internal/platform/store"
	"pkgsearch/internal/services/watch/domain"
	"pkgsearch/internal/services/watch/repo"
	"pkgsearch/internal/services/watch/service"
)

// Deps holds core dependencies passed to the module
// this is wiring only and does not introduce new abstractions
type Deps struct {
	Log      logger.Logger
	Cfg      config.Conf
	PG       store.TxRunner
	Registry *registry.Client
	Index    *search.Index
	Lost     *search.Index
	Format   domain.FormatterPort
	Metrics  *observability.WatchMetrics
}

// Module owns the watch service
type Module struct {
	svc   *service.Svc
	state *repo.State
}

// Ports groups the surfaces other packages use
type Ports struct {
	Watcher domain.WatcherPort
	Status  domain.StatusPort
}

// New constructs the watch module. Options come from env and are overridden
// by any non-zero values in overrides
func New(deps Deps, overrides Options) (*Module, error) {
	opts := FromConfig(deps.Cfg)
	if overrides.MaxPrefetch != 0 {
		opts.MaxPrefetch = overrides.MaxPrefetch
	}
	if overrides.MinUnpause != 0 {
		opts.MinUnpause = overrides.MinUnpause
	}
	if overrides.RetryMax != 0 {
		opts.RetryMax = overrides.RetryMax
	}
	if overrides.RetryBackoffBase != 0 {
		opts.RetryBackoffBase = overrides.RetryBackoffBase
	}
	if overrides.RetryBackoffPow != 0 {
		opts.RetryBackoffPow = overrides.RetryBackoffPow
	}
	if overrides.RetrySkipped != 0 {
		opts.RetrySkipped = overrides.RetrySkipped
	}
	if overrides.RefreshPeriod != 0 {
		opts.RefreshPeriod = overrides.RefreshPeriod
	}
	if overrides.TotalSeqEvery != 0 {
		opts.TotalSeqEvery = overrides.TotalSeqEvery
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	st := repo.NewState(deps.PG)
	svc := service.New(service.Config{
		MaxPrefetch:      opts.MaxPrefetch,
		MinUnpause:       opts.MinUnpause,
		RetryMax:         opts.RetryMax,
		RetryBackoffBase: opts.RetryBackoffBase,
		RetryBackoffPow:  opts.RetryBackoffPow,
		RetrySkipped:     opts.RetrySkipped,
		RefreshPeriod:    opts.RefreshPeriod,
		TotalSeqEvery:    opts.TotalSeqEvery,
	},
		registryPort{deps.Registry},
		deps.Index,
		deps.Lost,
		deps.Format,
		st,
		deps.Metrics,
	)
	return &Module{svc: svc, state: st}, nil
}

// Name returns the module name
func (m *Module) Name() string { return "watch" }

// Ports returns the module ports
func (m *Module) Ports() Ports { return Ports{Watcher: m.svc, Status: m.svc} }

// EnsureSchema creates the module's storage when missing
func (m *Module) EnsureSchema(ctx context.Context) error { return m.state.EnsureSchema(ctx) }

// registryPort narrows the concrete client to the domain port; the feed
// conversion is the whole reason it exists
type registryPort struct {
	c *registry.Client
}

func (r registryPort) Changes(ctx context.Context, since int64) (domain.Feed, error) {
	return r.c.Changes(ctx, since)
}

func (r registryPort) GetDoc(ctx context.Context, id, rev string) ([]byte, error) {
	return r.c.GetDoc(ctx, id, rev)
}

func (r registryPort) Info(ctx context.Context) (registry.Info, error) {
	return r.c.Info(ctx)
}
