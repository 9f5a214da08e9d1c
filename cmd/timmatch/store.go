package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/timmatch/internal/config"
	"github.com/sawpanic/timmatch/internal/metrics"
	"github.com/sawpanic/timmatch/internal/persistence"
	"github.com/sawpanic/timmatch/internal/persistence/cache"
	"github.com/sawpanic/timmatch/internal/persistence/postgres"
)

// backend is an opened fit store and what it is built on.
type backend struct {
	store    *persistence.Store
	name     string
	cached   bool
	database persistence.RepositoryHealth
	closers  []func() error
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Failed to close store backend")
		}
	}
}

// openBackend builds the fit store from configuration. Without a database,
// memoryFits > 0 selects an in-process repository and 0 leaves the store
// disabled.
func openBackend(ctx context.Context, file *config.File, reg *metrics.MetricsRegistry, memoryFits int) (*backend, error) {
	b := &backend{}
	var repo persistence.FitRepo

	if file.Database.Enabled {
		mgr, err := postgres.Open(ctx, file.Database)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, mgr.Close)
		repo = mgr.Fits()
		b.database = mgr.Health()
		b.name = "postgres"
	} else if memoryFits > 0 {
		repo = persistence.NewMemoryRepo(memoryFits)
		b.name = "memory"
	} else {
		b.name = "disabled"
	}

	var snapshots persistence.Cache
	if file.Cache.Enabled {
		rc, err := cache.Connect(ctx, file.Cache)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, rc.Close)
		snapshots = rc
		b.cached = true
	}

	cfg := persistence.DefaultStoreConfig()
	cfg.CacheTTL = file.Cache.TTL
	cfg.Metrics = reg
	b.store = persistence.NewStore(repo, snapshots, cfg)

	log.Info().Str("backend", b.name).Bool("cache", b.cached).Msg("Fit store ready")
	return b, nil
}

func requireStore(b *backend) error {
	if !b.store.Enabled() {
		return fmt.Errorf("%w: enable the database section of the configuration", persistence.ErrDisabled)
	}
	return nil
}
