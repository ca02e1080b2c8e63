package main

import (
	"context"
	"fmt"

	"github.com/matchbook-labs/matchbook/internal/config"
	"github.com/matchbook-labs/matchbook/internal/dedup"
	"github.com/matchbook-labs/matchbook/internal/match"
	"github.com/matchbook-labs/matchbook/internal/pipeline"
	"github.com/matchbook-labs/matchbook/internal/service"
	"github.com/matchbook-labs/matchbook/internal/storage"
)

// initStorage opens the configured database and brings its schema up to date.
func initStorage(ctx context.Context) (service.Storage, error) {
	store, err := storage.NewSQLiteStorage(config.DatabasePath())
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newProcessor wires a pipeline processor from the configured preferences.
func newProcessor(store service.Storage, cfg pipeline.Config) *pipeline.Processor {
	matcher := match.NewWithPreferences(config.MatchPreferences())
	detector := dedup.NewDetector(dedup.DefaultConfig())
	return pipeline.NewWithEngines(store, matcher, detector, cfg)
}
