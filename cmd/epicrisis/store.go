package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/clinica/epicrisis/internal/config"
	"github.com/clinica/epicrisis/internal/domain/patient"
	"github.com/clinica/epicrisis/internal/platform/db"
	"github.com/clinica/epicrisis/migrations"
)

// store bundles the repository with the lazily opened engine behind it.
// Nothing is opened until the first repository call.
type store struct {
	driver string
	repo   patient.Repository
	bolt   *db.Lazy[*bbolt.DB]
	close  func() error
}

func openStore(cfg *config.Config, logger zerolog.Logger) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverBolt:
		opts := patient.BoltOptions(cfg.StorePath, cfg.StoreOpenTimeout)
		lazy := db.NewLazy("bolt", func(ctx context.Context) (*bbolt.DB, error) {
			return db.OpenBolt(ctx, opts)
		}, (*bbolt.DB).Close, logger)
		return &store{
			driver: cfg.StoreDriver,
			repo:   patient.NewBoltRepo(lazy, logger),
			bolt:   lazy,
			close:  lazy.Close,
		}, nil

	case config.DriverPostgres:
		lazy := db.NewLazy("postgres", func(ctx context.Context) (*pgxpool.Pool, error) {
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return nil, err
			}
			if _, err := db.NewMigrator(pool, migrations.FS).Up(ctx, cfg.DBSchema); err != nil {
				pool.Close()
				return nil, fmt.Errorf("migrate %s: %w", cfg.DBSchema, err)
			}
			return pool, nil
		}, func(pool *pgxpool.Pool) error {
			pool.Close()
			return nil
		}, logger)
		repo, err := patient.NewPGRepo(lazy, cfg.DBSchema, logger)
		if err != nil {
			return nil, err
		}
		return &store{
			driver: cfg.StoreDriver,
			repo:   repo,
			close:  lazy.Close,
		}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}
