package main

import (
	"context"
	"fmt"

	"github.com/secflow/catalogd/internal/config"
	"github.com/secflow/catalogd/internal/db"
	"github.com/secflow/catalogd/internal/objstore"
)

// env bundles the shared backends every command needs.
type env struct {
	cfg     *config.Config
	store   *db.DB
	objects *objstore.Client
}

// setupEnv loads configuration, connects to the metadata store, runs
// migrations, and creates the object store client. Callers must Close the
// returned env.
func setupEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	store, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	objects, err := objstore.New(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL)
	if err != nil {
		store.Close()
		return nil, err
	}

	return &env{cfg: cfg, store: store, objects: objects}, nil
}

func (e *env) Close() {
	e.store.Close()
}
