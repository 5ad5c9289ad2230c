package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mistakeknot/intercoord/internal/core"
	"github.com/mistakeknot/intercoord/internal/policy"
	"github.com/mistakeknot/intercoord/internal/storage"
	"github.com/mistakeknot/intercoord/internal/storage/postgres"
	"github.com/mistakeknot/intercoord/internal/storage/sqlite"
)

const defaultDBPath = ".intercoord/intercoord.db"

// storeFlags selects the backing store. A DSN wins over the SQLite path.
type storeFlags struct {
	dbPath string
	dsn    string
}

func (f *storeFlags) open(ctx context.Context) (storage.Store, error) {
	if f.dsn != "" {
		s, err := postgres.Open(ctx, f.dsn)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		return s, nil
	}
	path := f.dbPath
	if path == "" {
		path = defaultDBPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	db, err := sqlite.New(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return sqlite.NewResilient(db), nil
}

// loadPolicy falls back to the default policy when the file is missing.
func loadPolicy(path string, logger *slog.Logger) (policy.Config, error) {
	cfg, err := policy.Load(path)
	if errors.Is(err, core.ErrConfigurationMissing) {
		logger.Warn("no review policy; using defaults", "path", path)
		return cfg, nil
	}
	if err != nil {
		return policy.Config{}, fmt.Errorf("load policy: %w", err)
	}
	return cfg, nil
}
