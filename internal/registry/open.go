package registry

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/toolgate/internal/config"
)

// Open creates the Registry selected by cfg.Driver.
func Open(ctx context.Context, cfg config.RegistryConfig, logger *zap.Logger) (Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		path, err := config.ExpandHome(cfg.DSN.Value())
		if err != nil {
			return nil, err
		}
		s, err := OpenSQLite(ctx, path, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, cfg.DSN.Value(), logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported registry driver %q", cfg.Driver)
	}
}
