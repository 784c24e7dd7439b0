package store

import (
	"context"
	"fmt"

	"github.com/cpltrack/fieldsync/internal/config"
	apperrors "github.com/cpltrack/fieldsync/internal/errors"
)

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Backend, error) {
	switch cfg.Driver {
	case "", "sqlite":
		b, err := OpenSQLite(cfg.DataDir)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "open sqlite store", err)
		}
		return b, nil
	case "redis":
		b, err := DialRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.KeyPrefix)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "connect redis store", err)
		}
		return b, nil
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, apperrors.New(apperrors.ErrConfig, fmt.Sprintf("unknown store driver %q", cfg.Driver))
	}
}
