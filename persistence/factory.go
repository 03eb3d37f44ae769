package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/humanloop/config"
	"github.com/BaSui01/humanloop/internal/database"
	"github.com/BaSui01/humanloop/internal/migration"
	"github.com/BaSui01/humanloop/internal/retry"
	"go.uber.org/zap"
)

// NewSink builds the configured sync backends. It returns (nil, nil) when no
// backend is configured. More than one backend yields a MultiSink.
func NewSink(ctx context.Context, cfg config.SyncConfig, api config.APIConfig, logger *zap.Logger) (Sink, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var sinks []Sink
	closeAll := func() {
		for _, s := range sinks {
			_ = s.Close(context.Background())
		}
	}

	for _, backend := range cfg.Backends {
		s, err := newBackend(ctx, backend, cfg, api, logger)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("sync backend %q: %w", backend, err)
		}
		logger.Info("task sync backend enabled", zap.String("backend", s.Name()))
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(logger, sinks...), nil
	}
}

func newBackend(ctx context.Context, backend string, cfg config.SyncConfig, api config.APIConfig, logger *zap.Logger) (Sink, error) {
	switch backend {
	case "memory":
		return NewMemorySink(), nil

	case "redis":
		return NewRedisSink(cfg.Redis, logger)

	case "sql":
		return openSQLSink(cfg.Database, logger)

	case "mongo":
		return NewMongoSink(ctx, cfg.Mongo, logger)

	case "http":
		base, key := cfg.HTTPURL, cfg.HTTPAPIKey
		if base == "" {
			base = api.BaseURL
		}
		if key == "" {
			key = api.APIKey
		}
		policy := retry.DefaultPolicy()
		if api.MaxRetries > 0 {
			policy.MaxRetries = api.MaxRetries
		}
		return NewHTTPSink(HTTPSinkConfig{
			BaseURL: base,
			APIKey:  key,
			Timeout: cfg.Timeout,
			Retry:   policy,
		}, nil, logger)

	default:
		return nil, errors.New("unknown backend")
	}
}

// openSQLSink opens the pool and applies pending migrations when enabled.
func openSQLSink(cfg config.DatabaseConfig, logger *zap.Logger) (*SQLSink, error) {
	if cfg.AutoMigrate {
		m, err := migration.NewMigratorFromDatabaseConfig(cfg)
		if err != nil {
			return nil, err
		}
		err = m.Up(context.Background())
		if cerr := m.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	pool, err := database.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	s := NewSQLSink(pool, logger)
	s.owned = true
	return s, nil
}
