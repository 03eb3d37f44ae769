package manager

import (
	"time"

	"github.com/BaSui01/humanloop/config"
	"github.com/BaSui01/humanloop/internal/metrics"
	"github.com/BaSui01/humanloop/persistence"
	"go.uber.org/zap"
)

// DefaultPollInterval is the blocking-wait poll period.
const DefaultPollInterval = time.Second

// Config tunes the manager.
type Config struct {
	// PollInterval between status checks in the blocking wait.
	PollInterval time.Duration
	// DefaultTimeout applies to requests that do not set one. 0 disables it.
	DefaultTimeout time.Duration
	// MaxRenewals caps how often an in-progress request's alarm renews.
	// 0 means unbounded.
	MaxRenewals int
	// SyncTimeout bounds one task sync.
	SyncTimeout time.Duration
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: DefaultPollInterval,
		SyncTimeout:  10 * time.Second,
	}
}

// ConfigFrom maps the application config.
func ConfigFrom(mc config.ManagerConfig, sc config.SyncConfig) Config {
	cfg := DefaultConfig()
	if mc.PollInterval > 0 {
		cfg.PollInterval = mc.PollInterval
	}
	cfg.DefaultTimeout = mc.DefaultTimeout
	cfg.MaxRenewals = mc.MaxRenewals
	if sc.Timeout > 0 {
		cfg.SyncTimeout = sc.Timeout
	}
	return cfg
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig replaces the configuration. Non-positive durations keep their defaults.
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		if cfg.PollInterval > 0 {
			m.cfg.PollInterval = cfg.PollInterval
		}
		if cfg.SyncTimeout > 0 {
			m.cfg.SyncTimeout = cfg.SyncTimeout
		}
		if cfg.DefaultTimeout > 0 {
			m.cfg.DefaultTimeout = cfg.DefaultTimeout
		}
		if cfg.MaxRenewals > 0 {
			m.cfg.MaxRenewals = cfg.MaxRenewals
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records manager activity on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Manager) { m.metrics = c }
}

// WithSink enables task sync. The manager closes the sink on Shutdown.
func WithSink(s persistence.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// WithClock overrides the time source used for snapshots.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}
