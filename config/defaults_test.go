package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, ManagerConfig{}, cfg.Manager)
	assert.NotEqual(t, APIConfig{}, cfg.API)
	assert.NotEqual(t, TerminalConfig{}, cfg.Terminal)
	assert.NotEqual(t, WebSocketConfig{}, cfg.WebSocket)
	assert.NotEqual(t, LogConfig{}, cfg.Log)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultManagerConfig(t *testing.T) {
	cfg := DefaultManagerConfig()
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Zero(t, cfg.DefaultTimeout)
	assert.Zero(t, cfg.MaxRenewals)
	assert.Empty(t, cfg.DefaultProvider)
}

func TestDefaultProviderConfigs(t *testing.T) {
	api := DefaultAPIConfig()
	assert.False(t, api.Enabled)
	assert.Equal(t, "api", api.Name)
	assert.Equal(t, 5*time.Second, api.PollInterval)

	email := DefaultEmailConfig()
	assert.Equal(t, 587, email.SMTP.Port)
	assert.Equal(t, 993, email.IMAP.Port)
	assert.True(t, email.IMAP.ImplicitTLS)
	assert.Equal(t, "INBOX", email.Mailbox)

	term := DefaultTerminalConfig()
	assert.True(t, term.Enabled)
	assert.True(t, term.ShowMetadata)

	ws := DefaultWebSocketConfig()
	assert.Equal(t, 1024, ws.QueueSize)
	assert.Equal(t, time.Hour, ws.TokenTTL)
}

func TestDefaultSyncConfig(t *testing.T) {
	cfg := DefaultSyncConfig()
	assert.Empty(t, cfg.Backends)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "humanloop.db", cfg.Database.DSN())
	assert.True(t, cfg.Database.AutoMigrate)
	assert.Equal(t, "humanloop", cfg.Mongo.Database)
}

func TestDefaultLogAndTelemetryConfig(t *testing.T) {
	log := DefaultLogConfig()
	assert.Equal(t, "info", log.Level)
	assert.Equal(t, "json", log.Format)
	assert.Equal(t, []string{"stderr"}, log.OutputPaths)

	tel := DefaultTelemetryConfig()
	assert.False(t, tel.Enabled)
	assert.Equal(t, "humanloop", tel.ServiceName)
	assert.Equal(t, 0.1, tel.SampleRate)
}
