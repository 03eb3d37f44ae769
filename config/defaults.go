// =============================================================================
// 📦 HumanLoop 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// EnvPrefix 是环境变量的默认前缀
const EnvPrefix = "GOHUMANLOOP"

// SyncBackends 列出支持的同步目标
var SyncBackends = []string{"memory", "redis", "sql", "mongo", "http"}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Manager:   DefaultManagerConfig(),
		API:       DefaultAPIConfig(),
		Email:     DefaultEmailConfig(),
		Terminal:  DefaultTerminalConfig(),
		WebSocket: DefaultWebSocketConfig(),
		Sync:      DefaultSyncConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:         9091,
		ReadTimeout:      30 * time.Second,
		WriteTimeout:     30 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		RateLimitRPS:     100,
		RateLimitBurst:   200,
		MetricsNamespace: "humanloop",
	}
}

// DefaultManagerConfig 返回默认管理器配置
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DefaultTimeout: 0,
		PollInterval:   time.Second,
		MaxRenewals:    0,
	}
}

// DefaultAPIConfig 返回默认平台渠道配置
func DefaultAPIConfig() APIConfig {
	return APIConfig{
		Enabled:        false,
		Name:           "api",
		BaseURL:        "http://localhost:9800",
		Platform:       "default",
		PollInterval:   5 * time.Second,
		RequestTimeout: 60 * time.Second,
		RateLimit:      10,
		RateBurst:      20,
		MaxRetries:     3,
	}
}

// DefaultEmailConfig 返回默认邮件渠道配置
func DefaultEmailConfig() EmailConfig {
	return EmailConfig{
		Enabled:       false,
		Name:          "email",
		SMTP:          MailServerConfig{Port: 587},
		IMAP:          MailServerConfig{Port: 993, ImplicitTLS: true},
		Mailbox:       "INBOX",
		CheckInterval: 60 * time.Second,
		ShowMetadata:  false,
	}
}

// DefaultTerminalConfig 返回默认终端渠道配置
func DefaultTerminalConfig() TerminalConfig {
	return TerminalConfig{
		Enabled:      true,
		Name:         "terminal",
		ShowMetadata: true,
	}
}

// DefaultWebSocketConfig 返回默认 WebSocket 渠道配置
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		Enabled:      false,
		Name:         "websocket",
		JWTIssuer:    "humanloop",
		TokenTTL:     time.Hour,
		QueueSize:    1024,
		WriteTimeout: 10 * time.Second,
	}
}

// DefaultSyncConfig 返回默认同步配置
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Interval: 0,
		Backends: nil,
		Timeout:  10 * time.Second,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "humanloop:",
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "humanloop.db",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Mongo: MongoConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "humanloop",
			Collection: "tasks",
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "humanloop",
		SampleRate:   0.1,
	}
}
