// =============================================================================
// 📦 HumanLoop 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("humanloop.yaml").
//	    WithEnvPrefix("GOHUMANLOOP").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 humanloop 的完整配置结构
type Config struct {
	// Server 指标与健康检查服务
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Manager 编排管理器
	Manager ManagerConfig `yaml:"manager" env:"MANAGER"`

	// API GoHumanLoop 平台渠道
	API APIConfig `yaml:"api" env:"API"`

	// Email 邮件渠道
	Email EmailConfig `yaml:"email" env:"EMAIL"`

	// Terminal 终端渠道
	Terminal TerminalConfig `yaml:"terminal" env:"TERMINAL"`

	// WebSocket 推送渠道
	WebSocket WebSocketConfig `yaml:"websocket" env:"WEBSOCKET"`

	// Sync 任务快照同步
	Sync SyncConfig `yaml:"sync" env:"SYNC"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口 (metrics, healthz)
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每秒请求限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 突发请求数
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 指标 namespace
	MetricsNamespace string `yaml:"metrics_namespace" env:"METRICS_NAMESPACE"`
	// 任务查询接口的 API Key，为空时不鉴权
	APIKeys []string `yaml:"api_keys" env:"API_KEYS"`
}

// ManagerConfig 编排管理器配置
type ManagerConfig struct {
	// 默认 Provider id，为空时使用第一个注册的 Provider
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	// 请求默认超时，0 表示不超时
	DefaultTimeout time.Duration `yaml:"default_timeout" env:"DEFAULT_TIMEOUT"`
	// 阻塞等待的轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	// 进行中请求的最大续期次数，0 表示不限
	MaxRenewals int `yaml:"max_renewals" env:"MAX_RENEWALS"`
}

// APIConfig GoHumanLoop 平台渠道配置
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Name    string `yaml:"name" env:"NAME"`
	// 平台地址
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// Bearer 密钥
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 平台标识，如 wechat、feishu
	Platform       string        `yaml:"platform" env:"PLATFORM"`
	PollInterval   time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	RateLimit      float64       `yaml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst      int           `yaml:"rate_burst" env:"RATE_BURST"`
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// MailServerConfig SMTP/IMAP 服务器配置
type MailServerConfig struct {
	Host        string `yaml:"host" env:"HOST"`
	Port        int    `yaml:"port" env:"PORT"`
	Username    string `yaml:"username" env:"USERNAME"`
	Password    string `yaml:"password" env:"PASSWORD"`
	ImplicitTLS bool   `yaml:"implicit_tls" env:"IMPLICIT_TLS"`
}

// EmailConfig 邮件渠道配置
type EmailConfig struct {
	Enabled       bool             `yaml:"enabled" env:"ENABLED"`
	Name          string           `yaml:"name" env:"NAME"`
	SMTP          MailServerConfig `yaml:"smtp" env:"SMTP"`
	IMAP          MailServerConfig `yaml:"imap" env:"IMAP"`
	Mailbox       string           `yaml:"mailbox" env:"MAILBOX"`
	From          string           `yaml:"from" env:"FROM"`
	Recipients    []string         `yaml:"recipients" env:"RECIPIENTS"`
	CheckInterval time.Duration    `yaml:"check_interval" env:"CHECK_INTERVAL"`
	ShowMetadata  bool             `yaml:"show_metadata" env:"SHOW_METADATA"`
}

// TerminalConfig 终端渠道配置
type TerminalConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Name         string `yaml:"name" env:"NAME"`
	ShowMetadata bool   `yaml:"show_metadata" env:"SHOW_METADATA"`
}

// WebSocketConfig WebSocket 推送渠道配置
type WebSocketConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Name      string `yaml:"name" env:"NAME"`
	URL       string `yaml:"url" env:"URL"`
	AuthToken string `yaml:"auth_token" env:"AUTH_TOKEN"`
	// HS256 签名密钥，AuthToken 为空时用于签发 JWT
	JWTSecret    string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer    string        `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	TokenTTL     time.Duration `yaml:"token_ttl" env:"TOKEN_TTL"`
	QueueSize    int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// SyncConfig 任务快照同步配置
type SyncConfig struct {
	// 同步间隔，0 表示仅在终态时同步
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// 同步目标: memory, redis, sql, mongo, http
	Backends []string `yaml:"backends" env:"BACKENDS"`
	// 单次同步超时
	Timeout  time.Duration  `yaml:"timeout" env:"TIMEOUT"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	Mongo    MongoConfig    `yaml:"mongo" env:"MONGO"`
	// HTTP 同步地址，为空时使用 API.BaseURL
	HTTPURL    string `yaml:"http_url" env:"HTTP_URL"`
	HTTPAPIKey string `yaml:"http_api_key" env:"HTTP_API_KEY"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 快照 TTL，0 表示不过期
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名，sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// 启动时执行迁移
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string `yaml:"uri" env:"URI"`
	Database   string `yaml:"database" env:"DATABASE"`
	Collection string `yaml:"collection" env:"COLLECTION"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 不使用 TLS 连接 collector
	Insecure bool `yaml:"insecure" env:"INSECURE"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  EnvPrefix,
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if err := l.loadAliases(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// loadAliases 兼容 GoHumanLoop 的短环境变量名。超时类变量可以是秒数或 duration。
func (l *Loader) loadAliases(cfg *Config) error {
	strs := []struct {
		key string
		dst []*string
	}{
		{"API_KEY", []*string{&cfg.API.APIKey}},
		{"API_URL", []*string{&cfg.API.BaseURL}},
		{"EMAIL_USERNAME", []*string{&cfg.Email.SMTP.Username, &cfg.Email.IMAP.Username}},
		{"EMAIL_PASSWORD", []*string{&cfg.Email.SMTP.Password, &cfg.Email.IMAP.Password}},
	}
	for _, a := range strs {
		v := os.Getenv(l.envPrefix + "_" + a.key)
		if v == "" {
			continue
		}
		for _, dst := range a.dst {
			*dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"API_TIMEOUT", &cfg.API.RequestTimeout},
		{"APPROVAL_TIMEOUT", &cfg.Manager.DefaultTimeout},
		{"POLLING_INTERVAL", &cfg.Manager.PollInterval},
	}
	for _, a := range durations {
		key := l.envPrefix + "_" + a.key
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
		*a.dst = d
	}
	return nil
}

func parseSeconds(v string) (time.Duration, error) {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Manager.PollInterval <= 0 {
		errs = append(errs, "manager.poll_interval must be positive")
	}
	if c.Manager.DefaultTimeout < 0 {
		errs = append(errs, "manager.default_timeout must not be negative")
	}
	if c.Manager.MaxRenewals < 0 {
		errs = append(errs, "manager.max_renewals must not be negative")
	}

	if c.API.Enabled && c.API.BaseURL == "" {
		errs = append(errs, "api.base_url is required when the api provider is enabled")
	}
	if c.Email.Enabled {
		if c.Email.SMTP.Host == "" || c.Email.IMAP.Host == "" {
			errs = append(errs, "email.smtp.host and email.imap.host are required")
		}
		if len(c.Email.Recipients) == 0 {
			errs = append(errs, "email.recipients must not be empty")
		}
	}
	if c.WebSocket.Enabled && !strings.HasPrefix(c.WebSocket.URL, "ws://") && !strings.HasPrefix(c.WebSocket.URL, "wss://") {
		errs = append(errs, "websocket.url must start with ws:// or wss://")
	}
	if !c.API.Enabled && !c.Email.Enabled && !c.Terminal.Enabled && !c.WebSocket.Enabled {
		errs = append(errs, "at least one provider must be enabled")
	}

	for _, b := range c.Sync.Backends {
		if !slices.Contains(SyncBackends, b) {
			errs = append(errs, fmt.Sprintf("unknown sync backend %q", b))
		}
	}
	if slices.Contains(c.Sync.Backends, "sql") && c.Sync.Database.DSN() == "" {
		errs = append(errs, "sync.database.driver must be postgres, mysql or sqlite")
	}
	if slices.Contains(c.Sync.Backends, "http") && c.Sync.HTTPURL == "" && c.API.BaseURL == "" {
		errs = append(errs, "sync.http_url or api.base_url is required for the http backend")
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
