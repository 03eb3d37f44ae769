package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/humanloop/config"
	"github.com/BaSui01/humanloop/internal/metrics"
	"github.com/BaSui01/humanloop/internal/retry"
	"github.com/BaSui01/humanloop/internal/server"
	"github.com/BaSui01/humanloop/internal/telemetry"
	"github.com/BaSui01/humanloop/manager"
	"github.com/BaSui01/humanloop/persistence"
	"github.com/BaSui01/humanloop/provider"
	"github.com/BaSui01/humanloop/provider/api"
	"github.com/BaSui01/humanloop/provider/email"
	"github.com/BaSui01/humanloop/provider/terminal"
	"github.com/BaSui01/humanloop/provider/websocket"
)

// App 组装 Manager、渠道、同步后端与运维 HTTP 服务.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	otel     *telemetry.Providers
	registry *prometheus.Registry
	metrics  *metrics.Collector
	manager  *manager.Manager
	http     *server.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp 创建应用
func NewApp(cfg *config.Config, logger *zap.Logger) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

// Start 初始化所有组件并启动 HTTP 服务
func (a *App) Start() error {
	otelProviders, err := telemetry.Init(a.cfg.Telemetry, a.logger)
	if err != nil {
		a.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.otel = otelProviders

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.NewCollector(a.cfg.Server.MetricsNamespace, a.registry, a.logger)

	sink, err := persistence.NewSink(a.ctx, a.cfg.Sync, a.cfg.API, a.logger)
	if err != nil {
		return fmt.Errorf("sync sink: %w", err)
	}

	opts := []manager.Option{
		manager.WithLogger(a.logger),
		manager.WithConfig(manager.ConfigFrom(a.cfg.Manager, a.cfg.Sync)),
		manager.WithMetrics(a.metrics),
	}
	if sink != nil {
		opts = append(opts, manager.WithSink(sink))
	}
	a.manager = manager.New(opts...)

	if err := registerProviders(a.manager, a.cfg, a.logger); err != nil {
		return err
	}
	if sink != nil && a.cfg.Sync.Interval > 0 {
		if err := a.manager.StartSync(a.cfg.Sync.Interval); err != nil {
			return err
		}
	}

	return a.startHTTP(sink)
}

func (a *App) startHTTP(sink persistence.Sink) error {
	health := server.NewHealthHandler(Version, a.logger)
	for _, c := range readinessChecks(sink) {
		health.RegisterCheck(c)
	}

	mux := server.NewRouter(server.RouterConfig{
		Health:  health,
		Tasks:   a.manager,
		Metrics: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}),
		Logger:  a.logger,
	})

	skip := []string{"/healthz", "/readyz", "/metrics"}
	middlewares := []Middleware{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(a.logger),
		MetricsMiddleware(a.metrics),
		OTelTracing(),
	}
	if rps := a.cfg.Server.RateLimitRPS; rps > 0 {
		middlewares = append(middlewares, RateLimiter(a.ctx, rps, a.cfg.Server.RateLimitBurst, a.logger))
	}
	if len(a.cfg.Server.APIKeys) > 0 {
		middlewares = append(middlewares, APIKeyAuth(a.cfg.Server.APIKeys, skip, a.logger))
	}
	handler := Chain(mux, middlewares...)

	a.http = server.New(handler, server.ConfigFrom(a.cfg.Server), a.logger)
	return a.http.Start()
}

// WaitForShutdown 阻塞直到收到退出信号，然后关闭
func (a *App) WaitForShutdown() {
	a.http.Wait(a.ctx)
	a.Shutdown()
}

// Shutdown 依次关闭 HTTP 服务、Manager 与遥测
func (a *App) Shutdown() {
	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.http != nil {
		if err := a.http.Shutdown(ctx); err != nil {
			a.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			a.logger.Error("manager shutdown error", zap.Error(err))
		}
	}
	if a.otel != nil {
		if err := a.otel.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}
	a.cancel()
}

// registerProviders 按配置创建并注册已启用的渠道
func registerProviders(m *manager.Manager, cfg *config.Config, logger *zap.Logger) error {
	type built struct {
		id string
		p  provider.Provider
	}
	var all []built
	var errs []error

	if c := cfg.API; c.Enabled {
		pc := api.DefaultConfig()
		pc.BaseURL, pc.APIKey = c.BaseURL, c.APIKey
		if c.Platform != "" {
			pc.Platform = c.Platform
		}
		if c.PollInterval > 0 {
			pc.PollInterval = c.PollInterval
		}
		if c.RequestTimeout > 0 {
			pc.RequestTimeout = c.RequestTimeout
		}
		if c.RateLimit > 0 {
			pc.RateLimit, pc.RateBurst = c.RateLimit, c.RateBurst
		}
		if c.MaxRetries > 0 {
			pc.Retry.MaxRetries = c.MaxRetries
		}
		p, err := api.New(nameOr(c.Name, "api"), pc, api.WithLogger(logger))
		if err != nil {
			errs = append(errs, err)
		} else {
			all = append(all, built{nameOr(c.Name, "api"), p})
		}
	}

	if c := cfg.Email; c.Enabled {
		p, err := email.New(nameOr(c.Name, "email"), email.Config{
			SMTP:          mailServer(c.SMTP),
			IMAP:          mailServer(c.IMAP),
			Mailbox:       c.Mailbox,
			From:          c.From,
			Recipients:    c.Recipients,
			CheckInterval: c.CheckInterval,
			ShowMetadata:  c.ShowMetadata,
			Retry:         retry.DefaultPolicy(),
		}, email.WithLogger(logger))
		if err != nil {
			errs = append(errs, err)
		} else {
			all = append(all, built{nameOr(c.Name, "email"), p})
		}
	}

	if c := cfg.WebSocket; c.Enabled {
		p, err := websocket.New(nameOr(c.Name, "websocket"), websocket.Config{
			URL:       c.URL,
			AuthToken: c.AuthToken,
			JWT: websocket.TokenConfig{
				Secret: c.JWTSecret,
				Issuer: c.JWTIssuer,
				TTL:    c.TokenTTL,
			},
			Reconnect:    retry.DefaultPolicy(),
			QueueSize:    c.QueueSize,
			WriteTimeout: c.WriteTimeout,
		}, websocket.WithLogger(logger))
		if err != nil {
			errs = append(errs, err)
		} else {
			all = append(all, built{nameOr(c.Name, "websocket"), p})
		}
	}

	if c := cfg.Terminal; c.Enabled {
		all = append(all, built{nameOr(c.Name, "terminal"), terminal.New(nameOr(c.Name, "terminal"),
			terminal.WithShowMetadata(c.ShowMetadata), terminal.WithLogger(logger))})
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("provider setup: %w", err)
	}
	if len(all) == 0 {
		return errors.New("no provider enabled")
	}
	for _, b := range all {
		if _, err := m.RegisterProvider(b.p, b.id); err != nil {
			return err
		}
	}
	if id := cfg.Manager.DefaultProvider; id != "" {
		return m.SetDefaultProvider(id)
	}
	return nil
}

func mailServer(c config.MailServerConfig) email.ServerConfig {
	return email.ServerConfig{
		Host:        c.Host,
		Port:        c.Port,
		Username:    c.Username,
		Password:    c.Password,
		ImplicitTLS: c.ImplicitTLS,
	}
}

func nameOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

// readinessChecks 为支持 Ping 的同步后端生成就绪检查
func readinessChecks(sink persistence.Sink) []server.HealthCheck {
	if sink == nil {
		return nil
	}
	sinks := []persistence.Sink{sink}
	if multi, ok := sink.(*persistence.MultiSink); ok {
		sinks = multi.Sinks()
	}
	var checks []server.HealthCheck
	for _, s := range sinks {
		if p, ok := s.(persistence.Pinger); ok {
			checks = append(checks, server.CheckFunc{CheckName: "sync_" + s.Name(), Fn: p.Ping})
		}
	}
	return checks
}
