package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/BaSui01/humanloop/config"
	"go.uber.org/zap"
)

// Config 服务器配置
type Config struct {
	// 监听地址
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultConfig 返回默认服务器配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":9090",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// ConfigFrom 从应用配置构建服务器配置
func ConfigFrom(sc config.ServerConfig) Config {
	cfg := DefaultConfig()
	if sc.HTTPPort > 0 {
		cfg.Addr = fmt.Sprintf(":%d", sc.HTTPPort)
	}
	if sc.ReadTimeout > 0 {
		cfg.ReadTimeout = sc.ReadTimeout
	}
	if sc.WriteTimeout > 0 {
		cfg.WriteTimeout = sc.WriteTimeout
	}
	if sc.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = sc.ShutdownTimeout
	}
	return cfg
}

// Server 管理运维 HTTP 服务的生命周期 (指标、健康检查、任务查询).
type Server struct {
	srv    *http.Server
	cfg    Config
	logger *zap.Logger
	errCh  chan error

	mu       sync.RWMutex
	listener net.Listener
	closed   bool
}

// New 创建服务器
func New(handler http.Handler, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:           cfg.Addr,
			Handler:        handler,
			ReadTimeout:    cfg.ReadTimeout,
			WriteTimeout:   cfg.WriteTimeout,
			IdleTimeout:    cfg.IdleTimeout,
			MaxHeaderBytes: cfg.MaxHeaderBytes,
		},
		cfg:    cfg,
		logger: logger.With(zap.String("component", "http_server")),
		errCh:  make(chan error, 1),
	}
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("server is closed")
	}
	if s.listener != nil {
		return errors.New("server already started")
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.logger.Info("starting HTTP server", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server failed", zap.Error(err))
			select {
			case s.errCh <- err:
			default:
			}
		}
	}()
	return nil
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	s.listener = nil
	s.logger.Info("HTTP server stopped")
	return nil
}

// Wait 阻塞直到收到 SIGINT/SIGTERM、服务异常退出或 ctx 结束.
func (s *Server) Wait(ctx context.Context) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.errCh:
		s.logger.Error("server exited unexpectedly", zap.Error(err))
	case <-ctx.Done():
	}
}

// Errors returns asynchronous server errors.
func (s *Server) Errors() <-chan error {
	return s.errCh
}

// Addr 返回实际监听地址，未启动时返回配置地址
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// IsRunning 检查服务器是否运行中
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listener != nil && !s.closed
}
