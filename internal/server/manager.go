package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// 🌐 HTTP 服务器生命周期管理
// =============================================================================
// 检索服务监听两个端口：查询 API 与 Prometheus 指标。
// Manager 管理单个监听，Group 把两者合并为一次启动/一次优雅关闭.

// Config 单个 HTTP 监听的配置
type Config struct {
	// 监听地址
	Addr string `yaml:"addr" json:"addr"`

	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// 空闲超时
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig 返回默认监听配置
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Manager 单个 HTTP 服务器的生命周期管理器
type Manager struct {
	name     string
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// NewManager 创建服务器管理器. name 用于日志区分（如 api / metrics）.
func NewManager(name string, handler http.Handler, config Config, logger *zap.Logger) *Manager {
	server := &http.Server{
		Addr:         config.Addr,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return &Manager{
		name:   name,
		server: server,
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("server", name)),
	}
}

// Start 启动服务器（非阻塞）
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server %s is closed", m.name)
	}
	if m.listener != nil {
		return fmt.Errorf("server %s already started", m.name)
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}

	m.listener = listener
	m.logger.Info("starting HTTP server", zap.String("addr", listener.Addr().String()))

	go m.serve(listener)

	return nil
}

func (m *Manager) serve(listener net.Listener) {
	if err := m.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		m.logger.Error("HTTP server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown 优雅关闭服务器
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}

	m.listener = nil

	m.logger.Info("HTTP server stopped")
	return nil
}

// Errors 返回异步服务器错误
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr 返回配置的监听地址
func (m *Manager) Addr() string {
	return m.config.Addr
}

// BoundAddr 返回实际绑定的地址（Addr 为 ":0" 时与配置不同）.
// 未启动时返回空串.
func (m *Manager) BoundAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// IsRunning 检查服务器是否运行中
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

// =============================================================================
// 🎯 服务器组
// =============================================================================

// Group 一组一起启动、一起关闭的 HTTP 服务器
type Group struct {
	managers []*Manager
	logger   *zap.Logger
}

// NewGroup 创建服务器组
func NewGroup(logger *zap.Logger, managers ...*Manager) *Group {
	return &Group{managers: managers, logger: logger}
}

// Start 启动组内全部服务器，任一失败时回滚已启动的
func (g *Group) Start() error {
	for i, m := range g.managers {
		if err := m.Start(); err != nil {
			for j := 0; j < i; j++ {
				g.managers[j].Shutdown(context.Background())
			}
			return err
		}
	}
	return nil
}

// Shutdown 关闭组内全部服务器，返回首个错误
func (g *Group) Shutdown(ctx context.Context) error {
	var first error
	for _, m := range g.managers {
		if err := m.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WaitForShutdown 阻塞等待退出信号或任一服务器异常，然后关闭整组
func (g *Group) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	cases := make([]<-chan error, len(g.managers))
	for i, m := range g.managers {
		cases[i] = m.Errors()
	}

	merged := make(chan error, 1)
	for _, ch := range cases {
		go func(ch <-chan error) {
			if err, ok := <-ch; ok {
				select {
				case merged <- err:
				default:
				}
			}
		}(ch)
	}

	select {
	case sig := <-quit:
		g.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-merged:
		g.logger.Error("server exited unexpectedly", zap.Error(err))
	}

	if err := g.Shutdown(context.Background()); err != nil {
		g.logger.Error("shutdown error", zap.Error(err))
	}
}
