package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss 键不存在或已过期
	ErrCacheMiss = errors.New("cache miss")
	// ErrClosed 管理器已关闭
	ErrClosed = errors.New("cache manager is closed")
	// ErrUnavailable Redis 被标记为不可用，调用方应直接回退到数据源
	ErrUnavailable = errors.New("cache unavailable")
)

// Config 缓存配置
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// 键前缀，用于多个服务共享同一 Redis
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	DefaultTTL   time.Duration `yaml:"default_ttl" json:"default_ttl"`
	PoolSize     int           `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" json:"min_idle_conns"`

	// HealthCheckInterval 探测间隔。大于 0 时，连接错误会把 Redis 标记为不可用，
	// 之后的读写立即返回 ErrUnavailable，直到探测恢复；0 表示每次都访问 Redis
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "agentrelay:",
		DefaultTTL:          30 * time.Second,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 10 * time.Second,
	}
}

// Manager 任务状态缓存使用的 Redis 访问层，所有键自动加上 KeyPrefix
type Manager struct {
	client *redis.Client
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	down atomic.Bool
}

// NewManager 连接 Redis；启动时不可达直接返回错误
func NewManager(cfg Config, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := NewManagerWithClient(client, cfg, logger)
	m.logger.Info("cache manager initialized",
		zap.String("addr", cfg.Addr),
		zap.Int("pool_size", cfg.PoolSize),
		zap.Duration("health_check_interval", cfg.HealthCheckInterval),
	)
	return m, nil
}

// NewManagerWithClient 使用已有客户端创建管理器，不做连通性检查
func NewManagerWithClient(client *redis.Client, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		client: client,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "cache")),
		done:   make(chan struct{}),
	}
	if cfg.HealthCheckInterval > 0 {
		go m.probeLoop()
	}
	return m
}

func (m *Manager) key(k string) string { return m.cfg.KeyPrefix + k }

// Available 报告 Redis 当前是否被视为可用
func (m *Manager) Available() bool { return !m.down.Load() }

// guard 必须在持有读锁时调用
func (m *Manager) guard() error {
	if m.closed {
		return ErrClosed
	}
	if m.down.Load() {
		return ErrUnavailable
	}
	return nil
}

// observe 在连接级错误时标记不可用；没有探测循环时不标记，否则无法恢复
func (m *Manager) observe(err error) {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
		return
	}
	if m.cfg.HealthCheckInterval > 0 && m.down.CompareAndSwap(false, true) {
		m.logger.Warn("redis marked unavailable", zap.Error(err))
	}
}

// Get 读取值，未命中返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return "", err
	}

	val, err := m.client.Get(ctx, m.key(key)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return "", ErrCacheMiss
	case err != nil:
		m.observe(err)
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, nil
}

// Set 写入值，ttl 为 0 时使用 DefaultTTL
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return err
	}

	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}
	if err := m.client.Set(ctx, m.key(key), value, ttl).Err(); err != nil {
		m.observe(err)
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// SetNX 仅在键不存在时写入，返回是否写入。用于读路径回填，
// 保证回填不会覆盖写路径刚写入的新值
func (m *Manager) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return false, err
	}

	if ttl == 0 {
		ttl = m.cfg.DefaultTTL
	}
	ok, err := m.client.SetNX(ctx, m.key(key), value, ttl).Result()
	if err != nil {
		m.observe(err)
		return false, fmt.Errorf("cache setnx %s: %w", key, err)
	}
	return ok, nil
}

// Delete 删除键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.guard(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = m.key(k)
	}
	if err := m.client.Del(ctx, full...).Err(); err != nil {
		m.observe(err)
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// Ping 直接访问 Redis，不受可用性标记影响；成功时清除标记
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		m.observe(err)
		return err
	}
	if m.down.CompareAndSwap(true, false) {
		m.logger.Info("redis available again")
	}
	return nil
}

// Close 停止探测并释放连接，可重复调用
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.logger.Info("closing cache manager")
	return m.client.Close()
}

func (m *Manager) probeLoop() {
	ticker := time.NewTicker(m.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = m.Ping(ctx)
		cancel()
	}
}

// IsCacheMiss 判断是否为未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}
