package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrPoolClosed Close 之后的调用返回该错误
var ErrPoolClosed = errors.New("database pool is closed")

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	// ProbeInterval 后台探测间隔，0 表示不探测，Check 每次直接 Ping
	ProbeInterval time.Duration `yaml:"probe_interval" json:"probe_interval"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		ProbeInterval:   30 * time.Second,
	}
}

// Validate 检查连接数限制
func (c PoolConfig) Validate() error {
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns <= 0 {
		return fmt.Errorf("max_idle_conns must be positive, got %d", c.MaxIdleConns)
	}
	if c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("max_idle_conns (%d) cannot exceed max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	}
	return nil
}

// probeResult 最近一次探测的结果
type probeResult struct {
	at        time.Time
	err       error
	waitCount int64
}

// PoolManager 持有任务存储使用的 GORM 句柄。
//
// 后台探测定期 Ping 并记录结果，/health 通过 Check 读取；两次探测之间
// 等待连接的次数增加时记录 "database pool saturated"，通常说明
// workflow.max_concurrent_runs 相对 max_open_conns 过大。
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	last   probeResult
}

// NewPoolManager 把 config 应用到 db 的连接池并启动后台探测
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "db_pool")),
		done:   make(chan struct{}),
	}
	if config.ProbeInterval > 0 {
		go pm.probeLoop()
	}

	pm.logger.Info("database pool initialized",
		zap.Int("max_idle_conns", config.MaxIdleConns),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Duration("probe_interval", config.ProbeInterval),
	)
	return pm, nil
}

// DB 返回 GORM 数据库实例
func (pm *PoolManager) DB() *gorm.DB {
	return pm.db
}

// Ping 直接检查数据库连接
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Check 供健康检查使用：最近一次探测未过期（两个探测间隔内）时返回其结果，
// 否则直接 Ping
func (pm *PoolManager) Check(ctx context.Context) error {
	pm.mu.RLock()
	last, closed := pm.last, pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	if pm.config.ProbeInterval > 0 && !last.at.IsZero() && time.Since(last.at) < 2*pm.config.ProbeInterval {
		return last.err
	}
	return pm.Ping(ctx)
}

// Close 关闭连接池，重复调用安全
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.closed {
		return nil
	}
	pm.closed = true
	close(pm.done)
	pm.logger.Info("closing database pool")
	return pm.sqlDB.Close()
}

func (pm *PoolManager) probeLoop() {
	ticker := time.NewTicker(pm.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.done:
			return
		case <-ticker.C:
		}
		if errors.Is(pm.probe(), ErrPoolClosed) {
			return
		}
	}
}

// probe 执行一次探测并记录结果
func (pm *PoolManager) probe() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := pm.Ping(ctx)
	cancel()
	if errors.Is(err, ErrPoolClosed) {
		return err
	}

	stats := pm.Stats()
	pm.mu.Lock()
	prev := pm.last
	pm.last = probeResult{at: time.Now(), err: err, waitCount: stats.WaitCount}
	pm.mu.Unlock()

	switch {
	case err != nil:
		pm.logger.Error("database probe failed", zap.Error(err))
	case prev.err != nil:
		pm.logger.Info("database reachable again")
	}
	if !prev.at.IsZero() && stats.WaitCount > prev.waitCount {
		pm.logger.Warn("database pool saturated",
			zap.Int64("waits_since_last_probe", stats.WaitCount-prev.waitCount),
			zap.Int("in_use", stats.InUse),
			zap.Int("max_open_connections", stats.MaxOpenConnections),
		)
	}
	return err
}

// PoolStats 连接池统计信息
type PoolStats struct {
	MaxOpenConnections int           `json:"max_open_connections"`
	OpenConnections    int           `json:"open_connections"`
	InUse              int           `json:"in_use"`
	Idle               int           `json:"idle"`
	WaitCount          int64         `json:"wait_count"`
	WaitDuration       time.Duration `json:"wait_duration"`
}

// Stats 返回连接池统计信息
func (pm *PoolManager) Stats() PoolStats {
	s := pm.sqlDB.Stats()
	return PoolStats{
		MaxOpenConnections: s.MaxOpenConnections,
		OpenConnections:    s.OpenConnections,
		InUse:              s.InUse,
		Idle:               s.Idle,
		WaitCount:          s.WaitCount,
		WaitDuration:       s.WaitDuration,
	}
}
