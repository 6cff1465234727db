package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/mysql/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// DefaultTable 是记录版本号的表
const DefaultTable = "schema_migrations"

// Dialect 决定使用哪一组内嵌脚本
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// sqlDriver 返回 database/sql 注册名，由 golang-migrate 的驱动包注册
func (d Dialect) sqlDriver() (string, error) {
	switch d {
	case DialectPostgres:
		return "postgres", nil
	case DialectMySQL:
		return "mysql", nil
	case DialectSQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("unsupported dialect: %s", d)
}

func (d Dialect) dir() string {
	return path.Join("migrations", string(d))
}

// ParseDialect 接受常见别名，sqlite-pure 与 sqlite 共用同一组脚本
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3", "sqlite-pure":
		return DialectSQLite, nil
	}
	return "", fmt.Errorf("unsupported database type: %s", s)
}

// Config 迁移配置
type Config struct {
	Dialect Dialect
	URL     string
	// Table 为空时使用 DefaultTable
	Table string
}

// Status 单个迁移脚本的状态
type Status struct {
	Version uint   `json:"version"`
	Name    string `json:"name"`
	Applied bool   `json:"applied"`
	Dirty   bool   `json:"dirty"`
}

// Info 汇总当前迁移状态
type Info struct {
	Version uint `json:"version"`
	Dirty   bool `json:"dirty"`
	Total   int  `json:"total"`
	Applied int  `json:"applied"`
	Pending int  `json:"pending"`
}

// Migrator 封装 golang-migrate，脚本来自内嵌文件系统
type Migrator struct {
	dialect Dialect
	m       *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator 按 URL 打开连接并创建迁移器
func NewMigrator(cfg Config, logger *zap.Logger) (*Migrator, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}
	driverName, err := cfg.Dialect.sqlDriver()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	m, err := NewMigratorWithDB(db, cfg.Dialect, cfg.Table, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// NewMigratorWithDB 复用已打开的连接，Close 时连接随之关闭
func NewMigratorWithDB(db *sql.DB, dialect Dialect, table string, logger *zap.Logger) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == "" {
		table = DefaultTable
	}

	var (
		driver database.Driver
		err    error
	)
	switch dialect {
	case DialectPostgres:
		driver, err = postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	case DialectMySQL:
		driver, err = mysql.WithInstance(db, &mysql.Config{MigrationsTable: table})
	case DialectSQLite:
		driver, err = sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: table})
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s driver: %w", dialect, err)
	}

	src, err := iofs.New(migrationsFS, dialect.dir())
	if err != nil {
		return nil, fmt.Errorf("load embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, string(dialect), driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	logger = logger.With(zap.String("component", "migration"), zap.String("dialect", string(dialect)))
	m.Log = &migrateLogger{logger: logger}

	return &Migrator{dialect: dialect, m: m, logger: logger}, nil
}

// run 在 ctx 取消时请求 golang-migrate 在当前脚本结束后停止
func (m *Migrator) run(ctx context.Context, op string, fn func() error) error {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			select {
			case m.m.GracefulStop <- true:
			default:
			}
		case <-done:
		}
	}()

	err := fn()
	close(done)
	<-exited
	// 丢弃未被消费的停止信号，避免影响下一次操作
	select {
	case <-m.m.GracefulStop:
	default:
	}

	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s: %w", op, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("migration %s interrupted: %w", op, err)
	}
	return nil
}

// Up 应用全部未执行的迁移
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.m.Up)
}

// Down 回滚最近一次迁移
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.m.Steps(-1) })
}

// Reset 回滚全部迁移
func (m *Migrator) Reset(ctx context.Context) error {
	return m.run(ctx, "reset", m.m.Down)
}

// Steps 正数前进，负数回滚
func (m *Migrator) Steps(ctx context.Context, n int) error {
	if n == 0 {
		return nil
	}
	return m.run(ctx, "steps", func() error { return m.m.Steps(n) })
}

// Goto 迁移到指定版本
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, "goto", func() error { return m.m.Migrate(version) })
}

// Force 只改写版本号并清除 dirty 标记，不执行脚本
func (m *Migrator) Force(version int) error {
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("migration force: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version 返回当前版本，未执行过任何迁移时为 0
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return v, dirty, nil
}

// Status 列出全部内嵌脚本及其应用状态
func (m *Migrator) Status() ([]Status, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	available, err := availableMigrations(m.dialect)
	if err != nil {
		return nil, err
	}

	out := make([]Status, 0, len(available))
	for _, s := range available {
		s.Applied = s.Version <= current
		s.Dirty = dirty && s.Version == current
		out = append(out, s)
	}
	return out, nil
}

// Info 汇总版本与待执行数量
func (m *Migrator) Info() (*Info, error) {
	statuses, err := m.Status()
	if err != nil {
		return nil, err
	}
	v, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}

	info := &Info{Version: v, Dirty: dirty, Total: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.Applied++
		}
	}
	info.Pending = info.Total - info.Applied
	return info, nil
}

// Close 释放源与数据库驱动
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// availableMigrations 从文件名 000001_name.up.sql 解析版本号
func availableMigrations(d Dialect) ([]Status, error) {
	entries, err := fs.ReadDir(migrationsFS, d.dir())
	if err != nil {
		return nil, fmt.Errorf("read embedded migrations: %w", err)
	}

	var out []Status
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".up.sql")
		if e.IsDir() || !ok {
			continue
		}
		num, label, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(num, 10, 32)
		if err != nil {
			continue
		}
		out = append(out, Status{Version: uint(v), Name: label})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// migrateLogger 把 golang-migrate 的日志接到 zap
type migrateLogger struct {
	logger *zap.Logger
}

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *migrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
