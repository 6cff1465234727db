package migration

import (
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/BaSui01/agentrelay/config"
	"go.uber.org/zap"
)

// NewMigratorFromConfig 根据应用的数据库配置创建迁移器
func NewMigratorFromConfig(cfg config.DatabaseConfig, logger *zap.Logger) (*Migrator, error) {
	dialect, err := ParseDialect(cfg.Driver)
	if err != nil {
		return nil, err
	}
	return NewMigrator(Config{Dialect: dialect, URL: BuildURL(dialect, cfg)}, logger)
}

// BuildURL 拼接 golang-migrate 使用的连接串
// mysql 需要 multiStatements，sqlite 打开外键约束
func BuildURL(dialect Dialect, cfg config.DatabaseConfig) string {
	switch dialect {
	case DialectPostgres:
		sslMode := cfg.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Path:     "/" + cfg.Name,
			RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
		}
		return u.String()
	case DialectMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true&multiStatements=true",
			cfg.User, cfg.Password, net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), cfg.Name)
	case DialectSQLite:
		return "file:" + cfg.Name + "?_foreign_keys=on"
	}
	return ""
}
