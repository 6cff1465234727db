package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/BaSui01/agentrelay/config"
	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) (sqlmock.Sqlmock, *gorm.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{DisableAutomaticPing: true})
	require.NoError(t, err)
	return mock, gormDB
}

func testPoolConfig() PoolConfig {
	return PoolConfig{MaxOpenConns: 10, MaxIdleConns: 5, ConnMaxLifetime: time.Hour}
}

func TestNewPoolManager(t *testing.T) {
	mock, gormDB := setupTestDB(t)

	manager, err := NewPoolManager(gormDB, testPoolConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.Same(t, gormDB, manager.DB())
	assert.Equal(t, 10, manager.Stats().MaxOpenConnections)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPoolManager_Errors(t *testing.T) {
	_, err := NewPoolManager(nil, testPoolConfig(), nil)
	assert.Error(t, err)

	_, gormDB := setupTestDB(t)
	_, err = NewPoolManager(gormDB, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 2}, nil)
	assert.Error(t, err)
}

func TestPoolManager_Ping(t *testing.T) {
	mock, gormDB := setupTestDB(t)
	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectPing()
	assert.NoError(t, manager.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, manager.Ping(context.Background()), sql.ErrConnDone)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_CloseIsIdempotent(t *testing.T) {
	mock, gormDB := setupTestDB(t)
	manager, err := NewPoolManager(gormDB, testPoolConfig(), nil)
	require.NoError(t, err)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	assert.ErrorIs(t, manager.Ping(context.Background()), ErrPoolClosed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPoolManager_ProbeLoop(t *testing.T) {
	mock, gormDB := setupTestDB(t)
	core, logs := observer.New(zap.DebugLevel)

	cfg := testPoolConfig()
	cfg.ProbeInterval = 20 * time.Millisecond
	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	mock.ExpectPing()

	manager, err := NewPoolManager(gormDB, cfg, zap.New(core))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return logs.FilterMessage("database reachable again").Len() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, logs.FilterMessage("database probe failed").Len(), 1)

	mock.ExpectClose()
	require.NoError(t, manager.Close())
}

func TestPoolManager_CheckUsesLastProbe(t *testing.T) {
	mock, gormDB := setupTestDB(t)
	cfg := testPoolConfig()
	cfg.ProbeInterval = time.Hour
	manager, err := NewPoolManager(gormDB, cfg, nil)
	require.NoError(t, err)
	ctx := context.Background()

	// 尚无探测结果时直接 Ping
	mock.ExpectPing()
	require.NoError(t, manager.Check(ctx))

	mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	assert.ErrorIs(t, manager.probe(), sql.ErrConnDone)

	// 探测结果未过期，不再访问数据库
	assert.ErrorIs(t, manager.Check(ctx), sql.ErrConnDone)
	assert.ErrorIs(t, manager.Check(ctx), sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectClose()
	require.NoError(t, manager.Close())
	assert.ErrorIs(t, manager.Check(ctx), ErrPoolClosed)
}

func TestPoolManager_ProbeReportsSaturation(t *testing.T) {
	pm, err := Open(config.DatabaseConfig{Driver: "sqlite-pure", Name: ":memory:", MaxOpenConns: 1, MaxIdleConns: 1}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	core, logs := observer.New(zap.WarnLevel)
	pm.logger = zap.New(core)
	require.NoError(t, pm.probe())

	// 占住唯一的连接，让另一个查询排队等待
	conn, err := pm.sqlDB.Conn(context.Background())
	require.NoError(t, err)
	queued := make(chan error, 1)
	go func() {
		var one int
		queued <- pm.sqlDB.QueryRow("SELECT 1").Scan(&one)
	}()
	require.Eventually(t, func() bool { return pm.Stats().WaitCount > 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, conn.Close())
	require.NoError(t, <-queued)

	require.NoError(t, pm.probe())
	require.Equal(t, 1, logs.FilterMessage("database pool saturated").Len())
	assert.Equal(t, int64(1), logs.FilterMessage("database pool saturated").All()[0].ContextMap()["waits_since_last_probe"])
}

func TestPoolConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  PoolConfig
		wantErr bool
	}{
		{name: "valid config", config: testPoolConfig()},
		{name: "defaults", config: DefaultPoolConfig()},
		{name: "invalid max open conns", config: PoolConfig{MaxOpenConns: 0, MaxIdleConns: 5}, wantErr: true},
		{name: "invalid max idle conns", config: PoolConfig{MaxOpenConns: 10, MaxIdleConns: 0}, wantErr: true},
		{name: "idle > open", config: PoolConfig{MaxOpenConns: 5, MaxIdleConns: 10}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// =============================================================================
// 🔌 Open 测试
// =============================================================================

func TestDialector(t *testing.T) {
	for _, driver := range []string{"postgres", "mysql", "sqlite", "sqlite-pure"} {
		d, err := Dialector(driver, "dsn")
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := Dialector("", "dsn")
	assert.Error(t, err)
	_, err = Dialector("oracle", "dsn")
	assert.Error(t, err)
}

func TestOpen_PureSQLite(t *testing.T) {
	pm, err := Open(config.DatabaseConfig{Driver: "sqlite-pure", Name: ":memory:", MaxOpenConns: 1, MaxIdleConns: 4}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pm.Close() })

	require.NoError(t, pm.Ping(context.Background()))
	stats := pm.Stats()
	assert.Equal(t, 1, stats.MaxOpenConnections)

	var one int
	require.NoError(t, pm.DB().Raw("SELECT 1").Scan(&one).Error)
	assert.Equal(t, 1, one)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(config.DatabaseConfig{Driver: "oracle"}, nil)
	assert.Error(t, err)
}
