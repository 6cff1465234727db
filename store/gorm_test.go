package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteStore(t *testing.T) *GormStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库绑定在单个连接上
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	s := NewGormStore(db, zaptest.NewLogger(t))
	require.NoError(t, s.AutoMigrate())
	return s
}

func TestGormStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return newSQLiteStore(t) })
}

func TestGormStore_ConcurrentClaimsApplyOnce(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	task := &Task{}
	require.NoError(t, s.CreateTask(ctx, task))
	require.NoError(t, s.AddInstruction(ctx, &TaskInstruction{TaskID: task.ID, Content: "only once"}))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in, err := s.ClaimInstruction(ctx, task.ID)
			assert.NoError(t, err)
			if in != nil {
				mu.Lock()
				claimed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claimed)
}

func TestGormStore_ExportTraceTwiceReplaces(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()
	rec := &TraceRecord{ID: "trace_x", OwnerID: "u"}
	tr := recordToTrace(rec)
	require.NoError(t, s.ExportTrace(ctx, tr))
	tr.WorkflowName = "renamed"
	require.NoError(t, s.ExportTrace(ctx, tr))

	got, err := s.GetTrace(ctx, "trace_x")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.WorkflowName)
}

// =============================================================================
// 🧪 故障路径（sqlmock）
// =============================================================================

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(db, zap.NewNop()), mock
}

func TestGormStore_QueryFailures(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT "status" FROM "tasks"`).WillReturnError(errors.New("connection reset"))
	_, err := s.GetTaskStatus(ctx, "t-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")

	mock.ExpectQuery(`SELECT \* FROM "traces"`).WillReturnError(errors.New("timeout"))
	_, err = s.ListTraces(ctx, "u-1", 10)
	assert.ErrorContains(t, err, "list traces")

	mock.ExpectQuery(`SELECT \* FROM "task_instructions"`).WillReturnError(errors.New("locked"))
	_, err = s.ClaimInstruction(ctx, "t-1")
	assert.ErrorContains(t, err, "locked")

	assert.NoError(t, mock.ExpectationsWereMet())
}
