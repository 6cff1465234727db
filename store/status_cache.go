package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentrelay/internal/cache"
	"go.uber.org/zap"
)

// CachedTaskStore 在 TaskStore 之上用 Redis 缓存任务状态。
//
// 执行器在每个节点前轮询状态，读路径先查缓存，未命中时回源并以 SETNX 回填；
// 状态写入先落库再写穿缓存（普通 SET），因此取消/暂停对所有实例立即可见，
// 且不会被并发读的回填覆盖。缓存故障只记录日志并回退到数据库；
// Redis 被标记为不可用期间直接走数据库，恢复前写失败留下的旧值最多存活一个 TTL。
type CachedTaskStore struct {
	TaskStore
	cache   *cache.Manager
	ttl     time.Duration
	metrics CacheMetrics
	logger  *zap.Logger
}

// CacheMetrics 接收命中统计，internal/metrics.Collector 实现了它
type CacheMetrics interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

const statusCacheType = "task_status"

type nopCacheMetrics struct{}

func (nopCacheMetrics) RecordCacheHit(string)  {}
func (nopCacheMetrics) RecordCacheMiss(string) {}

// NewCachedTaskStore 包装 next，ttl 为 0 时使用缓存默认 TTL
func NewCachedTaskStore(next TaskStore, c *cache.Manager, ttl time.Duration, logger *zap.Logger) *CachedTaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedTaskStore{
		TaskStore: next,
		cache:     c,
		ttl:       ttl,
		metrics:   nopCacheMetrics{},
		logger:    logger.With(zap.String("component", "task_status_cache")),
	}
}

// WithMetrics 设置命中统计接收者
func (s *CachedTaskStore) WithMetrics(m CacheMetrics) *CachedTaskStore {
	if m != nil {
		s.metrics = m
	}
	return s
}

func statusKey(id string) string { return "task:" + id + ":status" }

func (s *CachedTaskStore) GetTaskStatus(ctx context.Context, id string) (TaskStatus, error) {
	v, err := s.cache.Get(ctx, statusKey(id))
	if err == nil {
		if st := TaskStatus(v); st.Valid() {
			s.metrics.RecordCacheHit(statusCacheType)
			return st, nil
		}
		// 无法识别的值让位给回填
		s.invalidate(ctx, id)
	} else {
		s.logFailure("status cache read failed", id, err)
	}

	s.metrics.RecordCacheMiss(statusCacheType)
	st, err := s.TaskStore.GetTaskStatus(ctx, id)
	if err != nil {
		return "", err
	}
	s.fill(ctx, id, st)
	return st, nil
}

func (s *CachedTaskStore) CreateTask(ctx context.Context, task *Task) error {
	if err := s.TaskStore.CreateTask(ctx, task); err != nil {
		return err
	}
	s.put(ctx, task.ID, task.Status)
	return nil
}

func (s *CachedTaskStore) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error {
	if err := s.TaskStore.UpdateTaskStatus(ctx, id, status); err != nil {
		s.invalidate(ctx, id)
		return err
	}
	s.put(ctx, id, status)
	return nil
}

func (s *CachedTaskStore) FinishTask(ctx context.Context, id string, status TaskStatus, result string) error {
	if err := s.TaskStore.FinishTask(ctx, id, status, result); err != nil {
		s.invalidate(ctx, id)
		return err
	}
	s.put(ctx, id, status)
	return nil
}

func (s *CachedTaskStore) put(ctx context.Context, id string, st TaskStatus) {
	err := s.cache.Set(ctx, statusKey(id), string(st), s.ttl)
	if err == nil {
		return
	}
	s.logFailure("status cache write failed", id, err)
	if !errors.Is(err, cache.ErrUnavailable) {
		s.invalidate(ctx, id)
	}
}

// fill 回填读到的状态。读到数据库与回填之间可能有写入已更新缓存，
// 用 SETNX 保证旧状态不会覆盖它
func (s *CachedTaskStore) fill(ctx context.Context, id string, st TaskStatus) {
	stored, err := s.cache.SetNX(ctx, statusKey(id), string(st), s.ttl)
	switch {
	case err != nil:
		s.logFailure("status cache fill failed", id, err)
	case !stored:
		s.logger.Debug("status cache fill skipped, newer value present", zap.String("task_id", id))
	}
}

func (s *CachedTaskStore) invalidate(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, statusKey(id)); err != nil {
		s.logger.Debug("status cache invalidate failed", zap.String("task_id", id), zap.Error(err))
	}
}

// logFailure 未命中不记录；不可用状态已由 cache.Manager 记录过一次
func (s *CachedTaskStore) logFailure(msg, id string, err error) {
	switch {
	case cache.IsCacheMiss(err):
	case errors.Is(err, cache.ErrUnavailable):
		s.logger.Debug(msg, zap.String("task_id", id), zap.Error(err))
	default:
		s.logger.Warn(msg, zap.String("task_id", id), zap.Error(err))
	}
}
