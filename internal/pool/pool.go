package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task 是提交到池中的一次执行
type Task func(ctx context.Context) error

// Config 池配置
type Config struct {
	// MaxWorkers 同时执行的任务上限
	MaxWorkers int `yaml:"max_workers"`
	// QueueSize 等待执行的任务上限，满时 Submit 返回 ErrPoolFull
	QueueSize int `yaml:"queue_size"`
	// IdleTimeout 空闲 worker 的回收时间，始终保留一个 worker
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	PanicHandler func(any)     `yaml:"-"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  32,
		QueueSize:   256,
		IdleTimeout: 60 * time.Second,
	}
}

type queued struct {
	ctx  context.Context
	task Task
}

// Pool 按需启动 worker 的有界执行池
type Pool struct {
	maxWorkers   int32
	idleTimeout  time.Duration
	panicHandler func(any)

	// mu 保证 Close 关闭 queue 时没有并发的发送
	mu     sync.RWMutex
	closed bool
	queue  chan queued
	wg     sync.WaitGroup

	workers atomic.Int32
	active  atomic.Int32

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64
}

// New 创建执行池，非法字段回落到默认值
func New(cfg Config) *Pool {
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &Pool{
		maxWorkers:   int32(cfg.MaxWorkers),
		idleTimeout:  cfg.IdleTimeout,
		panicHandler: cfg.PanicHandler,
		queue:        make(chan queued, cfg.QueueSize),
	}
}

// Submit 将 task 放入队列后立即返回；task 以 ctx 执行。
// 队列已满且 worker 已达上限时返回 ErrPoolFull。
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	item := queued{ctx: ctx, task: task}
	select {
	case p.queue <- item:
		p.submitted.Add(1)
		p.ensureWorker()
		return nil
	default:
	}

	// 队列满：worker 未到上限时补一个再试
	if p.spawn() {
		select {
		case p.queue <- item:
			p.submitted.Add(1)
			return nil
		default:
		}
	}
	p.rejected.Add(1)
	return ErrPoolFull
}

func (p *Pool) ensureWorker() {
	if p.workers.Load() < p.maxWorkers {
		p.spawn()
	}
}

func (p *Pool) spawn() bool {
	for {
		n := p.workers.Load()
		if n >= p.maxWorkers {
			return false
		}
		if p.workers.CompareAndSwap(n, n+1) {
			p.wg.Add(1)
			go p.work()
			return true
		}
	}
}

func (p *Pool) work() {
	defer p.wg.Done()

	idle := time.NewTimer(p.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case item, ok := <-p.queue:
			if !ok {
				p.workers.Add(-1)
				return
			}
			p.active.Add(1)
			err := p.run(item)
			p.active.Add(-1)
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}
			idle.Reset(p.idleTimeout)

		case <-idle.C:
			if p.retire() {
				return
			}
			idle.Reset(p.idleTimeout)
		}
	}
}

// retire 在仍有其他 worker 时退出当前 worker
func (p *Pool) retire() bool {
	for {
		n := p.workers.Load()
		if n <= 1 {
			return false
		}
		if p.workers.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (p *Pool) run(item queued) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return item.task(item.ctx)
}

// Close 停止接收新任务，等待已排队和执行中的任务结束。可重复调用。
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Stats 池统计
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}

// Stats 返回当前统计
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   int(p.workers.Load()),
		Active:    int(p.active.Load()),
		Queued:    len(p.queue),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}
