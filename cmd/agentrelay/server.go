package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentrelay/agent"
	"github.com/BaSui01/agentrelay/api/handlers"
	"github.com/BaSui01/agentrelay/config"
	"github.com/BaSui01/agentrelay/internal/cache"
	"github.com/BaSui01/agentrelay/internal/database"
	"github.com/BaSui01/agentrelay/internal/metrics"
	"github.com/BaSui01/agentrelay/internal/pool"
	"github.com/BaSui01/agentrelay/internal/server"
	"github.com/BaSui01/agentrelay/internal/telemetry"
	"github.com/BaSui01/agentrelay/llm"
	"github.com/BaSui01/agentrelay/llm/providers/openaicompat"
	"github.com/BaSui01/agentrelay/store"
	"github.com/BaSui01/agentrelay/tracing"
	"github.com/BaSui01/agentrelay/workflow"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 持有全部运行时组件，Run 管理 API 与 Metrics 两个端口的生命周期
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db        *database.PoolManager
	cache     *cache.Manager
	telemetry *telemetry.Providers
	collector *metrics.Collector
	runner    *agent.Runner
	limiter   *RateLimiter
	health    *handlers.HealthHandler

	// handler 是带完整中间件链的 API 路由
	handler    http.Handler
	api        *server.Manager
	metricsSrv *server.Manager
	reloader   *config.Reloader

	// 后台工作流执行，生命周期独立于触发它的请求
	runs       *pool.Pool
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// components 是装配过程中的中间产物
type components struct {
	tasks    store.TaskStore
	gorm     *store.GormStore
	provider llm.Provider
	registry *agent.Registry
	executor *workflow.Executor
	router   handlers.Router
}

// NewServer 按配置装配所有组件，失败时释放已打开的资源
func NewServer(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		collector: metrics.NewCollector("agentrelay", logger),
		limiter:   NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, logger),
		health:    handlers.NewHealthHandler(Version, logger),
	}
	s.runs = pool.New(pool.Config{
		MaxWorkers: cfg.Workflow.MaxConcurrentRuns,
		QueueSize:  cfg.Workflow.RunQueueSize,
		PanicHandler: func(r any) {
			logger.Error("workflow execution panicked", zap.Any("panic", r), zap.Stack("stack"))
		},
	})
	s.runCtx, s.cancelRuns = context.WithCancel(context.WithoutCancel(ctx))

	tp, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry, continuing without export", zap.Error(err))
	}
	s.telemetry = tp
	if _, err := telemetry.ObserveRuns(tp.Meter(), s.runStats); err != nil {
		logger.Warn("failed to register run pool instruments", zap.Error(err))
	}

	c, err := s.initStorage()
	if err != nil {
		s.close()
		return nil, err
	}
	if err := s.initAgents(c); err != nil {
		s.close()
		return nil, err
	}
	s.initServers(c)
	return s, nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initStorage 打开数据库与可选的 Redis 状态缓存
func (s *Server) initStorage() (*components, error) {
	pm, err := database.Open(s.cfg.Database, s.logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s.db = pm
	s.health.RegisterCheck(handlers.NewPingCheck("database", pm.Check))

	if sqlDB, err := pm.DB().DB(); err == nil {
		if err := s.collector.RegisterDB("primary", sqlDB); err != nil {
			s.logger.Warn("failed to register database metrics", zap.Error(err))
		}
	}

	gs := store.NewGormStore(pm.DB(), s.logger)
	if s.cfg.Database.AutoMigrate {
		if err := gs.AutoMigrate(); err != nil {
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
		s.logger.Info("database schema auto-migrated")
	}

	c := &components{tasks: gs, gorm: gs}
	if s.cfg.Redis.Addr == "" {
		s.logger.Info("redis not configured, task status reads go to the database")
		return c, nil
	}

	cm, err := cache.NewManager(cache.Config{
		Addr:                s.cfg.Redis.Addr,
		Password:            s.cfg.Redis.Password,
		DB:                  s.cfg.Redis.DB,
		KeyPrefix:           s.cfg.Redis.KeyPrefix,
		DefaultTTL:          s.cfg.Workflow.StatusCacheTTL,
		PoolSize:            s.cfg.Redis.PoolSize,
		MinIdleConns:        s.cfg.Redis.MinIdleConns,
		HealthCheckInterval: s.cfg.Redis.HealthCheckInterval,
	}, s.logger)
	if err != nil {
		// 缓存只是加速层，不可用时退回数据库
		s.logger.Warn("redis unavailable, task status cache disabled", zap.Error(err))
		return c, nil
	}
	s.cache = cm
	s.health.RegisterCheck(handlers.Optional(handlers.NewPingCheck("redis", cm.Ping)))
	c.tasks = store.NewCachedTaskStore(gs, cm, s.cfg.Workflow.StatusCacheTTL, s.logger).WithMetrics(s.collector)
	return c, nil
}

// initAgents 装配 Provider、Agent 目录、Runner 与工作流执行器
func (s *Server) initAgents(c *components) error {
	p := openaicompat.New(openaicompat.Config{
		ProviderName: s.cfg.LLM.Provider,
		APIKey:       s.cfg.LLM.APIKey,
		BaseURL:      s.cfg.LLM.BaseURL,
		DefaultModel: s.cfg.LLM.DefaultModel,
		Timeout:      s.cfg.LLM.Timeout,
	}, s.logger)
	s.health.RegisterCheck(handlers.NewProviderHealthCheck(p))
	c.provider = metrics.InstrumentProvider(p, s.collector)

	c.registry = agent.NewRegistry(s.logger)
	if err := agent.RegisterDefinitions(c.registry, definitionsFromConfig(s.cfg.Agents, s.cfg.LLM.DefaultModel, s.logger)); err != nil {
		return fmt.Errorf("register agents: %w", err)
	}
	s.logger.Info("agent catalog registered", zap.Strings("agents", c.registry.Keys()))

	tracer := tracing.NewTracer(tracing.TracerConfig{
		Exporter: c.gorm,
		OTel:     otel.Tracer("agentrelay/runner"),
		Disabled: !s.cfg.Runner.TracingEnabled,
	}, s.logger)

	s.runner = agent.NewRunner(c.provider,
		agent.WithLogger(s.logger),
		agent.WithTracer(tracer),
		agent.WithHandoffSink(c.gorm),
		agent.WithMetrics(s.collector),
		agent.WithMaxTurns(s.cfg.Runner.MaxTurns),
	)

	if len(c.registry.Keys()) > 0 {
		model := s.cfg.Runner.RouterModel
		if model == "" {
			model = s.cfg.LLM.DefaultModel
		}
		c.router = agent.NewRoutingClassifier(c.provider, model, c.registry.Keys(), s.logger)
	}

	c.executor = workflow.NewExecutor(s.runner, c.registry,
		workflow.WithTaskStore(c.tasks),
		workflow.WithWorkflowStore(c.gorm),
		workflow.WithControl(workflow.NewStoreControl(c.tasks, s.logger)),
		workflow.WithMetrics(s.collector),
		workflow.WithLogger(s.logger),
	)
	return nil
}

// initServers 注册路由并构建中间件链
func (s *Server) initServers(c *components) {
	chatOpts := []handlers.ChatOption{handlers.WithDefaultAgent(s.cfg.Runner.DefaultAgent)}
	if c.router != nil {
		chatOpts = append(chatOpts, handlers.WithRouter(c.router))
	}
	chat := handlers.NewChatHandler(s.runner, c.registry, s.logger, chatOpts...)
	workflows := handlers.NewWorkflowHandler(c.gorm, c.executor, s.launch, s.logger)
	tasks := handlers.NewTaskHandler(c.tasks, s.logger)
	traces := handlers.NewTraceHandler(c.gorm, s.logger)

	mux := http.NewServeMux()

	// 健康检查与版本
	mux.HandleFunc("GET /health", s.health.HandleHealth)
	mux.HandleFunc("GET /healthz", s.health.HandleHealthz)
	mux.HandleFunc("GET /version", s.health.HandleVersion(BuildTime, GitCommit))

	// 对话
	mux.HandleFunc("POST /v1/chat", chat.HandleChat)
	mux.HandleFunc("POST /v1/chat/stream", chat.HandleStream)
	mux.HandleFunc("GET /v1/chat/ws", chat.HandleWebSocket)

	// 工作流
	mux.HandleFunc("POST /v1/workflows", workflows.HandleSave)
	mux.HandleFunc("GET /v1/workflows", workflows.HandleList)
	mux.HandleFunc("GET /v1/workflows/{id}", workflows.HandleGet)
	mux.HandleFunc("POST /v1/workflows/{id}/run", workflows.HandleRun)

	// 任务
	mux.HandleFunc("GET /v1/tasks", tasks.HandleList)
	mux.HandleFunc("GET /v1/tasks/{id}", tasks.HandleGet)
	mux.HandleFunc("POST /v1/tasks/{id}/cancel", tasks.HandleCancel)
	mux.HandleFunc("POST /v1/tasks/{id}/pause", tasks.HandlePause)
	mux.HandleFunc("POST /v1/tasks/{id}/instructions", tasks.HandleInstruction)

	// 追踪
	mux.HandleFunc("GET /v1/traces", traces.HandleList)
	mux.HandleFunc("GET /v1/traces/{id}", traces.HandleGet)

	s.handler = Chain(mux,
		Recovery(s.logger),
		RequestID(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		SecurityHeaders(),
		s.limiter.Middleware(),
		UserIdentity(),
	)

	srv := s.cfg.Server
	s.api = server.NewManager("api", s.handler, server.Config{
		Addr:            ":" + strconv.Itoa(srv.HTTPPort),
		ReadTimeout:     srv.ReadTimeout,
		WriteTimeout:    srv.WriteTimeout,
		IdleTimeout:     2 * srv.ReadTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: srv.ShutdownTimeout,
	}, s.logger)

	if srv.MetricsPort == 0 {
		s.logger.Info("metrics server disabled")
		return
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", s.collector.Handler())
	s.metricsSrv = server.NewManager("metrics", metricsMux, server.Config{
		Addr:            ":" + strconv.Itoa(srv.MetricsPort),
		ReadTimeout:     srv.ReadTimeout,
		WriteTimeout:    srv.ReadTimeout,
		ShutdownTimeout: srv.ShutdownTimeout,
	}, s.logger)
}

// EnableReload 应用可热更新的配置项：日志级别、默认轮次上限、限流速率
func (s *Server) EnableReload(r *config.Reloader, level zap.AtomicLevel) {
	s.reloader = r
	r.OnReload(func(_, next *config.Config, changes []config.Change) {
		level.SetLevel(parseLevel(next.Log.Level))
		s.runner.SetMaxTurns(next.Runner.MaxTurns)
		s.limiter.SetRate(next.Server.RateLimitRPS)

		for _, c := range changes {
			if !c.HotReloadable {
				s.logger.Warn("configuration change requires restart", zap.String("path", c.Path))
			}
		}
	})
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 阻塞直到 ctx 结束或任一服务异常退出，随后优雅关闭
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.api.Run(gctx) })
	if s.metricsSrv != nil {
		g.Go(func() error { return s.metricsSrv.Run(gctx) })
	}
	g.Go(func() error { return s.limiter.Run(gctx) })
	if s.reloader != nil {
		g.Go(func() error { return s.reloader.Run(gctx) })
	}

	s.logger.Info("agentrelay started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("hot_reload_enabled", s.reloader != nil),
	)

	err := g.Wait()
	s.drainRuns()
	s.close()
	return err
}

// launch 是工作流处理器的 Launcher：执行脱离请求上下文，受并发上限与
// ExecutionTimeout 约束，关闭时被等待
func (s *Server) launch(fn func(ctx context.Context)) error {
	return s.runs.Submit(s.runCtx, func(ctx context.Context) error {
		defer s.collector.ExecutionStarted()()

		if timeout := s.cfg.Workflow.ExecutionTimeout; timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		fn(ctx)
		return nil
	})
}

// drainRuns 停止接收并等待后台执行结束；超过 ShutdownTimeout 后取消它们，
// 执行器会把被中断的任务标记为取消
func (s *Server) drainRuns() {
	done := make(chan struct{})
	go func() {
		s.runs.Close()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(s.cfg.Server.ShutdownTimeout):
	}

	st := s.runs.Stats()
	s.logger.Warn("cancelling unfinished workflow executions",
		zap.Int("running", st.Active),
		zap.Int("queued", st.Queued))
	s.cancelRuns()
	<-done
}

func (s *Server) runStats() telemetry.RunStats {
	st := s.runs.Stats()
	return telemetry.RunStats{Workers: st.Workers, Active: st.Active, Queued: st.Queued, Rejected: st.Rejected}
}

// close 释放外部资源，可在部分初始化后调用
func (s *Server) close() {
	s.cancelRuns()
	s.runs.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	errs = append(errs, s.telemetry.Shutdown(ctx))
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown cleanup failed", zap.Error(err))
	}
	s.logger.Info("graceful shutdown completed")
}
