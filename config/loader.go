// =============================================================================
// 📦 agentrelay 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("AGENTRELAY").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量 → 验证器
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix is the environment variable prefix used by NewLoader.
const DefaultEnvPrefix = "AGENTRELAY"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	Runner    RunnerConfig    `yaml:"runner" env:"RUNNER"`
	Workflow  WorkflowConfig  `yaml:"workflow" env:"WORKFLOW"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Agents 是启动时注册的 Agent 目录，只能通过 YAML 配置
	Agents []AgentConfig `yaml:"agents" env:"-"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端 IP 的限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
}

// RunnerConfig controls the turn runner.
type RunnerConfig struct {
	// MaxTurns 单次运行最多的模型调用次数
	MaxTurns       int  `yaml:"max_turns" env:"MAX_TURNS"`
	TracingEnabled bool `yaml:"tracing_enabled" env:"TRACING_ENABLED"`
	// DefaultAgent 是请求未指定 agent 时使用的注册键
	DefaultAgent string `yaml:"default_agent" env:"DEFAULT_AGENT"`
	// RouterModel 用于 route=auto 的分类调用，为空时使用 LLM.DefaultModel
	RouterModel string `yaml:"router_model" env:"ROUTER_MODEL"`
}

// WorkflowConfig controls workflow execution.
type WorkflowConfig struct {
	// StatusCacheTTL 是 Redis 任务状态缓存的过期时间
	StatusCacheTTL time.Duration `yaml:"status_cache_ttl" env:"STATUS_CACHE_TTL"`
	// ExecutionTimeout 限制单个后台工作流执行的总时长，0 表示不限制
	ExecutionTimeout time.Duration `yaml:"execution_timeout" env:"EXECUTION_TIMEOUT"`
	// MaxConcurrentRuns 同时运行的后台工作流上限，超出的排队
	MaxConcurrentRuns int `yaml:"max_concurrent_runs" env:"MAX_CONCURRENT_RUNS"`
	// RunQueueSize 排队上限，满时新的后台运行被拒绝
	RunQueueSize int `yaml:"run_queue_size" env:"RUN_QUEUE_SIZE"`
}

// LLMConfig 描述 OpenAI 兼容的补全接口
type LLMConfig struct {
	Provider     string        `yaml:"provider" env:"PROVIDER"`
	APIKey       string        `yaml:"api_key" env:"API_KEY"`
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	DefaultModel string        `yaml:"default_model" env:"DEFAULT_MODEL"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite, sqlite-pure
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// Name 是数据库名；sqlite 驱动下是文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	// ProbeInterval 是后台连通性探测的周期，/health 在两个周期内复用最近一次结果
	ProbeInterval time.Duration `yaml:"probe_interval" env:"PROBE_INTERVAL"`
	// AutoMigrate 启动时用 GORM 建表，生产环境建议使用 migrate 子命令
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig Redis 配置。Addr 为空时不启用任务状态缓存
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// HealthCheckInterval > 0 时连接失败会把缓存标记为不可用，由后台 PING 恢复
	HealthCheckInterval time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// AgentConfig declares one agent of the catalog. Handoffs name other
// catalog keys.
type AgentConfig struct {
	Key          string   `yaml:"key"`
	Name         string   `yaml:"name"`
	Instructions string   `yaml:"instructions"`
	Model        string   `yaml:"model"`
	Temperature  *float32 `yaml:"temperature"`
	MaxTokens    int      `yaml:"max_tokens"`
	Handoffs     []string `yaml:"handoffs"`
	// HandoffDescription 是其他 Agent 移交到此 Agent 时的工具描述
	HandoffDescription string `yaml:"handoff_description"`
	// HandoffContext 控制移交到此 Agent 时它能看到多少历史
	HandoffContext HandoffContextConfig `yaml:"handoff_context"`
}

// HandoffContextConfig 交接历史过滤，依次应用 drop_system、drop_tools、
// keep_last、max_tokens；零值表示原样传递
type HandoffContextConfig struct {
	DropSystem bool `yaml:"drop_system"`
	DropTools  bool `yaml:"drop_tools"`
	KeepLast   int  `yaml:"keep_last"`
	// MaxTokens 按目标 Agent 模型的 tiktoken 编码计数
	MaxTokens int `yaml:"max_tokens"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{envPrefix: DefaultEnvPrefix}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置；文件不存在时保留默认值
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段，键名为 PREFIX_SECTION_FIELD
func setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Time{}) {
			if err := setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue, ok := os.LookupEnv(envKey)
		if !ok || envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}

	default:
		return fmt.Errorf("unsupported field kind %s", field.Kind())
	}
	return nil
}

// =============================================================================
// 🔍 验证
// =============================================================================

var supportedDrivers = map[string]bool{
	"postgres":    true,
	"mysql":       true,
	"sqlite":      true,
	"sqlite-pure": true,
}

// handoffCycle 返回 agents 交接关系中的第一个环（首尾相同），无环返回 nil。
// Agent 构建后不可变，环上的 Agent 无法被构建。
func handoffCycle(agents []AgentConfig) []string {
	edges := make(map[string][]string, len(agents))
	for _, a := range agents {
		edges[a.Key] = a.Handoffs
	}
	visited := make(map[string]bool, len(agents))
	onPath := make(map[string]int, len(agents))
	var path []string

	var visit func(key string) []string
	visit = func(key string) []string {
		visited[key] = true
		onPath[key] = len(path)
		path = append(path, key)
		for _, next := range edges[key] {
			if at, ok := onPath[next]; ok {
				return append(append([]string{}, path[at:]...), next)
			}
			if _, known := edges[next]; known && !visited[next] {
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}
		delete(onPath, key)
		path = path[:len(path)-1]
		return nil
	}

	for _, a := range agents {
		if !visited[a.Key] {
			if cycle := visit(a.Key); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if c.Server.MetricsPort != 0 && c.Server.MetricsPort == c.Server.HTTPPort {
		errs = append(errs, "metrics port must differ from HTTP port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps cannot be negative")
	}
	if c.Runner.MaxTurns <= 0 {
		errs = append(errs, "runner.max_turns must be positive")
	}
	if c.Workflow.StatusCacheTTL < 0 {
		errs = append(errs, "workflow.status_cache_ttl cannot be negative")
	}
	if c.Workflow.MaxConcurrentRuns <= 0 {
		errs = append(errs, "workflow.max_concurrent_runs must be positive")
	}
	if c.Workflow.RunQueueSize <= 0 {
		errs = append(errs, "workflow.run_queue_size must be positive")
	}
	if c.Database.ProbeInterval < 0 || c.Redis.HealthCheckInterval < 0 {
		errs = append(errs, "probe intervals cannot be negative")
	}
	if !supportedDrivers[c.Database.Driver] {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	keys := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if a.Key == "" {
			errs = append(errs, fmt.Sprintf("agents[%d]: key is required", i))
			continue
		}
		if keys[a.Key] {
			errs = append(errs, fmt.Sprintf("agents[%d]: duplicate key %q", i, a.Key))
		}
		keys[a.Key] = true
		if a.HandoffContext.KeepLast < 0 || a.HandoffContext.MaxTokens < 0 {
			errs = append(errs, fmt.Sprintf("agent %q: handoff_context limits must not be negative", a.Key))
		}
	}
	for _, a := range c.Agents {
		for _, h := range a.Handoffs {
			if !keys[h] {
				errs = append(errs, fmt.Sprintf("agent %q hands off to unknown agent %q", a.Key, h))
			}
		}
	}
	if cycle := handoffCycle(c.Agents); cycle != nil {
		errs = append(errs, "agent handoff cycle: "+strings.Join(cycle, " -> "))
	}
	if c.Runner.DefaultAgent != "" && len(c.Agents) > 0 && !keys[c.Runner.DefaultAgent] {
		errs = append(errs, fmt.Sprintf("runner.default_agent %q is not in the agent catalog", c.Runner.DefaultAgent))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite", "sqlite-pure":
		return d.Name
	default:
		return ""
	}
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
