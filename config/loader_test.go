// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, 10, cfg.Runner.MaxTurns)
	assert.True(t, cfg.Runner.TracingEnabled)
	assert.Equal(t, 30*time.Second, cfg.Workflow.StatusCacheTTL)
	assert.Equal(t, 32, cfg.Workflow.MaxConcurrentRuns)
	assert.Equal(t, 256, cfg.Workflow.RunQueueSize)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Empty(t, cfg.Redis.Addr, "status cache is opt-in")
	assert.Equal(t, "agentrelay:", cfg.Redis.KeyPrefix)
	assert.Equal(t, 30*time.Second, cfg.Redis.HealthCheckInterval)
	assert.Equal(t, 30*time.Second, cfg.Database.ProbeInterval)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Enabled)

	assert.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 8888
  read_timeout: 60s
runner:
  max_turns: 4
  default_agent: triage
database:
  driver: sqlite
  name: /tmp/relay.db
agents:
  - key: triage
    name: Triage
    instructions: Route the user.
    handoffs: [billing]
  - key: billing
    name: Billing Agent
    instructions: Answer billing questions.
    temperature: 0.2
    handoff_description: Billing and invoices
    handoff_context:
      drop_tools: true
      keep_last: 6
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 4, cfg.Runner.MaxTurns)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/relay.db", cfg.Database.DSN())

	// 未在 YAML 中出现的字段保留默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	assert.True(t, cfg.Runner.TracingEnabled)

	require.Len(t, cfg.Agents, 2)
	assert.Equal(t, []string{"billing"}, cfg.Agents[0].Handoffs)
	require.NotNil(t, cfg.Agents[1].Temperature)
	assert.InDelta(t, 0.2, *cfg.Agents[1].Temperature, 1e-6)
	assert.Equal(t, HandoffContextConfig{DropTools: true, KeepLast: 6}, cfg.Agents[1].HandoffContext)
	assert.Zero(t, cfg.Agents[0].HandoffContext)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("AGENTRELAY_SERVER_HTTP_PORT", "9000")
	t.Setenv("AGENTRELAY_RUNNER_MAX_TURNS", "3")
	t.Setenv("AGENTRELAY_RUNNER_TRACING_ENABLED", "false")
	t.Setenv("AGENTRELAY_WORKFLOW_STATUS_CACHE_TTL", "5s")
	t.Setenv("AGENTRELAY_SERVER_RATE_LIMIT_RPS", "2.5")
	t.Setenv("AGENTRELAY_LOG_OUTPUT_PATHS", "stdout, /var/log/relay.log")
	t.Setenv("AGENTRELAY_LLM_API_KEY", "sk-test")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Runner.MaxTurns)
	assert.False(t, cfg.Runner.TracingEnabled)
	assert.Equal(t, 5*time.Second, cfg.Workflow.StatusCacheTTL)
	assert.InDelta(t, 2.5, cfg.Server.RateLimitRPS, 1e-9)
	assert.Equal(t, []string{"stdout", "/var/log/relay.log"}, cfg.Log.OutputPaths)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "runner:\n  max_turns: 7\n")
	t.Setenv("AGENTRELAY_RUNNER_MAX_TURNS", "12")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Runner.MaxTurns)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("RELAYTEST_SERVER_HTTP_PORT", "7000")
	t.Setenv("AGENTRELAY_SERVER_HTTP_PORT", "7001")

	cfg, err := NewLoader().WithEnvPrefix("RELAYTEST").Load()
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.HTTPPort)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("AGENTRELAY_RUNNER_MAX_TURNS", "many")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTRELAY_RUNNER_MAX_TURNS")
}

func TestLoader_WithValidator(t *testing.T) {
	cfg, err := NewLoader().WithValidator((*Config).Validate).Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	t.Setenv("AGENTRELAY_RUNNER_MAX_TURNS", "0")
	_, err = NewLoader().WithValidator((*Config).Validate).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_turns")
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: [not a port\n")
	_, err := NewLoader().WithConfigPath(path).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad http port", mutate: func(c *Config) { c.Server.HTTPPort = 0 }, wantErr: "invalid HTTP port"},
		{name: "metrics port clash", mutate: func(c *Config) { c.Server.MetricsPort = c.Server.HTTPPort }, wantErr: "metrics port"},
		{name: "zero max turns", mutate: func(c *Config) { c.Runner.MaxTurns = 0 }, wantErr: "max_turns"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }, wantErr: "unsupported database driver"},
		{name: "pure go sqlite", mutate: func(c *Config) { c.Database.Driver = "sqlite-pure" }},
		{name: "sample rate", mutate: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: "sample_rate"},
		{name: "zero concurrent runs", mutate: func(c *Config) { c.Workflow.MaxConcurrentRuns = 0 }, wantErr: "max_concurrent_runs"},
		{
			name:    "agent without key",
			mutate:  func(c *Config) { c.Agents = []AgentConfig{{Name: "x"}} },
			wantErr: "key is required",
		},
		{
			name:    "duplicate agent",
			mutate:  func(c *Config) { c.Agents = []AgentConfig{{Key: "a"}, {Key: "a"}} },
			wantErr: "duplicate key",
		},
		{
			name: "negative handoff context",
			mutate: func(c *Config) {
				c.Agents = []AgentConfig{{Key: "a", HandoffContext: HandoffContextConfig{KeepLast: -1}}}
			},
			wantErr: "handoff_context limits",
		},
		{
			name:    "negative probe interval",
			mutate:  func(c *Config) { c.Database.ProbeInterval = -time.Second },
			wantErr: "probe intervals",
		},
		{
			name: "handoff cycle",
			mutate: func(c *Config) {
				c.Agents = []AgentConfig{
					{Key: "triage", Handoffs: []string{"billing"}},
					{Key: "billing", Handoffs: []string{"refunds"}},
					{Key: "refunds", Handoffs: []string{"billing"}},
				}
			},
			wantErr: "agent handoff cycle: billing -> refunds -> billing",
		},
		{
			name:    "self handoff",
			mutate:  func(c *Config) { c.Agents = []AgentConfig{{Key: "a", Handoffs: []string{"a"}}} },
			wantErr: "agent handoff cycle: a -> a",
		},
		{
			name:    "unknown handoff",
			mutate:  func(c *Config) { c.Agents = []AgentConfig{{Key: "a", Handoffs: []string{"b"}}} },
			wantErr: `unknown agent "b"`,
		},
		{
			name: "default agent missing",
			mutate: func(c *Config) {
				c.Agents = []AgentConfig{{Key: "a"}}
				c.Runner.DefaultAgent = "z"
			},
			wantErr: "default_agent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "postgres",
			cfg:  DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "relay", SSLMode: "disable"},
			want: "host=db port=5432 user=u password=p dbname=relay sslmode=disable",
		},
		{
			name: "mysql",
			cfg:  DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "relay"},
			want: "u:p@tcp(db:3306)/relay?parseTime=true",
		},
		{name: "sqlite", cfg: DatabaseConfig{Driver: "sqlite", Name: "relay.db"}, want: "relay.db"},
		{name: "sqlite pure", cfg: DatabaseConfig{Driver: "sqlite-pure", Name: ":memory:"}, want: ":memory:"},
		{name: "unknown", cfg: DatabaseConfig{Driver: "oracle"}, want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestMustLoad(t *testing.T) {
	path := writeConfig(t, "server:\n  http_port: 8181\n")
	assert.Equal(t, 8181, MustLoad(path).Server.HTTPPort)

	bad := writeConfig(t, "server: [")
	assert.Panics(t, func() { MustLoad(bad) })
}
