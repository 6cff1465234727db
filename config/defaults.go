package config

import "time"

// DefaultConfig 返回默认配置。Redis 默认不启用（Addr 为空），
// Agent 目录默认为空，由配置文件提供。
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9091,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute, // SSE 流需要较长的写超时
			ShutdownTimeout: 15 * time.Second,
			RateLimitRPS:    20,
			RateLimitBurst:  40,
		},
		Runner: RunnerConfig{
			MaxTurns:       10,
			TracingEnabled: true,
		},
		Workflow: WorkflowConfig{
			StatusCacheTTL:    30 * time.Second,
			ExecutionTimeout:  30 * time.Minute,
			MaxConcurrentRuns: 32,
			RunQueueSize:      256,
		},
		LLM: LLMConfig{
			Provider:     "openai",
			BaseURL:      "https://api.openai.com",
			DefaultModel: "gpt-4o-mini",
			Timeout:      2 * time.Minute,
		},
		Database: DatabaseConfig{
			Driver:          "postgres",
			Host:            "localhost",
			Port:            5432,
			User:            "agentrelay",
			Name:            "agentrelay",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ProbeInterval:   30 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:            10,
			MinIdleConns:        2,
			KeyPrefix:           "agentrelay:",
			HealthCheckInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level:        "info",
			Format:       "json",
			OutputPaths:  []string{"stdout"},
			EnableCaller: true,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "agentrelay",
			SampleRate:   0.1,
		},
	}
}
