// Package config provides configuration for the agent service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfigPath names the variable holding the config file path.
const EnvConfigPath = "OPSAGENT_CONFIG"

// Config holds the service configuration.
type Config struct {
	// Mode selects the LLM backend. "MOCK" swaps in the rule-based mock.
	Mode string `mapstructure:"mode"`

	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	LLM       LLMConfig       `mapstructure:"llm"`
	MCP       MCPConfig       `mapstructure:"mcp"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Stream    StreamConfig    `mapstructure:"stream"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Policy    PolicyConfig    `mapstructure:"policy"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds the audit store settings.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// LLMConfig holds the two model endpoints.
type LLMConfig struct {
	// AgentModel is the model name advertised to OpenAI-compatible clients.
	AgentModel string         `mapstructure:"agent_model"`
	Instruct   EndpointConfig `mapstructure:"instruct"`
	Reasoning  EndpointConfig `mapstructure:"reasoning"`
}

// EndpointConfig describes one OpenAI-compatible chat completion endpoint.
type EndpointConfig struct {
	BaseURL     string            `mapstructure:"base_url"`
	APIKey      string            `mapstructure:"api_key"`
	Model       string            `mapstructure:"model"`
	Temperature float64           `mapstructure:"temperature"`
	MaxTokens   int               `mapstructure:"max_tokens"`
	Timeout     time.Duration     `mapstructure:"timeout"`
	MaxRetries  int               `mapstructure:"max_retries"`
	Headers     map[string]string `mapstructure:"headers"`
}

// MCPConfig lists the tool servers.
type MCPConfig struct {
	Servers      []MCPServerConfig `mapstructure:"servers"`
	CallTimeout  time.Duration     `mapstructure:"call_timeout"`
	PingInterval time.Duration     `mapstructure:"ping_interval"`
	OutputLimit  int               `mapstructure:"output_limit"`
}

// MCPServerConfig describes one MCP tool server.
type MCPServerConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	Transport string `mapstructure:"transport"` // "sse" or "streamable-http"
	// Category tags every tool of the server. Empty derives it from each tool name.
	Category string `mapstructure:"category"`
	// Headers are sent with every request to the server, e.g. Authorization.
	Headers map[string]string `mapstructure:"headers"`
}

// PipelineConfig holds the budgets of the agent pipeline.
type PipelineConfig struct {
	RouterKeepLast    int           `mapstructure:"router_keep_last"`
	SimpleKeepLast    int           `mapstructure:"simple_keep_last"`
	MaxAssistantTurns int           `mapstructure:"max_assistant_turns"`
	MaxIterations     int           `mapstructure:"max_iterations"`
	WorkerConcurrency int           `mapstructure:"worker_concurrency"`
	WorkerStagger     time.Duration `mapstructure:"worker_stagger"`
	StageTimeout      time.Duration `mapstructure:"stage_timeout"`
	RawCeiling        int           `mapstructure:"raw_ceiling"`
	SummaryLimit      int           `mapstructure:"summary_limit"`
	ReportQuota       int           `mapstructure:"report_quota"`
	SynthesisCeiling  int           `mapstructure:"synthesis_ceiling"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

// StreamConfig holds event delivery settings.
type StreamConfig struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	KeepAliveInterval time.Duration `mapstructure:"keepalive_interval"`
}

// WebSocketConfig holds websocket connection settings.
type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
}

// PolicyConfig points at an optional rego module replacing the built-in tool policy.
type PolicyConfig struct {
	File string `mapstructure:"file"`
}

// Load reads configuration from the file named by OPSAGENT_CONFIG (default
// config.yaml, optional) and OPSAGENT_* environment variables.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	if path == "" {
		path = "config.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from path. A missing file yields the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Example: OPSAGENT_LLM_INSTRUCT_BASE_URL
	v.SetEnvPrefix("OPSAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// Validate checks values the pipeline cannot run without.
func (c *Config) Validate() error {
	if c.Pipeline.WorkerConcurrency < 1 {
		return fmt.Errorf("pipeline.worker_concurrency must be at least 1")
	}
	if c.Pipeline.MaxIterations < 1 {
		return fmt.Errorf("pipeline.max_iterations must be at least 1")
	}
	if c.Stream.BufferSize < 1 {
		return fmt.Errorf("stream.buffer_size must be at least 1")
	}
	for _, s := range c.MCP.Servers {
		if s.Name == "" || s.URL == "" {
			return fmt.Errorf("mcp server requires name and url")
		}
		switch s.Transport {
		case "", "sse", "streamable-http":
		default:
			return fmt.Errorf("mcp server %s: unknown transport %q", s.Name, s.Transport)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "")

	v.SetDefault("server.http_port", 8000)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.dsn", "file:opsagent.db?cache=shared&mode=rwc")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("llm.agent_model", "opsagent")
	v.SetDefault("llm.instruct.base_url", "http://127.0.0.1:80")
	v.SetDefault("llm.instruct.api_key", "EMPTY")
	v.SetDefault("llm.instruct.model", "qwen-custom")
	v.SetDefault("llm.instruct.temperature", 0.0)
	v.SetDefault("llm.instruct.max_tokens", 0)
	v.SetDefault("llm.instruct.timeout", 300*time.Second)
	v.SetDefault("llm.instruct.max_retries", 3)
	v.SetDefault("llm.instruct.headers", map[string]string{})
	v.SetDefault("llm.reasoning.base_url", "http://127.0.0.1:80")
	v.SetDefault("llm.reasoning.api_key", "EMPTY")
	v.SetDefault("llm.reasoning.model", "qwen-custom")
	v.SetDefault("llm.reasoning.temperature", 0.0)
	v.SetDefault("llm.reasoning.max_tokens", 4096)
	v.SetDefault("llm.reasoning.timeout", time.Hour)
	v.SetDefault("llm.reasoning.max_retries", 3)
	v.SetDefault("llm.reasoning.headers", map[string]string{})

	v.SetDefault("mcp.servers", []map[string]any{
		{"name": "k8s", "url": "http://127.0.0.1:30184/sse", "transport": "sse", "category": "k8s"},
		{"name": "vlogs", "url": "http://127.0.0.1:31916/sse", "transport": "sse", "category": "log"},
		{"name": "vm", "url": "http://127.0.0.1:30618/sse", "transport": "sse", "category": "metric"},
		{"name": "vtraces", "url": "http://127.0.0.1:30606/sse", "transport": "sse", "category": "metric"},
	})
	v.SetDefault("mcp.call_timeout", 60*time.Second)
	v.SetDefault("mcp.ping_interval", 45*time.Second)
	v.SetDefault("mcp.output_limit", 10000)

	v.SetDefault("pipeline.router_keep_last", 5)
	v.SetDefault("pipeline.simple_keep_last", 15)
	v.SetDefault("pipeline.max_assistant_turns", 10)
	v.SetDefault("pipeline.max_iterations", 8)
	v.SetDefault("pipeline.worker_concurrency", 2)
	v.SetDefault("pipeline.worker_stagger", 500*time.Millisecond)
	v.SetDefault("pipeline.stage_timeout", 5*time.Minute)
	v.SetDefault("pipeline.raw_ceiling", 8000)
	v.SetDefault("pipeline.summary_limit", 2000)
	v.SetDefault("pipeline.report_quota", 2000)
	v.SetDefault("pipeline.synthesis_ceiling", 10000)
	v.SetDefault("pipeline.heartbeat_interval", 5*time.Second)

	v.SetDefault("stream.buffer_size", 64)
	v.SetDefault("stream.poll_interval", 250*time.Millisecond)
	v.SetDefault("stream.keepalive_interval", 5*time.Second)

	v.SetDefault("websocket.ping_interval", 30*time.Second)
	v.SetDefault("websocket.write_timeout", 10*time.Second)
	v.SetDefault("websocket.read_timeout", 60*time.Second)
	v.SetDefault("websocket.max_message_size", 65536)

	v.SetDefault("policy.file", "")
}
