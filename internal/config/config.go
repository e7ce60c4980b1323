package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"
	"github.com/wwwzy/EstateAgent/internal/embedding"
	"github.com/wwwzy/EstateAgent/internal/geo"
	"github.com/wwwzy/EstateAgent/internal/logger"
	"github.com/wwwzy/EstateAgent/internal/retention"
	"github.com/wwwzy/EstateAgent/internal/sandbox"
	"github.com/wwwzy/EstateAgent/internal/storage"
	"github.com/wwwzy/EstateAgent/internal/websearch"
)

const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"

	CheckpointSQLite   = "sqlite"
	CheckpointMemory   = "memory"
	CheckpointPostgres = "postgres"
)

type ArkConfig struct {
	APIKey  string `mapstructure:"api_key"`
	ModelID string `mapstructure:"model_id"`
	BaseURL string `mapstructure:"base_url"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

// ModelConfig 选择对话模型的提供方。planner 与 reasoner 共用同一个模型。
type ModelConfig struct {
	Provider    string        `mapstructure:"provider"`
	Temperature float32       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Ark         ArkConfig     `mapstructure:"ark"`
	OpenAI      OpenAIConfig  `mapstructure:"openai"`
}

type AgentConfig struct {
	// MaxIterations 为单轮对话中 reasoner 最多执行的次数。
	MaxIterations int           `mapstructure:"max_iterations"`
	ModelTimeout  time.Duration `mapstructure:"model_timeout"`
	ToolTimeout   time.Duration `mapstructure:"tool_timeout"`
	// TurnTimeout 为一轮对话的总时长上限，必须短于 server.write_timeout。
	TurnTimeout time.Duration `mapstructure:"turn_timeout"`
}

type CheckpointConfig struct {
	Driver      string `mapstructure:"driver"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

type ToolsConfig struct {
	Tavily    websearch.Config `mapstructure:"tavily"`
	OSM       geo.Config       `mapstructure:"osm"`
	Sandbox   sandbox.Config   `mapstructure:"sandbox"`
	Embedding embedding.Config `mapstructure:"embedding"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type Config struct {
	Log        logger.Config    `mapstructure:"log"`
	Storage    storage.Config   `mapstructure:"storage"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Model      ModelConfig      `mapstructure:"model"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Server     ServerConfig     `mapstructure:"server"`
	Retention  retention.Config `mapstructure:"retention"`
}

// Credentials 是各服务商约定俗成的环境变量，只用来补齐配置里留空的值。
type Credentials struct {
	ArkAPIKey    string `envconfig:"ARK_API_KEY"`
	ArkModelID   string `envconfig:"ARK_MODEL_ID"`
	ArkBaseURL   string `envconfig:"ARK_BASE_URL"`
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY"`
	OpenAIBase   string `envconfig:"OPENAI_BASE_URL"`
	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	TavilyAPIKey string `envconfig:"TAVILY_API_KEY"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
}

func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.estateagent")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("ESTATEAGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// viper 只反序列化它"知道"的 key，所以每个 key 都要有默认值，环境变量才能覆盖到。
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	var creds Credentials
	if err := envconfig.Process("", &creds); err != nil {
		return nil, fmt.Errorf("读取凭据环境变量失败: %w", err)
	}
	cfg.ApplyCredentials(creds)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyCredentials 只填充仍为空的字段，配置文件与 ESTATEAGENT_* 优先。
func (c *Config) ApplyCredentials(creds Credentials) {
	fill := func(dst *string, v string) {
		if strings.TrimSpace(*dst) == "" {
			*dst = strings.TrimSpace(v)
		}
	}
	fill(&c.Model.Ark.APIKey, creds.ArkAPIKey)
	fill(&c.Model.Ark.ModelID, creds.ArkModelID)
	fill(&c.Model.Ark.BaseURL, creds.ArkBaseURL)
	fill(&c.Model.OpenAI.APIKey, creds.OpenAIAPIKey)
	fill(&c.Model.OpenAI.BaseURL, creds.OpenAIBase)
	fill(&c.Tools.Tavily.APIKey, creds.TavilyAPIKey)
	fill(&c.Checkpoint.PostgresDSN, creds.DatabaseURL)

	switch c.Tools.Embedding.Provider {
	case embedding.ProviderOpenAI:
		fill(&c.Tools.Embedding.APIKey, creds.OpenAIAPIKey)
	case embedding.ProviderGenAI:
		fill(&c.Tools.Embedding.APIKey, creds.GeminiAPIKey)
	}
}

func (c *Config) Validate() error {
	switch c.Model.Provider {
	case ProviderArk:
		if c.Model.Ark.APIKey == "" {
			return fmt.Errorf("model.ark.api_key is required (or set ARK_API_KEY env var)")
		}
		if c.Model.Ark.ModelID == "" {
			return fmt.Errorf("model.ark.model_id is required (or set ARK_MODEL_ID env var)")
		}
	case ProviderOpenAI:
		if c.Model.OpenAI.APIKey == "" {
			return fmt.Errorf("model.openai.api_key is required (or set OPENAI_API_KEY env var)")
		}
	default:
		return fmt.Errorf("unknown model.provider %q (want ark or openai)", c.Model.Provider)
	}

	switch c.Checkpoint.Driver {
	case CheckpointSQLite, CheckpointMemory:
	case CheckpointPostgres:
		if c.Checkpoint.PostgresDSN == "" {
			return fmt.Errorf("checkpoint.postgres_dsn is required for the postgres driver (or set DATABASE_URL)")
		}
	default:
		return fmt.Errorf("unknown checkpoint.driver %q", c.Checkpoint.Driver)
	}

	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be >= 1")
	}
	if c.Agent.ModelTimeout <= 0 || c.Agent.ToolTimeout <= 0 {
		return fmt.Errorf("agent.model_timeout and agent.tool_timeout must be positive")
	}
	if c.Agent.TurnTimeout <= 0 {
		return fmt.Errorf("agent.turn_timeout must be positive")
	}
	if c.Server.WriteTimeout > 0 && c.Agent.TurnTimeout >= c.Server.WriteTimeout {
		return fmt.Errorf("agent.turn_timeout (%s) must be shorter than server.write_timeout (%s)", c.Agent.TurnTimeout, c.Server.WriteTimeout)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	// -------------------------------------------------------------------------
	// Log
	// -------------------------------------------------------------------------
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.pretty_format", d.Log.PrettyFormat)

	// -------------------------------------------------------------------------
	// Storage / Checkpoint
	// -------------------------------------------------------------------------
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.enable_wal", d.Storage.EnableWAL)
	v.SetDefault("storage.busy_timeout", d.Storage.BusyTimeout)
	v.SetDefault("storage.slow_query", d.Storage.SlowQuery)
	v.SetDefault("checkpoint.driver", d.Checkpoint.Driver)
	v.SetDefault("checkpoint.postgres_dsn", "")

	// -------------------------------------------------------------------------
	// Model
	// -------------------------------------------------------------------------
	v.SetDefault("model.provider", d.Model.Provider)
	v.SetDefault("model.temperature", d.Model.Temperature)
	v.SetDefault("model.max_tokens", d.Model.MaxTokens)
	v.SetDefault("model.timeout", d.Model.Timeout)
	v.SetDefault("model.ark.api_key", "")
	v.SetDefault("model.ark.model_id", "")
	v.SetDefault("model.ark.base_url", d.Model.Ark.BaseURL)
	v.SetDefault("model.openai.api_key", "")
	v.SetDefault("model.openai.model", d.Model.OpenAI.Model)
	v.SetDefault("model.openai.base_url", "")

	// -------------------------------------------------------------------------
	// Agent
	// -------------------------------------------------------------------------
	v.SetDefault("agent.max_iterations", d.Agent.MaxIterations)
	v.SetDefault("agent.model_timeout", d.Agent.ModelTimeout)
	v.SetDefault("agent.tool_timeout", d.Agent.ToolTimeout)
	v.SetDefault("agent.turn_timeout", d.Agent.TurnTimeout)

	// -------------------------------------------------------------------------
	// Tools
	// -------------------------------------------------------------------------
	v.SetDefault("tools.tavily.api_key", "")
	v.SetDefault("tools.tavily.base_url", d.Tools.Tavily.BaseURL)
	v.SetDefault("tools.tavily.timeout", d.Tools.Tavily.Timeout)
	v.SetDefault("tools.tavily.cache_ttl", d.Tools.Tavily.CacheTTL)

	v.SetDefault("tools.osm.nominatim_url", d.Tools.OSM.NominatimURL)
	v.SetDefault("tools.osm.overpass_url", d.Tools.OSM.OverpassURL)
	v.SetDefault("tools.osm.user_agent", d.Tools.OSM.UserAgent)
	v.SetDefault("tools.osm.timeout", d.Tools.OSM.Timeout)

	v.SetDefault("tools.sandbox.enabled", d.Tools.Sandbox.Enabled)
	v.SetDefault("tools.sandbox.image", d.Tools.Sandbox.Image)
	v.SetDefault("tools.sandbox.timeout", d.Tools.Sandbox.Timeout)
	v.SetDefault("tools.sandbox.memory_mb", d.Tools.Sandbox.MemoryMB)
	v.SetDefault("tools.sandbox.work_dir", d.Tools.Sandbox.WorkDir)

	v.SetDefault("tools.embedding.provider", d.Tools.Embedding.Provider)
	v.SetDefault("tools.embedding.model", d.Tools.Embedding.Model)
	v.SetDefault("tools.embedding.api_key", "")
	v.SetDefault("tools.embedding.base_url", "")

	// -------------------------------------------------------------------------
	// Server / Retention
	// -------------------------------------------------------------------------
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("retention.enabled", d.Retention.Enabled)
	v.SetDefault("retention.interval", d.Retention.Interval)
	v.SetDefault("retention.audit_keep", d.Retention.AuditKeep)
	v.SetDefault("retention.audit_max_rows", d.Retention.AuditMaxRows)
	v.SetDefault("retention.checkpoint_idle", d.Retention.CheckpointIdle)
}

func DefaultConfig() Config {
	return Config{
		Log: logger.DefaultConfig,
		Storage: storage.Config{
			Path:        "estateagent.db",
			EnableWAL:   true,
			BusyTimeout: 5 * time.Second,
			SlowQuery:   500 * time.Millisecond,
		},
		Checkpoint: CheckpointConfig{Driver: CheckpointSQLite},
		Model: ModelConfig{
			Provider:    ProviderArk,
			Temperature: 0.3,
			MaxTokens:   2048,
			Timeout:     60 * time.Second,
			Ark:         ArkConfig{BaseURL: "https://ark.cn-beijing.volces.com/api/v3"},
			OpenAI:      OpenAIConfig{Model: "gpt-4o"},
		},
		Agent: AgentConfig{
			MaxIterations: 8,
			ModelTimeout:  60 * time.Second,
			ToolTimeout:   45 * time.Second,
			TurnTimeout:   150 * time.Second,
		},
		Tools: ToolsConfig{
			Tavily:    websearch.DefaultConfig(),
			OSM:       geo.DefaultConfig(),
			Sandbox:   sandbox.DefaultConfig(),
			Embedding: embedding.DefaultConfig(),
		},
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 3 * time.Minute,
		},
		Retention: retention.DefaultConfig(),
	}
}
