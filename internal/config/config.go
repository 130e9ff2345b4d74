package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Market    MarketConfig    `yaml:"market"`
	Chain     ChainConfig     `yaml:"chain"`
	NATS      NATSConfig      `yaml:"nats"`
	Store     StoreConfig     `yaml:"store"`
	Web       WebConfig       `yaml:"web"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Plugins   PluginsConfig   `yaml:"plugins"`
	Swarm     SwarmConfig     `yaml:"swarm"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIURL      string  `yaml:"api_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type MarketConfig struct {
	APIURL   string        `yaml:"api_url"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

type ChainConfig struct {
	Network   string `yaml:"network"`
	RPCURL    string `yaml:"rpc_url"`
	AccountID string `yaml:"account_id"`
}

type NATSConfig struct {
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type WebConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Auth    string `yaml:"auth"`
}

type SchedulerConfig struct {
	PollInterval time.Duration       `yaml:"poll_interval"`
	Proposals    []ScheduledProposal `yaml:"proposals"`
}

// ScheduledProposal is a recurring proposal submitted on a cron schedule
// on behalf of the named agent.
type ScheduledProposal struct {
	Name     string         `yaml:"name"`
	Cron     string         `yaml:"cron"`
	Agent    string         `yaml:"agent"`
	Type     string         `yaml:"type"`
	Params   map[string]any `yaml:"params"`
	Disabled bool           `yaml:"disabled"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type PluginsConfig struct {
	Dirs []string `yaml:"dirs"`
}

// SwarmConfig holds the default role configuration applied to agents that
// do not override it in their plugin descriptor.
type SwarmConfig struct {
	MinConfidence float64       `yaml:"min_confidence"`
	MinVotes      int           `yaml:"min_votes"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"max_retries"`
}

func defaults() Config {
	return Config{
		LLM: LLMConfig{
			Provider:    "openai",
			APIURL:      "https://api.openai.com/v1",
			Temperature: 0.7,
			MaxTokens:   2000,
		},
		Market: MarketConfig{
			APIURL:   "https://api.coingecko.com/api/v3",
			CacheTTL: 60 * time.Second,
		},
		Chain: ChainConfig{
			Network: "testnet",
			RPCURL:  "https://rpc.testnet.near.org",
		},
		NATS: NATSConfig{
			Port:    4222,
			DataDir: "data/nats",
		},
		Store: StoreConfig{
			// In-memory by default: vote history is process-lifetime state.
			Path: ":memory:",
		},
		Web: WebConfig{
			Enabled: true,
			Port:    8080,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Plugins: PluginsConfig{
			Dirs: []string{"plugins"},
		},
		Swarm: SwarmConfig{
			MinConfidence: 0.7,
			MinVotes:      3,
			Timeout:       5 * time.Second,
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("SMINOS_CONFIG")
	if path == "" {
		path = "config/sminos.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		// Expand environment variables in YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SMINOS_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SMINOS_LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("SMINOS_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("SMINOS_WEB_PASSWORD"); v != "" {
		cfg.Web.Auth = v
	}
	if v := os.Getenv("SMINOS_WEB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Web.Port = port
		}
	}
	if v := os.Getenv("SMINOS_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("SMINOS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("SMINOS_CHAIN_ACCOUNT"); v != "" {
		cfg.Chain.AccountID = v
	}
}
