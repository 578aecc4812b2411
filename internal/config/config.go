package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultModel          = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens      = 1024
	DefaultHost           = "0.0.0.0"
	DefaultPort           = 18790
	DefaultBufSize        = 100
	DefaultStoreDriver    = "sqlite"
	DefaultEmbeddingModel = "text-embedding-3-small"
	DefaultEmbeddingDim   = 1536
	DefaultEmbeddingMs    = 10000
	DefaultFetchTimeout   = 15
	DefaultMaxChars       = 4000
	DefaultMinChars       = 30
	DefaultUserAgent      = "MemoBot/1.0"
	DefaultPageSize       = 5
	DefaultRawContentCap  = 4000
	DefaultRecommendPool  = 200
	DefaultTimezone       = "Asia/Seoul"
	DefaultMorningCron    = "0 0 6 * * *"
	DefaultWeatherURL     = "https://wttr.in/Seoul?format=%C+%t&lang=ko"
)

// DefaultRecommendCrons are the broadcast times for scheduled recommendations.
var DefaultRecommendCrons = []string{"0 0 9 * * *", "0 0 20 * * *"}

type Config struct {
	Agent     AgentConfig     `json:"agent"`
	Channels  ChannelsConfig  `json:"channels"`
	Provider  ProviderConfig  `json:"provider"`
	Store     StoreConfig     `json:"store"`
	Embedding EmbeddingConfig `json:"embedding"`
	Extractor ExtractorConfig `json:"extractor"`
	Bot       BotConfig       `json:"bot"`
	Schedule  ScheduleConfig  `json:"schedule"`
	Gateway   GatewayConfig   `json:"gateway"`
	Prompts   PromptsConfig   `json:"prompts"`
}

type AgentConfig struct {
	Model     string `json:"model"`
	MaxTokens int    `json:"maxTokens"`
}

type ProviderConfig struct {
	Type    string `json:"type,omitempty"` // "anthropic" (default) or "openai"
	APIKey  string `json:"apiKey"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

// StoreConfig selects the memo store backend. A non-empty DatabaseURL with
// driver "postgres" uses the hosted backend, otherwise SQLite at DBPath.
type StoreConfig struct {
	Driver      string `json:"driver"`
	DBPath      string `json:"dbPath,omitempty"`
	DatabaseURL string `json:"databaseUrl,omitempty"`
}

type EmbeddingConfig struct {
	Enabled   bool   `json:"enabled"`
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

type ExtractorConfig struct {
	TimeoutSec int    `json:"timeoutSec"`
	MaxChars   int    `json:"maxChars"`
	MinChars   int    `json:"minChars"`
	UserAgent  string `json:"userAgent,omitempty"`
}

type BotConfig struct {
	VerboseDefault  bool `json:"verboseDefault"`
	PageSize        int  `json:"pageSize"`
	RawContentCap   int  `json:"rawContentCap"`
	RecommendWindow int  `json:"recommendWindow"`
}

type ScheduleConfig struct {
	Enabled    bool     `json:"enabled"`
	Timezone   string   `json:"timezone"`
	Morning    string   `json:"morning,omitempty"`
	Recommend  []string `json:"recommend,omitempty"`
	WeatherURL string   `json:"weatherUrl,omitempty"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// PromptsConfig points at an optional directory of .md prompt files overriding the built-in wording.
type PromptsConfig struct {
	Path string `json:"path,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Provider: ProviderConfig{},
		Channels: ChannelsConfig{},
		Store: StoreConfig{
			Driver: DefaultStoreDriver,
			DBPath: filepath.Join(ConfigDir(), "data", "meemoo.db"),
		},
		Embedding: EmbeddingConfig{
			Model:     DefaultEmbeddingModel,
			Dimension: DefaultEmbeddingDim,
			TimeoutMs: DefaultEmbeddingMs,
		},
		Extractor: ExtractorConfig{
			TimeoutSec: DefaultFetchTimeout,
			MaxChars:   DefaultMaxChars,
			MinChars:   DefaultMinChars,
			UserAgent:  DefaultUserAgent,
		},
		Bot: BotConfig{
			PageSize:        DefaultPageSize,
			RawContentCap:   DefaultRawContentCap,
			RecommendWindow: DefaultRecommendPool,
		},
		Schedule: ScheduleConfig{
			Enabled:    true,
			Timezone:   DefaultTimezone,
			Morning:    DefaultMorningCron,
			Recommend:  append([]string(nil), DefaultRecommendCrons...),
			WeatherURL: DefaultWeatherURL,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	if dir := os.Getenv("MEEMOO_HOME"); dir != "" {
		return dir
	}
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".meemoo")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DataDir holds the SQLite database and scheduler state.
func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

func LoadConfig() (*Config, error) {
	// Existing environment wins over dotenv files; missing files are fine.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	// A token supplied through the environment also enables the channel.
	if token := os.Getenv("MEEMOO_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	} else if token := os.Getenv("TELEGRAM_TOKEN"); token != "" && cfg.Channels.Telegram.Token == "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}

	if key := os.Getenv("MEEMOO_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = key
		if cfg.Provider.Type == "" {
			cfg.Provider.Type = "openai"
		}
	}
	if url := os.Getenv("MEEMOO_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if model := os.Getenv("MEEMOO_MODEL"); model != "" {
		cfg.Agent.Model = model
	} else if model := os.Getenv("CLAUDE_MODEL"); model != "" {
		cfg.Agent.Model = model
	}

	if dsn := os.Getenv("MEEMOO_DATABASE_URL"); dsn != "" {
		cfg.Store.DatabaseURL = dsn
		cfg.Store.Driver = "postgres"
	}
	if dbPath := os.Getenv("MEEMOO_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}

	if key := os.Getenv("MEEMOO_EMBEDDING_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if enabled := os.Getenv("MEEMOO_EMBEDDING_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Embedding.Enabled = parsed
		}
	}

	if v := os.Getenv("VERBOSE_DEFAULT"); v != "" {
		cfg.Bot.VerboseDefault = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("MAX_EXTRACT_CHARS"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			cfg.Extractor.MaxChars = parsed
		}
	}
	if tz := os.Getenv("MEEMOO_TIMEZONE"); tz != "" {
		cfg.Schedule.Timezone = tz
	}
	if path := os.Getenv("MEEMOO_PROMPTS"); path != "" {
		cfg.Prompts.Path = path
	}
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = def.Agent.Model
	}
	if cfg.Agent.MaxTokens <= 0 {
		cfg.Agent.MaxTokens = def.Agent.MaxTokens
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = def.Store.Driver
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = def.Store.DBPath
	}
	if cfg.Embedding.Model == "" {
		cfg.Embedding.Model = def.Embedding.Model
	}
	if cfg.Embedding.Dimension <= 0 {
		cfg.Embedding.Dimension = def.Embedding.Dimension
	}
	if cfg.Embedding.TimeoutMs <= 0 {
		cfg.Embedding.TimeoutMs = def.Embedding.TimeoutMs
	}
	if cfg.Extractor.TimeoutSec <= 0 {
		cfg.Extractor.TimeoutSec = def.Extractor.TimeoutSec
	}
	if cfg.Extractor.MaxChars <= 0 {
		cfg.Extractor.MaxChars = def.Extractor.MaxChars
	}
	if cfg.Extractor.MinChars <= 0 {
		cfg.Extractor.MinChars = def.Extractor.MinChars
	}
	if cfg.Extractor.UserAgent == "" {
		cfg.Extractor.UserAgent = def.Extractor.UserAgent
	}
	if cfg.Bot.PageSize <= 0 {
		cfg.Bot.PageSize = def.Bot.PageSize
	}
	if cfg.Bot.RawContentCap <= 0 {
		cfg.Bot.RawContentCap = def.Bot.RawContentCap
	}
	if cfg.Bot.RecommendWindow <= 0 {
		cfg.Bot.RecommendWindow = def.Bot.RecommendWindow
	}
	if cfg.Schedule.Timezone == "" {
		cfg.Schedule.Timezone = def.Schedule.Timezone
	}
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = def.Gateway.Port
	}
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
