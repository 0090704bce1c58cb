package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents runtime configuration for the bot.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config" toml:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers" toml:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases" toml:"databases"`
	Mongo       MongoConfig               `json:"mongo" yaml:"mongo" toml:"mongo"`
	Redis       RedisConfig               `json:"redis" yaml:"redis" toml:"redis"`
	Line        LineConfig                `json:"line" yaml:"line" toml:"line"`
	Assistant   AssistantConfig           `json:"assistant" yaml:"assistant" toml:"assistant"`
	Search      SearchConfig              `json:"search" yaml:"search" toml:"search"`
	Chart       ChartConfig               `json:"chart" yaml:"chart" toml:"chart"`
	Prompts     PromptConfig              `json:"prompts" yaml:"prompts" toml:"prompts"`
	Timeouts    TimeoutConfig             `json:"timeouts" yaml:"timeouts" toml:"timeouts"`
	Logging     LoggingConfig             `json:"logging" yaml:"logging" toml:"logging"`
}

type BasicConfig struct {
	ServerAddress     string `json:"server_address" yaml:"server_address" toml:"server_address"`
	PublicBaseURL     string `json:"public_base_url" yaml:"public_base_url" toml:"public_base_url"`
	Storage           string `json:"storage" yaml:"storage" toml:"storage"`
	Provider          string `json:"provider" yaml:"provider" toml:"provider"`
	MinWorkers        int    `json:"min_workers" yaml:"min_workers" toml:"min_workers"`
	MaxWorkers        int    `json:"max_workers" yaml:"max_workers" toml:"max_workers"`
	QueueSize         int    `json:"queue_size" yaml:"queue_size" toml:"queue_size"`
	WorkerIdleTimeout int    `json:"worker_idle_timeout" yaml:"worker_idle_timeout" toml:"worker_idle_timeout"` // minutes
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url" toml:"base_url"`
	Model   string `json:"model" yaml:"model" toml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key" toml:"api_key"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn" toml:"dsn"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DBName   string `json:"db_name" yaml:"db_name" toml:"db_name"`
	Params   string `json:"params" yaml:"params" toml:"params"`
}

type MongoConfig struct {
	URI      string `json:"uri" yaml:"uri" toml:"uri"`
	Database string `json:"database" yaml:"database" toml:"database"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username" yaml:"username" toml:"username"`
	Password string `json:"password" yaml:"password" toml:"password"`
	DB       int    `json:"db" yaml:"db" toml:"db"`
	// HistoryTTL is in minutes.
	HistoryTTL int `json:"history_ttl" yaml:"history_ttl" toml:"history_ttl"`
}

type LineConfig struct {
	ChannelSecret string `json:"channel_secret" yaml:"channel_secret" toml:"channel_secret"`
	ChannelToken  string `json:"channel_token" yaml:"channel_token" toml:"channel_token"`
	// APIEndpoint and DataEndpoint override the LINE hosts, e.g. behind a proxy.
	APIEndpoint  string `json:"api_endpoint" yaml:"api_endpoint" toml:"api_endpoint"`
	DataEndpoint string `json:"data_endpoint" yaml:"data_endpoint" toml:"data_endpoint"`
}

type AssistantConfig struct {
	HistoryLimit   int `json:"history_limit" yaml:"history_limit" toml:"history_limit"`
	SearchDepth    int `json:"search_depth" yaml:"search_depth" toml:"search_depth"`
	QueryLimit     int `json:"query_limit" yaml:"query_limit" toml:"query_limit"`
	PageTextLimit  int `json:"page_text_limit" yaml:"page_text_limit" toml:"page_text_limit"`
	SummaryLimit   int `json:"summary_limit" yaml:"summary_limit" toml:"summary_limit"`
	SummaryWorkers int `json:"summary_workers" yaml:"summary_workers" toml:"summary_workers"`
	// SummaryCache selects the URL-summary cache: "memory" or "redis".
	SummaryCache     string `json:"summary_cache" yaml:"summary_cache" toml:"summary_cache"`
	SummaryCacheSize int    `json:"summary_cache_size" yaml:"summary_cache_size" toml:"summary_cache_size"`
	SummaryCacheTTL  int    `json:"summary_cache_ttl" yaml:"summary_cache_ttl" toml:"summary_cache_ttl"` // minutes
}

type SearchConfig struct {
	GoogleAPIKey   string `json:"google_api_key" yaml:"google_api_key" toml:"google_api_key"`
	GoogleEngineID string `json:"google_engine_id" yaml:"google_engine_id" toml:"google_engine_id"`
	Lang           string `json:"lang" yaml:"lang" toml:"lang"`
	DuckDuckGo     bool   `json:"duckduckgo" yaml:"duckduckgo" toml:"duckduckgo"`
}

type ChartConfig struct {
	Dir       string `json:"dir" yaml:"dir" toml:"dir"`
	FontPath  string `json:"font_path" yaml:"font_path" toml:"font_path"`
	Retention int    `json:"retention" yaml:"retention" toml:"retention"` // minutes
	// CleanInterval is in minutes.
	CleanInterval int `json:"clean_interval" yaml:"clean_interval" toml:"clean_interval"`
}

type PromptConfig struct {
	SystemPrompt     string `json:"system_prompt" yaml:"system_prompt" toml:"system_prompt"`
	AccountingPrompt string `json:"accounting_prompt" yaml:"accounting_prompt" toml:"accounting_prompt"`
	ImageInstruction string `json:"image_instruction" yaml:"image_instruction" toml:"image_instruction"`
	FailMarkers      string `json:"fail_markers" yaml:"fail_markers" toml:"fail_markers"`
	SynthesisPrompt  string `json:"synthesis_prompt" yaml:"synthesis_prompt" toml:"synthesis_prompt"`
	SummaryPrompt    string `json:"summary_prompt" yaml:"summary_prompt" toml:"summary_prompt"`
}

// TimeoutConfig values are in seconds.
type TimeoutConfig struct {
	Gateway int `json:"gateway" yaml:"gateway" toml:"gateway"`
	Store   int `json:"store" yaml:"store" toml:"store"`
	Fetch   int `json:"fetch" yaml:"fetch" toml:"fetch"`
	Render  int `json:"render" yaml:"render" toml:"render"`
	Event   int `json:"event" yaml:"event" toml:"event"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (t TimeoutConfig) GatewayTimeout() time.Duration { return seconds(t.Gateway) }
func (t TimeoutConfig) StoreTimeout() time.Duration   { return seconds(t.Store) }
func (t TimeoutConfig) FetchTimeout() time.Duration   { return seconds(t.Fetch) }
func (t TimeoutConfig) RenderTimeout() time.Duration  { return seconds(t.Render) }
func (t TimeoutConfig) EventTimeout() time.Duration   { return seconds(t.Event) }

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" toml:"level"`
	Format string `json:"format" yaml:"format" toml:"format"`
}

// Load reads configuration from the provided path (defaults to config.json).
// The decoder is picked from the file extension; ${VAR} references are expanded first.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	expanded := os.ExpandEnv(string(raw))

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("decode yaml config: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("decode toml config: %w", err)
		}
	default:
		dec := json.NewDecoder(bytes.NewReader([]byte(expanded)))
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(absPath))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.Storage == "" {
		b.Storage = "sqlite3"
	}
	if b.Provider == "" {
		b.Provider = "openai"
	}
	if b.MinWorkers <= 0 {
		b.MinWorkers = 2
	}
	if b.MaxWorkers < b.MinWorkers {
		b.MaxWorkers = b.MinWorkers * 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 256
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 5
	}
	b.PublicBaseURL = strings.TrimRight(b.PublicBaseURL, "/")

	a := &c.Assistant
	if a.HistoryLimit <= 0 {
		a.HistoryLimit = 30
	}
	if a.SearchDepth <= 0 {
		a.SearchDepth = 5
	}
	if a.QueryLimit <= 0 {
		a.QueryLimit = 100
	}
	if a.PageTextLimit <= 0 {
		a.PageTextLimit = 5000
	}
	if a.SummaryLimit <= 0 {
		a.SummaryLimit = 300
	}
	if a.SummaryWorkers <= 0 {
		a.SummaryWorkers = 3
	}
	if a.SummaryCache == "" {
		a.SummaryCache = "memory"
	}
	if a.SummaryCacheSize <= 0 {
		a.SummaryCacheSize = 512
	}
	if a.SummaryCacheTTL <= 0 {
		a.SummaryCacheTTL = 24 * 60
	}

	if c.Search.Lang == "" {
		c.Search.Lang = "zh-TW"
	}

	ch := &c.Chart
	if ch.Dir == "" {
		ch.Dir = "images"
	}
	if !filepath.IsAbs(ch.Dir) {
		ch.Dir = filepath.Join(baseDir, ch.Dir)
	}
	if ch.Retention <= 0 {
		ch.Retention = 10
	}
	if ch.CleanInterval <= 0 {
		ch.CleanInterval = 30
	}

	t := &c.Timeouts
	if t.Gateway <= 0 {
		t.Gateway = 60
	}
	if t.Store <= 0 {
		t.Store = 5
	}
	if t.Fetch <= 0 {
		t.Fetch = 10
	}
	if t.Render <= 0 {
		t.Render = 15
	}
	if t.Event <= 0 {
		t.Event = 180
	}

	if c.Redis.HistoryTTL <= 0 {
		c.Redis.HistoryTTL = 30
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "linebot"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	// sqlite paths are relative to the config file, like the chart dir
	if db, ok := c.Databases["sqlite3"]; ok && db.DSN != "" && db.DSN != ":memory:" && !strings.HasPrefix(db.DSN, "file:") && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(baseDir, db.DSN)
		c.Databases["sqlite3"] = db
	}
}

// Validate reports the first missing required setting.
func (c *Config) Validate() error {
	if c.Line.ChannelSecret == "" || c.Line.ChannelToken == "" {
		return errors.New("line channel_secret and channel_token must be configured")
	}
	// LINE only fetches images over absolute https URLs.
	if u, err := url.Parse(c.BasicConfig.PublicBaseURL); err != nil || u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("public_base_url must be an absolute https url, got %q", c.BasicConfig.PublicBaseURL)
	}
	if _, ok := c.Providers[c.BasicConfig.Provider]; !ok {
		return fmt.Errorf("provider %s not configured", c.BasicConfig.Provider)
	}
	switch c.BasicConfig.Storage {
	case "mongo", "mongodb":
		if c.Mongo.URI == "" {
			return errors.New("mongo uri must be configured")
		}
	default:
		if _, ok := c.Databases[c.BasicConfig.Storage]; !ok {
			return fmt.Errorf("database config for %s not found", c.BasicConfig.Storage)
		}
	}
	switch c.Assistant.SummaryCache {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return errors.New("summary_cache redis requires redis.enabled")
		}
	default:
		return fmt.Errorf("unknown summary_cache %q", c.Assistant.SummaryCache)
	}
	return nil
}
