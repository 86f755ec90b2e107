// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config is the root configuration for cartpilot.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Network   NetworkConfig   `mapstructure:"network" yaml:"network"`
	Stores    StoresConfig    `mapstructure:"stores" yaml:"stores"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	Ranking   RankingConfig   `mapstructure:"ranking" yaml:"ranking"`
	Workflow  WorkflowConfig  `mapstructure:"workflow" yaml:"workflow"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
}

// ColorConfig defines the color settings for console logging.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// LoggerConfig holds settings for the zap logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// DatabaseConfig configures the optional shopping history log. An empty URL
// disables it.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig configures the chromedp allocator.
type BrowserConfig struct {
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	Concurrency  int      `mapstructure:"concurrency" yaml:"concurrency"`
	UserAgent    string   `mapstructure:"user_agent" yaml:"user_agent"`
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	Args         []string `mapstructure:"args" yaml:"args"`
	WindowWidth  int      `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight int      `mapstructure:"window_height" yaml:"window_height"`
	Timezone     string   `mapstructure:"timezone" yaml:"timezone"`
	Locale       string   `mapstructure:"locale" yaml:"locale"`
	// LaunchTimeout bounds the warm-up navigation that proves the browser is alive.
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
}

// NetworkConfig holds every navigation timeout and settle pause used while
// driving a page.
type NetworkConfig struct {
	NavigationTimeout         time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	GenericNavigationTimeout  time.Duration `mapstructure:"generic_navigation_timeout" yaml:"generic_navigation_timeout"`
	FallbackNavigationTimeout time.Duration `mapstructure:"fallback_navigation_timeout" yaml:"fallback_navigation_timeout"`
	ClickTimeout              time.Duration `mapstructure:"click_timeout" yaml:"click_timeout"`
	// Settle is the wait after a search page loads for client-side rendering.
	Settle          time.Duration `mapstructure:"settle" yaml:"settle"`
	ProductSettle   time.Duration `mapstructure:"product_settle" yaml:"product_settle"`
	PreClickPause   time.Duration `mapstructure:"pre_click_pause" yaml:"pre_click_pause"`
	PostClickPause  time.Duration `mapstructure:"post_click_pause" yaml:"post_click_pause"`
	NavClickPause   time.Duration `mapstructure:"nav_click_pause" yaml:"nav_click_pause"`
	ShippingSettle  time.Duration `mapstructure:"shipping_settle" yaml:"shipping_settle"`
}

// StoreConfig locates one site family.
type StoreConfig struct {
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`
}

// StoresConfig lists the sites products are searched on.
type StoresConfig struct {
	Amazon  StoreConfig `mapstructure:"amazon" yaml:"amazon"`
	Ebay    StoreConfig `mapstructure:"ebay" yaml:"ebay"`
	Walmart StoreConfig `mapstructure:"walmart" yaml:"walmart"`
	Generic StoreConfig `mapstructure:"generic" yaml:"generic"`
}

// LLMModelConfig configures the planning model.
type LLMModelConfig struct {
	Provider    string        `mapstructure:"provider" yaml:"provider"`
	Model       string        `mapstructure:"model" yaml:"model"`
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float32       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// AgentConfig groups the agent's planning settings.
type AgentConfig struct {
	LLM LLMModelConfig `mapstructure:"llm" yaml:"llm"`
}

// RankingConfig controls product ordering.
type RankingConfig struct {
	PreferLowPrice bool `mapstructure:"prefer_low_price" yaml:"prefer_low_price"`
	// UnpricedLast sorts products without a parsed price after every priced
	// product. When false they sort as if priced at zero.
	UnpricedLast bool `mapstructure:"unpriced_last" yaml:"unpriced_last"`
}

// WorkflowConfig bounds the in-memory session table.
type WorkflowConfig struct {
	SessionTTL    time.Duration `mapstructure:"session_ttl" yaml:"session_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	MaxSessions   int           `mapstructure:"max_sessions" yaml:"max_sessions"`
	TopN          int           `mapstructure:"top_n" yaml:"top_n"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst       int           `mapstructure:"rate_burst" yaml:"rate_burst"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ArtifactsConfig controls where screenshots are kept. An empty Dir keeps
// them in responses only.
type ArtifactsConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// NewDefaultConfig creates a configuration populated with the default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// The defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default with the given viper instance.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "cartpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.concurrency", 2)
	v.SetDefault("browser.user_agent", DefaultUserAgent)
	v.SetDefault("browser.window_width", 1366)
	v.SetDefault("browser.window_height", 900)
	v.SetDefault("browser.timezone", "America/New_York")
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.launch_timeout", "30s")

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.generic_navigation_timeout", "30s")
	v.SetDefault("network.fallback_navigation_timeout", "10s")
	v.SetDefault("network.click_timeout", "15s")
	v.SetDefault("network.settle", "1500ms")
	v.SetDefault("network.product_settle", "1000ms")
	v.SetDefault("network.pre_click_pause", "400ms")
	v.SetDefault("network.post_click_pause", "1500ms")
	v.SetDefault("network.nav_click_pause", "1200ms")
	v.SetDefault("network.shipping_settle", "1000ms")

	// -- Stores --
	v.SetDefault("stores.amazon.base_url", "https://www.amazon.com")
	v.SetDefault("stores.ebay.base_url", "https://www.ebay.com")
	v.SetDefault("stores.walmart.base_url", "https://www.walmart.com")
	v.SetDefault("stores.generic.base_url", "https://www.example.com")

	// -- Agent --
	v.SetDefault("agent.llm.provider", "gemini")
	v.SetDefault("agent.llm.model", "gemini-2.0-flash")
	v.SetDefault("agent.llm.api_timeout", "30s")
	v.SetDefault("agent.llm.temperature", 0.1)
	v.SetDefault("agent.llm.max_tokens", 512)

	// -- Ranking --
	v.SetDefault("ranking.prefer_low_price", true)
	v.SetDefault("ranking.unpriced_last", false)

	// -- Workflow --
	v.SetDefault("workflow.session_ttl", "2h")
	v.SetDefault("workflow.sweep_interval", "5m")
	v.SetDefault("workflow.max_sessions", 1000)
	v.SetDefault("workflow.top_n", 10)

	// -- Server --
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.rate_limit", 2.0)
	v.SetDefault("server.rate_burst", 5)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("artifacts.dir", "")
}

// DefaultUserAgent is a current desktop Chrome identity.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// NewConfigFromViper unmarshals and validates a configuration from v.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets may come from the conventional variable as well as the prefixed one.
	_ = v.BindEnv("agent.llm.api_key", "CARTPILOT_AGENT_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("database.url", "CARTPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Agent.LLM.APIKey == "" {
		cfg.Agent.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if cfg.Artifacts.Dir != "" {
		dir, err := homedir.Expand(cfg.Artifacts.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand artifacts.dir: %w", err)
		}
		cfg.Artifacts.Dir = dir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Browser.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network configuration invalid: %w", err)
	}
	if err := c.Stores.Validate(); err != nil {
		return fmt.Errorf("stores configuration invalid: %w", err)
	}
	if c.Workflow.SessionTTL <= 0 {
		return fmt.Errorf("workflow.session_ttl must be positive")
	}
	if c.Workflow.MaxSessions <= 0 {
		return fmt.Errorf("workflow.max_sessions must be a positive integer")
	}
	if c.Workflow.TopN <= 0 {
		return fmt.Errorf("workflow.top_n must be a positive integer")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return fmt.Errorf("server.rate_limit and server.rate_burst cannot be negative")
	}
	return nil
}

// Validate checks that every timeout is positive.
func (n *NetworkConfig) Validate() error {
	timeouts := map[string]time.Duration{
		"navigation_timeout":          n.NavigationTimeout,
		"generic_navigation_timeout":  n.GenericNavigationTimeout,
		"fallback_navigation_timeout": n.FallbackNavigationTimeout,
		"click_timeout":               n.ClickTimeout,
	}
	for name, d := range timeouts {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// Validate checks that every store base URL is absolute.
func (s *StoresConfig) Validate() error {
	for name, sc := range map[string]StoreConfig{
		"amazon": s.Amazon, "ebay": s.Ebay, "walmart": s.Walmart, "generic": s.Generic,
	} {
		u, err := url.Parse(sc.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s.base_url must be an absolute URL, got %q", name, sc.BaseURL)
		}
	}
	return nil
}
