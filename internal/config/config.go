// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Filter() FilterConfig
	Whitelist() WhitelistConfig
	Browser() BrowserConfig
	Proxy() ProxyConfig
	API() APIConfig

	// Filter Setters
	SetFilterDebounce(d time.Duration)
	SetFilterPollInterval(d time.Duration)

	// Whitelist Setters
	SetWhitelistBackend(backend string)

	// Browser Setters
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
// Sections are exported so viper can unmarshal into them; code reads them through the getters.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	FilterCfg    FilterConfig    `mapstructure:"filter" yaml:"filter"`
	WhitelistCfg WhitelistConfig `mapstructure:"whitelist" yaml:"whitelist"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	ProxyCfg     ProxyConfig     `mapstructure:"proxy" yaml:"proxy"`
	APICfg       APIConfig       `mapstructure:"api" yaml:"api"`
}

var _ Interface = (*Config)(nil)

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Filter() FilterConfig       { return c.FilterCfg }
func (c *Config) Whitelist() WhitelistConfig { return c.WhitelistCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Proxy() ProxyConfig         { return c.ProxyCfg }
func (c *Config) API() APIConfig             { return c.APICfg }

// -- Filter Setters --
func (c *Config) SetFilterDebounce(d time.Duration)     { c.FilterCfg.Debounce = d }
func (c *Config) SetFilterPollInterval(d time.Duration) { c.FilterCfg.PollInterval = d }

// -- Whitelist Setters --
func (c *Config) SetWhitelistBackend(backend string) { c.WhitelistCfg.Backend = backend }

// -- Browser Setters --
func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// FilterConfig tunes the keyword filter and its scheduling.
type FilterConfig struct {
	Keywords           []string      `mapstructure:"keywords" yaml:"keywords"`
	Placeholder        string        `mapstructure:"placeholder" yaml:"placeholder"`
	SkipTags           []string      `mapstructure:"skip_tags" yaml:"skip_tags"`
	EditableInputTypes []string      `mapstructure:"editable_input_types" yaml:"editable_input_types"`
	Debounce           time.Duration `mapstructure:"debounce" yaml:"debounce"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// Whitelist backends.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// WhitelistConfig selects and configures the persistence backend holding the whitelist.
type WhitelistConfig struct {
	Backend string        `mapstructure:"backend" yaml:"backend"`
	Key     string        `mapstructure:"key" yaml:"key"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	FilePath    string      `mapstructure:"file_path" yaml:"file_path"`
	SQLitePath  string      `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	PostgresURL string      `mapstructure:"postgres_url" yaml:"postgres_url"`
	Redis       RedisConfig `mapstructure:"redis" yaml:"redis"`
}

// RedisConfig holds the redis connection details.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// BrowserConfig holds settings for the browser tab driven by `shroud watch`.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Debug             bool           `mapstructure:"debug" yaml:"debug"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
}

// ProxyConfig configures the filtering HTTP proxy.
type ProxyConfig struct {
	Address     string        `mapstructure:"address" yaml:"address"`
	MITM        bool          `mapstructure:"mitm" yaml:"mitm"`
	CACert      string        `mapstructure:"ca_cert" yaml:"ca_cert"`
	CAKey       string        `mapstructure:"ca_key" yaml:"ca_key"`
	MaxBodySize int64         `mapstructure:"max_body_size" yaml:"max_body_size"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Verbose     bool          `mapstructure:"verbose" yaml:"verbose"`
}

// APIConfig configures the whitelist management HTTP API.
type APIConfig struct {
	Address         string        `mapstructure:"address" yaml:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "shroud")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Filter --
	// keywords and placeholder fall back to the compiled-in defaults when left empty.
	v.SetDefault("filter.keywords", []string{})
	v.SetDefault("filter.placeholder", "")
	v.SetDefault("filter.skip_tags", []string{})
	v.SetDefault("filter.editable_input_types", []string{})
	v.SetDefault("filter.debounce", "1500ms")
	v.SetDefault("filter.poll_interval", "1s")

	// -- Whitelist --
	v.SetDefault("whitelist.backend", BackendFile)
	v.SetDefault("whitelist.key", "whitelistedSites")
	v.SetDefault("whitelist.timeout", "5s")
	v.SetDefault("whitelist.file_path", "~/.shroud/storage.json")
	v.SetDefault("whitelist.sqlite_path", "~/.shroud/storage.db")
	v.SetDefault("whitelist.redis.addr", "localhost:6379")
	v.SetDefault("whitelist.redis.db", 0)
	v.SetDefault("whitelist.redis.prefix", "shroud:")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.disable_cache", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)
	v.SetDefault("browser.navigation_timeout", "90s")

	// -- Proxy --
	v.SetDefault("proxy.address", "127.0.0.1:8080")
	v.SetDefault("proxy.mitm", false)
	v.SetDefault("proxy.ca_cert", "~/.shroud/ca.pem")
	v.SetDefault("proxy.ca_key", "~/.shroud/ca.key")
	v.SetDefault("proxy.max_body_size", 16<<20)
	v.SetDefault("proxy.timeout", "30s")

	// -- API --
	v.SetDefault("api.address", "127.0.0.1:8787")
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")
	v.SetDefault("api.shutdown_timeout", "5s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("whitelist.postgres_url", "SHROUD_POSTGRES_URL")
	_ = v.BindEnv("whitelist.redis.password", "SHROUD_REDIS_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.FilterCfg.Validate(); err != nil {
		return fmt.Errorf("filter configuration invalid: %w", err)
	}
	if err := c.WhitelistCfg.Validate(); err != nil {
		return fmt.Errorf("whitelist configuration invalid: %w", err)
	}
	if c.ProxyCfg.MaxBodySize <= 0 {
		return fmt.Errorf("proxy.max_body_size must be a positive integer")
	}
	if c.ProxyCfg.MITM && (c.ProxyCfg.CACert == "") != (c.ProxyCfg.CAKey == "") {
		return fmt.Errorf("proxy.ca_cert and proxy.ca_key must be set together")
	}
	return nil
}

// Validate checks the FilterConfig settings.
func (f *FilterConfig) Validate() error {
	if f.Debounce <= 0 {
		return fmt.Errorf("debounce must be a positive duration")
	}
	if f.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be a positive duration")
	}
	for i, k := range f.Keywords {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("keywords[%d] is empty", i)
		}
	}
	return nil
}

// Validate checks the WhitelistConfig settings.
func (w *WhitelistConfig) Validate() error {
	if w.Key == "" {
		return fmt.Errorf("key is required")
	}
	switch w.Backend {
	case BackendMemory:
	case BackendFile:
		if w.FilePath == "" {
			return fmt.Errorf("file_path is required for the file backend")
		}
	case BackendSQLite:
		if w.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if w.PostgresURL == "" {
			return fmt.Errorf("postgres_url is required for the postgres backend. Ensure SHROUD_POSTGRES_URL is set")
		}
	case BackendRedis:
		if w.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", w.Backend)
	}
	return nil
}
