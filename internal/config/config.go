// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration. Values come from
// config.yaml, AUTHFLOW_* environment variables, and CLI flag overrides,
// in ascending order of precedence (standard viper layering).
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Accounts AccountsConfig `mapstructure:"accounts" yaml:"accounts"`
	Identity IdentityConfig `mapstructure:"identity" yaml:"identity"`
	Solver   SolverConfig   `mapstructure:"solver" yaml:"solver"`
	Delivery DeliveryConfig `mapstructure:"delivery" yaml:"delivery"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Flow     FlowConfig     `mapstructure:"flow" yaml:"flow"`
}

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

// AccountsConfig locates the durable account state and tunes the pacing of
// the processing loop.
type AccountsConfig struct {
	// CredentialsFile is the line-oriented email|password[|recovery] source.
	CredentialsFile string `mapstructure:"credentials_file" yaml:"credentials_file"`
	// LedgerFile is the durable JSON ledger. Safe to hand-edit between runs.
	LedgerFile string `mapstructure:"ledger_file" yaml:"ledger_file"`
	// StateDir holds persisted browser storage states, one file per account.
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
	// Cooldown is the fixed pause between consecutive accounts.
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
}

// IdentityConfig configures outbound egress: the proxy list and the Tor
// control interface used for circuit rotation between accounts.
type IdentityConfig struct {
	ProxiesFile     string        `mapstructure:"proxies_file" yaml:"proxies_file"`
	ControlHost     string        `mapstructure:"control_host" yaml:"control_host"`
	ControlPort     int           `mapstructure:"control_port" yaml:"control_port"`
	ControlPassword string        `mapstructure:"control_password" yaml:"-"`
	SocksHost       string        `mapstructure:"socks_host" yaml:"socks_host"`
	SocksPort       int           `mapstructure:"socks_port" yaml:"socks_port"`
	RotationMinWait time.Duration `mapstructure:"rotation_min_wait" yaml:"rotation_min_wait"`
}

// SolverConfig points at the external Turnstile solver service.
type SolverConfig struct {
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	TargetURL      string        `mapstructure:"target_url" yaml:"target_url"`
	SiteKey        string        `mapstructure:"site_key" yaml:"site_key"`
	PollInterval   time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	MaxPolls       int           `mapstructure:"max_polls" yaml:"max_polls"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// DeliveryConfig points at the downstream token consumer.
type DeliveryConfig struct {
	Endpoint   string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CookieName string        `mapstructure:"cookie_name" yaml:"cookie_name"`
	Expiration int64         `mapstructure:"expiration" yaml:"expiration"`
}

// BrowserConfig holds settings for the controlled Chrome instance.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Locale            string         `mapstructure:"locale" yaml:"locale"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// Per-key typing delay bounds for credential entry.
	TypeDelayMin time.Duration `mapstructure:"type_delay_min" yaml:"type_delay_min"`
	TypeDelayMax time.Duration `mapstructure:"type_delay_max" yaml:"type_delay_max"`
}

// FlowConfig bounds each phase of the sign-in state machine. All bounding is
// wall-clock per phase; no operation carries its own cancellation token.
type FlowConfig struct {
	// PasswordWait bounds the window between email submission and the
	// password field appearing.
	PasswordWait time.Duration `mapstructure:"password_wait" yaml:"password_wait"`
	// PostPasswordWait bounds the post-password polling window. The window
	// restarts whenever the controller handles an intermediate screen.
	PostPasswordWait time.Duration `mapstructure:"post_password_wait" yaml:"post_password_wait"`
	// PollTick is the cadence of page-state evaluation.
	PollTick time.Duration `mapstructure:"poll_tick" yaml:"poll_tick"`
	// CookieWait and CookieTick bound the post-success cookie poll. Cookie
	// materialization can lag the navigation that signals success.
	CookieWait time.Duration `mapstructure:"cookie_wait" yaml:"cookie_wait"`
	CookieTick time.Duration `mapstructure:"cookie_tick" yaml:"cookie_tick"`
	// ResumeProbeWait bounds the short cookie probe when a persisted browser
	// state is loaded before attempting credential entry.
	ResumeProbeWait time.Duration `mapstructure:"resume_probe_wait" yaml:"resume_probe_wait"`
	// ProviderHost is the identity provider's host. Leaving it is the
	// success-redirect signal.
	ProviderHost string `mapstructure:"provider_host" yaml:"provider_host"`
}

// ConfigurationError marks an operator configuration problem. It is fatal at
// startup and never recovered from at runtime.
type ConfigurationError struct {
	msg string
}

func (e *ConfigurationError) Error() string { return e.msg }

// NewConfigurationError builds a ConfigurationError with a formatted message.
func NewConfigurationError(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{msg: fmt.Sprintf(format, args...)}
}

// SetDefaults registers the default value for every key with viper. Called
// before the config file is read so the file only has to override what it
// cares about.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "authflow-cli")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("accounts.credentials_file", "emails.txt")
	v.SetDefault("accounts.ledger_file", "data.json")
	v.SetDefault("accounts.state_dir", "states")
	v.SetDefault("accounts.cooldown", 3*time.Second)

	v.SetDefault("identity.proxies_file", "proxies.txt")
	v.SetDefault("identity.control_host", "127.0.0.1")
	v.SetDefault("identity.control_port", 9151)
	v.SetDefault("identity.socks_host", "127.0.0.1")
	v.SetDefault("identity.socks_port", 9150)
	v.SetDefault("identity.rotation_min_wait", 10*time.Second)

	v.SetDefault("solver.base_url", "http://localhost:8080")
	v.SetDefault("solver.target_url", "https://backend.wplace.live")
	v.SetDefault("solver.site_key", "0x4AAAAAABpHqZ-6i7uL0nmG")
	v.SetDefault("solver.poll_interval", 2*time.Second)
	v.SetDefault("solver.max_polls", 60)
	v.SetDefault("solver.request_timeout", 30*time.Second)

	v.SetDefault("delivery.endpoint", "http://127.0.0.1:3031/user")
	v.SetDefault("delivery.timeout", 10*time.Second)
	v.SetDefault("delivery.cookie_name", "j")
	v.SetDefault("delivery.expiration", int64(999999999))

	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.locale", "en-NL")
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.navigation_timeout", 120*time.Second)
	v.SetDefault("browser.type_delay_min", 50*time.Millisecond)
	v.SetDefault("browser.type_delay_max", 150*time.Millisecond)

	v.SetDefault("flow.password_wait", 120*time.Second)
	v.SetDefault("flow.post_password_wait", 60*time.Second)
	v.SetDefault("flow.poll_tick", time.Second)
	v.SetDefault("flow.cookie_wait", 180*time.Second)
	v.SetDefault("flow.cookie_tick", 50*time.Millisecond)
	v.SetDefault("flow.resume_probe_wait", 10*time.Second)
	v.SetDefault("flow.provider_host", "accounts.google.com")
}

// Load reads the configuration from the given file (or the default search
// path when empty), applies environment overrides and returns the fully
// resolved Config.
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()
	SetDefaults(v)

	if cfgFile != "" {
		expanded, err := homedir.Expand(cfgFile)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path: %w", err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("AUTHFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; proceed with defaults/env vars.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for _, p := range []*string{
		&cfg.Accounts.CredentialsFile,
		&cfg.Accounts.LedgerFile,
		&cfg.Accounts.StateDir,
		&cfg.Identity.ProxiesFile,
		&cfg.Logger.LogFile,
	} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return nil, fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}

	return &cfg, nil
}

// Validate checks the startup invariants that must hold before any account
// is touched. Violations are ConfigurationErrors and terminate the process.
func (c *Config) Validate() error {
	if _, err := os.Stat(c.Accounts.CredentialsFile); err != nil {
		return NewConfigurationError("credentials file not found: %s", c.Accounts.CredentialsFile)
	}
	if _, err := os.Stat(c.Identity.ProxiesFile); err != nil {
		return NewConfigurationError("proxies file not found: %s", c.Identity.ProxiesFile)
	}
	if c.Solver.BaseURL == "" {
		return NewConfigurationError("solver.base_url must be set")
	}
	if c.Delivery.Endpoint == "" {
		return NewConfigurationError("delivery.endpoint must be set")
	}
	return nil
}
