// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Site() SiteConfig
	API() APIConfig
	Poller() PollerConfig
	Controller() ControllerConfig
	Booking() BookingConfig
	Notify() NotifyConfig
	Run() RunConfig
	SetRunConfig(rc RunConfig)

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserDefaultTimeout(d time.Duration)

	// Poller Setters
	SetPollerDistrictID(id int)
}

// Config holds the entire application configuration.
// Sections are exported for viper's decoder and read through the Interface getters.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	SiteCfg       SiteConfig       `mapstructure:"site" yaml:"site"`
	APICfg        APIConfig        `mapstructure:"api" yaml:"api"`
	PollerCfg     PollerConfig     `mapstructure:"poller" yaml:"poller"`
	ControllerCfg ControllerConfig `mapstructure:"controller" yaml:"controller"`
	BookingCfg    BookingConfig    `mapstructure:"booking" yaml:"booking"`
	NotifyCfg     NotifyConfig     `mapstructure:"notify" yaml:"notify"`
	// runCfg gets its marching orders from CLI flags, not the config file.
	runCfg RunConfig `mapstructure:"-" yaml:"-"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Site() SiteConfig             { return c.SiteCfg }
func (c *Config) API() APIConfig               { return c.APICfg }
func (c *Config) Poller() PollerConfig         { return c.PollerCfg }
func (c *Config) Controller() ControllerConfig { return c.ControllerCfg }
func (c *Config) Booking() BookingConfig       { return c.BookingCfg }
func (c *Config) Notify() NotifyConfig         { return c.NotifyCfg }
func (c *Config) Run() RunConfig               { return c.runCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunConfig(rc RunConfig) { c.runCfg = rc }

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserDefaultTimeout(d time.Duration) {
	c.BrowserCfg.DefaultTimeout = d
}

func (c *Config) SetPollerDistrictID(id int) { c.PollerCfg.DistrictID = id }

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

// BrowserConfig holds settings for the Chrome instance driving the site.
type BrowserConfig struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	// DefaultTimeout bounds every wait on the page, including the human-driven ones.
	DefaultTimeout  time.Duration  `mapstructure:"default_timeout" yaml:"default_timeout"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	Debug           bool           `mapstructure:"debug" yaml:"debug"`
}

// SiteConfig describes the self-registration UI the controller drives.
type SiteConfig struct {
	URL       string          `mapstructure:"url" yaml:"url"`
	Selectors SelectorsConfig `mapstructure:"selectors" yaml:"selectors"`
	// TokenStorageKey is the sessionStorage key the site stores its bearer token under.
	TokenStorageKey string `mapstructure:"token_storage_key" yaml:"token_storage_key"`
	// ChallengeInputID is the element id of the injected challenge answer field.
	ChallengeInputID string `mapstructure:"challenge_input_id" yaml:"challenge_input_id"`
	AudioCueURL      string `mapstructure:"audio_cue_url" yaml:"audio_cue_url"`
	OTPLength        int    `mapstructure:"otp_length" yaml:"otp_length"`
	ChallengeLength  int    `mapstructure:"challenge_length" yaml:"challenge_length"`
}

// SelectorsConfig holds the CSS selectors of the elements the workflow touches.
type SelectorsConfig struct {
	MobileNumber string `mapstructure:"mobile_number" yaml:"mobile_number"`
	GetOTP       string `mapstructure:"get_otp" yaml:"get_otp"`
	OTP          string `mapstructure:"otp" yaml:"otp"`
	VerifyOTP    string `mapstructure:"verify_otp" yaml:"verify_otp"`
	Dashboard    string `mapstructure:"dashboard" yaml:"dashboard"`
}

// APIConfig configures the remote scheduling API client.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Transport is "direct" (Go HTTP client) or "page" (fetch inside the browser tab).
	Transport         string  `mapstructure:"transport" yaml:"transport"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	UserAgent         string  `mapstructure:"user_agent" yaml:"user_agent"`
}

// PollerConfig configures the slot polling engine.
type PollerConfig struct {
	DistrictID int           `mapstructure:"district_id" yaml:"district_id"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	// WindowOffsetsDays are the day offsets from now that each round queries.
	WindowOffsetsDays []int `mapstructure:"window_offsets_days" yaml:"window_offsets_days"`
	// MaxAgeLimitExclusive rejects sessions whose min_age_limit is at or above this value.
	MaxAgeLimitExclusive int `mapstructure:"max_age_limit_exclusive" yaml:"max_age_limit_exclusive"`
}

// ControllerConfig holds the restart policy of the session controller.
type ControllerConfig struct {
	// MaxRestarts caps full restarts; zero means unlimited.
	MaxRestarts int `mapstructure:"max_restarts" yaml:"max_restarts"`
	// EscalateFetchErrors routes beneficiary and challenge failures through the restart path.
	EscalateFetchErrors bool `mapstructure:"escalate_fetch_errors" yaml:"escalate_fetch_errors"`
}

// BookingConfig shapes the booking request.
type BookingConfig struct {
	Dose int `mapstructure:"dose" yaml:"dose"`
	// SlotIndex selects which entry of the chosen session's time list is booked.
	SlotIndex int `mapstructure:"slot_index" yaml:"slot_index"`
}

// NotifyConfig configures out-of-band operator notifications.
type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram" yaml:"telegram"`
}

// TelegramConfig holds the bot credentials used for operator notifications.
type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Token   string `mapstructure:"token" yaml:"-"`
	ChatID  int64  `mapstructure:"chat_id" yaml:"chat_id"`
}

// RunConfig holds settings populated from CLI flags for a single run.
type RunConfig struct {
	PhoneNumber string
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
	v.SetDefault("logger.service_name", "vacbot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.default_timeout", "180s")
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.debug", false)

	// -- Site --
	v.SetDefault("site.url", "https://selfregistration.cowin.gov.in/")
	v.SetDefault("site.selectors.mobile_number", "[formcontrolname='mobile_number']")
	v.SetDefault("site.selectors.get_otp", "ion-button")
	v.SetDefault("site.selectors.otp", "[formcontrolname='otp']")
	v.SetDefault("site.selectors.verify_otp", "ion-button")
	v.SetDefault("site.selectors.dashboard", "ion-row.dose-data a")
	v.SetDefault("site.token_storage_key", "userToken")
	v.SetDefault("site.challenge_input_id", "vacbot-captcha-text")
	v.SetDefault("site.audio_cue_url", "https://audio-previews.elements.envatousercontent.com/files/286545509/preview.mp3")
	v.SetDefault("site.otp_length", 6)
	v.SetDefault("site.challenge_length", 5)

	// -- API --
	v.SetDefault("api.base_url", "https://cdn-api.co-vin.in/api")
	v.SetDefault("api.timeout", "30s")
	v.SetDefault("api.transport", "direct")
	v.SetDefault("api.requests_per_second", 5.0)

	// -- Poller --
	v.SetDefault("poller.district_id", 294)
	v.SetDefault("poller.interval", "2s")
	v.SetDefault("poller.window_offsets_days", []int{1, 7})
	v.SetDefault("poller.max_age_limit_exclusive", 45)

	// -- Controller --
	v.SetDefault("controller.max_restarts", 0)
	v.SetDefault("controller.escalate_fetch_errors", false)

	// -- Booking --
	v.SetDefault("booking.dose", 1)
	v.SetDefault("booking.slot_index", 1)

	// -- Notify --
	v.SetDefault("notify.telegram.enabled", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("notify.telegram.token", "VACBOT_TELEGRAM_TOKEN")
	v.BindEnv("notify.telegram.chat_id", "VACBOT_TELEGRAM_CHAT_ID")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the token if Unmarshal didn't pick it up
	if cfg.NotifyCfg.Telegram.Enabled && cfg.NotifyCfg.Telegram.Token == "" {
		cfg.NotifyCfg.Telegram.Token = os.Getenv("VACBOT_TELEGRAM_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.DefaultTimeout <= 0 {
		return fmt.Errorf("browser.default_timeout must be a positive duration")
	}
	if c.SiteCfg.URL == "" {
		return fmt.Errorf("site.url is a required configuration field")
	}
	if c.SiteCfg.OTPLength <= 0 || c.SiteCfg.ChallengeLength <= 0 {
		return fmt.Errorf("site.otp_length and site.challenge_length must be positive integers")
	}
	if err := c.APICfg.Validate(); err != nil {
		return fmt.Errorf("api configuration invalid: %w", err)
	}
	if err := c.PollerCfg.Validate(); err != nil {
		return fmt.Errorf("poller configuration invalid: %w", err)
	}
	if c.ControllerCfg.MaxRestarts < 0 {
		return fmt.Errorf("controller.max_restarts must not be negative")
	}
	if c.BookingCfg.Dose <= 0 {
		return fmt.Errorf("booking.dose must be a positive integer")
	}
	if c.BookingCfg.SlotIndex < 0 {
		return fmt.Errorf("booking.slot_index must not be negative")
	}
	if err := c.NotifyCfg.Telegram.Validate(); err != nil {
		return fmt.Errorf("notify.telegram configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the API client configuration.
func (a *APIConfig) Validate() error {
	if a.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	switch strings.ToLower(a.Transport) {
	case "direct", "page":
	default:
		return fmt.Errorf("transport must be one of: direct, page (got %q)", a.Transport)
	}
	if a.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests_per_second must be greater than 0")
	}
	return nil
}

// Validate checks the poller settings.
func (p *PollerConfig) Validate() error {
	if p.DistrictID <= 0 {
		return fmt.Errorf("district_id must be a positive integer")
	}
	if p.Interval <= 0 {
		return fmt.Errorf("interval must be a positive duration")
	}
	if len(p.WindowOffsetsDays) == 0 {
		return fmt.Errorf("window_offsets_days must list at least one offset")
	}
	if p.MaxAgeLimitExclusive <= 0 {
		return fmt.Errorf("max_age_limit_exclusive must be a positive integer")
	}
	return nil
}

// Validate checks the Telegram notifier settings.
func (t *TelegramConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.Token == "" {
		return fmt.Errorf("telegram token is required but not found. Ensure VACBOT_TELEGRAM_TOKEN is set")
	}
	if t.ChatID == 0 {
		return fmt.Errorf("chat_id is required when telegram notifications are enabled")
	}
	return nil
}
