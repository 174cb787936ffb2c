// Package config loads and validates CLI configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all CLI configuration knobs loaded via Viper.
type Config struct {
	API     APIConfig     `mapstructure:"api"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Poll    PollConfig    `mapstructure:"poll"`
	History HistoryConfig `mapstructure:"history"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// APIConfig identifies the caller and the service endpoints.
type APIConfig struct {
	Key       string `mapstructure:"key"`
	BaseURL   string `mapstructure:"base_url"`
	WSBaseURL string `mapstructure:"ws_base_url"`
	UserID    string `mapstructure:"user_id"`
	Country   string `mapstructure:"country"`
}

// HTTPConfig configures request timeouts and retry behavior.
type HTTPConfig struct {
	ChatTimeoutSeconds  int `mapstructure:"chat_timeout_seconds"`
	PollTimeoutSeconds  int `mapstructure:"poll_timeout_seconds"`
	ImageTimeoutSeconds int `mapstructure:"image_timeout_seconds"`
	MaxRetries          int `mapstructure:"max_retries"`
	BackoffInitialMs    int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs        int `mapstructure:"backoff_max_ms"`
}

// PollConfig governs the WaitForChat polling loop.
type PollConfig struct {
	IntervalSeconds int     `mapstructure:"interval_seconds"`
	MaxAttempts     int     `mapstructure:"max_attempts"`
	RPS             float64 `mapstructure:"rps"`
}

// HistoryConfig controls the local conversation store.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. An empty path skips the config
// file and relies on defaults plus TABICHAN_* environment variables
// (TABICHAN_API_KEY maps to api.key).
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TABICHAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// AutomaticEnv only resolves keys viper already knows about, so keys
	// without a meaningful default still need an empty one registered for
	// TABICHAN_API_KEY and friends to land.
	v.SetDefault("api.key", "")
	v.SetDefault("api.user_id", "")
	v.SetDefault("api.base_url", "https://tourism-api.podtech-ai.com/v1")
	v.SetDefault("api.ws_base_url", "wss://tabichan.podtech-ai.com/v1")
	v.SetDefault("api.country", "japan")
	v.SetDefault("http.chat_timeout_seconds", 3)
	v.SetDefault("http.poll_timeout_seconds", 5)
	v.SetDefault("http.image_timeout_seconds", 30)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("poll.interval_seconds", 10)
	v.SetDefault("poll.max_attempts", 30)
	v.SetDefault("poll.rps", 0)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.API.Country {
	case "japan", "france":
	default:
		return fmt.Errorf("api.country must be japan or france")
	}
	if c.HTTP.ChatTimeoutSeconds <= 0 {
		return fmt.Errorf("http.chat_timeout_seconds must be > 0")
	}
	if c.HTTP.PollTimeoutSeconds <= 0 {
		return fmt.Errorf("http.poll_timeout_seconds must be > 0")
	}
	if c.HTTP.ImageTimeoutSeconds <= 0 {
		return fmt.Errorf("http.image_timeout_seconds must be > 0")
	}
	if c.Poll.IntervalSeconds <= 0 {
		return fmt.Errorf("poll.interval_seconds must be > 0")
	}
	if c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("poll.max_attempts must be > 0")
	}
	return nil
}

// PollInterval converts the poll interval config into a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Poll.IntervalSeconds) * time.Second
}

// Timeouts returns the per-endpoint request timeouts.
func (c Config) Timeouts() (chat, poll, image time.Duration) {
	return time.Duration(c.HTTP.ChatTimeoutSeconds) * time.Second,
		time.Duration(c.HTTP.PollTimeoutSeconds) * time.Second,
		time.Duration(c.HTTP.ImageTimeoutSeconds) * time.Second
}

// Backoff returns the retry backoff bounds.
func (c Config) Backoff() (initial, max time.Duration) {
	return time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond
}
