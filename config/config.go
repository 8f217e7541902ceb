// Package config loads livefeedback settings from defaults, an optional YAML
// file and LIVEFEEDBACK_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable, e.g. LIVEFEEDBACK_API_URL.
const EnvPrefix = "LIVEFEEDBACK"

// DefaultAPIURL is the public ARSnova instance.
const DefaultAPIURL = "https://ars.particify.de/api"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all settings of the CLI and the local relay
type Config struct {
	APIURL      string        `mapstructure:"api_url"`
	KeepAlive   time.Duration `mapstructure:"keep_alive"`
	Buffer      int           `mapstructure:"buffer"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	LogLevel    string        `mapstructure:"log_level"`
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	Ngrok       NgrokConfig   `mapstructure:"ngrok"`
}

// NgrokConfig controls the optional public tunnel in serve mode
type NgrokConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	AuthToken string `mapstructure:"authtoken"`
	Domain    string `mapstructure:"domain"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_url", DefaultAPIURL)
	v.SetDefault("keep_alive", "15s")
	v.SetDefault("buffer", 10)
	v.SetDefault("http_timeout", "10s")
	v.SetDefault("log_level", "info")
	v.SetDefault("host", "localhost")
	v.SetDefault("port", 8080)
	v.SetDefault("ngrok.enabled", false)
	v.SetDefault("ngrok.authtoken", "")
	v.SetDefault("ngrok.domain", "")
}

// Load reads the configuration. When path is empty, livefeedback.yaml is
// looked up in the working directory and in $HOME/.config/livefeedback, and
// a missing file is not an error. An explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("livefeedback")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/livefeedback")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the settings are usable
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: api_url must be an absolute http(s) URL, got %q", ErrInvalidConfig, c.APIURL)
	}
	if c.KeepAlive <= 0 {
		return fmt.Errorf("%w: keep_alive must be positive", ErrInvalidConfig)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: http_timeout must be positive", ErrInvalidConfig)
	}
	if c.Buffer < 1 {
		return fmt.Errorf("%w: buffer must be at least 1", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if _, err := c.Level(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Ngrok.Enabled && c.Ngrok.AuthToken == "" {
		return fmt.Errorf("%w: ngrok.authtoken is required when ngrok is enabled", ErrInvalidConfig)
	}
	return nil
}

// Level returns the zerolog level named by LogLevel
func (c *Config) Level() (zerolog.Level, error) {
	if c.LogLevel == "" {
		return zerolog.InfoLevel, nil
	}
	return zerolog.ParseLevel(strings.ToLower(c.LogLevel))
}

// Addr returns the listen address of the local relay
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
