package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Studio   StudioConfig   `mapstructure:"studio"`
	Log      LogConfig      `mapstructure:"log"`
	Client   ClientConfig   `mapstructure:"client"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Browser studio session cookie
type AuthConfig struct {
	SessionSecret string `mapstructure:"session_secret"`
	SessionMaxAge int    `mapstructure:"session_max_age"` // seconds
}

// Text-to-speech provider the proxy forwards to
type UpstreamConfig struct {
	URL    string `mapstructure:"url"`
	Model  string `mapstructure:"model"`
	Format string `mapstructure:"format"`
}

type StudioConfig struct {
	ProxyURL string `mapstructure:"proxy_url"` // empty = this server
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Terminal client settings
type ClientConfig struct {
	ProxyURL    string `mapstructure:"proxy_url"`
	StorePath   string `mapstructure:"store_path"`
	StoreSecret string `mapstructure:"store_secret"`
}

const defaultSessionSecret = "voiceforge-dev-secret-change-me"

// New returns a viper instance with every default, the config file search path
// and environment binding applied. Callers may bind flags on it before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000", "http://localhost:8080"})

	v.SetDefault("auth.session_secret", defaultSessionSecret)
	v.SetDefault("auth.session_max_age", 30*24*60*60)

	v.SetDefault("upstream.url", "https://api.openai.com/v1/audio/speech")
	v.SetDefault("upstream.model", "gpt-4o-mini-tts")
	v.SetDefault("upstream.format", "mp3")

	v.SetDefault("studio.proxy_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("client.proxy_url", "http://localhost:8080")
	v.SetDefault("client.store_path", defaultStorePath())
	v.SetDefault("client.store_secret", "")

	v.BindEnv("server.port", "VOICEFORGE_SERVER_PORT", "PORT")

	v.SetEnvPrefix("VOICEFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads .env, the optional config file and the environment.
func Load() (*Config, error) {
	return LoadFrom(New())
}

func LoadFrom(v *viper.Viper) (*Config, error) {
	_ = godotenv.Load()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if c.Auth.SessionSecret == "" {
		return fmt.Errorf("auth.session_secret is required")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// StudioProxyURL is where the browser studio sends generation requests.
func (c *Config) StudioProxyURL() string {
	if c.Studio.ProxyURL != "" {
		return strings.TrimRight(c.Studio.ProxyURL, "/")
	}
	return fmt.Sprintf("http://localhost:%d", c.Server.Port)
}

// UsesDefaultSessionSecret reports whether the cookie secret was left unset.
func (c *Config) UsesDefaultSessionSecret() bool {
	return c.Auth.SessionSecret == defaultSessionSecret
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "voiceforge.db"
	}
	return filepath.Join(dir, "voiceforge", "voiceforge.db")
}
