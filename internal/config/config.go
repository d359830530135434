package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the main configuration structure for the ProChat server.
type Config struct {
	Port      int    `json:"port"`
	APIKey    string `json:"apiKey"`
	BaseURL   string `json:"baseURL"`
	Model     string `json:"model"`
	Referer   string `json:"referer"`
	AppTitle  string `json:"appTitle"`
	UploadDir string `json:"uploadDir"`
	StaticDir string `json:"staticDir"`

	// Sampling parameters sent with every completion request.
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`

	// MaxUploadBytes caps a single multipart upload request.
	MaxUploadBytes int64 `json:"maxUploadBytes"`

	// SessionTTL is the age after which /api/cleanup removes a session.
	SessionTTL time.Duration `json:"sessionTTL"`

	// Upstream call bounds: blocking completion and streaming open.
	RequestTimeout time.Duration `json:"requestTimeout"`
	StreamTimeout  time.Duration `json:"streamTimeout"`

	Debug bool `json:"debug"`
}

// Load reads configuration from environment variables and an optional
// prochat.yaml config file. Missing file is not an error; a missing API key
// is reported by Validate, not here, so tests can run without credentials.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("prochat")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/prochat")
	}

	v.SetDefault("port", 5000)
	v.SetDefault("baseURL", "https://openrouter.ai/api/v1")
	v.SetDefault("model", "deepseek/deepseek-r1-0528:free")
	v.SetDefault("referer", "https://ai-chat-render.onrender.com")
	v.SetDefault("appTitle", "Pro AI Chat")
	v.SetDefault("uploadDir", "uploads")
	v.SetDefault("staticDir", "web/static")
	v.SetDefault("temperature", 0.7)
	v.SetDefault("maxTokens", 2000)
	v.SetDefault("maxUploadBytes", int64(16*1024*1024))
	v.SetDefault("sessionTTL", time.Hour)
	v.SetDefault("requestTimeout", 30*time.Second)
	v.SetDefault("streamTimeout", 60*time.Second)

	// The credential and port come from the environment in production.
	v.BindEnv("apiKey", "OPENROUTER_API_KEY")
	v.BindEnv("port", "PORT")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks settings that are required for talking to the upstream API.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("OPENROUTER_API_KEY is not set")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}
