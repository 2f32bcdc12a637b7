package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix            = "FIELDSYNC"
	defaultHTTPAddress   = "127.0.0.1:7345"
	defaultDatabasePath  = "fieldsync.db"
	defaultLogLevel      = "info"
	defaultPollInterval  = 5 * time.Second
	defaultCallTimeout   = 15 * time.Second
	defaultRetryCeiling  = 3
	defaultAllowedOrigin = "*"
)

// AppConfig captures runtime configuration for the field agent.
type AppConfig struct {
	HTTPAddress   string
	ServerURL     string
	DatabasePath  string
	LogLevel      string
	LogConsole    bool
	PollInterval  time.Duration
	CallTimeout   time.Duration
	RetryCeiling  int
	AllowedOrigin string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origin", defaultAllowedOrigin)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.console", false)
	configViper.SetDefault("sync.poll_interval", defaultPollInterval)
	configViper.SetDefault("sync.call_timeout", defaultCallTimeout)
	configViper.SetDefault("sync.retry_ceiling", defaultRetryCeiling)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		ServerURL:     configViper.GetString("server.url"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		LogConsole:    configViper.GetBool("log.console"),
		PollInterval:  configViper.GetDuration("sync.poll_interval"),
		CallTimeout:   configViper.GetDuration("sync.call_timeout"),
		RetryCeiling:  configViper.GetInt("sync.retry_ceiling"),
		AllowedOrigin: configViper.GetString("http.allowed_origin"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.ServerURL) == "" {
		return fmt.Errorf("server.url is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("sync.poll_interval must be positive")
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("sync.call_timeout must be positive")
	}
	if c.RetryCeiling <= 0 {
		return fmt.Errorf("sync.retry_ceiling must be positive")
	}
	return nil
}
