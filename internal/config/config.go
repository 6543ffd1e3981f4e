package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "SLATEBOOK"

	defaultHTTPAddress   = "0.0.0.0:8080"
	defaultDatabasePath  = "slatebook.db"
	defaultLogLevel      = "info"
	defaultBatchMaxItems = 1000

	defaultCacheMaxBytes     = 50 * 1024 * 1024
	defaultCacheMaxAgeDays   = 7
	defaultSweepInterval     = 10 * time.Minute
	defaultSyncInterval      = 5 * time.Minute
	defaultRequestTimeout    = 10 * time.Second
	defaultProbeInterval     = 30 * time.Second
	defaultReconnectSettling = time.Second
)

// ServerConfig captures runtime configuration for the API server.
type ServerConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	BatchMaxItems int
}

// AgentConfig captures runtime configuration for the device sync agent.
type AgentConfig struct {
	DatabasePath      string
	LogLevel          string
	ServerBaseURL     string
	DeviceID          string
	DeviceToken       string
	CacheMaxBytes     int64
	CacheMaxAge       time.Duration
	SweepInterval     time.Duration
	SyncInterval      time.Duration
	RequestTimeout    time.Duration
	ProbeInterval     time.Duration
	ReconnectSettling time.Duration
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
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("batch.max_items", defaultBatchMaxItems)

	configViper.SetDefault("cache.max_bytes", defaultCacheMaxBytes)
	configViper.SetDefault("cache.max_age_days", defaultCacheMaxAgeDays)
	configViper.SetDefault("cache.sweep_interval", defaultSweepInterval)
	configViper.SetDefault("sync.interval", defaultSyncInterval)
	configViper.SetDefault("sync.request_timeout", defaultRequestTimeout)
	configViper.SetDefault("sync.probe_interval", defaultProbeInterval)
	configViper.SetDefault("sync.reconnect_settling", defaultReconnectSettling)
}

// LoadServer parses server runtime configuration from viper.
func LoadServer(configViper *viper.Viper) (ServerConfig, error) {
	cfg := ServerConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		DatabasePath:  configViper.GetString("database.path"),
		LogLevel:      configViper.GetString("log.level"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		BatchMaxItems: configViper.GetInt("batch.max_items"),
	}

	if err := cfg.validate(); err != nil {
		return ServerConfig{}, err
	}

	return cfg, nil
}

func (c ServerConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.BatchMaxItems <= 0 {
		return fmt.Errorf("batch.max_items must be positive")
	}
	return nil
}

// LoadAgent parses agent runtime configuration from viper.
func LoadAgent(configViper *viper.Viper) (AgentConfig, error) {
	cfg := AgentConfig{
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		ServerBaseURL:     configViper.GetString("server.base_url"),
		DeviceID:          configViper.GetString("device.id"),
		DeviceToken:       configViper.GetString("device.token"),
		CacheMaxBytes:     configViper.GetInt64("cache.max_bytes"),
		CacheMaxAge:       time.Duration(configViper.GetInt("cache.max_age_days")) * 24 * time.Hour,
		SweepInterval:     configViper.GetDuration("cache.sweep_interval"),
		SyncInterval:      configViper.GetDuration("sync.interval"),
		RequestTimeout:    configViper.GetDuration("sync.request_timeout"),
		ProbeInterval:     configViper.GetDuration("sync.probe_interval"),
		ReconnectSettling: configViper.GetDuration("sync.reconnect_settling"),
	}

	if err := cfg.validate(); err != nil {
		return AgentConfig{}, err
	}

	return cfg, nil
}

func (c AgentConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.ServerBaseURL) == "" {
		return fmt.Errorf("server.base_url is required")
	}
	if strings.TrimSpace(c.DeviceID) == "" {
		return fmt.Errorf("device.id is required")
	}
	if strings.TrimSpace(c.DeviceToken) == "" {
		return fmt.Errorf("device.token is required")
	}
	if c.CacheMaxBytes <= 0 {
		return fmt.Errorf("cache.max_bytes must be positive")
	}
	return nil
}
