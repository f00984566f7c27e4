// Package config loads facilitator settings from config.yaml, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Network NetworkConfig `mapstructure:"network"`
	Relayer RelayerConfig `mapstructure:"relayer"`
	Store   StoreConfig   `mapstructure:"store"`
	Sweeper SweeperConfig `mapstructure:"sweeper"`
	Log     LogConfig     `mapstructure:"log"`
}

type ServerConfig struct {
	Port          string        `mapstructure:"port"`
	Mode          string        `mapstructure:"mode"` // gin mode: debug, release, test
	VerifyTimeout time.Duration `mapstructure:"verify_timeout"`
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
}

type NetworkConfig struct {
	ProxyURL       string        `mapstructure:"proxy_url"`
	ChainID        string        `mapstructure:"chain_id"`
	Simulate       bool          `mapstructure:"simulate"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SignatureMode  string        `mapstructure:"signature_mode"` // raw or message
}

// RelayerConfig holds the relayer key. Leaving both fields empty selects direct broadcast.
type RelayerConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	PEMFile   string `mapstructure:"pem_file"`
}

// Enabled reports whether a relayer key is configured
func (r RelayerConfig) Enabled() bool {
	return r.SecretKey != "" || r.PEMFile != ""
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, sqlite, postgres, badger
	DSN    string `mapstructure:"dsn"`
	Path   string `mapstructure:"path"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Output string `mapstructure:"output"` // stdout, stderr, file
	File   string `mapstructure:"file"`
}

var defaults = map[string]interface{}{
	"server.port":             "8080",
	"server.mode":             "release",
	"server.verify_timeout":   "30s",
	"server.settle_timeout":   "60s",
	"network.proxy_url":       "https://devnet-gateway.multiversx.com",
	"network.chain_id":        "D",
	"network.simulate":        true,
	"network.request_timeout": "30s",
	"network.signature_mode":  "raw",
	"relayer.secret_key":      "",
	"relayer.pem_file":        "",
	"store.driver":            "sqlite",
	"store.dsn":               "",
	"store.path":              "",
	"sweeper.interval":        "1h",
	"sweeper.timeout":         "30s",
	"log.level":               "info",
	"log.output":              "stdout",
	"log.file":                "logs/facilitator.log",
}

// Load reads .env (if present), then config.yaml from the given search paths
// (defaults to . and ./config), then environment variables such as SERVER_PORT
// or NETWORK_PROXY_URL. Later sources win.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the facilitator cannot start with
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite", "postgres", "badger":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.DSN == "" {
		return errors.New("store.dsn is required for the postgres driver")
	}

	switch c.Network.SignatureMode {
	case "raw", "message":
	default:
		return fmt.Errorf("unsupported signature mode %q", c.Network.SignatureMode)
	}
	if c.Network.ProxyURL == "" {
		return errors.New("network.proxy_url is required")
	}
	if c.Network.ChainID == "" {
		return errors.New("network.chain_id is required")
	}
	if c.Relayer.SecretKey != "" && c.Relayer.PEMFile != "" {
		return errors.New("set only one of relayer.secret_key and relayer.pem_file")
	}

	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("sweeper.interval must be positive, got %s", c.Sweeper.Interval)
	}
	if c.Sweeper.Timeout <= 0 {
		return fmt.Errorf("sweeper.timeout must be positive, got %s", c.Sweeper.Timeout)
	}
	if c.Server.VerifyTimeout <= 0 || c.Server.SettleTimeout <= 0 {
		return errors.New("server timeouts must be positive")
	}
	return nil
}
