// Package config loads stride's configuration from ~/.stride/config.yaml
// with STRIDE_* environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the CLI, the daemon and the serve
// command.
type Config struct {
	// DataDir holds the local database, the credential file and logs.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`

	// ServerURL is the base URL of the remote sync service.
	ServerURL string `mapstructure:"server_url" yaml:"server_url"`

	// SyncInterval is the fixed auto-sync cycle interval.
	SyncInterval time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`

	// LogPath, when set, routes daemon logs to a rotated file instead of
	// stderr.
	LogPath string `mapstructure:"log_path" yaml:"log_path"`

	// DashboardAddr is the listen address for the live event feed.
	DashboardAddr string `mapstructure:"dashboard_addr" yaml:"dashboard_addr"`

	Serve ServeConfig `mapstructure:"serve" yaml:"serve"`
}

// ServeConfig configures the sync service started by `stride serve`.
type ServeConfig struct {
	Address      string `mapstructure:"address" yaml:"address"`
	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`
	AuthSecret   string `mapstructure:"auth_secret" yaml:"auth_secret"`
	AuthIssuer   string `mapstructure:"auth_issuer" yaml:"auth_issuer"`
	LogPath      string `mapstructure:"log_path" yaml:"log_path"`
}

// Dir returns the stride home directory, honoring STRIDE_HOME.
func Dir() string {
	if env := os.Getenv("STRIDE_HOME"); env != "" {
		return env
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".stride"
	}
	return filepath.Join(home, ".stride")
}

// Path returns the config file location inside Dir.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the built-in configuration.
func Default() Config {
	dir := Dir()
	return Config{
		DataDir:       dir,
		ServerURL:     "http://localhost:8080",
		SyncInterval:  60 * time.Second,
		DashboardAddr: "localhost:9090",
		Serve: ServeConfig{
			Address:      ":8080",
			DatabasePath: filepath.Join(dir, "server.db"),
			AuthIssuer:   "stride",
		},
	}
}

// Load reads the config file (if present) and applies environment
// overrides. A missing file is not an error; defaults apply.
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(Dir())
	v.SetEnvPrefix("STRIDE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := Default()
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("server_url", def.ServerURL)
	v.SetDefault("sync_interval", def.SyncInterval)
	v.SetDefault("dashboard_addr", def.DashboardAddr)
	v.SetDefault("serve.address", def.Serve.Address)
	v.SetDefault("serve.database_path", def.Serve.DatabasePath)
	v.SetDefault("serve.auth_issuer", def.Serve.AuthIssuer)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// WriteDefault writes the built-in configuration to Path, creating the
// stride directory. Fails if the file already exists.
func WriteDefault() (string, error) {
	path := Path()
	if _, err := os.Stat(path); err == nil {
		return path, fmt.Errorf("config already exists at %s", path)
	}
	if err := os.MkdirAll(Dir(), 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", Dir(), err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write config: %w", err)
	}
	return path, nil
}

// DatabasePath returns the local database location inside DataDir.
func (c Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "stride.db")
}

// CredentialDir returns where the bearer token is stored.
func (c Config) CredentialDir() string {
	return c.DataDir
}
