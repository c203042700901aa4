// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	DefaultListen               = "[::]:9091"
	DefaultPollingInterval      = 10 * time.Second
	DefaultOrchestrationWorkers = 10
	DefaultDownloadWorkers      = 4
)

// Config is the application configuration.
type Config struct {
	Listen   string `mapstructure:"listen"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	DownloadDirectory    string        `mapstructure:"download_directory"`
	PollingInterval      time.Duration `mapstructure:"polling_interval"`
	OrchestrationWorkers int           `mapstructure:"orchestration_workers"`
	DownloadWorkers      int           `mapstructure:"download_workers"`
	SkipDirectories      []string      `mapstructure:"skip_directories"`

	Putio PutioConfig `mapstructure:"putio"`

	Sonarr   []ArrConfig `mapstructure:"sonarr"`
	Radarr   []ArrConfig `mapstructure:"radarr"`
	Whisparr []ArrConfig `mapstructure:"whisparr"`

	Log LogConfig `mapstructure:"log"`
}

// PutioConfig holds the put.io account and instance scoping configuration.
// InstanceName is a short tag distinguishing this deployment's transfers;
// InstanceFolderID is the put.io folder all of its transfers save into.
type PutioConfig struct {
	APIToken         string `mapstructure:"api_token"`
	InstanceName     string `mapstructure:"instance_name"`
	InstanceFolderID int64  `mapstructure:"instance_folder_id"`
}

// ArrConfig holds configuration for one Sonarr/Radarr/Whisparr instance.
type ArrConfig struct {
	Name   string `mapstructure:"name"`
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	File   string `mapstructure:"file"`
	Pretty bool   `mapstructure:"pretty"`
}

// ArrServices returns all configured Arr instances in probe order:
// sonarr entries first, then radarr, then whisparr.
func (c Config) ArrServices() []ArrConfig {
	services := make([]ArrConfig, 0, len(c.Sonarr)+len(c.Radarr)+len(c.Whisparr))
	services = append(services, c.Sonarr...)
	services = append(services, c.Radarr...)
	services = append(services, c.Whisparr...)
	return services
}

// LoadOptions configures how configuration is loaded.
type LoadOptions struct {
	// ConfigFile is an explicit config file path. If empty, default locations are searched.
	ConfigFile string
}

// Load reads configuration from file and environment variables.
// If opts.ConfigFile is set, that file is used directly. Otherwise default
// locations are searched: $HOME, current directory, /config for files named
// .putreap.toml, putreap.toml, or config.toml.
//
// Environment variables with prefix PUTREAP_ override config file values.
func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else if path := findConfigFile(); path != "" {
		v.SetConfigFile(path)
	}
	v.SetConfigType("toml")

	v.SetEnvPrefix("PUTREAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", DefaultListen)
	v.SetDefault("download_directory", "/downloads")
	v.SetDefault("polling_interval", DefaultPollingInterval)
	v.SetDefault("orchestration_workers", DefaultOrchestrationWorkers)
	v.SetDefault("download_workers", DefaultDownloadWorkers)
	v.SetDefault("skip_directories", []string{"sample", "extras"})
	v.SetDefault("log.level", "info")

	// Read config file (ignore error if not found)
	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if err := validate(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file among the default
// locations. viper keeps a single config name, so the candidate names are
// resolved here instead of registered with it.
func findConfigFile() string {
	dirs := make([]string, 0, 3)
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, home)
	}
	dirs = append(dirs, ".", "/config")

	for _, dir := range dirs {
		for _, name := range []string{".putreap.toml", "putreap.toml", "config.toml"} {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				return path
			}
		}
	}
	return ""
}

// validate checks that the configuration is valid.
func validate(cfg *Config) error {
	var errs []error

	if cfg.Putio.APIToken == "" {
		errs = append(errs, errors.New("putio.api_token is required"))
	}
	if cfg.Putio.InstanceName == "" {
		errs = append(errs, errors.New("putio.instance_name is required"))
	}

	if cfg.DownloadDirectory == "" {
		errs = append(errs, errors.New("download_directory is required"))
	}
	if cfg.PollingInterval <= 0 {
		errs = append(errs, errors.New("polling_interval must be positive"))
	}
	if cfg.OrchestrationWorkers <= 0 {
		errs = append(errs, errors.New("orchestration_workers must be positive"))
	}
	if cfg.DownloadWorkers <= 0 {
		errs = append(errs, errors.New("download_workers must be positive"))
	}

	validateArr := func(kind string, services []ArrConfig) {
		for i, svc := range services {
			if svc.Name == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: name is required", kind, i))
			}
			if svc.URL == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: url is required", kind, i))
			} else if _, err := url.Parse(svc.URL); err != nil {
				errs = append(errs, fmt.Errorf("%s[%d]: invalid url: %w", kind, i, err))
			}
			if svc.APIKey == "" {
				errs = append(errs, fmt.Errorf("%s[%d]: api_key is required", kind, i))
			}
		}
	}

	validateArr("sonarr", cfg.Sonarr)
	validateArr("radarr", cfg.Radarr)
	validateArr("whisparr", cfg.Whisparr)

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
