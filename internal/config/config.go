// Package config loads Vizier's process configuration from an optional YAML
// file, overlaid with environment variables. Environment variables always
// win over the file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration for cmd/vizierd.
type Config struct {
	DatabaseURL string        `yaml:"database_url"`
	HTTP        HTTPConfig    `yaml:"http"`
	Backend     BackendConfig `yaml:"backend"`
	Log         LogConfig     `yaml:"log"`
}

// HTTPConfig configures the internal/api router the remote backend's
// workers and other HTTP clients talk to (the vizier CLI runs the
// supervisor in-process instead).
type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// CallbackBaseURL is the externally reachable base URL remote workers
	// POST task-state callbacks to.
	CallbackBaseURL string `yaml:"callback_base_url"`
}

// BackendConfig selects and configures the Execution Controller's backend.
type BackendConfig struct {
	// Mode is "sync", "remote", or "dispatcher".
	Mode string `yaml:"mode"`
	// ManifestPath is the container-backend manifest file, a JSON array of
	// {projectId, url, port, containerId} entries, used by the Container
	// project cache to resolve a project to its worker endpoint.
	ManifestPath string `yaml:"manifest_path"`
	// BaseURL is the single remote worker's address, used when Mode is
	// "remote" or "dispatcher".
	BaseURL string `yaml:"base_url"`
	// TimeoutSeconds bounds how long the Sync backend waits for a command
	// handler before treating it as failed.
	TimeoutSeconds int `yaml:"timeout_seconds"`
	// Routes maps "packageId.commandId" to a named queue for the multi-queue
	// dispatcher; commands absent from the map use DefaultQueue.
	Routes       map[string]string `yaml:"routes"`
	DefaultQueue string            `yaml:"default_queue"`
}

// LogConfig controls the process-wide slog handler: one level, JSON always.
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file and no
// environment overrides are present.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			ListenAddr: ":8080",
		},
		Backend: BackendConfig{
			Mode:           "sync",
			TimeoutSeconds: 300,
			DefaultQueue:   "default",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration using the real environment.
func Load() (*Config, error) {
	return LoadWithEnv(os.Getenv)
}

// LoadWithEnv loads configuration from an optional YAML file named by
// VIZIER_CONFIG, then applies environment overrides. getenv is injectable
// so tests don't have to mutate the process environment.
func LoadWithEnv(getenv func(string) string) (*Config, error) {
	cfg := DefaultConfig()

	if path := getenv("VIZIER_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if v := getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := getenv("VIZIER_LISTEN_ADDR"); v != "" {
		cfg.HTTP.ListenAddr = v
	}
	if v := getenv("VIZIER_CALLBACK_BASE_URL"); v != "" {
		cfg.HTTP.CallbackBaseURL = v
	}
	if v := getenv("VIZIER_BACKEND_MODE"); v != "" {
		cfg.Backend.Mode = v
	}
	if v := getenv("VIZIER_MANIFEST_PATH"); v != "" {
		cfg.Backend.ManifestPath = v
	}
	if v := getenv("VIZIER_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := getenv("VIZIER_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}
