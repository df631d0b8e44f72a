// Package rlmconfig loads the RLM engine's configuration, following the
// teacher's internal/cmd/config.go layout: a project-local YAML file whose
// provider API keys and base URLs may be ${VAR} references resolved against
// the environment (optionally loaded from a .env file). No other field is
// read from the environment.
package rlmconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ProviderConfig names one registered LLM provider and how to authenticate
// against it.
type ProviderConfig struct {
	Type    string `yaml:"type"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
}

// BudgetConfig mirrors budget.Budget in a YAML-friendly shape; zero fields
// fall back to budget.DefaultBudget in Merge.
type BudgetConfig struct {
	MaxCost       float64       `yaml:"max_cost,omitempty"`
	MaxTokens     int64         `yaml:"max_tokens,omitempty"`
	MaxTime       time.Duration `yaml:"max_time,omitempty"`
	MaxDepth      int           `yaml:"max_depth,omitempty"`
	MaxIterations int           `yaml:"max_iterations,omitempty"`
}

// SandboxConfig selects and configures a sandbox backend.
type SandboxConfig struct {
	Backend        string   `yaml:"backend"` // "nativepy" or "shell"
	PythonPath     string   `yaml:"python_path,omitempty"`
	ReadPaths      []string `yaml:"read_paths,omitempty"`
	NetworkEnabled bool     `yaml:"network_enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
}

// LoggingConfig configures obslog.Init.
type LoggingConfig struct {
	FilePath   string `yaml:"file_path,omitempty"`
	Debug      bool   `yaml:"debug,omitempty"`
	JSON       bool   `yaml:"json,omitempty"`
	AlsoStderr bool   `yaml:"also_stderr,omitempty"`
}

// Config is the effective configuration for one run of the engine.
type Config struct {
	Provider         string                    `yaml:"provider"`
	Model            string                    `yaml:"model"`
	SubcallProvider  string                    `yaml:"subcall_provider,omitempty"`
	SubcallModel     string                    `yaml:"subcall_model,omitempty"`
	Providers        map[string]ProviderConfig `yaml:"providers,omitempty"`
	Budget           BudgetConfig              `yaml:"budget,omitempty"`
	Sandbox          SandboxConfig             `yaml:"sandbox,omitempty"`
	Logging          LoggingConfig             `yaml:"logging,omitempty"`
	BatchConcurrency int                       `yaml:"batch_concurrency,omitempty"`
}

// Default returns baseline settings: nativepy sandbox, no providers
// configured, budget left at the zero value (the budget package supplies
// its own defaults for anything left unset).
func Default() Config {
	return Config{
		Sandbox: SandboxConfig{Backend: "nativepy", ReadPaths: []string{"."}},
	}
}

// candidatePaths returns project-local config file locations in precedence
// order: project YAML, then a data-dir fallback.
func candidatePaths(cwd, dataDir string) []string {
	return []string{
		filepath.Join(cwd, ".rlm.yaml"),
		filepath.Join(cwd, ".rlm.yml"),
		filepath.Join(dataDir, "config.yaml"),
	}
}

// Load reads the first existing config file from candidatePaths(cwd,
// dataDir), loads a .env file from cwd if present, then resolves any
// ${VAR} style references in provider API keys/base URLs against the
// environment. A missing config file is not an error: Default() is
// returned with only environment resolution applied.
func Load(cwd, dataDir string) (Config, error) {
	_ = godotenv.Load(filepath.Join(cwd, ".env"))

	cfg := Default()

	for _, path := range candidatePaths(cwd, dataDir) {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, fmt.Errorf("rlmconfig: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("rlmconfig: parse %s: %w", path, err)
		}
		break
	}

	for name, p := range cfg.Providers {
		p.APIKey = resolveEnv(p.APIKey)
		p.BaseURL = resolveEnv(p.BaseURL)
		cfg.Providers[name] = p
	}

	return cfg, nil
}

// resolveEnv expands a "${VAR}" reference to the environment variable's
// value; any other string (including an already-literal key) passes
// through unchanged.
func resolveEnv(value string) string {
	if len(value) > 3 && value[0] == '$' && value[1] == '{' && value[len(value)-1] == '}' {
		return os.Getenv(value[2 : len(value)-1])
	}
	return value
}
