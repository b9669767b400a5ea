package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Execution modes for command tasks.
const (
	ModePermission = "permission" // every command needs interactive approval
	ModeAutonomous = "autonomous" // commands run without asking
)

// Config represents application configuration.
type Config struct {
	APIKey                string `json:"api_key,omitempty"`
	BaseURL               string `json:"base_url,omitempty"`
	Model                 string `json:"model"`
	PlannerModel          string `json:"planner_model,omitempty"` // stricter model used for plan and repair calls
	ExecutionMode         string `json:"execution_mode"`
	MaxSteps              int    `json:"max_steps"`
	MaxAutoRepairs        int    `json:"max_auto_repairs"`
	CommandTimeoutSeconds int    `json:"command_timeout_seconds"` // 0 = no ceiling
	Temperature           float64 `json:"temperature"`
	LogLevel              string `json:"log_level"` // debug, info, warn, error, none
	LogPath               string `json:"-"`
	WorkingDir            string `json:"working_dir"`
	SessionDir            string `json:"-"`
}

func defaultConfigDir() string {
	switch runtime.GOOS {
	case "windows":
		if appData := strings.TrimSpace(os.Getenv("APPDATA")); appData != "" {
			return filepath.Join(appData, "anita")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Roaming", "anita")
	default:
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".config", "anita")
	}
}

func defaultStateDir() string {
	switch runtime.GOOS {
	case "windows":
		if localAppData := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); localAppData != "" {
			return filepath.Join(localAppData, "anita")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "AppData", "Local", "anita")
	default:
		if stateHome := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); stateHome != "" {
			return filepath.Join(stateHome, "anita")
		}
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, ".local", "state", "anita")
	}
}

// DefaultConfig returns default configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:          "openai/gpt-4o-mini",
		ExecutionMode:  ModePermission,
		MaxSteps:       50,
		MaxAutoRepairs: 5,
		Temperature:    0.7,
		LogLevel:       "info",
		LogPath:        filepath.Join(defaultStateDir(), "anita.log"),
		WorkingDir:     ".",
		SessionDir:     filepath.Join(defaultStateDir(), "sessions"),
	}
}

// Load reads configuration from path, overlaying defaults. A missing file is
// not an error; the OPENROUTER_API_KEY environment variable overrides the
// stored credential.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	if key := strings.TrimSpace(os.Getenv("OPENROUTER_API_KEY")); key != "" {
		cfg.APIKey = key
	}

	if cfg.Model == "" {
		cfg.Model = "openai/gpt-4o-mini"
	}
	if cfg.ExecutionMode == "" {
		cfg.ExecutionMode = ModePermission
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 50
	}
	if cfg.MaxAutoRepairs <= 0 {
		cfg.MaxAutoRepairs = 5
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogPath == "" {
		cfg.LogPath = filepath.Join(defaultStateDir(), "anita.log")
	}
	if cfg.WorkingDir == "" {
		cfg.WorkingDir = "."
	}
	if cfg.SessionDir == "" {
		cfg.SessionDir = filepath.Join(defaultStateDir(), "sessions")
	}

	return cfg, nil
}

// Validate reports configuration errors that would prevent a run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("no API key configured: set api_key in the config file or the OPENROUTER_API_KEY environment variable")
	}
	if c.ExecutionMode != ModePermission && c.ExecutionMode != ModeAutonomous {
		return fmt.Errorf("invalid execution_mode %q: must be %q or %q", c.ExecutionMode, ModePermission, ModeAutonomous)
	}
	return nil
}

// Save writes configuration to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// GetConfigPath returns the default config path.
func GetConfigPath() string {
	return filepath.Join(defaultConfigDir(), "config.json")
}
