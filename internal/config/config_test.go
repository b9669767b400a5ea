package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}

	if cfg.MaxSteps != 50 {
		t.Errorf("MaxSteps = %d, want 50", cfg.MaxSteps)
	}
	if cfg.MaxAutoRepairs != 5 {
		t.Errorf("MaxAutoRepairs = %d, want 5", cfg.MaxAutoRepairs)
	}
	if cfg.ExecutionMode != ModePermission {
		t.Errorf("ExecutionMode = %q, want %q", cfg.ExecutionMode, ModePermission)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")

	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"model": "openai/o3-mini", "execution_mode": "autonomous", "max_steps": 10}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Model != "openai/o3-mini" {
		t.Errorf("Model = %q, want openai/o3-mini", cfg.Model)
	}
	if cfg.ExecutionMode != ModeAutonomous {
		t.Errorf("ExecutionMode = %q, want autonomous", cfg.ExecutionMode)
	}
	if cfg.MaxSteps != 10 {
		t.Errorf("MaxSteps = %d, want 10", cfg.MaxSteps)
	}
	// Untouched fields keep their defaults.
	if cfg.MaxAutoRepairs != 5 {
		t.Errorf("MaxAutoRepairs = %d, want default 5", cfg.MaxAutoRepairs)
	}
}

func TestLoadEnvironmentOverridesAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"api_key": "from-file"}`), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("OPENROUTER_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.APIKey != "from-env" {
		t.Errorf("APIKey = %q, want from-env", cfg.APIKey)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted invalid JSON")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(c *Config) { c.APIKey = "sk-test" }, false},
		{"missing key", func(c *Config) { c.APIKey = "" }, true},
		{"bad mode", func(c *Config) { c.APIKey = "sk-test"; c.ExecutionMode = "yolo" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")

	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Model = "meta-llama/llama-3.3-70b-instruct"
	cfg.CommandTimeoutSeconds = 120
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Model != cfg.Model {
		t.Errorf("Model = %q, want %q", loaded.Model, cfg.Model)
	}
	if loaded.CommandTimeoutSeconds != 120 {
		t.Errorf("CommandTimeoutSeconds = %d, want 120", loaded.CommandTimeoutSeconds)
	}
}
