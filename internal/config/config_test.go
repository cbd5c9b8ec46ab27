package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Default()

	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("LLM.BaseURL = %q, want http://localhost:11434", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "mistral:latest" {
		t.Errorf("LLM.Model = %q, want mistral:latest", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.1 {
		t.Errorf("LLM.Temperature = %v, want 0.1", cfg.LLM.Temperature)
	}
	if cfg.Classifier.Timeout.Duration != 120*time.Second {
		t.Errorf("Classifier.Timeout = %v, want 2m0s", cfg.Classifier.Timeout)
	}
	if cfg.Runlog.MaxRecords != 100 {
		t.Errorf("Runlog.MaxRecords = %d, want 100", cfg.Runlog.MaxRecords)
	}
	if cfg.Web.Port != 8000 {
		t.Errorf("Web.Port = %d, want 8000", cfg.Web.Port)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "mistral:latest" {
		t.Errorf("LLM.Model = %q, want default", cfg.LLM.Model)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := writeTempConfig(t, `
[general]
database_path = "~/agent/tasks.db"

[llm]
model = "gemma3:270m"
temperature = 0.4

[classifier]
timeout = "45s"
offline = true

[runlog]
max_records = 0

[web]
port = 9000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	home, _ := os.UserHomeDir()
	if want := filepath.Join(home, "agent", "tasks.db"); cfg.General.DatabasePath != want {
		t.Errorf("DatabasePath = %q, want %q", cfg.General.DatabasePath, want)
	}
	if cfg.LLM.Model != "gemma3:270m" {
		t.Errorf("LLM.Model = %q, want gemma3:270m", cfg.LLM.Model)
	}
	if cfg.LLM.Temperature != 0.4 {
		t.Errorf("LLM.Temperature = %v, want 0.4", cfg.LLM.Temperature)
	}
	if cfg.Classifier.Timeout.Duration != 45*time.Second {
		t.Errorf("Classifier.Timeout = %v, want 45s", cfg.Classifier.Timeout)
	}
	if !cfg.Classifier.Offline {
		t.Error("Classifier.Offline = false, want true")
	}
	if cfg.Runlog.MaxRecords != 0 {
		t.Errorf("Runlog.MaxRecords = %d, want 0", cfg.Runlog.MaxRecords)
	}
	if cfg.Web.Port != 9000 {
		t.Errorf("Web.Port = %d, want 9000", cfg.Web.Port)
	}
	// Untouched sections keep their defaults.
	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("LLM.BaseURL = %q, want default", cfg.LLM.BaseURL)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeTempConfig(t, "[classifier]\ntimeout = \"soon\"\n")
	if _, err := Load(path); err == nil {
		t.Error("Load should reject an unparsable duration")
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvBaseURL:     "http://ollama:11434",
		EnvModel:       "deepseek-coder:6.7b",
		EnvStorageFile: "/data/tasks.db",
		EnvLogsFile:    "/data/runs.db",
		EnvTemperature: "0.7",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnv(lookup); err != nil {
		t.Fatal(err)
	}

	if cfg.LLM.BaseURL != "http://ollama:11434" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Model != "deepseek-coder:6.7b" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.General.DatabasePath != "/data/tasks.db" {
		t.Errorf("DatabasePath = %q", cfg.General.DatabasePath)
	}
	if cfg.General.LogDatabasePath != "/data/runs.db" {
		t.Errorf("LogDatabasePath = %q", cfg.General.LogDatabasePath)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("LLM.Temperature = %v", cfg.LLM.Temperature)
	}

	env[EnvTemperature] = "warm"
	if err := cfg.applyEnv(lookup); err == nil {
		t.Error("applyEnv should reject a non-numeric TEMPERATURE")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"timeout", func(c *Config) { c.Classifier.Timeout = Duration{} }, "classifier.timeout"},
		{"schedule", func(c *Config) { c.Runlog.PruneSchedule = "sometimes" }, "runlog.prune_schedule"},
		{"records", func(c *Config) { c.Runlog.MaxRecords = -1 }, "runlog.max_records"},
		{"workers", func(c *Config) { c.Dispatch.Workers = 0 }, "dispatch.workers"},
		{"port", func(c *Config) { c.Web.Port = 70000 }, "web.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

func TestValidate_OfflineNeedsNoModel(t *testing.T) {
	cfg := Default()
	cfg.Classifier.Offline = true
	cfg.LLM.Model = ""
	cfg.LLM.BaseURL = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil in offline mode", err)
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()

	tests := []struct {
		input string
		want  string
	}{
		{"~/test", filepath.Join(home, "test")},
		{"/absolute/path", "/absolute/path"},
		{"relative", "relative"},
	}

	for _, tt := range tests {
		got := ExpandPath(tt.input)
		if got != tt.want {
			t.Errorf("ExpandPath(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFindLocalConfig(t *testing.T) {
	root := t.TempDir()
	subdir := filepath.Join(root, "sub", "dir")
	if err := os.MkdirAll(subdir, 0755); err != nil {
		t.Fatal(err)
	}

	localConfig := filepath.Join(root, LocalConfigName)
	if err := os.WriteFile(localConfig, []byte("[llm]\nmodel = \"local\""), 0644); err != nil {
		t.Fatal(err)
	}

	t.Chdir(subdir)

	// Temp dirs may sit behind symlinks, so compare resolved paths.
	found, _ := filepath.EvalSymlinks(FindLocalConfig())
	want, _ := filepath.EvalSymlinks(localConfig)
	if found != want {
		t.Errorf("FindLocalConfig() = %q, want %q", found, want)
	}
}

func TestLoadWithLocalFallback_ExplicitPath(t *testing.T) {
	path := writeTempConfig(t, "[llm]\nmodel = \"explicit\"\n")
	t.Setenv(EnvModel, "")

	cfg, err := LoadWithLocalFallback(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "explicit" {
		t.Errorf("LLM.Model = %q, want explicit", cfg.LLM.Model)
	}
}

func TestLoadWithLocalFallback_EnvWins(t *testing.T) {
	path := writeTempConfig(t, "[llm]\nmodel = \"explicit\"\n")
	t.Setenv(EnvModel, "from-env")

	cfg, err := LoadWithLocalFallback(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Model != "from-env" {
		t.Errorf("LLM.Model = %q, want from-env", cfg.LLM.Model)
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
