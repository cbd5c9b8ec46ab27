package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	LLM           LLMConfig           `toml:"llm"`
	Classifier    ClassifierConfig    `toml:"classifier"`
	Runlog        RunlogConfig        `toml:"runlog"`
	Dispatch      DispatchConfig      `toml:"dispatch"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Prompts       PromptsConfig       `toml:"prompts"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	ProjectRoot     string `toml:"project_root"`
	DatabasePath    string `toml:"database_path"`
	LogDatabasePath string `toml:"log_database_path"`
}

// LLMConfig selects the model server
type LLMConfig struct {
	BaseURL     string   `toml:"base_url"`
	Model       string   `toml:"model"`
	Temperature float64  `toml:"temperature"`
	APIKey      string   `toml:"api_key"`
	MaxAttempts int      `toml:"max_attempts"`
	Timeout     Duration `toml:"timeout"`
}

// ClassifierConfig holds intent classification settings
type ClassifierConfig struct {
	Timeout Duration `toml:"timeout"`
	// Offline uses the keyword classifier instead of the LLM.
	Offline bool `toml:"offline"`
}

// RunlogConfig holds execution log retention settings
type RunlogConfig struct {
	MaxRecords    int    `toml:"max_records"`
	PruneSchedule string `toml:"prune_schedule"`
}

// DispatchConfig sizes the async worker pool
type DispatchConfig struct {
	Workers   int `toml:"workers"`
	QueueSize int `toml:"queue_size"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`

	// EscalationWebhook receives every escalation as a JSON POST.
	EscalationWebhook string `toml:"escalation_webhook"`
}

// WebConfig holds HTTP API settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// PromptsConfig holds prompt template settings
type PromptsConfig struct {
	OverrideDir string `toml:"override_dir"`
}

// Duration is a time.Duration written as a string such as "120s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			DatabasePath:    filepath.Join(home, ".workflow-agent", "tasks.db"),
			LogDatabasePath: filepath.Join(home, ".workflow-agent", "runs.db"),
		},
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434",
			Model:       "mistral:latest",
			Temperature: 0.1,
			APIKey:      "ollama",
			MaxAttempts: 3,
			Timeout:     Duration{120 * time.Second},
		},
		Classifier: ClassifierConfig{
			Timeout: Duration{120 * time.Second},
		},
		Runlog: RunlogConfig{
			MaxRecords:    100,
			PruneSchedule: "@hourly",
		},
		Dispatch: DispatchConfig{
			Workers:   2,
			QueueSize: 64,
		},
		Web: WebConfig{
			Port: 8000,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) expandPaths() {
	c.General.ProjectRoot = ExpandPath(c.General.ProjectRoot)
	c.General.DatabasePath = ExpandPath(c.General.DatabasePath)
	c.General.LogDatabasePath = ExpandPath(c.General.LogDatabasePath)
	c.Prompts.OverrideDir = ExpandPath(c.Prompts.OverrideDir)
}

// Environment variables honoured by ApplyEnv.
const (
	EnvBaseURL     = "OLLAMA_BASE_URL"
	EnvModel       = "OLLAMA_MODEL"
	EnvStorageFile = "STORAGE_FILE"
	EnvLogsFile    = "LOGS_FILE"
	EnvTemperature = "TEMPERATURE"
)

// ApplyEnv overrides file values with environment variables. An unparsable
// TEMPERATURE is an error.
func (c *Config) ApplyEnv() error {
	return c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvBaseURL); ok && v != "" {
		c.LLM.BaseURL = v
	}
	if v, ok := lookup(EnvModel); ok && v != "" {
		c.LLM.Model = v
	}
	if v, ok := lookup(EnvStorageFile); ok && v != "" {
		c.General.DatabasePath = ExpandPath(v)
	}
	if v, ok := lookup(EnvLogsFile); ok && v != "" {
		c.General.LogDatabasePath = ExpandPath(v)
	}
	if v, ok := lookup(EnvTemperature); ok && v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTemperature, err)
		}
		c.LLM.Temperature = t
	}
	return nil
}

// Validate rejects values the agent cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.General.DatabasePath == "" {
		errs = append(errs, errors.New("general.database_path is required"))
	}
	if c.General.LogDatabasePath == "" {
		errs = append(errs, errors.New("general.log_database_path is required"))
	}
	if !c.Classifier.Offline {
		if c.LLM.BaseURL == "" {
			errs = append(errs, errors.New("llm.base_url is required"))
		}
		if c.LLM.Model == "" {
			errs = append(errs, errors.New("llm.model is required"))
		}
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %v out of range [0, 2]", c.LLM.Temperature))
	}
	if c.LLM.MaxAttempts < 1 {
		errs = append(errs, errors.New("llm.max_attempts must be at least 1"))
	}
	if c.Classifier.Timeout.Duration <= 0 {
		errs = append(errs, errors.New("classifier.timeout must be positive"))
	}
	if c.Runlog.MaxRecords < 0 {
		errs = append(errs, errors.New("runlog.max_records must not be negative"))
	}
	if c.Runlog.MaxRecords > 0 {
		parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := parser.Parse(c.Runlog.PruneSchedule); err != nil {
			errs = append(errs, fmt.Errorf("runlog.prune_schedule: %w", err))
		}
	}
	if c.Dispatch.Workers < 1 {
		errs = append(errs, errors.New("dispatch.workers must be at least 1"))
	}
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, errors.New("dispatch.queue_size must be at least 1"))
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		errs = append(errs, fmt.Errorf("web.port %d out of range", c.Web.Port))
	}
	return errors.Join(errs...)
}

// Addr is the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "workflow-agent", "config.toml")
}

// LocalConfigName is the per-project config file searched for by FindLocalConfig
const LocalConfigName = ".workflow-agent.toml"

// FindLocalConfig walks up from the working directory looking for
// LocalConfigName. Returns "" if none is found.
func FindLocalConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, LocalConfigName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// LoadWithLocalFallback loads path if given, else the nearest local config,
// else the default config path. Environment overrides are applied last.
func LoadWithLocalFallback(path string) (*Config, error) {
	if path == "" {
		path = FindLocalConfig()
	}
	if path == "" {
		path = DefaultConfigPath()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}
