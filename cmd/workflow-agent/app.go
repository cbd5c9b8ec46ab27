package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/hochfrequenz/task-workflow-agent/internal/classifier"
	"github.com/hochfrequenz/task-workflow-agent/internal/config"
	"github.com/hochfrequenz/task-workflow-agent/internal/llm"
	"github.com/hochfrequenz/task-workflow-agent/internal/notify"
	"github.com/hochfrequenz/task-workflow-agent/internal/prompts"
	"github.com/hochfrequenz/task-workflow-agent/internal/runlog"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
	"github.com/hochfrequenz/task-workflow-agent/internal/workflow"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadWithLocalFallback(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// app holds the stores and clients shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	tasks  *taskstore.Store
	runs   *runlog.Store
	loader *prompts.Loader
	// llm is nil in offline mode.
	llm *llm.Client
}

// openApp loads the config, opens both stores and, unless offline, builds
// the LLM client.
func openApp(offline bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if offline {
		cfg.Classifier.Offline = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := newLogger()
	slog.SetDefault(logger)

	tasks, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open task store: %w", err)
	}
	runs, err := runlog.New(cfg.General.LogDatabasePath)
	if err != nil {
		tasks.Close()
		return nil, fmt.Errorf("open execution log: %w", err)
	}

	a := &app{
		cfg:    cfg,
		logger: logger,
		tasks:  tasks,
		runs:   runs,
		loader: prompts.DefaultLoader(cfg.Prompts.OverrideDir, cfg.General.ProjectRoot),
	}
	if !cfg.Classifier.Offline {
		a.llm = llm.NewClient(llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			JSONMode:    true,
			Timeout:     cfg.LLM.Timeout.Duration,
		}, llm.WithLogger(logger))
	}
	return a, nil
}

func (a *app) Close() {
	a.tasks.Close()
	a.runs.Close()
}

func (a *app) classifier() classifier.Classifier {
	if a.llm == nil {
		a.logger.Debug("Using offline keyword classifier")
		return classifier.Keyword{}
	}
	retry := llm.DefaultRetryConfig()
	retry.MaxAttempts = a.cfg.LLM.MaxAttempts
	return classifier.New(
		llm.WithRetry(a.llm, retry, a.logger),
		a.loader,
		classifier.WithTimeout(a.cfg.Classifier.Timeout.Duration),
		classifier.WithLogger(a.logger),
	)
}

func (a *app) notifier() notify.Notifier {
	var ns []notify.Notifier
	if a.cfg.Notifications.Desktop {
		ns = append(ns, notify.NewDesktopNotifier(true))
	}
	if a.cfg.Notifications.SlackWebhook != "" {
		ns = append(ns, notify.NewSlackNotifier(a.cfg.Notifications.SlackWebhook))
	}
	if a.cfg.Notifications.EscalationWebhook != "" {
		ns = append(ns, notify.NewWebhookNotifier(a.cfg.Notifications.EscalationWebhook))
	}
	if len(ns) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(ns...)
}

func (a *app) engine(opts ...workflow.Option) *workflow.Engine {
	base := []workflow.Option{
		workflow.WithLogger(a.logger),
		workflow.WithNotifier(a.notifier()),
	}
	return workflow.NewEngine(a.classifier(), a.tasks, a.runs, append(base, opts...)...)
}
