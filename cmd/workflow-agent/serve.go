package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/task-workflow-agent/internal/dispatch"
	"github.com/hochfrequenz/task-workflow-agent/internal/prompts"
	"github.com/hochfrequenz/task-workflow-agent/internal/retention"
	"github.com/hochfrequenz/task-workflow-agent/internal/workflow"
	"github.com/hochfrequenz/task-workflow-agent/web/api"
)

var (
	servePort    int
	serveHost    string
	serveOffline bool
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the async dispatcher and log retention",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides config)")
	serveCmd.Flags().BoolVar(&serveOffline, "offline", false, "use the keyword classifier instead of the LLM")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(serveOffline)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg
	if cmd.Flags().Changed("port") {
		cfg.Web.Port = servePort
	}
	if cmd.Flags().Changed("host") {
		cfg.Web.Host = serveHost
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pruner, err := retention.New(a.runs, cfg.Runlog.MaxRecords, cfg.Runlog.PruneSchedule, a.logger)
	if err != nil {
		return err
	}

	engine := a.engine(workflow.WithMetrics(workflow.DefaultMetrics()))

	dispatcher := dispatch.New(engine, dispatch.Config{
		Workers:   cfg.Dispatch.Workers,
		QueueSize: cfg.Dispatch.QueueSize,
	}, dispatch.WithLogger(a.logger))

	serverOpts := []api.Option{
		api.WithLogger(a.logger),
		api.WithDispatcher(dispatcher),
	}
	if a.llm != nil {
		serverOpts = append(serverOpts, api.WithHealthChecker(a.llm, cfg.LLM.BaseURL))
	}
	server := api.NewServer(engine, a.tasks, a.runs, cfg.Addr(), serverOpts...)
	engine.AddObserver(server)

	watcher, err := prompts.NewWatcher(a.loader, a.logger)
	if err != nil {
		return fmt.Errorf("watch prompt overrides: %w", err)
	}

	if dirs := watcher.Watched(); len(dirs) > 0 {
		a.logger.Info("Watching prompt overrides", "dirs", dirs)
	}

	a.logger.Info("Starting workflow agent",
		"addr", cfg.Addr(),
		"offline", a.llm == nil,
		"workers", cfg.Dispatch.Workers)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		dispatcher.Start(gctx)
		<-gctx.Done()
		dispatcher.Stop()
		return nil
	})
	g.Go(func() error {
		return pruner.Run(gctx)
	})
	g.Go(func() error {
		watcher.Start(gctx)
		<-gctx.Done()
		watcher.Stop()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	a.logger.Info("Workflow agent stopped")
	return nil
}
