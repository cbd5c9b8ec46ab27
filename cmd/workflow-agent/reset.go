package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/task-workflow-agent/internal/runlog"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
)

var resetYes bool

func init() {
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all tasks and execution log records",
		Args:  cobra.NoArgs,
		RunE:  runReset,
	}
	resetCmd.Flags().BoolVar(&resetYes, "yes", false, "confirm deletion")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		return fmt.Errorf("refusing to delete all data without --yes")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	tasks, err := taskstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer tasks.Close()
	runs, err := runlog.New(cfg.General.LogDatabasePath)
	if err != nil {
		return err
	}
	defer runs.Close()

	ctx := cmd.Context()
	if err := tasks.Reset(ctx); err != nil {
		return fmt.Errorf("reset tasks: %w", err)
	}
	if err := runs.Reset(ctx); err != nil {
		return fmt.Errorf("reset execution log: %w", err)
	}

	fmt.Println("All tasks and logs have been reset")
	return nil
}
