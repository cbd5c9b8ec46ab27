package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/task-workflow-agent/internal/seed"
)

func init() {
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load sample tasks and runs into empty stores",
		Args:  cobra.NoArgs,
		RunE:  runSeed,
	}
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
	// Seeding never talks to the LLM.
	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := seed.Load(cmd.Context(), a.tasks, &a.tasks.Now, a.runs, time.Now())
	if err != nil {
		return err
	}

	for _, t := range res.Tasks {
		fmt.Printf("  %s  %-11s  %-6s  %s\n", t.ID, t.Status, t.Priority, t.Title)
	}
	fmt.Printf("Seeded %d tasks and %d runs\n", len(res.Tasks), res.Runs)
	return nil
}
