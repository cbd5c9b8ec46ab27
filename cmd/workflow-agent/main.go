package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	verbose    bool
	rootCmd    = &cobra.Command{
		Use:   "workflow-agent",
		Short: "Task Workflow Agent - natural-language task automation",
		Long: `Task Workflow Agent turns free-text requests into task operations.
Each request is classified by a local LLM and then creates a task,
updates an existing one, or is escalated to a human. Every run is
recorded in an execution log with a step-by-step trace.`,
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
