package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/task-workflow-agent/internal/llm"
	"github.com/hochfrequenz/task-workflow-agent/internal/workflow"
)

var (
	runOffline bool
	runJSON    bool
	runModel   string
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run TEXT...",
		Short: "Process one natural-language request",
		Example: `  workflow-agent run "Create a high priority task to prepare the Q4 report"
  workflow-agent run Update TASK-0001 status to in_progress
  workflow-agent run --offline "Help me plan the Q1 marketing strategy"`,
		Args: cobra.MinimumNArgs(1),
		RunE: runRun,
	}
	runCmd.Flags().BoolVar(&runOffline, "offline", false, "use the keyword classifier instead of the LLM")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run as JSON")
	runCmd.Flags().StringVar(&runModel, "model", "", "override the configured LLM model")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := openApp(runOffline)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if runModel != "" {
		ctx = llm.ContextWithModel(ctx, runModel)
	}

	run := a.engine().Run(ctx, strings.Join(args, " "))

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(runOutput(run)); err != nil {
			return err
		}
	} else {
		printRun(os.Stdout, run)
	}

	// Action failures are the run's result and already printed; only a lost
	// log record makes the command fail.
	if run.LogErr != nil {
		return run.LogErr
	}
	return nil
}

type runJSONOutput struct {
	RunID         string `json:"run_id"`
	Input         string `json:"input"`
	Intent        string `json:"intent,omitempty"`
	TaskID        string `json:"task_id,omitempty"`
	Result        string `json:"result"`
	Reasoning     string `json:"reasoning,omitempty"`
	RequiresHuman bool   `json:"requires_human"`
	Error         string `json:"error,omitempty"`
	Trace         any    `json:"execution_trace"`
}

func runOutput(run *workflow.RunState) runJSONOutput {
	return runJSONOutput{
		RunID:         run.RunID,
		Input:         run.Input,
		Intent:        string(run.Intent()),
		TaskID:        run.TaskID().String(),
		Result:        run.ResultMessage,
		Reasoning:     run.Reasoning,
		RequiresHuman: run.RequiresHuman(),
		Error:         run.ErrorText(),
		Trace:         run.Trace,
	}
}

func printRun(w io.Writer, run *workflow.RunState) {
	fmt.Fprintf(w, "Input:   %s\n", run.Input)
	if intent := run.Intent(); intent != "" {
		fmt.Fprintf(w, "Intent:  %s\n", intent)
	}
	if id := run.TaskID(); id != "" {
		fmt.Fprintf(w, "Task:    %s\n", id)
	}
	if run.Reasoning != "" {
		fmt.Fprintf(w, "Reason:  %s\n", run.Reasoning)
	}
	fmt.Fprintf(w, "Result:  %s\n", run.ResultMessage)
	if run.RequiresHuman() {
		fmt.Fprintln(w, "Status:  requires human review")
	}
	if err := run.ErrorText(); err != "" {
		fmt.Fprintf(w, "Error:   %s\n", err)
	}

	fmt.Fprintf(w, "\nTrace (run %s):\n", run.RunID)
	for i, e := range run.Trace {
		line := fmt.Sprintf("  %d. %-18s %s", i+1, e.Step, e.OutputSummary)
		if e.Error != "" {
			line += "  [error: " + e.Error + "]"
		}
		fmt.Fprintln(w, line)
	}
}
