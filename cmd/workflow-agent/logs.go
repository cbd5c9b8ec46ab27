package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/runlog"
)

var (
	logsLimit int
	logsJSON  bool
	logsRun   string
)

func init() {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the most recent runs from the execution log",
		Args:  cobra.NoArgs,
		RunE:  runLogs,
	}
	logsCmd.Flags().IntVar(&logsLimit, "limit", 10, "number of runs to show")
	logsCmd.Flags().BoolVar(&logsJSON, "json", false, "print records with their traces as JSON")
	logsCmd.Flags().StringVar(&logsRun, "run", "", "show one run with its full trace")
	rootCmd.AddCommand(logsCmd)
}

func runLogs(cmd *cobra.Command, args []string) error {
	if logsLimit < 1 {
		return fmt.Errorf("--limit must be at least 1")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := runlog.New(cfg.General.LogDatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	if logsRun != "" {
		rec, err := store.Get(ctx, logsRun)
		if err != nil {
			return err
		}
		if logsJSON {
			return printJSON(os.Stdout, rec)
		}
		printRecord(os.Stdout, rec)
		return nil
	}

	records, err := store.Recent(ctx, logsLimit)
	if err != nil {
		return err
	}

	if logsJSON {
		return printJSON(os.Stdout, records)
	}

	total, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%d runs logged, showing last %d\n\n", total, len(records))
	if len(records) == 0 {
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRUN\tINTENT\tTASK\tHUMAN\tRESULT")
	for _, rec := range records {
		human := ""
		if rec.RequiresHuman {
			human = "yes"
		}
		result := rec.FinalResult
		if rec.Error != "" {
			result += " (" + rec.Error + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
			shortID(rec.RunID), rec.Intent, rec.TaskID, human, result)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printRecord(w io.Writer, rec *domain.RunRecord) {
	fmt.Fprintf(w, "Run:     %s\n", rec.RunID)
	fmt.Fprintf(w, "Time:    %s\n", rec.Timestamp.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Input:   %s\n", rec.Input)
	if rec.Intent != "" {
		fmt.Fprintf(w, "Intent:  %s\n", rec.Intent)
	}
	if rec.TaskID != "" {
		fmt.Fprintf(w, "Task:    %s\n", rec.TaskID)
	}
	fmt.Fprintf(w, "Result:  %s\n", rec.FinalResult)
	if rec.RequiresHuman {
		fmt.Fprintln(w, "Status:  requires human review")
	}
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", rec.Error)
	}
	fmt.Fprintln(w, "\nTrace:")
	for i, e := range rec.Trace {
		fmt.Fprintf(w, "  %d. %s  %-18s in=%q out=%q", i+1, e.Timestamp.Local().Format("15:04:05.000"), e.Step, e.InputSummary, e.OutputSummary)
		if e.Error != "" {
			fmt.Fprintf(w, " error=%q", e.Error)
		}
		fmt.Fprintln(w)
	}
}
