package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
	"github.com/hochfrequenz/task-workflow-agent/internal/taskstore"
)

var (
	listStatus   string
	listPriority string
	listLimit    int
	tasksJSON    bool

	createTitle       string
	createDescription string
	createPriority    string

	updateTitle       string
	updateDescription string
	updatePriority    string
	updateStatus      string
)

func init() {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Manage tasks directly, bypassing the LLM",
	}
	tasksCmd.PersistentFlags().BoolVar(&tasksJSON, "json", false, "print JSON")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  cobra.NoArgs,
		RunE:  runTasksList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status (pending, in_progress, completed)")
	listCmd.Flags().StringVar(&listPriority, "priority", "", "filter by priority (low, medium, high)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "maximum number of tasks")
	tasksCmd.AddCommand(listCmd)

	getCmd := &cobra.Command{
		Use:   "get TASK",
		Short: "Show a task and its history",
		Args:  cobra.ExactArgs(1),
		RunE:  runTasksGet,
	}
	tasksCmd.AddCommand(getCmd)

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		Args:  cobra.NoArgs,
		RunE:  runTasksCreate,
	}
	createCmd.Flags().StringVar(&createTitle, "title", "", "task title (required)")
	createCmd.Flags().StringVar(&createDescription, "description", "", "task description")
	createCmd.Flags().StringVar(&createPriority, "priority", "medium", "low, medium or high")
	createCmd.MarkFlagRequired("title")
	tasksCmd.AddCommand(createCmd)

	updateCmd := &cobra.Command{
		Use:   "update TASK",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runTasksUpdate,
	}
	updateCmd.Flags().StringVar(&updateTitle, "title", "", "new title")
	updateCmd.Flags().StringVar(&updateDescription, "description", "", "new description")
	updateCmd.Flags().StringVar(&updatePriority, "priority", "", "new priority")
	updateCmd.Flags().StringVar(&updateStatus, "status", "", "new status")
	tasksCmd.AddCommand(updateCmd)

	rootCmd.AddCommand(tasksCmd)
}

func openTaskStore() (*taskstore.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return taskstore.New(cfg.General.DatabasePath)
}

func runTasksList(cmd *cobra.Command, args []string) error {
	var opts taskstore.ListOptions
	if listStatus != "" {
		s, ok := domain.ParseTaskStatus(listStatus)
		if !ok {
			return fmt.Errorf("invalid status %q", listStatus)
		}
		opts.Status = s
	}
	if listPriority != "" {
		p, ok := domain.ParsePriority(listPriority)
		if !ok {
			return fmt.Errorf("invalid priority %q", listPriority)
		}
		opts.Priority = p
	}
	opts.Limit = listLimit

	store, err := openTaskStore()
	if err != nil {
		return err
	}
	defer store.Close()

	tasks, err := store.List(cmd.Context(), opts)
	if err != nil {
		return err
	}

	if tasksJSON {
		return printJSON(os.Stdout, tasks)
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tUPDATED\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Status, t.Priority, t.UpdatedAt.Local().Format("2006-01-02 15:04"), t.Title)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	counts, err := store.CountByStatus(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("\n%d pending, %d in progress, %d completed\n",
		counts[domain.StatusPending], counts[domain.StatusInProgress], counts[domain.StatusCompleted])
	return nil
}

func parseTaskArg(arg string) (domain.TaskID, error) {
	return domain.ParseTaskID(strings.ToUpper(arg))
}

func runTasksGet(cmd *cobra.Command, args []string) error {
	id, err := parseTaskArg(args[0])
	if err != nil {
		return err
	}

	store, err := openTaskStore()
	if err != nil {
		return err
	}
	defer store.Close()

	task, err := store.Get(cmd.Context(), id)
	if err != nil {
		return err
	}

	if tasksJSON {
		return printJSON(os.Stdout, task)
	}
	printTask(os.Stdout, task)
	return nil
}

func runTasksCreate(cmd *cobra.Command, args []string) error {
	p, ok := domain.ParsePriority(createPriority)
	if !ok {
		return fmt.Errorf("invalid priority %q", createPriority)
	}

	store, err := openTaskStore()
	if err != nil {
		return err
	}
	defer store.Close()

	task, err := store.Create(cmd.Context(), taskstore.NewTask{
		Title:       createTitle,
		Description: createDescription,
		Priority:    p,
	})
	if err != nil {
		return err
	}

	if tasksJSON {
		return printJSON(os.Stdout, task)
	}
	fmt.Printf("Task created successfully: %s\n", task.ID)
	return nil
}

func runTasksUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseTaskArg(args[0])
	if err != nil {
		return err
	}

	var u domain.TaskUpdate
	flags := cmd.Flags()
	if flags.Changed("title") {
		title := strings.TrimSpace(updateTitle)
		if title == "" {
			return taskstore.ErrEmptyTitle
		}
		u.Title = &title
	}
	if flags.Changed("description") {
		u.Description = &updateDescription
	}
	if flags.Changed("priority") {
		p, ok := domain.ParsePriority(updatePriority)
		if !ok {
			return fmt.Errorf("invalid priority %q", updatePriority)
		}
		u.Priority = &p
	}
	if flags.Changed("status") {
		s, ok := domain.ParseTaskStatus(updateStatus)
		if !ok {
			return fmt.Errorf("invalid status %q", updateStatus)
		}
		u.Status = &s
	}
	if u.IsEmpty() {
		return fmt.Errorf("no updates provided")
	}

	store, err := openTaskStore()
	if err != nil {
		return err
	}
	defer store.Close()

	task, err := store.Update(cmd.Context(), id, u)
	if err != nil {
		return err
	}

	if tasksJSON {
		return printJSON(os.Stdout, task)
	}
	fmt.Printf("Task updated successfully: %s\n", task.ID)
	return nil
}

func printTask(w io.Writer, t *domain.Task) {
	fmt.Fprintf(w, "%s  %s\n", t.ID, t.Title)
	fmt.Fprintf(w, "  Status:   %s\n", t.Status)
	fmt.Fprintf(w, "  Priority: %s\n", t.Priority)
	if t.Description != "" {
		fmt.Fprintf(w, "  Description: %s\n", t.Description)
	}
	fmt.Fprintf(w, "  Created:  %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "  Updated:  %s\n", t.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	if len(t.History) > 0 {
		fmt.Fprintln(w, "  History:")
		for _, h := range t.History {
			fmt.Fprintf(w, "    %s  %s\n", h.Timestamp.Local().Format("2006-01-02 15:04"), h.Change)
		}
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
