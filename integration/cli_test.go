//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

type runOutput struct {
	RunID         string `json:"run_id"`
	Intent        string `json:"intent"`
	TaskID        string `json:"task_id"`
	Result        string `json:"result"`
	RequiresHuman bool   `json:"requires_human"`
	Error         string `json:"error"`
	Trace         []struct {
		Step  string `json:"step"`
		Error string `json:"error"`
	} `json:"execution_trace"`
}

type taskOutput struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Status   string `json:"status"`
	History  []struct {
		Change string `json:"change"`
	} `json:"history"`
}

func TestCLI_Help(t *testing.T) {
	env := newTestEnv(t, "", 0)
	out := env.run("--help")

	for _, sub := range []string{"run", "tasks", "logs", "reset", "seed", "serve"} {
		if !strings.Contains(out, sub) {
			t.Errorf("help output missing %q subcommand", sub)
		}
	}
}

func TestCLI_OfflineWorkflow(t *testing.T) {
	env := newTestEnv(t, "", 0)

	var created runOutput
	env.runJSON(&created, "run", "--offline", "--json", "Create a high priority task to prepare Q4 report")
	if created.Intent != "create" {
		t.Fatalf("intent = %q, want create (result %q)", created.Intent, created.Result)
	}
	if created.TaskID != "TASK-0001" {
		t.Errorf("task_id = %q, want TASK-0001", created.TaskID)
	}
	if created.RequiresHuman {
		t.Error("create should not require a human")
	}
	if n := len(created.Trace); n < 2 || created.Trace[n-1].Step != "confirm_and_log" {
		t.Errorf("trace = %+v, want it to end with confirm_and_log", created.Trace)
	}

	var task taskOutput
	env.runJSON(&task, "tasks", "get", "TASK-0001", "--json")
	if task.Priority != "high" {
		t.Errorf("priority = %q, want high", task.Priority)
	}
	if task.Status != "pending" {
		t.Errorf("status = %q, want pending", task.Status)
	}

	var updated runOutput
	env.runJSON(&updated, "run", "--offline", "--json", "Mark TASK-0001 as done")
	if updated.Intent != "update" {
		t.Fatalf("intent = %q, want update", updated.Intent)
	}
	env.runJSON(&task, "tasks", "get", "task-0001", "--json")
	if task.Status != "completed" {
		t.Errorf("status after update = %q, want completed", task.Status)
	}
	if len(task.History) != 2 {
		t.Errorf("history = %d entries, want 2", len(task.History))
	}

	var escalated runOutput
	env.runJSON(&escalated, "run", "--offline", "--json", "Help me plan the Q1 marketing strategy")
	if escalated.Intent != "escalate" || !escalated.RequiresHuman {
		t.Errorf("escalation = intent %q requires_human %v", escalated.Intent, escalated.RequiresHuman)
	}

	var missing runOutput
	env.runJSON(&missing, "run", "--offline", "--json", "Update TASK-9999 status to in_progress")
	if missing.Result != "Task TASK-9999 not found" {
		t.Errorf("missing task result = %q", missing.Result)
	}

	var records []map[string]any
	env.runJSON(&records, "logs", "--json")
	if len(records) != 4 {
		t.Errorf("logs = %d records, want 4", len(records))
	}

	out := env.run("logs", "--limit", "2")
	if !strings.Contains(out, "4 runs logged, showing last 2") {
		t.Errorf("logs header missing:\n%s", out)
	}

	out = env.run("logs", "--run", created.RunID)
	if !strings.Contains(out, "intent_classifier") || !strings.Contains(out, "confirm_and_log") {
		t.Errorf("run detail missing trace steps:\n%s", out)
	}
	if _, _, err := env.exec("logs", "--run", "no-such-run"); err == nil {
		t.Error("expected unknown run id to fail")
	}
}

func TestCLI_TaskCommands(t *testing.T) {
	env := newTestEnv(t, "", 0)

	out := env.run("tasks", "create", "--title", "Write release notes", "--priority", "low")
	if !strings.Contains(out, "TASK-0001") {
		t.Errorf("create output = %q", out)
	}

	env.run("tasks", "update", "TASK-0001", "--status", "in_progress", "--description", "for v2.0")

	var task taskOutput
	env.runJSON(&task, "tasks", "get", "TASK-0001", "--json")
	if task.Status != "in_progress" {
		t.Errorf("status = %q, want in_progress", task.Status)
	}

	if _, _, err := env.exec("tasks", "update", "TASK-0001", "--status", "blocked"); err == nil {
		t.Error("expected invalid status to fail")
	}
	if _, _, err := env.exec("tasks", "update", "TASK-0001"); err == nil {
		t.Error("expected empty update to fail")
	}
	if _, _, err := env.exec("tasks", "get", "TASK-0042"); err == nil {
		t.Error("expected missing task to fail")
	}

	out = env.run("tasks", "list", "--status", "in_progress")
	if !strings.Contains(out, "Write release notes") {
		t.Errorf("filtered list missing task:\n%s", out)
	}
	out = env.run("tasks", "list", "--status", "completed")
	if !strings.Contains(out, "No tasks") {
		t.Errorf("expected empty list, got:\n%s", out)
	}
}

func TestCLI_SeedAndReset(t *testing.T) {
	env := newTestEnv(t, "", 0)

	out := env.run("seed")
	if !strings.Contains(out, "Seeded 5 tasks and 3 runs") {
		t.Errorf("seed output:\n%s", out)
	}
	if _, _, err := env.exec("seed"); err == nil {
		t.Error("expected second seed to fail on a non-empty store")
	}

	var tasks []taskOutput
	env.runJSON(&tasks, "tasks", "list", "--json")
	if len(tasks) != 5 {
		t.Errorf("listed %d tasks, want 5", len(tasks))
	}

	if _, _, err := env.exec("reset"); err == nil {
		t.Error("expected reset without --yes to fail")
	}
	env.run("reset", "--yes")

	env.runJSON(&tasks, "tasks", "list", "--json")
	if len(tasks) != 0 {
		t.Errorf("listed %d tasks after reset, want 0", len(tasks))
	}
	var records []map[string]any
	env.runJSON(&records, "logs", "--json")
	if len(records) != 0 {
		t.Errorf("logs = %d records after reset, want 0", len(records))
	}
}

func TestCLI_RunWithLLM(t *testing.T) {
	llm := newFakeLLM(t, `{"intent":"CREATE","fields":{"title":"Prepare Q4 report","priority":"high"},"reasoning":"explicit create request"}`)
	env := newTestEnv(t, llm.URL, 0)

	var created runOutput
	env.runJSON(&created, "run", "--json", "Create a high priority task to prepare Q4 report")
	if created.Intent != "create" || created.TaskID != "TASK-0001" {
		t.Fatalf("run = %+v", created)
	}
	if llm.requestCount() == 0 {
		t.Error("LLM was never called")
	}

	var task taskOutput
	env.runJSON(&task, "tasks", "get", "TASK-0001", "--json")
	if task.Title != "Prepare Q4 report" {
		t.Errorf("title = %q, want Prepare Q4 report", task.Title)
	}

	llm.setContent(`{"intent":"UPDATE","fields":{"task_id":"TASK-0001","status":"in_progress"},"reasoning":"status change"}`)
	var updated runOutput
	env.runJSON(&updated, "run", "--json", "Start working on TASK-0001")
	if updated.Intent != "update" {
		t.Fatalf("intent = %q, want update", updated.Intent)
	}

	llm.setContent("I am not sure what you mean.")
	var unclear runOutput
	env.runJSON(&unclear, "run", "--json", "do the thing")
	if !unclear.RequiresHuman {
		t.Errorf("unparseable classification should escalate, got %+v", unclear)
	}
}

func TestCLI_Serve(t *testing.T) {
	llm := newFakeLLM(t, `{"intent":"CREATE","fields":{"title":"Book venue"},"reasoning":"create"}`)
	port := freePort(t)
	env := newTestEnv(t, llm.URL, port)

	cmd := env.command("serve")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start serve: %v", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	defer func() {
		select {
		case <-exited:
		default:
			cmd.Process.Kill()
		}
	}()

	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	var health struct {
		Status string `json:"status"`
		LLM    struct {
			Status string `json:"status"`
		} `json:"llm"`
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, err := http.Get(base + "/health")
		if err == nil {
			json.NewDecoder(resp.Body).Decode(&health)
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v\n%s", err, stderr.String())
		}
		time.Sleep(100 * time.Millisecond)
	}
	if health.Status != "healthy" || health.LLM.Status != "connected" {
		t.Errorf("health = %+v", health)
	}

	resp, err := http.Post(base+"/webhook/task", "application/json", strings.NewReader(`{"input":"Create a task to book the venue"}`))
	if err != nil {
		t.Fatal(err)
	}
	var out struct {
		Success bool   `json:"success"`
		TaskID  string `json:"task_id"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	resp.Body.Close()
	if !out.Success || out.TaskID != "TASK-0001" {
		t.Errorf("webhook response = %+v", out)
	}

	resp, err = http.Get(base + "/api/tasks")
	if err != nil {
		t.Fatal(err)
	}
	var list struct {
		Count int `json:"count"`
	}
	json.NewDecoder(resp.Body).Decode(&list)
	resp.Body.Close()
	if list.Count != 1 {
		t.Errorf("task count = %d, want 1", list.Count)
	}

	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-exited:
		if err != nil {
			t.Errorf("serve exited with %v\n%s", err, stderr.String())
		}
	case <-time.After(15 * time.Second):
		t.Fatal("serve did not shut down after SIGINT")
	}
}
