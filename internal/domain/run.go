package domain

import "time"

// TraceEntry records one stage visited during a run
type TraceEntry struct {
	Step          string    `json:"step"`
	Timestamp     time.Time `json:"timestamp"`
	InputSummary  string    `json:"input_summary"`
	OutputSummary string    `json:"output_summary"`
	Error         string    `json:"error,omitempty"`
}

// RunRecord is the execution log entry written once per run
type RunRecord struct {
	RunID         string       `json:"run_id"`
	Timestamp     time.Time    `json:"timestamp"`
	Input         string       `json:"input"`
	Intent        Intent       `json:"intent,omitempty"`
	TaskID        TaskID       `json:"task_id,omitempty"`
	Trace         []TraceEntry `json:"trace"`
	RequiresHuman bool         `json:"requires_human"`
	FinalResult   string       `json:"final_result"`
	Error         string       `json:"error,omitempty"`
}
