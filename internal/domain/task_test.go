package domain

import (
	"testing"
)

func TestTaskID_Parse(t *testing.T) {
	tests := []struct {
		input   string
		want    TaskID
		wantErr bool
	}{
		{"TASK-0001", "TASK-0001", false},
		{"task-0042", "TASK-0042", false},
		{" TASK-12345 ", "TASK-12345", false},
		{"TASK-1", "", true},
		{"invalid", "", true},
		{"TASK-00a1", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			tid, err := ParseTaskID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTaskID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if err == nil && tid != tt.want {
				t.Errorf("ParseTaskID(%q) = %q, want %q", tt.input, tid, tt.want)
			}
		})
	}
}

func TestFormatTaskID(t *testing.T) {
	if got := FormatTaskID(5); got != "TASK-0005" {
		t.Errorf("FormatTaskID(5) = %q, want %q", got, "TASK-0005")
	}
	if got := FormatTaskID(10000); got != "TASK-10000" {
		t.Errorf("FormatTaskID(10000) = %q, want %q", got, "TASK-10000")
	}
	if got := FormatTaskID(7).Seq(); got != 7 {
		t.Errorf("Seq() = %d, want 7", got)
	}
}

func TestFindTaskID(t *testing.T) {
	tests := []struct {
		text   string
		want   TaskID
		wantOK bool
	}{
		{"Update TASK-0001 status to in_progress", "TASK-0001", true},
		{"mark task-0003 as done", "TASK-0003", true},
		{"Create a high priority task", "", false},
		{"see XTASK-0001", "", false},
	}
	for _, tt := range tests {
		got, ok := FindTaskID(tt.text)
		if ok != tt.wantOK || got != tt.want {
			t.Errorf("FindTaskID(%q) = %q, %v, want %q, %v", tt.text, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestTaskUpdate_Describe(t *testing.T) {
	status := StatusInProgress
	prio := PriorityHigh
	u := TaskUpdate{Status: &status, Priority: &prio}

	if got := u.Describe(); got != "updated: priority=high, status=in_progress" {
		t.Errorf("Describe() = %q", got)
	}
	if got := (TaskUpdate{}).Describe(); got != "updated: no field changes" {
		t.Errorf("empty Describe() = %q", got)
	}

	task := Task{Status: StatusPending, Priority: PriorityLow}
	u.Apply(&task)
	if task.Status != StatusInProgress || task.Priority != PriorityHigh {
		t.Errorf("Apply() = %+v", task)
	}
}

func TestNormalizePriority(t *testing.T) {
	tests := map[string]Priority{
		"high":   PriorityHigh,
		"HIGH":   PriorityHigh,
		"low":    PriorityLow,
		"":       PriorityMedium,
		"urgent": PriorityMedium,
	}
	for in, want := range tests {
		if got := NormalizePriority(in); got != want {
			t.Errorf("NormalizePriority(%q) = %q, want %q", in, got, want)
		}
	}
}
