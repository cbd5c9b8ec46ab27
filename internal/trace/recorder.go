// Package trace records the ordered stages visited during one workflow run.
package trace

import (
	"sync"
	"time"
	"unicode/utf8"

	"github.com/hochfrequenz/task-workflow-agent/internal/domain"
)

// DefaultSummaryLen bounds input and output summaries stored in trace entries.
const DefaultSummaryLen = 200

// Recorder is a concurrency-safe, append-only collector of trace entries.
//
// There is no way to edit or remove an entry once appended.
type Recorder struct {
	mu      sync.Mutex
	entries []domain.TraceEntry

	// Now stamps entries. Defaults to time.Now.
	Now func() time.Time
}

func NewRecorder() *Recorder { return &Recorder{Now: time.Now} }

// Append records one stage. A non-nil err is stored as the entry's error text.
func (r *Recorder) Append(step, input, output string, err error) domain.TraceEntry {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	entry := domain.TraceEntry{
		Step:          step,
		Timestamp:     now().UTC(),
		InputSummary:  Summarize(input, DefaultSummaryLen),
		OutputSummary: Summarize(output, DefaultSummaryLen),
	}
	if err != nil {
		entry.Error = err.Error()
	}

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.mu.Unlock()
	return entry
}

// Entries returns a point-in-time copy of all recorded entries.
func (r *Recorder) Entries() []domain.TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.TraceEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Last returns the most recent entry.
func (r *Recorder) Last() (domain.TraceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return domain.TraceEntry{}, false
	}
	return r.entries[len(r.entries)-1], true
}

// Summarize truncates s to at most max runes, marking the cut with "...".
func Summarize(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max <= 3 {
		return string([]rune(s)[:max])
	}
	return string([]rune(s)[:max-3]) + "..."
}
