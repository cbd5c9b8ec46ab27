package workflow

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hochfrequenz/task-workflow-agent/internal/classifier"
)

func TestMustNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := MustNewMetrics(reg)
	second := MustNewMetrics(reg)

	first.IncRun("created")
	second.IncRun("created")

	if got := testutil.ToFloat64(first.runs.WithLabelValues("created")); got != 2 {
		t.Errorf("runs_total{outcome=created} = %v, want 2", got)
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.IncRun("created")
	m.IncLogFailure()
	m.IncStageFailure(StageCreate, "invalid")
	m.ObserveClassification("ok", 0)
	m.runStarted()
	m.runFinished()
}

func TestEngine_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := MustNewMetrics(reg)
	env := newTestEnv(t, classifier.Keyword{}, WithMetrics(m))
	ctx := context.Background()

	env.engine.Run(ctx, "Create a task to write docs")
	env.engine.Run(ctx, "Help me plan the roadmap")
	env.engine.Run(ctx, "Update TASK-9999 status to completed")

	if got := testutil.ToFloat64(m.runs.WithLabelValues("created")); got != 1 {
		t.Errorf("runs_total{outcome=created} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("escalated")); got != 1 {
		t.Errorf("runs_total{outcome=escalated} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.stageFailures.WithLabelValues(string(StageUpdate), "not_found")); got != 1 {
		t.Errorf("stage_failures_total{stage=update,reason=not_found} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runsActive); got != 0 {
		t.Errorf("runs_active = %v, want 0", got)
	}
	if got := testutil.CollectAndCount(m.classification); got != 1 {
		t.Errorf("classification series = %d, want 1", got)
	}
}
