// Package retention trims the execution log on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Defaults for the execution log.
const (
	DefaultMaxRecords = 100
	DefaultSchedule   = "@hourly"
)

// Store is the part of the execution log the pruner needs.
// *runlog.Store satisfies it.
type Store interface {
	Prune(ctx context.Context, keep int) (int, error)
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 10m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}

// Pruner keeps the newest MaxRecords runs and deletes the rest.
type Pruner struct {
	store    Store
	keep     int
	schedule cron.Schedule
	expr     string
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	lastRun time.Time
	pruned  int
}

// New creates a pruner. keep of zero or less disables pruning; the pruner
// can still be started but never deletes anything.
func New(store Store, keep int, schedule string, logger *slog.Logger) (*Pruner, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	sched, err := ParseSchedule(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pruner{
		store:    store,
		keep:     keep,
		schedule: sched,
		expr:     schedule,
		logger:   logger.With("component", "retention"),
	}, nil
}

// Enabled reports whether the pruner deletes anything.
func (p *Pruner) Enabled() bool {
	return p.keep > 0
}

// NextRun returns when the pruner runs next after from.
func (p *Pruner) NextRun(from time.Time) time.Time {
	return p.schedule.Next(from)
}

// RunOnce prunes immediately and returns the number of deleted records.
func (p *Pruner) RunOnce(ctx context.Context) (int, error) {
	if !p.Enabled() {
		return 0, nil
	}
	n, err := p.store.Prune(ctx, p.keep)
	if err != nil {
		return 0, fmt.Errorf("prune execution log: %w", err)
	}

	p.mu.Lock()
	p.lastRun = time.Now()
	p.pruned += n
	p.mu.Unlock()

	if n > 0 {
		p.logger.Info("Execution log pruned", "deleted", n, "kept", p.keep)
	}
	return n, nil
}

// Run prunes on the schedule until ctx is done. It waits for an in-flight
// prune before returning.
func (p *Pruner) Run(ctx context.Context) error {
	if !p.Enabled() {
		p.logger.Info("Execution log retention disabled")
		<-ctx.Done()
		return nil
	}

	c := cron.New(cron.WithParser(parser))
	c.Schedule(p.schedule, cron.FuncJob(func() {
		if _, err := p.RunOnce(context.WithoutCancel(ctx)); err != nil {
			p.logger.Error("Scheduled prune failed", "error", err)
		}
	}))

	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()

	p.logger.Info("Execution log retention started",
		"schedule", p.expr,
		"max_records", p.keep,
		"next", p.NextRun(time.Now()))
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Stats reports the last prune time and the total deleted so far.
func (p *Pruner) Stats() (lastRun time.Time, pruned int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRun, p.pruned
}
