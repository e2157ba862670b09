// Package poller runs outreach cycles on a fixed interval.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/cadence/internal/pipeline"
)

// DefaultInterval is the pause between cycles.
const DefaultInterval = 20 * time.Minute

// CycleRunner runs one outreach cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, confirm pipeline.ConfirmFunc) (pipeline.CycleReport, error)
}

// Worker runs a cycle, waits, and repeats until its context is cancelled.
type Worker struct {
	runner   CycleRunner
	confirm  pipeline.ConfirmFunc
	interval time.Duration
	logger   *slog.Logger

	// OnCycle, when set, receives every report, failed cycles included.
	OnCycle func(pipeline.CycleReport, error)
}

// NewWorker creates a Worker. If interval is <= 0 it defaults to
// DefaultInterval. A nil confirm runs every batch unattended.
func NewWorker(runner CycleRunner, confirm pipeline.ConfirmFunc, interval time.Duration) *Worker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Worker{
		runner:   runner,
		confirm:  confirm,
		interval: interval,
		logger:   slog.Default(),
	}
}

// Run loops until ctx is cancelled. A failed cycle is logged and the next
// one runs after the usual interval.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		if err := w.RunOnce(ctx); err != nil {
			w.logger.Error("cycle failed", "error", err)
		}

		w.logger.Debug("waiting for next cycle", "interval", w.interval)
		select {
		case <-ctx.Done():
			w.logger.Info("poller stopped")
			return
		case <-time.After(w.interval):
		}
	}
}

// RunOnce runs a single cycle.
func (w *Worker) RunOnce(ctx context.Context) error {
	rep, err := w.runner.RunCycle(ctx, w.confirm)
	if w.OnCycle != nil {
		w.OnCycle(rep, err)
	}
	return err
}
