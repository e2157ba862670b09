package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kalambet/cadence/internal/assign"
	"github.com/kalambet/cadence/internal/cadence"
	"github.com/kalambet/cadence/internal/eligibility"
	"github.com/kalambet/cadence/internal/lead"
	"github.com/kalambet/cadence/internal/storage"
)

// ConfirmFunc approves a planned batch before anything is sent.
type ConfirmFunc func(ctx context.Context, p *Plan) (bool, error)

// CycleReport summarises one cycle.
type CycleReport struct {
	ID         string
	Mode       string
	StartedAt  time.Time
	FinishedAt time.Time
	Status     string

	Loaded     int
	Malformed  int
	Eligible   int
	Excluded   int
	Unassigned int
	Sent       int
	Failed     int
	Applied    int

	// JournalHits counts sends skipped because the journal already had them.
	JournalHits int
	// Replayed counts journaled sends from earlier cycles applied at start.
	Replayed    int

	Plan      *Plan
	Execution *Execution
}

// RunCycle plans, optionally asks confirm, and executes. A nil confirm runs
// unattended. Errors abort this cycle only.
func (e *Engine) RunCycle(ctx context.Context, confirm ConfirmFunc) (CycleReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	mode := ModeAutomation
	if confirm != nil {
		mode = ModeConfirm
	}
	rep := CycleReport{
		ID:        e.opts.NewID(),
		Mode:      mode,
		StartedAt: e.opts.Now(),
		Status:    storage.CycleRunning,
	}
	logger := e.logger.With("cycle", rep.ID)
	e.startCycle(rep)

	finish := func(status string, err error) (CycleReport, error) {
		rep.Status = status
		rep.FinishedAt = e.opts.Now()
		e.finishCycle(rep, err)
		logger.Info("cycle finished",
			"status", rep.Status, "loaded", rep.Loaded, "eligible", rep.Eligible,
			"sent", rep.Sent, "failed", rep.Failed, "duration", rep.FinishedAt.Sub(rep.StartedAt))
		return rep, err
	}

	p, err := e.plan(ctx)
	if err != nil {
		return finish(storage.CycleFailed, fmt.Errorf("planning cycle: %w", err))
	}
	rep.Plan = p
	rep.Loaded = len(p.Snapshot.Leads)
	rep.Malformed = len(p.Malformed)
	rep.Eligible = len(p.Filter.Eligible)
	rep.Excluded = len(p.Filter.Excluded)
	rep.Unassigned = len(p.Unassigned)
	rep.Replayed = p.Replay.Applied

	if confirm != nil && len(p.Assignments) > 0 {
		ok, err := confirm(ctx, p)
		if err != nil {
			return finish(storage.CycleFailed, fmt.Errorf("confirming batch: %w", err))
		}
		if !ok {
			logger.Info("batch declined", "assignments", len(p.Assignments))
			p.Assignments = nil
			ex, err := e.execute(ctx, p, rep.ID)
			rep.Execution = ex
			if err != nil {
				return finish(storage.CycleFailed, err)
			}
			return finish(storage.CycleDeclined, nil)
		}
	}

	ex, err := e.execute(ctx, p, rep.ID)
	rep.Execution = ex
	if ex != nil {
		rep.Sent = ex.Sent
		rep.Failed = len(ex.Failed)
		rep.JournalHits = ex.JournalHits
		rep.Applied = ex.Advanced.Applied
	}
	if err != nil {
		return finish(storage.CycleFailed, err)
	}
	return finish(storage.CycleCompleted, nil)
}

func (e *Engine) startCycle(rep CycleReport) {
	if e.opts.Journal == nil {
		return
	}
	err := e.opts.Journal.StartCycle(storage.Cycle{
		ID:        rep.ID,
		StartedAt: rep.StartedAt,
		Mode:      rep.Mode,
		Channel:   string(e.opts.Channel),
	})
	if err != nil {
		e.logger.Error("journaling cycle start", "cycle", rep.ID, "error", err)
	}
}

func (e *Engine) finishCycle(rep CycleReport, cycleErr error) {
	if e.opts.Journal == nil {
		return
	}
	finished := rep.FinishedAt
	c := storage.Cycle{
		ID:         rep.ID,
		FinishedAt: &finished,
		Status:     rep.Status,
		Loaded:     rep.Loaded,
		Eligible:   rep.Eligible,
		Excluded:   rep.Excluded,
		Sent:       rep.Sent,
		Failed:     rep.Failed,
		Skipped:    rep.Unassigned + rep.Malformed,
	}
	if cycleErr != nil {
		c.Error = cycleErr.Error()
	}
	if err := e.opts.Journal.FinishCycle(c); err != nil {
		e.logger.Error("journaling cycle finish", "cycle", rep.ID, "error", err)
	}
}

// RecentCycles reads the journal; without one it returns nothing.
func (e *Engine) RecentCycles(limit int) ([]storage.Cycle, error) {
	if e.opts.Journal == nil {
		return nil, nil
	}
	return e.opts.Journal.RecentCycles(limit)
}

// LeadStatus is the engine's current view of one lead.
type LeadStatus struct {
	Lead       *lead.Lead
	Resolved   *cadence.Resolved
	Error      error
	Eligible   bool
	Reason     eligibility.Reason
	Detail     string
	Assignment *assign.Assignment
}

// ErrLeadNotFound is returned by LeadStatus for an unknown email.
var ErrLeadNotFound = errors.New("lead not found")

// LeadStatus plans a dry run and reports what it decided for every row
// with the given email.
func (e *Engine) LeadStatus(ctx context.Context, email string) ([]LeadStatus, error) {
	p, err := e.Plan(ctx)
	if err != nil {
		return nil, err
	}
	matches := p.Snapshot.Lookup(email)
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrLeadNotFound, email)
	}

	out := make([]LeadStatus, 0, len(matches))
	for _, l := range matches {
		st := LeadStatus{Lead: l}
		for i := range p.Resolved {
			if p.Resolved[i].Lead == l {
				st.Resolved = &p.Resolved[i]
			}
		}
		for _, f := range p.Malformed {
			if f.Lead == l {
				st.Error = f.Err
			}
		}
		for _, x := range p.Filter.Excluded {
			if x.Lead == l {
				st.Reason, st.Detail = x.Reason, x.Detail
			}
		}
		for _, c := range p.Filter.Eligible {
			if c.Lead == l {
				st.Eligible = true
			}
		}
		for i := range p.Assignments {
			if p.Assignments[i].Lead == l {
				st.Assignment = &p.Assignments[i]
			}
		}
		for _, s := range p.Unassigned {
			if s.Lead == l {
				st.Error = s.Err
			}
		}
		out = append(out, st)
	}
	return out, nil
}
