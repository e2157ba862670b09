// Package pipeline runs outreach cycles: load the lead store, decide who is
// due, enroll them with the provider and write the advanced state back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/cadence/internal/advance"
	"github.com/kalambet/cadence/internal/assign"
	"github.com/kalambet/cadence/internal/cadence"
	"github.com/kalambet/cadence/internal/eligibility"
	"github.com/kalambet/cadence/internal/lead"
	"github.com/kalambet/cadence/internal/leadstore"
	"github.com/kalambet/cadence/internal/smartlead"
	"github.com/kalambet/cadence/internal/storage"
)

// Modes.
const (
	ModeAutomation = "automation"
	ModeConfirm    = "confirm"
)

// Sender enrolls one lead with the outreach provider.
type Sender interface {
	Send(ctx context.Context, e smartlead.Enrollment) (smartlead.Result, error)
}

// Journal records cycles and sends so that a send whose outcome never
// reached the lead store is re-applied instead of sent again.
type Journal interface {
	StartCycle(c storage.Cycle) error
	FinishCycle(c storage.Cycle) error
	RecordSend(s storage.Send) error
	FindSent(email, channel string, stepIndex int) (storage.Send, error)
	UnappliedSends() ([]storage.Send, error)
	MarkApplied(ids []string) error
	RecentCycles(limit int) ([]storage.Cycle, error)
}

// Options wires an Engine. Store, Sender and Assigner are required.
type Options struct {
	Store    leadstore.Store
	Sender   Sender
	Assigner *assign.Assigner
	// Journal is optional; without it a crash between send and save can
	// repeat a send.
	Journal Journal

	Channel       lead.Channel
	Cap           int
	CooldownDays  int
	DueWindowDays int

	Now    func() time.Time
	NewID  func() string
	Logger *slog.Logger
}

// Engine runs plans and cycles one at a time.
type Engine struct {
	opts     Options
	logger   *slog.Logger
	advancer advance.Advancer

	mu sync.Mutex
}

// New validates opts and fills defaults.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("pipeline: lead store is required")
	}
	if opts.Sender == nil {
		return nil, errors.New("pipeline: sender is required")
	}
	if opts.Assigner == nil {
		return nil, errors.New("pipeline: assigner is required")
	}
	if opts.Channel == "" {
		opts.Channel = lead.ChannelEmail
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		opts:     opts,
		logger:   opts.Logger,
		advancer: advance.Advancer{Logger: opts.Logger},
	}, nil
}

// Channel is the channel this engine acts on.
func (e *Engine) Channel() lead.Channel { return e.opts.Channel }

// Plan is everything a cycle decided before sending anything.
type Plan struct {
	At          time.Time
	Snapshot    *leadstore.Snapshot
	Resolved    []cadence.Resolved
	Malformed   []cadence.Failure
	Filter      eligibility.Result
	Assignments []assign.Assignment
	Unassigned  []assign.Skip
	// Replay is the result of re-applying journaled sends that never reached
	// the lead store.
	Replay advance.Report

	replayIDs []string
}

// Plan is a dry run: nothing is sent and nothing is saved.
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.plan(ctx)
}

func (e *Engine) plan(ctx context.Context) (*Plan, error) {
	now := e.opts.Now()
	snap, err := e.opts.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	p := &Plan{At: now, Snapshot: snap}

	if err := e.replay(p); err != nil {
		return nil, err
	}

	p.Resolved, p.Malformed = cadence.ResolveAll(snap.Leads, snap.Schema, now)
	for _, f := range p.Malformed {
		e.logger.Warn("skipping malformed lead", "lead", f.Lead.String(), "error", f.Err)
	}

	p.Filter = eligibility.Filter(p.Resolved, eligibility.Params{
		Channel:       e.opts.Channel,
		Cap:           e.opts.Cap,
		CooldownDays:  e.opts.CooldownDays,
		DueWindowDays: e.opts.DueWindowDays,
		Now:           now,
		Duplicates:    lead.DuplicateEmails(snap.Leads),
	})
	for email, group := range p.Filter.Duplicates {
		rows := make([]int, len(group))
		for i, l := range group {
			rows[i] = l.Row
		}
		e.logger.Warn("needs manual resolution",
			"error", fmt.Errorf("%w %s", lead.ErrDuplicateEmail, email), "rows", rows)
	}

	p.Assignments, p.Unassigned = e.opts.Assigner.AssignAll(ctx, p.Filter.Eligible)

	e.logger.Debug("planned cycle",
		"leads", len(snap.Leads),
		"eligible", len(p.Filter.Eligible),
		"excluded", len(p.Filter.Excluded),
		"assigned", len(p.Assignments),
	)
	return p, nil
}

// replay applies journaled successful sends that were never marked applied.
func (e *Engine) replay(p *Plan) error {
	if e.opts.Journal == nil {
		return nil
	}
	pending, err := e.opts.Journal.UnappliedSends()
	if err != nil {
		return fmt.Errorf("reading send journal: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}
	outcomes := make([]advance.Outcome, len(pending))
	for i, s := range pending {
		outcomes[i] = outcomeFromJournal(s)
		p.replayIDs = append(p.replayIDs, s.ID)
	}
	p.Replay = e.advancer.Advance(p.Snapshot.Leads, outcomes)
	e.logger.Info("replayed journaled sends",
		"pending", len(pending), "applied", p.Replay.Applied, "already_recorded", p.Replay.Replayed)
	return nil
}

func outcomeFromJournal(s storage.Send) advance.Outcome {
	return advance.Outcome{
		Email:      s.Email,
		Channel:    lead.Channel(s.Channel),
		StepIndex:  s.StepIndex,
		SentAt:     s.SentAt,
		Success:    s.Status == storage.SendSent,
		CampaignID: s.CampaignID,
		Template:   s.Template,
	}
}

// SendFailure is one lead the provider did not accept.
type SendFailure struct {
	Lead *lead.Lead
	Err  error
}

// Execution is the result of sending a plan.
type Execution struct {
	Outcomes    []advance.Outcome
	Sent        int
	Failed      []SendFailure
	JournalHits int
	Advanced    advance.Report
	Saved       bool
}

// Execute sends every assignment of p, advances the leads and saves the
// store once. A failed send never stops the batch. Cancellation stops
// further sends; whatever was already sent is still saved.
func (e *Engine) Execute(ctx context.Context, p *Plan, cycleID string) (*Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execute(ctx, p, cycleID)
}

func (e *Engine) execute(ctx context.Context, p *Plan, cycleID string) (*Execution, error) {
	ex := &Execution{}
	var sentIDs []string

	for _, as := range p.Assignments {
		if ctx.Err() != nil {
			e.logger.Info("cycle cancelled, stopping sends", "remaining", len(p.Assignments)-len(ex.Outcomes))
			break
		}

		if prior, ok := e.journaled(as); ok {
			ex.JournalHits++
			ex.Outcomes = append(ex.Outcomes, outcomeFromJournal(prior))
			sentIDs = append(sentIDs, prior.ID)
			e.logger.Info("already sent, reapplying", "lead", as.Lead.String(), "step", as.Next.StepIndex, "sent_at", prior.SentAt)
			continue
		}

		_, err := e.opts.Sender.Send(ctx, enrollment(as))
		out := advance.Outcome{
			Email:      as.Lead.Email,
			Channel:    as.Channel,
			StepIndex:  as.Next.StepIndex,
			SentAt:     e.opts.Now(),
			Success:    err == nil,
			CampaignID: as.CampaignID,
			Template:   as.Template,
			Err:        err,
		}
		ex.Outcomes = append(ex.Outcomes, out)
		if err != nil {
			ex.Failed = append(ex.Failed, SendFailure{Lead: as.Lead, Err: err})
			e.logger.Warn("send failed", "lead", as.Lead.String(), "campaign", as.CampaignID, "error", err)
		} else {
			ex.Sent++
			e.logger.Info("enrolled lead", "lead", as.Lead.String(), "campaign", as.CampaignID, "template", as.Template)
		}
		if id, ok := e.record(cycleID, as, out); ok && out.Success {
			sentIDs = append(sentIDs, id)
		}
	}

	ex.Advanced = e.advancer.Advance(p.Snapshot.Leads, ex.Outcomes)

	if ex.Advanced.Applied == 0 && p.Replay.Applied == 0 {
		e.markApplied(append(p.replayIDs, sentIDs...))
		return ex, nil
	}
	// The save must survive a cancelled cycle context.
	if err := e.opts.Store.Save(context.WithoutCancel(ctx), p.Snapshot); err != nil {
		return ex, fmt.Errorf("saving lead store: %w", err)
	}
	ex.Saved = true
	e.markApplied(append(p.replayIDs, sentIDs...))
	return ex, nil
}

func (e *Engine) journaled(as assign.Assignment) (storage.Send, bool) {
	if e.opts.Journal == nil {
		return storage.Send{}, false
	}
	prior, err := e.opts.Journal.FindSent(as.Lead.Email, string(as.Channel), as.Next.StepIndex)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			e.logger.Warn("journal lookup failed", "lead", as.Lead.String(), "error", err)
		}
		return storage.Send{}, false
	}
	return prior, true
}

func (e *Engine) record(cycleID string, as assign.Assignment, out advance.Outcome) (string, bool) {
	if e.opts.Journal == nil || cycleID == "" {
		return "", false
	}
	s := storage.Send{
		ID:          e.opts.NewID(),
		CycleID:     cycleID,
		Email:       out.Email,
		Channel:     string(out.Channel),
		StepIndex:   out.StepIndex,
		ChannelStep: as.ChannelStep,
		CampaignID:  out.CampaignID,
		Template:    out.Template,
		SentAt:      out.SentAt,
		Status:      storage.SendSent,
	}
	if out.Err != nil {
		s.Status = storage.SendFailed
		s.Error = out.Err.Error()
	}
	if err := e.opts.Journal.RecordSend(s); err != nil {
		e.logger.Error("journaling send", "lead", as.Lead.String(), "error", err)
		return "", false
	}
	return s.ID, true
}

func (e *Engine) markApplied(ids []string) {
	if e.opts.Journal == nil || len(ids) == 0 {
		return
	}
	if err := e.opts.Journal.MarkApplied(ids); err != nil {
		e.logger.Error("marking sends applied", "error", err)
	}
}

func enrollment(as assign.Assignment) smartlead.Enrollment {
	l := as.Lead
	fields := map[string]string{
		"template":     as.Template,
		"channel":      string(as.Channel),
		"channel_step": strconv.Itoa(as.ChannelStep),
		"cadence_day":  strconv.Itoa(as.Next.DayOffset),
	}
	if l.ID != "" {
		fields["lead_id"] = l.ID
	}
	return smartlead.Enrollment{
		CampaignID:   as.CampaignID,
		Email:        l.Email,
		FirstName:    l.FirstName,
		LastName:     l.LastName,
		Company:      l.Company,
		CustomFields: fields,
	}
}
