// Package advance applies send outcomes to lead records. It is the only
// code that writes attempt counters, step completion and action dates.
package advance

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/cadence/internal/lead"
)

// Outcome is the result of one send attempt.
type Outcome struct {
	Email      string
	Channel    lead.Channel
	StepIndex  int
	SentAt     time.Time
	Success    bool
	CampaignID string
	Template   string
	Err        error
}

func (o Outcome) key() string {
	return fmt.Sprintf("%s#%d", lead.NormalizeEmail(o.Email), o.StepIndex)
}

// Report counts what happened to each outcome of a batch.
type Report struct {
	Applied  int
	Replayed int
	Failed   int
	// Unmatched holds outcomes whose email matched no lead or more than one.
	Unmatched []Outcome
	// Changed lists the leads modified by this batch.
	Changed []*lead.Lead
}

// Advancer applies outcomes; the zero value logs to slog.Default.
type Advancer struct {
	Logger *slog.Logger
}

// Advance applies a batch with the default logger.
func Advance(leads []*lead.Lead, outcomes []Outcome) Report {
	return Advancer{}.Advance(leads, outcomes)
}

// Advance mutates the matched leads in place. Completion dates are
// write-once, so applying the same outcome twice never double counts.
// Persisting the leads is left to the caller.
func (a Advancer) Advance(leads []*lead.Lead, outcomes []Outcome) Report {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	index := make(map[string][]*lead.Lead, len(leads))
	for _, l := range leads {
		if k := l.Key(); k != "" {
			index[k] = append(index[k], l)
		}
	}

	var rep Report
	seen := make(map[string]bool)
	changed := make(map[*lead.Lead]bool)

	for _, o := range outcomes {
		if !o.Success {
			rep.Failed++
			continue
		}
		if seen[o.key()] {
			rep.Replayed++
			continue
		}
		seen[o.key()] = true

		matches := index[lead.NormalizeEmail(o.Email)]
		if len(matches) != 1 {
			logger.Warn("dropping outcome for unknown lead",
				"email", o.Email, "step", o.StepIndex, "matches", len(matches))
			rep.Unmatched = append(rep.Unmatched, o)
			continue
		}
		l := matches[0]

		if o.StepIndex < 0 || o.StepIndex >= len(l.Steps) {
			logger.Warn("dropping outcome for out of range step",
				"lead", l.String(), "step", o.StepIndex, "steps", len(l.Steps))
			rep.Unmatched = append(rep.Unmatched, o)
			continue
		}
		if l.Steps[o.StepIndex].Done() {
			logger.Debug("step already complete", "lead", l.String(), "step", o.StepIndex)
			rep.Replayed++
			continue
		}

		apply(l, o)
		rep.Applied++
		if !changed[l] {
			changed[l] = true
			rep.Changed = append(rep.Changed, l)
		}
		logger.Info("advanced lead",
			"lead", l.String(), "channel", o.Channel, "step", o.StepIndex,
			"attempts", l.AttemptsSent[o.Channel])
	}
	return rep
}

func apply(l *lead.Lead, o Outcome) {
	day := lead.Day(o.SentAt)
	if l.AttemptsSent == nil {
		l.AttemptsSent = make(map[lead.Channel]int)
	}
	if l.FirstActionOn == nil {
		l.FirstActionOn = make(map[lead.Channel]*time.Time)
	}

	l.AttemptsSent[o.Channel]++
	completed := day
	l.Steps[o.StepIndex].CompletedOn = &completed
	last := day
	l.LastActionOn = &last
	if l.FirstActionOn[o.Channel] == nil {
		first := day
		l.FirstActionOn[o.Channel] = &first
	}
}
