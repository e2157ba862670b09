package cadence

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/cadence/internal/lead"
)

// NextAction is the first step of a lead that has no completion marker.
type NextAction struct {
	StepIndex int
	DayOffset int
	Action    string
	DaysUntil int
}

// Channel maps the step's action label to a channel.
func (n NextAction) Channel() (lead.Channel, bool) {
	ch, err := lead.ParseChannel(n.Action)
	return ch, err == nil
}

// Resolved is a lead together with its derived cadence position. It is
// recomputed every cycle and never persisted.
type Resolved struct {
	Lead           *lead.Lead
	DaysSinceStart int
	// Next is nil once every step is complete.
	Next *NextAction
}

// Complete reports the terminal cadence-complete state.
func (r Resolved) Complete() bool {
	return r.Next == nil
}

// Due reports whether the next step falls within window days. Overdue
// steps (negative DaysUntil) are due.
func (r Resolved) Due(window int) bool {
	return r.Next != nil && r.Next.DaysUntil <= window
}

// Resolve computes the lead's next step relative to now.
func Resolve(l *lead.Lead, s Schema, now time.Time) (Resolved, error) {
	if len(l.Problems) > 0 {
		return Resolved{}, fmt.Errorf("%w: %s: %s", lead.ErrMalformedRecord, l, strings.Join(l.Problems, "; "))
	}
	if l.StartDate == nil {
		return Resolved{}, fmt.Errorf("%w: %s: missing start date", lead.ErrMalformedRecord, l)
	}
	if len(l.Steps) != len(s.Steps) {
		return Resolved{}, fmt.Errorf("%w: %s: has %d steps, cadence has %d", lead.ErrMalformedRecord, l, len(l.Steps), len(s.Steps))
	}

	r := Resolved{
		Lead:           l,
		DaysSinceStart: lead.DaysBetween(*l.StartDate, now),
	}
	for _, def := range s.Steps {
		st := l.Steps[def.Index]
		if st.Done() {
			continue
		}
		r.Next = &NextAction{
			StepIndex: def.Index,
			DayOffset: def.DayOffset,
			Action:    strings.TrimSpace(st.Action),
			DaysUntil: def.DayOffset - r.DaysSinceStart,
		}
		break
	}
	return r, nil
}

// Failure is a lead that could not be resolved this cycle.
type Failure struct {
	Lead *lead.Lead
	Err  error
}

// ResolveAll resolves every lead. Malformed leads are returned as failures
// and do not stop the batch.
func ResolveAll(leads []*lead.Lead, s Schema, now time.Time) ([]Resolved, []Failure) {
	resolved := make([]Resolved, 0, len(leads))
	var failures []Failure
	for _, l := range leads {
		r, err := Resolve(l, s, now)
		if err != nil {
			failures = append(failures, Failure{Lead: l, Err: err})
			continue
		}
		resolved = append(resolved, r)
	}
	return resolved, failures
}
