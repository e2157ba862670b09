// Package eligibility narrows the resolved leads of a cycle down to the
// ones that may be contacted automatically on a channel.
package eligibility

import (
	"fmt"
	"time"

	"github.com/kalambet/cadence/internal/cadence"
	"github.com/kalambet/cadence/internal/lead"
)

// Defaults substituted for out-of-range Params. Zero is a valid cooldown and
// due window, so only negative values fall back.
const (
	DefaultCap           = 4
	DefaultCooldownDays  = 90
	DefaultDueWindowDays = 1
)

// Reason names the stage that excluded a lead.
type Reason string

const (
	ReasonPaused          Reason = "paused"
	ReasonCadenceComplete Reason = "cadence_complete"
	ReasonOtherChannel    Reason = "other_channel"
	ReasonNotDue          Reason = "not_due"
	ReasonMissingEmail    Reason = "missing_email"
	ReasonCapReached      Reason = "cap_reached"
	ReasonCooldown        Reason = "cooldown"
	ReasonDuplicateEmail  Reason = "duplicate_email"
)

// Params configures one filter pass.
type Params struct {
	Channel       lead.Channel
	Cap           int
	CooldownDays  int
	DueWindowDays int
	Now           time.Time
	// Duplicates is the duplicate-email index of the whole loaded population.
	// When nil it is computed from the resolved input.
	Duplicates map[string][]*lead.Lead
}

func (p Params) withDefaults() Params {
	if p.Cap <= 0 {
		p.Cap = DefaultCap
	}
	if p.CooldownDays < 0 {
		p.CooldownDays = DefaultCooldownDays
	}
	if p.DueWindowDays < 0 {
		p.DueWindowDays = DefaultDueWindowDays
	}
	return p
}

// Candidate is a lead that passed every stage.
type Candidate struct {
	cadence.Resolved
	// ChannelStep is the 1-based attempt about to be made on the channel.
	ChannelStep int
}

// Exclusion records why a lead was dropped.
type Exclusion struct {
	Lead   *lead.Lead
	Reason Reason
	Detail string
}

// Result is the outcome of a filter pass.
type Result struct {
	Eligible []Candidate
	Excluded []Exclusion
	// Duplicates lists the colliding leads behind every duplicate_email
	// exclusion, for manual resolution.
	Duplicates map[string][]*lead.Lead
}

// Count returns the number of exclusions for a reason.
func (r Result) Count(reason Reason) int {
	n := 0
	for _, e := range r.Excluded {
		if e.Reason == reason {
			n++
		}
	}
	return n
}

// stage returns an empty Reason to keep the lead.
type stage func(r cadence.Resolved) (Reason, string)

func stages(p Params) []stage {
	return []stage{
		func(r cadence.Resolved) (Reason, string) {
			if r.Lead.Paused() {
				return ReasonPaused, fmt.Sprintf("pause trigger %q", r.Lead.PauseTrigger)
			}
			return "", ""
		},
		func(r cadence.Resolved) (Reason, string) {
			if r.Complete() {
				return ReasonCadenceComplete, "all steps complete"
			}
			ch, ok := r.Next.Channel()
			if !ok || ch != p.Channel {
				return ReasonOtherChannel, fmt.Sprintf("next action is %q", r.Next.Action)
			}
			return "", ""
		},
		func(r cadence.Resolved) (Reason, string) {
			if !r.Due(p.DueWindowDays) {
				return ReasonNotDue, fmt.Sprintf("due in %d days", r.Next.DaysUntil)
			}
			return "", ""
		},
		func(r cadence.Resolved) (Reason, string) {
			if r.Lead.Key() == "" {
				return ReasonMissingEmail, "no email address"
			}
			return "", ""
		},
		func(r cadence.Resolved) (Reason, string) {
			if sent := r.Lead.AttemptsSent[p.Channel]; sent >= p.Cap {
				return ReasonCapReached, fmt.Sprintf("%d of %d attempts used", sent, p.Cap)
			}
			return "", ""
		},
		func(r cadence.Resolved) (Reason, string) {
			last := r.Lead.LastCampaignStartedOn
			if last == nil {
				return "", ""
			}
			if since := lead.DaysBetween(*last, p.Now); since < p.CooldownDays {
				return ReasonCooldown, fmt.Sprintf("last campaign %d days ago, cooldown %d", since, p.CooldownDays)
			}
			return "", ""
		},
		func(r cadence.Resolved) (Reason, string) {
			if group, dup := p.Duplicates[r.Lead.Key()]; dup {
				return ReasonDuplicateEmail, fmt.Sprintf("%s shared by %d rows", r.Lead.Key(), len(group))
			}
			return "", ""
		},
	}
}

// Filter applies the stages in order. The first failing stage excludes the
// lead; the input is never modified.
func Filter(resolved []cadence.Resolved, p Params) Result {
	p = p.withDefaults()
	if p.Duplicates == nil {
		leads := make([]*lead.Lead, len(resolved))
		for i, r := range resolved {
			leads[i] = r.Lead
		}
		p.Duplicates = lead.DuplicateEmails(leads)
	}

	res := Result{Duplicates: make(map[string][]*lead.Lead)}
	checks := stages(p)

next:
	for _, r := range resolved {
		for _, check := range checks {
			reason, detail := check(r)
			if reason == "" {
				continue
			}
			res.Excluded = append(res.Excluded, Exclusion{Lead: r.Lead, Reason: reason, Detail: detail})
			if reason == ReasonDuplicateEmail {
				res.Duplicates[r.Lead.Key()] = p.Duplicates[r.Lead.Key()]
			}
			continue next
		}
		res.Eligible = append(res.Eligible, Candidate{
			Resolved:    r,
			ChannelStep: r.Lead.AttemptsSent[p.Channel] + 1,
		})
	}
	return res
}
