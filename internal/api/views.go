package api

import (
	"sort"
	"time"

	"github.com/kalambet/cadence/internal/lead"
	"github.com/kalambet/cadence/internal/pipeline"
	"github.com/kalambet/cadence/internal/storage"
)

type AssignmentView struct {
	Row         int    `json:"row"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	Channel     string `json:"channel"`
	ChannelStep int    `json:"channel_step"`
	StepIndex   int    `json:"step_index"`
	DayOffset   int    `json:"day_offset"`
	DaysUntil   int    `json:"days_until"`
	CampaignID  string `json:"campaign_id"`
	Template    string `json:"template"`
}

type ExclusionView struct {
	Row    int    `json:"row"`
	Email  string `json:"email"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type SkipView struct {
	Row   int    `json:"row"`
	Email string `json:"email"`
	Error string `json:"error"`
}

type PlanView struct {
	At              string           `json:"at"`
	Loaded          int              `json:"loaded"`
	Replayed        int              `json:"replayed"`
	Assignments     []AssignmentView `json:"assignments"`
	Excluded        []ExclusionView  `json:"excluded"`
	Skipped         []SkipView       `json:"skipped"`
	ExclusionCounts map[string]int   `json:"exclusion_counts"`
	Duplicates      map[string][]int `json:"duplicates,omitempty"`
}

func NewPlanView(p *pipeline.Plan) PlanView {
	v := PlanView{
		At:              p.At.UTC().Format(time.RFC3339),
		Replayed:        p.Replay.Applied,
		Assignments:     []AssignmentView{},
		Excluded:        []ExclusionView{},
		Skipped:         []SkipView{},
		ExclusionCounts: map[string]int{},
	}
	if p.Snapshot != nil {
		v.Loaded = len(p.Snapshot.Leads)
	}
	for _, as := range p.Assignments {
		av := AssignmentView{
			Row:         as.Lead.Row,
			Email:       as.Lead.Email,
			Name:        as.Lead.Name(),
			Channel:     string(as.Channel),
			ChannelStep: as.ChannelStep,
			CampaignID:  as.CampaignID,
			Template:    as.Template,
		}
		if as.Next != nil {
			av.StepIndex = as.Next.StepIndex
			av.DayOffset = as.Next.DayOffset
			av.DaysUntil = as.Next.DaysUntil
		}
		v.Assignments = append(v.Assignments, av)
	}
	for _, x := range p.Filter.Excluded {
		v.Excluded = append(v.Excluded, ExclusionView{
			Row: x.Lead.Row, Email: x.Lead.Email, Reason: string(x.Reason), Detail: x.Detail,
		})
		v.ExclusionCounts[string(x.Reason)]++
	}
	for _, f := range p.Malformed {
		v.Skipped = append(v.Skipped, SkipView{Row: f.Lead.Row, Email: f.Lead.Email, Error: f.Err.Error()})
	}
	for _, s := range p.Unassigned {
		v.Skipped = append(v.Skipped, SkipView{Row: s.Lead.Row, Email: s.Lead.Email, Error: s.Err.Error()})
	}
	if len(p.Filter.Duplicates) > 0 {
		v.Duplicates = make(map[string][]int, len(p.Filter.Duplicates))
		for email, group := range p.Filter.Duplicates {
			rows := make([]int, len(group))
			for i, l := range group {
				rows[i] = l.Row
			}
			sort.Ints(rows)
			v.Duplicates[email] = rows
		}
	}
	return v
}

type CycleView struct {
	ID         string  `json:"id"`
	StartedAt  string  `json:"started_at"`
	FinishedAt *string `json:"finished_at,omitempty"`
	Mode       string  `json:"mode"`
	Channel    string  `json:"channel"`
	Status     string  `json:"status"`
	Loaded     int     `json:"loaded"`
	Eligible   int     `json:"eligible"`
	Excluded   int     `json:"excluded"`
	Sent       int     `json:"sent"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	Error      string  `json:"error,omitempty"`
}

func NewCycleViews(cycles []storage.Cycle) []CycleView {
	out := make([]CycleView, len(cycles))
	for i, c := range cycles {
		out[i] = CycleView{
			ID:        c.ID,
			StartedAt: c.StartedAt.UTC().Format(time.RFC3339),
			Mode:      c.Mode,
			Channel:   c.Channel,
			Status:    c.Status,
			Loaded:    c.Loaded,
			Eligible:  c.Eligible,
			Excluded:  c.Excluded,
			Sent:      c.Sent,
			Failed:    c.Failed,
			Skipped:   c.Skipped,
			Error:     c.Error,
		}
		if c.FinishedAt != nil {
			f := c.FinishedAt.UTC().Format(time.RFC3339)
			out[i].FinishedAt = &f
		}
	}
	return out
}

type NextStepView struct {
	StepIndex int    `json:"step_index"`
	DayOffset int    `json:"day_offset"`
	Action    string `json:"action"`
	DaysUntil int    `json:"days_until"`
}

type LeadView struct {
	Row            int            `json:"row"`
	Email          string         `json:"email"`
	Name           string         `json:"name,omitempty"`
	Paused         bool           `json:"paused"`
	StartDate      string         `json:"start_date,omitempty"`
	DaysSinceStart *int           `json:"days_since_start,omitempty"`
	Complete       bool           `json:"cadence_complete"`
	Next           *NextStepView  `json:"next,omitempty"`
	AttemptsSent   map[string]int `json:"attempts_sent"`
	LastActionDate string         `json:"last_action_date,omitempty"`
	Eligible       bool           `json:"eligible"`
	Reason         string         `json:"reason,omitempty"`
	Detail         string         `json:"detail,omitempty"`
	Error          string         `json:"error,omitempty"`
	CampaignID     string         `json:"campaign_id,omitempty"`
	Template       string         `json:"template,omitempty"`
}

func NewLeadView(st pipeline.LeadStatus) LeadView {
	l := st.Lead
	v := LeadView{
		Row:            l.Row,
		Email:          l.Email,
		Name:           l.Name(),
		Paused:         l.Paused(),
		StartDate:      lead.FormatDate(l.StartDate),
		AttemptsSent:   map[string]int{},
		LastActionDate: lead.FormatDate(l.LastActionOn),
		Eligible:       st.Eligible,
		Reason:         string(st.Reason),
		Detail:         st.Detail,
	}
	for ch, n := range l.AttemptsSent {
		v.AttemptsSent[string(ch)] = n
	}
	if st.Resolved != nil {
		days := st.Resolved.DaysSinceStart
		v.DaysSinceStart = &days
		v.Complete = st.Resolved.Complete()
		if n := st.Resolved.Next; n != nil {
			v.Next = &NextStepView{StepIndex: n.StepIndex, DayOffset: n.DayOffset, Action: n.Action, DaysUntil: n.DaysUntil}
		}
	}
	if st.Error != nil {
		v.Error = st.Error.Error()
	}
	if st.Assignment != nil {
		v.CampaignID = st.Assignment.CampaignID
		v.Template = st.Assignment.Template
	}
	return v
}
