// Package assign maps eligible leads to provider campaigns and message
// templates.
package assign

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"

	"github.com/kalambet/cadence/internal/eligibility"
	"github.com/kalambet/cadence/internal/lead"
)

// CampaignTable maps a 1-based channel step to a provider campaign id.
type CampaignTable map[int]string

// ParseCampaignTable reads "1:1432101,2:1432102" style text.
func ParseCampaignTable(s string) (CampaignTable, error) {
	table := make(CampaignTable)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		step, id, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("campaign entry %q: want <step>:<campaign id>", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(step))
		if err != nil || n < 1 {
			return nil, fmt.Errorf("campaign entry %q: step must be a positive integer", part)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("campaign entry %q: empty campaign id", part)
		}
		if _, dup := table[n]; dup {
			return nil, fmt.Errorf("campaign entry %q: step %d mapped twice", part, n)
		}
		table[n] = id
	}
	return table, nil
}

func (t CampaignTable) String() string {
	steps := make([]int, 0, len(t))
	for s := range t {
		steps = append(steps, s)
	}
	sort.Ints(steps)
	parts := make([]string, len(steps))
	for i, s := range steps {
		parts[i] = fmt.Sprintf("%d:%s", s, t[s])
	}
	return strings.Join(parts, ",")
}

// Assignment is an eligible lead with its campaign and template attached.
type Assignment struct {
	eligibility.Candidate
	Channel    lead.Channel
	CampaignID string
	Template   string
}

// Skip is a candidate that could not be assigned.
type Skip struct {
	Lead *lead.Lead
	Err  error
}

// Assigner resolves assignments for one channel.
type Assigner struct {
	channel   lead.Channel
	campaigns CampaignTable
	cohort    string
	registry  TemplateRegistry
	pick      func(n int) int
	logger    *slog.Logger
}

// Option customises an Assigner.
type Option func(*Assigner)

// WithPicker replaces the uniform random variant picker.
func WithPicker(pick func(n int) int) Option {
	return func(a *Assigner) { a.pick = pick }
}

// WithLogger sets the logger used for skipped candidates.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assigner) { a.logger = l }
}

// New creates an Assigner. A nil registry means no template variants exist.
func New(channel lead.Channel, campaigns CampaignTable, cohort string, registry TemplateRegistry, opts ...Option) *Assigner {
	a := &Assigner{
		channel:   channel,
		campaigns: campaigns,
		cohort:    cohort,
		registry:  registry,
		pick:      rand.IntN,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// BaseTemplate is "<cohort>_<channel><step>", e.g. "call0325_email1".
func (a *Assigner) BaseTemplate(step int) string {
	name := fmt.Sprintf("%s%d", strings.ToLower(string(a.channel)), step)
	if a.cohort == "" {
		return name
	}
	return a.cohort + "_" + name
}

// Assign resolves the campaign and template for one candidate.
func (a *Assigner) Assign(ctx context.Context, c eligibility.Candidate) (Assignment, error) {
	campaign, ok := a.campaigns[c.ChannelStep]
	if !ok {
		return Assignment{}, fmt.Errorf("%w %d (%s)", lead.ErrUnmappedStep, c.ChannelStep, c.Lead)
	}
	tmpl, err := a.template(ctx, c.ChannelStep)
	if err != nil {
		return Assignment{}, fmt.Errorf("choosing template for %s: %w", c.Lead, err)
	}
	return Assignment{
		Candidate:  c,
		Channel:    a.channel,
		CampaignID: campaign,
		Template:   tmpl,
	}, nil
}

func (a *Assigner) template(ctx context.Context, step int) (string, error) {
	base := a.BaseTemplate(step)
	if a.registry == nil {
		return base, nil
	}
	varA, varB := base+"_varA", base+"_varB"
	hasA, err := a.registry.Exists(ctx, varA)
	if err != nil {
		return "", err
	}
	hasB, err := a.registry.Exists(ctx, varB)
	if err != nil {
		return "", err
	}
	switch {
	case hasA && hasB:
		if a.pick(2) == 0 {
			return varA, nil
		}
		return varB, nil
	case hasA:
		return varA, nil
	default:
		// A lone B variant is not a test; fall back to the base template.
		return base, nil
	}
}

// AssignAll assigns every candidate; failures are skipped, not fatal.
func (a *Assigner) AssignAll(ctx context.Context, cands []eligibility.Candidate) ([]Assignment, []Skip) {
	var out []Assignment
	var skips []Skip
	for _, c := range cands {
		as, err := a.Assign(ctx, c)
		if err != nil {
			a.logger.Warn("skipping lead", "lead", c.Lead.String(), "error", err)
			skips = append(skips, Skip{Lead: c.Lead, Err: err})
			continue
		}
		out = append(out, as)
	}
	return out, skips
}
