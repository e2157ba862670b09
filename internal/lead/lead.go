package lead

import (
	"fmt"
	"strings"
	"time"
)

// Channel is an outreach medium with its own attempt counter and cap.
type Channel string

const (
	ChannelEmail Channel = "Email"
	ChannelCall  Channel = "Call"
)

// ParseChannel matches a channel label case-insensitively.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return ChannelEmail, nil
	case "call":
		return ChannelCall, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// Step is one cadence step as recorded on a lead.
type Step struct {
	Action      string
	CompletedOn *time.Time
	// Marker holds a non-date completion cell ("done", "x") so it survives a save.
	Marker string
}

// Done reports whether the step carries a completion marker of any kind.
func (s Step) Done() bool {
	return s.CompletedOn != nil || strings.TrimSpace(s.Marker) != ""
}

// Lead is one contact row of the lead store.
type Lead struct {
	Row       int
	ID        string
	Email     string
	FirstName string
	LastName  string
	Company   string

	PauseTrigger string
	StartDate    *time.Time
	Steps        []Step

	AttemptsSent          map[Channel]int
	FirstActionOn         map[Channel]*time.Time
	LastActionOn          *time.Time
	LastCampaignStartedOn *time.Time

	// Problems collects parse failures found while loading the row.
	Problems []string
}

// New returns a Lead with its per-channel maps allocated.
func New() *Lead {
	return &Lead{
		AttemptsSent:  make(map[Channel]int),
		FirstActionOn: make(map[Channel]*time.Time),
	}
}

// Key is the normalized email that identifies the lead.
func (l *Lead) Key() string {
	return NormalizeEmail(l.Email)
}

// Paused reports whether an external pause trigger is set.
func (l *Lead) Paused() bool {
	return strings.TrimSpace(l.PauseTrigger) != ""
}

// Name is "First Last" for display.
func (l *Lead) Name() string {
	return strings.TrimSpace(l.FirstName + " " + l.LastName)
}

func (l *Lead) String() string {
	if n := l.Name(); n != "" {
		return fmt.Sprintf("%s <%s>", n, l.Email)
	}
	return fmt.Sprintf("row %d <%s>", l.Row, l.Email)
}

// NormalizeEmail trims and lower-cases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// DuplicateEmails groups leads by normalized email and keeps only the
// addresses seen more than once. Empty addresses are ignored.
func DuplicateEmails(leads []*Lead) map[string][]*Lead {
	groups := make(map[string][]*Lead)
	for _, l := range leads {
		k := l.Key()
		if k == "" {
			continue
		}
		groups[k] = append(groups[k], l)
	}
	for k, g := range groups {
		if len(g) < 2 {
			delete(groups, k)
		}
	}
	return groups
}
