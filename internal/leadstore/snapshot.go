package leadstore

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/cadence/internal/cadence"
	"github.com/kalambet/cadence/internal/lead"
)

// Snapshot is one full read of the lead store.
type Snapshot struct {
	Columns []string
	Schema  cadence.Schema
	Leads   []*lead.Lead

	channels []lead.Channel
	header   []string
	rows     [][]string
	col      map[string]int
}

// Lookup returns every lead whose normalized email matches.
func (s *Snapshot) Lookup(email string) []*lead.Lead {
	key := lead.NormalizeEmail(email)
	var out []*lead.Lead
	for _, l := range s.Leads {
		if l.Key() == key {
			out = append(out, l)
		}
	}
	return out
}

func (s *Snapshot) index() {
	s.col = make(map[string]int, len(s.Columns))
	for i, c := range s.Columns {
		if _, dup := s.col[c]; !dup {
			s.col[c] = i
		}
	}
}

func (s *Snapshot) cell(row []string, name string) string {
	i, ok := s.col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// decode builds a lead from data row i (0-based).
func (s *Snapshot) decode(i int, row []string) *lead.Lead {
	l := lead.New()
	l.Row = i + 1
	l.ID = trimmed(s.cell(row, cadence.ColID))
	l.Email = trimmed(s.cell(row, cadence.ColEmail))
	l.FirstName = trimmed(s.cell(row, cadence.ColFirstName))
	l.LastName = trimmed(s.cell(row, cadence.ColLastName))
	l.Company = trimmed(s.cell(row, cadence.ColCompany))
	l.PauseTrigger = trimmed(s.cell(row, cadence.ColPauseTrigger))

	date := func(col string) *time.Time {
		t, err := lead.ParseDate(s.cell(row, col))
		if err != nil {
			l.Problems = append(l.Problems, fmt.Sprintf("%q: %v", col, err))
		}
		return t
	}

	l.StartDate = date(cadence.ColStartDate)
	l.LastActionOn = date(cadence.ColLastActionDate)
	l.LastCampaignStartedOn = date(cadence.ColLastCampaignDate)

	for _, ch := range s.channels {
		n, err := lead.ParseCount(s.cell(row, cadence.SentCountColumn(ch)))
		if err != nil {
			l.Problems = append(l.Problems, fmt.Sprintf("%q: %v", cadence.SentCountColumn(ch), err))
		}
		l.AttemptsSent[ch] = n
		if t := date(cadence.FirstActionColumn(ch)); t != nil {
			l.FirstActionOn[ch] = t
		}
	}

	l.Steps = make([]lead.Step, len(s.Schema.Steps))
	for j, def := range s.Schema.Steps {
		step := lead.Step{Action: trimmed(s.cell(row, def.ActionColumn))}
		raw := s.cell(row, def.CompleteColumn)
		if t, err := lead.ParseDate(raw); err == nil {
			step.CompletedOn = t
		} else {
			step.Marker = trimmed(raw)
		}
		l.Steps[j] = step
	}
	return l
}

// encode writes the managed fields of l into its raw row and reports
// whether any cell changed. Leads that failed to parse are left untouched.
func (s *Snapshot) encode(l *lead.Lead) bool {
	if len(l.Problems) > 0 || l.Row < 1 || l.Row > len(s.rows) {
		return false
	}
	row := s.rows[l.Row-1]
	if len(row) < len(s.Columns) {
		row = pad(row, len(s.Columns))
	}

	changed := false
	setDate := func(col string, t *time.Time) {
		i, ok := s.col[col]
		if !ok || t == nil {
			return
		}
		if cur, err := lead.ParseDate(row[i]); err == nil && cur != nil && cur.Equal(lead.Day(*t)) {
			return
		}
		row[i] = lead.FormatDate(t)
		changed = true
	}

	for _, ch := range s.channels {
		if i, ok := s.col[cadence.SentCountColumn(ch)]; ok {
			if cur, err := lead.ParseCount(row[i]); err != nil || cur != l.AttemptsSent[ch] {
				row[i] = strconv.Itoa(l.AttemptsSent[ch])
				changed = true
			}
		}
		setDate(cadence.FirstActionColumn(ch), l.FirstActionOn[ch])
	}
	setDate(cadence.ColLastActionDate, l.LastActionOn)
	for j, def := range s.Schema.Steps {
		if j < len(l.Steps) {
			setDate(def.CompleteColumn, l.Steps[j].CompletedOn)
		}
	}

	s.rows[l.Row-1] = row
	return changed
}

// table is the header plus data rows, ready for a codec.
func (s *Snapshot) table() [][]string {
	out := make([][]string, 0, len(s.rows)+1)
	out = append(out, s.header)
	return append(out, s.rows...)
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
