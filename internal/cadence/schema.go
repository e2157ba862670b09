// Package cadence derives the step layout of the lead sheet and resolves
// each lead's position in it.
package cadence

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/kalambet/cadence/internal/lead"
)

// ErrMalformedSchema is returned when the sheet header cannot describe a cadence.
var ErrMalformedSchema = errors.New("malformed lead schema")

// Identity and bookkeeping columns of the lead sheet.
const (
	ColID               = "id"
	ColEmail            = "Email"
	ColFirstName        = "First Name"
	ColLastName         = "Last Name"
	ColCompany          = "Company"
	ColPauseTrigger     = "Pause Trigger"
	ColStartDate        = "Start Date"
	ColLastActionDate   = "Last Action Date"
	ColLastCampaignDate = "Last Campaign Date"

	completeSuffix = " Complete Date"
)

var requiredColumns = []string{ColEmail, ColFirstName, ColLastName, ColPauseTrigger, ColStartDate}

var actionColumnRE = regexp.MustCompile(`^Day (\d+) Action$`)

// SentCountColumn is the per-channel attempt counter, e.g. "Emails Sent Count".
func SentCountColumn(ch lead.Channel) string {
	return string(ch) + "s Sent Count"
}

// FirstActionColumn is the per-channel first-success date, e.g. "First Email Date".
func FirstActionColumn(ch lead.Channel) string {
	return "First " + string(ch) + " Date"
}

// ManagedColumns lists the columns the engine writes, in the order they are
// appended when missing.
func ManagedColumns(channels []lead.Channel) []string {
	var cols []string
	for _, ch := range channels {
		cols = append(cols, SentCountColumn(ch), FirstActionColumn(ch))
	}
	return append(cols, ColLastActionDate, ColLastCampaignDate)
}

// StepDef describes one cadence step as laid out in the sheet.
type StepDef struct {
	Index          int
	DayOffset      int
	ActionColumn   string
	CompleteColumn string
}

// Schema is the typed cadence layout derived once from a sheet header.
type Schema struct {
	Steps    []StepDef
	Channels []lead.Channel
}

// DeriveSchema scans the header for "Day N Action" columns and their
// "Day N Action Complete Date" partners. Step indexes follow column order.
func DeriveSchema(columns []string, channels []lead.Channel) (Schema, error) {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[strings.TrimSpace(c)] = true
	}

	var problems []string
	for _, c := range requiredColumns {
		if !present[c] {
			problems = append(problems, fmt.Sprintf("missing column %q", c))
		}
	}
	for _, c := range ManagedColumns(channels) {
		if !present[c] {
			problems = append(problems, fmt.Sprintf("missing column %q (run `cadence leads prepare`)", c))
		}
	}

	var steps []StepDef
	offsets := make(map[int]string)
	actions := make(map[string]bool)
	for _, raw := range columns {
		c := strings.TrimSpace(raw)
		if !strings.HasPrefix(c, "Day ") || strings.HasSuffix(c, completeSuffix) {
			continue
		}
		m := actionColumnRE.FindStringSubmatch(c)
		if m == nil {
			if strings.Contains(c, "Action") {
				problems = append(problems, fmt.Sprintf("column %q looks like a step but is not \"Day <N> Action\"", c))
			}
			continue
		}
		offset, err := strconv.Atoi(m[1])
		if err != nil {
			problems = append(problems, fmt.Sprintf("column %q: %v", c, err))
			continue
		}
		if prev, dup := offsets[offset]; dup {
			problems = append(problems, fmt.Sprintf("columns %q and %q share day offset %d", prev, c, offset))
			continue
		}
		offsets[offset] = c
		actions[c] = true

		complete := c + completeSuffix
		if !present[complete] {
			problems = append(problems, fmt.Sprintf("step column %q has no %q column", c, complete))
			continue
		}
		steps = append(steps, StepDef{
			Index:          len(steps),
			DayOffset:      offset,
			ActionColumn:   c,
			CompleteColumn: complete,
		})
	}

	for c := range present {
		if strings.HasSuffix(c, completeSuffix) && !actions[strings.TrimSuffix(c, completeSuffix)] {
			problems = append(problems, fmt.Sprintf("completion column %q has no action column", c))
		}
	}

	if len(steps) == 0 && len(problems) == 0 {
		problems = append(problems, "no \"Day <N> Action\" columns found")
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return Schema{}, fmt.Errorf("%w: %s", ErrMalformedSchema, strings.Join(problems, "; "))
	}

	return Schema{Steps: steps, Channels: channels}, nil
}

// MissingColumns returns the managed columns absent from the header.
func MissingColumns(columns []string, channels []lead.Channel) []string {
	present := make(map[string]bool, len(columns))
	for _, c := range columns {
		present[strings.TrimSpace(c)] = true
	}
	var missing []string
	for _, c := range ManagedColumns(channels) {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	return missing
}
