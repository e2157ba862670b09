package cadence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/cadence/internal/lead"
)

var channels = []lead.Channel{lead.ChannelEmail}

func header(extra ...string) []string {
	cols := []string{
		ColID, ColFirstName, ColLastName, ColEmail, ColPauseTrigger, ColStartDate,
		"Day 1 Action", "Day 1 Action Complete Date",
		"Day 4 Action", "Day 4 Action Complete Date",
		"Day 7 Action", "Day 7 Action Complete Date",
	}
	cols = append(cols, ManagedColumns(channels)...)
	return append(cols, extra...)
}

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestDeriveSchema(t *testing.T) {
	s, err := DeriveSchema(header("Notes", "Days Since Start"), channels)
	require.NoError(t, err)

	require.Len(t, s.Steps, 3)
	for i, want := range []int{1, 4, 7} {
		assert.Equal(t, i, s.Steps[i].Index)
		assert.Equal(t, want, s.Steps[i].DayOffset)
	}
	assert.Equal(t, "Day 4 Action Complete Date", s.Steps[1].CompleteColumn)
}

func TestDeriveSchema_FollowsColumnOrder(t *testing.T) {
	cols := header()
	// Swap the Day 4 and Day 7 column pairs.
	cols[8], cols[9], cols[10], cols[11] = cols[10], cols[11], cols[8], cols[9]

	s, err := DeriveSchema(cols, channels)
	require.NoError(t, err)
	assert.Equal(t, 7, s.Steps[1].DayOffset)
	assert.Equal(t, 4, s.Steps[2].DayOffset)
}

func TestDeriveSchema_Errors(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		want    string
	}{
		{
			name:    "missing required",
			columns: []string{ColEmail, "Day 1 Action", "Day 1 Action Complete Date"},
			want:    `missing column "Start Date"`,
		},
		{
			name:    "missing completion",
			columns: header("Day 9 Action"),
			want:    `"Day 9 Action" has no "Day 9 Action Complete Date"`,
		},
		{
			name:    "orphan completion",
			columns: header("Day 9 Action Complete Date"),
			want:    `completion column "Day 9 Action Complete Date" has no action column`,
		},
		{
			name:    "duplicate offset",
			columns: header("Day 4 Action"),
			want:    "share day offset 4",
		},
		{
			name:    "bad step name",
			columns: header("Day X Action"),
			want:    `"Day X Action" looks like a step`,
		},
		{
			name:    "missing managed",
			columns: header()[:12],
			want:    `missing column "Emails Sent Count"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveSchema(tt.columns, channels)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedSchema))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMissingColumns(t *testing.T) {
	missing := MissingColumns(header()[:12], []lead.Channel{lead.ChannelEmail, lead.ChannelCall})
	assert.Equal(t, []string{
		"Emails Sent Count", "First Email Date",
		"Calls Sent Count", "First Call Date",
		"Last Action Date", "Last Campaign Date",
	}, missing)
}

func testSchema(t *testing.T) Schema {
	t.Helper()
	s, err := DeriveSchema(header(), channels)
	require.NoError(t, err)
	return s
}

func TestResolve_NextStep(t *testing.T) {
	s := testSchema(t)
	l := lead.New()
	l.Email = "a@example.com"
	l.StartDate = date(2024, 3, 1)
	l.Steps = []lead.Step{
		{Action: "Email", CompletedOn: date(2024, 3, 2)},
		{Action: "Email"},
		{Action: "Call"},
	}

	now := time.Date(2024, 3, 3, 15, 0, 0, 0, time.UTC)
	r, err := Resolve(l, s, now)
	require.NoError(t, err)

	assert.Equal(t, 2, r.DaysSinceStart)
	require.NotNil(t, r.Next)
	assert.Equal(t, 1, r.Next.StepIndex)
	assert.Equal(t, 2, r.Next.DaysUntil)
	assert.Equal(t, "Email", r.Next.Action)
	assert.False(t, r.Complete())
	assert.False(t, r.Due(1))
	assert.True(t, r.Due(2))
}

func TestResolve_OverdueAndToday(t *testing.T) {
	s := testSchema(t)
	l := lead.New()
	l.StartDate = date(2024, 3, 1)
	l.Steps = []lead.Step{{Action: "Email"}, {Action: "Email"}, {Action: "Email"}}

	r, err := Resolve(l, s, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 0, r.Next.DaysUntil)
	assert.True(t, r.Due(0))

	r, err = Resolve(l, s, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, -8, r.Next.DaysUntil)
	assert.True(t, r.Due(1))
}

func TestResolve_MarkerCountsAsDone(t *testing.T) {
	s := testSchema(t)
	l := lead.New()
	l.StartDate = date(2024, 3, 1)
	l.Steps = []lead.Step{{Action: "Email", Marker: "done"}, {Action: "Call"}, {Action: "Email"}}

	r, err := Resolve(l, s, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 1, r.Next.StepIndex)
	ch, ok := r.Next.Channel()
	assert.True(t, ok)
	assert.Equal(t, lead.ChannelCall, ch)
}

func TestResolve_CadenceComplete(t *testing.T) {
	s := testSchema(t)
	l := lead.New()
	l.StartDate = date(2024, 3, 1)
	d := date(2024, 3, 8)
	l.Steps = []lead.Step{{CompletedOn: d}, {CompletedOn: d}, {CompletedOn: d}}

	r, err := Resolve(l, s, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, r.Complete())
	assert.Nil(t, r.Next)
	assert.False(t, r.Due(100))
}

func TestResolve_Malformed(t *testing.T) {
	s := testSchema(t)
	now := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

	noStart := lead.New()
	noStart.Steps = make([]lead.Step, 3)
	_, err := Resolve(noStart, s, now)
	assert.ErrorIs(t, err, lead.ErrMalformedRecord)

	badCell := lead.New()
	badCell.StartDate = date(2024, 3, 1)
	badCell.Steps = make([]lead.Step, 3)
	badCell.Problems = []string{`"Emails Sent Count": invalid count "lots"`}
	_, err = Resolve(badCell, s, now)
	assert.ErrorIs(t, err, lead.ErrMalformedRecord)
	assert.Contains(t, err.Error(), "invalid count")

	short := lead.New()
	short.StartDate = date(2024, 3, 1)
	short.Steps = make([]lead.Step, 2)
	_, err = Resolve(short, s, now)
	assert.ErrorIs(t, err, lead.ErrMalformedRecord)
}

func TestResolveAll_SkipsMalformed(t *testing.T) {
	s := testSchema(t)
	good := lead.New()
	good.StartDate = date(2024, 3, 1)
	good.Steps = make([]lead.Step, 3)
	bad := lead.New()
	bad.Steps = make([]lead.Step, 3)

	resolved, failures := ResolveAll([]*lead.Lead{good, bad}, s, time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC))
	require.Len(t, resolved, 1)
	assert.Same(t, good, resolved[0].Lead)
	require.Len(t, failures, 1)
	assert.Same(t, bad, failures[0].Lead)
}
