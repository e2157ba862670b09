package advance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/cadence/internal/lead"
)

var sentAt = time.Date(2024, 6, 10, 14, 30, 0, 0, time.UTC)

func newLead(email string) *lead.Lead {
	l := lead.New()
	l.Email = email
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l.StartDate = &start
	l.Steps = []lead.Step{{Action: "Email"}, {Action: "Email"}, {Action: "Call"}}
	return l
}

func success(email string, step int) Outcome {
	return Outcome{Email: email, Channel: lead.ChannelEmail, StepIndex: step, SentAt: sentAt, Success: true}
}

func TestAdvance_AppliesOutcome(t *testing.T) {
	l := newLead("a@example.com")
	rep := Advance([]*lead.Lead{l}, []Outcome{success("A@Example.com ", 0)})

	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, []*lead.Lead{l}, rep.Changed)

	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, l.AttemptsSent[lead.ChannelEmail])
	require.NotNil(t, l.Steps[0].CompletedOn)
	assert.Equal(t, day, *l.Steps[0].CompletedOn)
	require.NotNil(t, l.LastActionOn)
	assert.Equal(t, day, *l.LastActionOn)
	require.NotNil(t, l.FirstActionOn[lead.ChannelEmail])
	assert.Equal(t, day, *l.FirstActionOn[lead.ChannelEmail])
	assert.Nil(t, l.Steps[1].CompletedOn)
}

func TestAdvance_FirstActionKeptOnLaterSteps(t *testing.T) {
	l := newLead("a@example.com")
	first := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	l.FirstActionOn[lead.ChannelEmail] = &first
	l.AttemptsSent[lead.ChannelEmail] = 1
	l.Steps[0].CompletedOn = &first

	Advance([]*lead.Lead{l}, []Outcome{success("a@example.com", 1)})
	assert.Equal(t, first, *l.FirstActionOn[lead.ChannelEmail])
	assert.Equal(t, 2, l.AttemptsSent[lead.ChannelEmail])
	assert.Equal(t, time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC), *l.LastActionOn)
}

func TestAdvance_Idempotent(t *testing.T) {
	l := newLead("a@example.com")
	leads := []*lead.Lead{l}
	o := success("a@example.com", 0)

	rep := Advance(leads, []Outcome{o, o})
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, 1, rep.Replayed)

	rep = Advance(leads, []Outcome{o})
	assert.Equal(t, 0, rep.Applied)
	assert.Equal(t, 1, rep.Replayed)
	assert.Empty(t, rep.Changed)
	assert.Equal(t, 1, l.AttemptsSent[lead.ChannelEmail])
}

func TestAdvance_AlreadyMarkedStepIsNotCounted(t *testing.T) {
	l := newLead("a@example.com")
	l.Steps[0].Marker = "done"

	rep := Advance([]*lead.Lead{l}, []Outcome{success("a@example.com", 0)})
	assert.Equal(t, 1, rep.Replayed)
	assert.Equal(t, 0, l.AttemptsSent[lead.ChannelEmail])
	assert.Nil(t, l.Steps[0].CompletedOn)
}

func TestAdvance_FailuresIgnored(t *testing.T) {
	l := newLead("a@example.com")
	o := success("a@example.com", 0)
	o.Success = false

	rep := Advance([]*lead.Lead{l}, []Outcome{o})
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 0, rep.Applied)
	assert.Equal(t, 0, l.AttemptsSent[lead.ChannelEmail])
	assert.Nil(t, l.LastActionOn)
}

func TestAdvance_Unmatched(t *testing.T) {
	a := newLead("a@example.com")
	d1 := newLead("dup@example.com")
	d2 := newLead("DUP@example.com")
	leads := []*lead.Lead{a, d1, d2}

	rep := Advance(leads, []Outcome{
		success("ghost@example.com", 0),
		success("dup@example.com", 0),
		success("a@example.com", 7),
	})
	assert.Equal(t, 0, rep.Applied)
	require.Len(t, rep.Unmatched, 3)
	assert.Len(t, leads, 3)
	for _, l := range leads {
		assert.Equal(t, 0, l.AttemptsSent[lead.ChannelEmail])
	}
}

func TestAdvance_NilMapsAllocated(t *testing.T) {
	l := &lead.Lead{Email: "a@example.com", Steps: []lead.Step{{Action: "Email"}}}
	rep := Advance([]*lead.Lead{l}, []Outcome{success("a@example.com", 0)})
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, 1, l.AttemptsSent[lead.ChannelEmail])
}
