package pipeline

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/cadence/internal/assign"
	"github.com/kalambet/cadence/internal/eligibility"
	"github.com/kalambet/cadence/internal/lead"
	"github.com/kalambet/cadence/internal/leadstore"
	"github.com/kalambet/cadence/internal/smartlead"
	"github.com/kalambet/cadence/internal/storage"
)

var (
	runAt = time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	today = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
)

var header = []string{
	"id", "First Name", "Last Name", "Email", "Company", "Pause Trigger", "Start Date",
	"Day 1 Action", "Day 1 Action Complete Date",
	"Day 3 Action", "Day 3 Action Complete Date",
	"Emails Sent Count", "First Email Date", "Last Action Date", "Last Campaign Date",
}

// row builds a lead due for its Day 1 email today.
func row(id, first, email, pause string) []string {
	return []string{id, first, "Test", email, "Acme", pause, "2024-06-09",
		"Email", "", "Email", "", "0", "", "", ""}
}

func scenarioRows() [][]string {
	return [][]string{
		header,
		row("1", "Ann", "a@example.com", ""),
		row("2", "Ben", "b@example.com", "replied"),
		row("3", "Cat", "dup@example.com", ""),
		row("4", "Dan", "DUP@example.com", ""),
	}
}

func writeLeads(t *testing.T, rows [][]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leads.csv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, csv.NewWriter(f).WriteAll(rows))
	require.NoError(t, f.Close())
	return path
}

func readLeads(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	require.NoError(t, err)
	return rows
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []smartlead.Enrollment
	fail   map[string]error
	onSend func(e smartlead.Enrollment)
}

func (f *fakeSender) Send(_ context.Context, e smartlead.Enrollment) (smartlead.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onSend != nil {
		f.onSend(e)
	}
	if err := f.fail[e.Email]; err != nil {
		return smartlead.Result{OK: false}, err
	}
	f.sent = append(f.sent, e)
	return smartlead.Result{OK: true, UploadCount: 1}, nil
}

func (f *fakeSender) emails() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, e := range f.sent {
		out[i] = e.Email
	}
	return out
}

// flakyStore fails the first n saves.
type flakyStore struct {
	leadstore.Store
	failures int
}

func (s *flakyStore) Save(ctx context.Context, snap *leadstore.Snapshot) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, snap)
}

type fixture struct {
	path    string
	store   *leadstore.FileStore
	sender  *fakeSender
	journal *storage.Store
	engine  *Engine
}

func newFixture(t *testing.T, rows [][]string, mutate ...func(*Options)) *fixture {
	t.Helper()
	path := writeLeads(t, rows)
	store, err := leadstore.Open(path, []lead.Channel{lead.ChannelEmail})
	require.NoError(t, err)
	journal, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { journal.Close() })

	fx := &fixture{path: path, store: store, sender: &fakeSender{}, journal: journal}
	opts := Options{
		Store:         store,
		Sender:        fx.sender,
		Journal:       journal,
		Assigner:      assign.New(lead.ChannelEmail, assign.CampaignTable{1: "111", 2: "222"}, "q2", nil),
		Channel:       lead.ChannelEmail,
		Cap:           4,
		CooldownDays:  90,
		DueWindowDays: 1,
		Now:           func() time.Time { return runAt },
	}
	for _, m := range mutate {
		m(&opts)
	}
	fx.engine, err = New(opts)
	require.NoError(t, err)
	return fx
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestRunCycle_EndToEnd(t *testing.T) {
	fx := newFixture(t, scenarioRows())
	before := readLeads(t, fx.path)

	rep, err := fx.engine.RunCycle(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a@example.com"}, fx.sender.emails())
	assert.Equal(t, storage.CycleCompleted, rep.Status)
	assert.Equal(t, ModeAutomation, rep.Mode)
	assert.Equal(t, 4, rep.Loaded)
	assert.Equal(t, 1, rep.Eligible)
	assert.Equal(t, 3, rep.Excluded)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, 1, rep.Plan.Filter.Count(eligibility.ReasonPaused))
	assert.Equal(t, 2, rep.Plan.Filter.Count(eligibility.ReasonDuplicateEmail))

	enr := fx.sender.sent[0]
	assert.Equal(t, "111", enr.CampaignID)
	assert.Equal(t, "q2_email1", enr.CustomFields["template"])
	assert.Equal(t, "1", enr.CustomFields["lead_id"])

	snap, err := fx.store.Load(context.Background())
	require.NoError(t, err)
	a := snap.Leads[0]
	assert.Equal(t, 1, a.AttemptsSent[lead.ChannelEmail])
	require.NotNil(t, a.Steps[0].CompletedOn)
	assert.Equal(t, today, *a.Steps[0].CompletedOn)
	assert.Equal(t, today, *a.LastActionOn)
	assert.Equal(t, today, *a.FirstActionOn[lead.ChannelEmail])

	after := readLeads(t, fx.path)
	for i := 2; i <= 4; i++ {
		assert.Equal(t, before[i], after[i], "row %d unchanged", i)
	}

	cycles, err := fx.engine.RecentCycles(5)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.Equal(t, rep.ID, cycles[0].ID)
	assert.Equal(t, 1, cycles[0].Sent)

	pending, err := fx.journal.UnappliedSends()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunCycle_SecondCycleSameDayIsNoop(t *testing.T) {
	fx := newFixture(t, scenarioRows())
	_, err := fx.engine.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	saved := readLeads(t, fx.path)

	rep, err := fx.engine.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.Sent)
	assert.Len(t, fx.sender.emails(), 1)
	assert.Equal(t, saved, readLeads(t, fx.path))
}

func TestRunCycle_SendFailureDoesNotStopBatch(t *testing.T) {
	rows := scenarioRows()
	rows = append(rows, row("5", "Eve", "e@example.com", ""))
	fx := newFixture(t, rows)
	fx.sender.fail = map[string]error{"a@example.com": lead.ErrSendFailure}

	rep, err := fx.engine.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, []string{"e@example.com"}, fx.sender.emails())

	snap, err := fx.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Leads[0].AttemptsSent[lead.ChannelEmail])
	assert.Nil(t, snap.Leads[0].Steps[0].CompletedOn)
	assert.Equal(t, 1, snap.Leads[4].AttemptsSent[lead.ChannelEmail])
}

func TestRunCycle_SaveFailureIsReplayedNotResent(t *testing.T) {
	flaky := &flakyStore{failures: 1}
	fx := newFixture(t, scenarioRows(), func(o *Options) {
		flaky.Store = o.Store
		o.Store = flaky
	})

	rep, err := fx.engine.RunCycle(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, storage.CycleFailed, rep.Status)
	assert.Equal(t, []string{"a@example.com"}, fx.sender.emails())

	pending, err := fx.journal.UnappliedSends()
	require.NoError(t, err)
	require.Len(t, pending, 1)

	rep, err = fx.engine.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Replayed)
	assert.Equal(t, 0, rep.Sent)
	assert.Len(t, fx.sender.emails(), 1, "no second send")

	snap, err := fx.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Leads[0].AttemptsSent[lead.ChannelEmail])

	pending, err = fx.journal.UnappliedSends()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestExecute_UnappliedJournalHitSkipsSend(t *testing.T) {
	fx := newFixture(t, scenarioRows())
	ctx := context.Background()

	p, err := fx.engine.Plan(ctx)
	require.NoError(t, err)
	require.Len(t, p.Assignments, 1)

	// Sent by an earlier attempt after this plan was built, never saved.
	sentAt := runAt.Add(-time.Hour)
	require.NoError(t, fx.journal.StartCycle(storage.Cycle{ID: "old", StartedAt: sentAt, Channel: "Email"}))
	require.NoError(t, fx.journal.RecordSend(storage.Send{
		ID: "s-old", CycleID: "old", Email: "a@example.com", Channel: "Email",
		StepIndex: 0, ChannelStep: 1, CampaignID: "111", SentAt: sentAt, Status: storage.SendSent,
	}))

	ex, err := fx.engine.Execute(ctx, p, "")
	require.NoError(t, err)
	assert.Equal(t, 1, ex.JournalHits)
	assert.Equal(t, 0, ex.Sent)
	assert.Empty(t, fx.sender.emails())

	snap, err := fx.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Leads[0].AttemptsSent[lead.ChannelEmail])

	pending, err := fx.journal.UnappliedSends()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRunCycle_AppliedJournalEntryStillSends(t *testing.T) {
	// The lead was enrolled once before, then reset in the sheet for a new
	// round: the old, applied send must not stand in for this one.
	fx := newFixture(t, scenarioRows())
	oldSend := runAt.AddDate(0, 0, -100)
	require.NoError(t, fx.journal.StartCycle(storage.Cycle{ID: "old", StartedAt: oldSend, Channel: "Email"}))
	require.NoError(t, fx.journal.RecordSend(storage.Send{
		ID: "s-old", CycleID: "old", Email: "a@example.com", Channel: "Email",
		StepIndex: 0, ChannelStep: 1, CampaignID: "111", SentAt: oldSend, Status: storage.SendSent,
	}))
	require.NoError(t, fx.journal.MarkApplied([]string{"s-old"}))

	rep, err := fx.engine.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rep.JournalHits)
	assert.Equal(t, 1, rep.Sent)
	assert.Equal(t, []string{"a@example.com"}, fx.sender.emails())

	snap, err := fx.store.Load(context.Background())
	require.NoError(t, err)
	a := snap.Leads[0]
	assert.Equal(t, 1, a.AttemptsSent[lead.ChannelEmail])
	require.NotNil(t, a.Steps[0].CompletedOn)
	assert.Equal(t, today, *a.Steps[0].CompletedOn)
}

func TestRunCycle_ConfirmDeclined(t *testing.T) {
	fx := newFixture(t, scenarioRows())
	before := readLeads(t, fx.path)

	var asked int
	rep, err := fx.engine.RunCycle(context.Background(), func(_ context.Context, p *Plan) (bool, error) {
		asked = len(p.Assignments)
		return false, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, asked)
	assert.Equal(t, storage.CycleDeclined, rep.Status)
	assert.Equal(t, ModeConfirm, rep.Mode)
	assert.Empty(t, fx.sender.emails())
	assert.Equal(t, before, readLeads(t, fx.path))
}

func TestRunCycle_ConfirmAccepted(t *testing.T) {
	fx := newFixture(t, scenarioRows())
	rep, err := fx.engine.RunCycle(context.Background(), func(context.Context, *Plan) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, storage.CycleCompleted, rep.Status)
	assert.Equal(t, 1, rep.Sent)
}

func TestRunCycle_CancelStopsSendsButSaves(t *testing.T) {
	rows := [][]string{header,
		row("1", "Ann", "a@example.com", ""),
		row("2", "Bea", "b@example.com", ""),
		row("3", "Cal", "c@example.com", ""),
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx := newFixture(t, rows)
	fx.sender.onSend = func(smartlead.Enrollment) { cancel() }

	rep, err := fx.engine.RunCycle(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Sent)

	snap, err := fx.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Leads[0].AttemptsSent[lead.ChannelEmail])
	assert.Equal(t, 0, snap.Leads[1].AttemptsSent[lead.ChannelEmail])
}

func TestRunCycle_StoreUnavailable(t *testing.T) {
	fx := newFixture(t, scenarioRows())
	require.NoError(t, os.Remove(fx.path))

	rep, err := fx.engine.RunCycle(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, lead.ErrStoreUnavailable)

	c, err := fx.journal.GetCycle(rep.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.CycleFailed, c.Status)
	assert.NotEmpty(t, c.Error)
}

func TestRunCycle_UnmappedStepSkipsLead(t *testing.T) {
	fx := newFixture(t, scenarioRows(), func(o *Options) {
		o.Assigner = assign.New(lead.ChannelEmail, assign.CampaignTable{2: "222"}, "", nil)
	})
	rep, err := fx.engine.RunCycle(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Unassigned)
	assert.Empty(t, fx.sender.emails())
}

func TestPlan_IsReadOnly(t *testing.T) {
	fx := newFixture(t, scenarioRows())
	before := readLeads(t, fx.path)

	p, err := fx.engine.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Assignments, 1)
	assert.Equal(t, "a@example.com", p.Assignments[0].Lead.Email)
	assert.Empty(t, fx.sender.emails())
	assert.Equal(t, before, readLeads(t, fx.path))

	cycles, err := fx.engine.RecentCycles(5)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestLeadStatus(t *testing.T) {
	fx := newFixture(t, scenarioRows())
	ctx := context.Background()

	st, err := fx.engine.LeadStatus(ctx, "A@example.com")
	require.NoError(t, err)
	require.Len(t, st, 1)
	assert.True(t, st[0].Eligible)
	require.NotNil(t, st[0].Assignment)
	assert.Equal(t, "111", st[0].Assignment.CampaignID)

	st, err = fx.engine.LeadStatus(ctx, "b@example.com")
	require.NoError(t, err)
	assert.Equal(t, eligibility.ReasonPaused, st[0].Reason)

	st, err = fx.engine.LeadStatus(ctx, "dup@example.com")
	require.NoError(t, err)
	require.Len(t, st, 2)
	assert.Equal(t, eligibility.ReasonDuplicateEmail, st[1].Reason)

	_, err = fx.engine.LeadStatus(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrLeadNotFound)
}
