package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/cadence/internal/assign"
	"github.com/kalambet/cadence/internal/cadence"
	"github.com/kalambet/cadence/internal/eligibility"
	"github.com/kalambet/cadence/internal/lead"
	"github.com/kalambet/cadence/internal/leadstore"
	"github.com/kalambet/cadence/internal/pipeline"
	"github.com/kalambet/cadence/internal/storage"
)

const testToken = "test-token-12345"

type fakeEngine struct {
	plan    *pipeline.Plan
	planErr error

	statuses  []pipeline.LeadStatus
	statusErr error
	gotEmail  string

	cycles    []storage.Cycle
	cyclesErr error
	gotLimit  int
}

func (f *fakeEngine) Plan(ctx context.Context) (*pipeline.Plan, error) {
	return f.plan, f.planErr
}

func (f *fakeEngine) LeadStatus(ctx context.Context, email string) ([]pipeline.LeadStatus, error) {
	f.gotEmail = email
	return f.statuses, f.statusErr
}

func (f *fakeEngine) RecentCycles(limit int) ([]storage.Cycle, error) {
	f.gotLimit = limit
	return f.cycles, f.cyclesErr
}

func testDate(s string) *time.Time {
	t, _ := time.Parse("2006-01-02", s)
	return &t
}

func testLead(row int, email string) *lead.Lead {
	l := lead.New()
	l.Row = row
	l.Email = email
	l.FirstName = "Ada"
	l.LastName = "Lovelace"
	l.StartDate = testDate("2026-10-01")
	return l
}

func samplePlan() *pipeline.Plan {
	due := testLead(2, "ada@example.com")
	paused := testLead(3, "paused@example.com")
	paused.PauseTrigger = "replied"
	broken := testLead(4, "broken@example.com")
	dupA := testLead(5, "dup@example.com")
	dupB := testLead(6, "dup@example.com")

	res := cadence.Resolved{
		Lead:           due,
		DaysSinceStart: 3,
		Next:           &cadence.NextAction{StepIndex: 1, DayOffset: 3, Action: "Email", DaysUntil: 0},
	}
	return &pipeline.Plan{
		At:       time.Date(2026, 10, 4, 9, 0, 0, 0, time.UTC),
		Snapshot: &leadstore.Snapshot{Leads: []*lead.Lead{due, paused, broken, dupA, dupB}},
		Resolved: []cadence.Resolved{res},
		Malformed: []cadence.Failure{
			{Lead: broken, Err: errors.New("malformed record: start date")},
		},
		Filter: eligibility.Result{
			Eligible: []eligibility.Candidate{{Resolved: res, ChannelStep: 2}},
			Excluded: []eligibility.Exclusion{
				{Lead: paused, Reason: eligibility.ReasonPaused},
				{Lead: dupA, Reason: eligibility.ReasonDuplicateEmail},
				{Lead: dupB, Reason: eligibility.ReasonDuplicateEmail},
			},
			Duplicates: map[string][]*lead.Lead{"dup@example.com": {dupB, dupA}},
		},
		Assignments: []assign.Assignment{{
			Candidate:  eligibility.Candidate{Resolved: res, ChannelStep: 2},
			Channel:    lead.ChannelEmail,
			CampaignID: "1002",
			Template:   "q4_email2_varA",
		}},
	}
}

func setupStatusHandler(t *testing.T, eng *fakeEngine) http.Handler {
	t.Helper()
	return NewStatusHandler(StatusDeps{Engine: eng, Token: testToken})
}

func authGet(url string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, url, nil)
	req.Header.Set("Authorization", "Bearer "+testToken)
	return req
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Type
}

func TestHealth_NoAuth(t *testing.T) {
	h := setupStatusHandler(t, &fakeEngine{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if rr.Body.String() != `{"status":"ok"}` {
		t.Errorf("body = %q", rr.Body.String())
	}
}

func TestAuth_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		header string
	}{
		{"missing header", testToken, ""},
		{"wrong token", testToken, "Bearer nope"},
		{"no bearer prefix", testToken, testToken},
		{"empty configured token", "", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewStatusHandler(StatusDeps{Engine: &fakeEngine{plan: samplePlan()}, Token: tt.token})
			req := httptest.NewRequest(http.MethodGet, "/plan", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rr.Code)
			}
			if got := errorType(t, rr); got != "authentication_error" {
				t.Errorf("error type = %q", got)
			}
		})
	}
}

func TestPlan_ReturnsView(t *testing.T) {
	h := setupStatusHandler(t, &fakeEngine{plan: samplePlan()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authGet("/plan"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var v PlanView
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if v.Loaded != 5 {
		t.Errorf("loaded = %d, want 5", v.Loaded)
	}
	if len(v.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(v.Assignments))
	}
	a := v.Assignments[0]
	if a.Email != "ada@example.com" || a.CampaignID != "1002" || a.Template != "q4_email2_varA" {
		t.Errorf("assignment = %+v", a)
	}
	if a.ChannelStep != 2 || a.StepIndex != 1 || a.DayOffset != 3 {
		t.Errorf("assignment position = %+v", a)
	}
	if v.ExclusionCounts["paused"] != 1 || v.ExclusionCounts["duplicate_email"] != 2 {
		t.Errorf("exclusion counts = %v", v.ExclusionCounts)
	}
	if len(v.Skipped) != 1 || v.Skipped[0].Row != 4 {
		t.Errorf("skipped = %+v", v.Skipped)
	}
	rows := v.Duplicates["dup@example.com"]
	if len(rows) != 2 || rows[0] != 5 || rows[1] != 6 {
		t.Errorf("duplicate rows = %v, want [5 6]", rows)
	}
}

func TestPlan_EmptyListsNotNull(t *testing.T) {
	h := setupStatusHandler(t, &fakeEngine{plan: &pipeline.Plan{Snapshot: &leadstore.Snapshot{}}})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authGet("/plan"))

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	for _, key := range []string{"assignments", "excluded", "skipped"} {
		if string(raw[key]) != "[]" {
			t.Errorf("%s = %s, want []", key, raw[key])
		}
	}
	if _, ok := raw["duplicates"]; ok {
		t.Error("duplicates should be omitted when empty")
	}
}

func TestPlan_StoreUnavailable(t *testing.T) {
	eng := &fakeEngine{planErr: fmt.Errorf("%w: open leads.xlsx: locked", lead.ErrStoreUnavailable)}
	h := setupStatusHandler(t, eng)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authGet("/plan"))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rr.Code)
	}
	if got := errorType(t, rr); got != "store_unavailable" {
		t.Errorf("error type = %q", got)
	}
}

func TestPlan_OtherError(t *testing.T) {
	h := setupStatusHandler(t, &fakeEngine{planErr: errors.New("boom")})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authGet("/plan"))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rr.Code)
	}
}

func TestCycles_LimitParam(t *testing.T) {
	finished := time.Date(2026, 10, 4, 9, 1, 0, 0, time.UTC)
	eng := &fakeEngine{cycles: []storage.Cycle{{
		ID:         "c1",
		StartedAt:  time.Date(2026, 10, 4, 9, 0, 0, 0, time.UTC),
		FinishedAt: &finished,
		Mode:       "automation",
		Channel:    "email",
		Status:     storage.CycleCompleted,
		Sent:       3,
	}}}
	h := setupStatusHandler(t, eng)

	tests := []struct {
		query string
		want  int
	}{
		{"/cycles", 20},
		{"/cycles?limit=5", 5},
		{"/cycles?limit=500", 100},
		{"/cycles?limit=abc", 20},
	}
	for _, tt := range tests {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, authGet(tt.query))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.query, rr.Code)
		}
		if eng.gotLimit != tt.want {
			t.Errorf("%s: limit = %d, want %d", tt.query, eng.gotLimit, tt.want)
		}
	}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authGet("/cycles"))
	var views []CycleView
	if err := json.Unmarshal(rr.Body.Bytes(), &views); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(views) != 1 || views[0].ID != "c1" || views[0].Sent != 3 {
		t.Fatalf("views = %+v", views)
	}
	if views[0].FinishedAt == nil || *views[0].FinishedAt != "2026-10-04T09:01:00Z" {
		t.Errorf("finished_at = %v", views[0].FinishedAt)
	}
}

func TestLeadStatus_Found(t *testing.T) {
	p := samplePlan()
	l := p.Snapshot.Leads[0]
	l.AttemptsSent[lead.ChannelEmail] = 1
	l.LastActionOn = testDate("2026-10-01")
	eng := &fakeEngine{statuses: []pipeline.LeadStatus{{
		Lead:       l,
		Resolved:   &p.Resolved[0],
		Eligible:   true,
		Assignment: &p.Assignments[0],
	}}}
	h := setupStatusHandler(t, eng)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authGet("/leads/Ada@Example.com"))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if eng.gotEmail != "Ada@Example.com" {
		t.Errorf("engine got email %q", eng.gotEmail)
	}
	var views []LeadView
	if err := json.Unmarshal(rr.Body.Bytes(), &views); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("views = %d, want 1", len(views))
	}
	v := views[0]
	if !v.Eligible || v.Complete || v.Next == nil || v.Next.StepIndex != 1 {
		t.Errorf("view = %+v", v)
	}
	if v.AttemptsSent["Email"] != 1 {
		t.Errorf("attempts = %v", v.AttemptsSent)
	}
	if v.DaysSinceStart == nil || *v.DaysSinceStart != 3 {
		t.Errorf("days since start = %v", v.DaysSinceStart)
	}
	if v.Template != "q4_email2_varA" {
		t.Errorf("template = %q", v.Template)
	}
}

func TestLeadStatus_NotFound(t *testing.T) {
	eng := &fakeEngine{statusErr: fmt.Errorf("%w: x@example.com", pipeline.ErrLeadNotFound)}
	h := setupStatusHandler(t, eng)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, authGet("/leads/x@example.com"))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
	if got := errorType(t, rr); got != "not_found" {
		t.Errorf("error type = %q", got)
	}
}
