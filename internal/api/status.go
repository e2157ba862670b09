package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/cadence/internal/lead"
	"github.com/kalambet/cadence/internal/pipeline"
	"github.com/kalambet/cadence/internal/storage"
)

// Engine is the part of the pipeline the status surfaces read.
type Engine interface {
	Plan(ctx context.Context) (*pipeline.Plan, error)
	LeadStatus(ctx context.Context, email string) ([]pipeline.LeadStatus, error)
	RecentCycles(limit int) ([]storage.Cycle, error)
}

type StatusDeps struct {
	Engine Engine
	Token  string
}

// NewStatusHandler serves /health openly and everything else behind the
// bearer token.
func NewStatusHandler(deps StatusDeps) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Get("/plan", handlePlan(deps))
		r.Get("/cycles", handleListCycles(deps))
		r.Get("/leads/{email}", handleLeadStatus(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handlePlan(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Engine.Plan(r.Context())
		if errors.Is(err, lead.ErrStoreUnavailable) {
			httpError(w, http.StatusServiceUnavailable, "store_unavailable", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "planning failed: %v", err)
			return
		}
		writeJSON(w, NewPlanView(p))
	}
}

func handleListCycles(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)

		cycles, err := deps.Engine.RecentCycles(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list cycles: %v", err)
			return
		}
		writeJSON(w, NewCycleViews(cycles))
	}
}

func handleLeadStatus(deps StatusDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := chi.URLParam(r, "email")

		statuses, err := deps.Engine.LeadStatus(r.Context(), email)
		if errors.Is(err, pipeline.ErrLeadNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "no lead with email %q", email)
			return
		}
		if errors.Is(err, lead.ErrStoreUnavailable) {
			httpError(w, http.StatusServiceUnavailable, "store_unavailable", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "lead status failed: %v", err)
			return
		}

		views := make([]LeadView, len(statuses))
		for i, st := range statuses {
			views[i] = NewLeadView(st)
		}
		writeJSON(w, views)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
