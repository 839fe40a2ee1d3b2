// Package adminserver exposes a small read-only chi HTTP surface for
// operating a running router: liveness, Prometheus metrics, and a
// candidate-introspection endpoint. It never mutates router state, so it
// cannot become a second writer against the store.
package adminserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freetier/llmrouter/internal/selection"
)

// CandidateLister is the subset of *llmrouter.Router the debug endpoint
// depends on, named here so tests can supply a double without
// constructing a full Router.
type CandidateLister interface {
	DebugCandidates(ctx context.Context, model string) ([]selection.Candidate, error)
}

// New builds the admin HTTP handler. router may be nil, in which case
// /debug/candidates always reports 503 — useful for a health-only
// deployment that doesn't want to expose routing internals.
func New(router CandidateLister) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", healthz)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/debug/candidates", debugCandidates(router))

	return r
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type candidateView struct {
	Provider        string   `json:"provider"`
	ProviderModelID string   `json:"provider_model_id"`
	CanonicalID     string   `json:"canonical_id"`
	Tier            int      `json:"tier"`
	Priority        int      `json:"priority"`
	IsFreeCredits   bool     `json:"is_free_credits"`
	LatencyMillis   *float64 `json:"latency_ms,omitempty"`
	CooldownUntil   *string  `json:"cooldown_until,omitempty"`
}

func debugCandidates(router CandidateLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if router == nil {
			writeError(w, http.StatusServiceUnavailable, "router introspection is not enabled")
			return
		}

		model := r.URL.Query().Get("model")
		if model == "" {
			writeError(w, http.StatusBadRequest, "model query parameter is required")
			return
		}

		candidates, err := router.DebugCandidates(r.Context(), model)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}

		views := make([]candidateView, len(candidates))
		for i, c := range candidates {
			v := candidateView{
				Provider:        c.Provider.Name,
				ProviderModelID: c.Record.ProviderModelID,
				CanonicalID:     c.Record.CanonicalID,
				Tier:            c.Tier,
				Priority:        c.Priority,
				IsFreeCredits:   c.IsFreeCredits,
				LatencyMillis:   c.LatencyMillis,
			}
			if c.Quota.CooldownUntil != nil {
				s := c.Quota.CooldownUntil.UTC().Format("2006-01-02T15:04:05Z07:00")
				v.CooldownUntil = &s
			}
			views[i] = v
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"model":      model,
			"candidates": views,
		})
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"message": message},
	})
}
