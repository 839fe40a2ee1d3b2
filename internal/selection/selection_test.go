package selection

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/freetier/llmrouter/catalog"
	"github.com/freetier/llmrouter/internal/clock"
	"github.com/freetier/llmrouter/internal/metrics"
	"github.com/freetier/llmrouter/internal/ratelimit"
	"github.com/freetier/llmrouter/internal/store"
)

func ptrI64(i int64) *int64 { return &i }

func testBundle(t *testing.T) *catalog.Bundle {
	t.Helper()
	models := []catalog.ModelDescriptor{
		{CanonicalID: "llama-3.3-70b", Tier: 3, Aliases: []string{"llama-70b"}},
		{CanonicalID: "qwen-3-32b", Tier: 2, Aliases: []string{"qwen-32b"}},
	}
	generics := map[string]catalog.AliasSpec{
		"best-large": {Tier: intp(3)},
	}
	providers := []catalog.ProviderDescriptor{
		{Name: "groq", Models: []catalog.ProviderModelRecord{
			{CanonicalID: "llama-3.3-70b", ProviderModelID: "llama-3.3-70b-versatile",
				Limits: catalog.RateLimits{RequestsPerMinute: ptrI64(10)}},
		}},
		{Name: "cerebras", Models: []catalog.ProviderModelRecord{
			{CanonicalID: "qwen-3-32b", ProviderModelID: "qwen-3-32b"},
		}},
	}
	b, err := catalog.NewBundle(models, generics, providers, nil)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func intp(i int) *int { return &i }

type fixedStrategy struct {
	index int
}

func (s fixedStrategy) Select(candidates []Candidate, _ RoutingContext) (Candidate, error) {
	return candidates[s.index], nil
}

func newTracker() *ratelimit.Tracker {
	fc := clock.NewFake(clock.RealClock{}.Now())
	return ratelimit.New(store.NewMemory(fc.Now), fc, 0)
}

func TestSelect_NoMatchingProvidersForUnknownModel(t *testing.T) {
	b := testBundle(t)
	tr := newTracker()
	_, err := Select(context.Background(), b, tr, nil, "unknown-model", NewRoutingContext(), fixedStrategy{})
	var selErr *Error
	if err == nil {
		t.Fatal("expected error")
	}
	if !isKind(err, ErrNoMatchingProviders, &selErr) {
		t.Errorf("got %v, want ErrNoMatchingProviders", err)
	}
}

func TestSelect_ExcludedProviderIsDropped(t *testing.T) {
	b := testBundle(t)
	tr := newTracker()
	rtCtx := NewRoutingContext().Excluding("groq")

	_, err := Select(context.Background(), b, tr, nil, "llama-3.3-70b", rtCtx, fixedStrategy{})
	var selErr *Error
	if !isKind(err, ErrNoAvailableCandidates, &selErr) {
		t.Errorf("got %v, want ErrNoAvailableCandidates once the sole provider is excluded", err)
	}
}

func TestSelect_CooldownProviderIsDropped(t *testing.T) {
	b := testBundle(t)
	tr := newTracker()
	ctx := context.Background()
	if _, err := tr.MarkRateLimited(ctx, "groq", "llama-3.3-70b", nil); err != nil {
		t.Fatal(err)
	}

	_, err := Select(ctx, b, tr, nil, "llama-3.3-70b", NewRoutingContext(), fixedStrategy{})
	var selErr *Error
	if !isKind(err, ErrNoAvailableCandidates, &selErr) {
		t.Errorf("got %v, want ErrNoAvailableCandidates for cooled-down sole provider", err)
	}
}

func TestSelect_GenericAlias_RestrictsToMatchingTier(t *testing.T) {
	b := testBundle(t)
	tr := newTracker()

	cand, err := Select(context.Background(), b, tr, nil, "best-large", NewRoutingContext(), fixedStrategy{})
	if err != nil {
		t.Fatal(err)
	}
	if cand.Provider.Name != "groq" {
		t.Errorf("got provider %q, want groq (the only tier-3 provider)", cand.Provider.Name)
	}
}

func TestSelect_SortsSurvivorsByDescendingTierBeforeStrategy(t *testing.T) {
	models := []catalog.ModelDescriptor{
		{CanonicalID: "big", Tier: 3},
		{CanonicalID: "small", Tier: 1},
	}
	providers := []catalog.ProviderDescriptor{
		{Name: "low-tier-provider", Models: []catalog.ProviderModelRecord{{CanonicalID: "small", ProviderModelID: "small"}}},
		{Name: "high-tier-provider", Models: []catalog.ProviderModelRecord{{CanonicalID: "big", ProviderModelID: "big"}}},
	}
	b, err := catalog.NewBundle(models, map[string]catalog.AliasSpec{"any": {MinTier: intp(1)}}, providers, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr := newTracker()

	recorder := &recordingStrategy{}
	_, err = Select(context.Background(), b, tr, nil, "any", NewRoutingContext(), recorder)
	if err != nil {
		t.Fatal(err)
	}
	if len(recorder.seen) == 0 || recorder.seen[0].Tier != 3 {
		t.Errorf("expected the strategy to see the highest tier first, got %+v", recorder.seen)
	}
}

type recordingStrategy struct {
	seen []Candidate
}

func (r *recordingStrategy) Select(candidates []Candidate, _ RoutingContext) (Candidate, error) {
	r.seen = candidates
	return candidates[0], nil
}

func TestListCandidates_ReturnsSameSurvivorsAsSelect(t *testing.T) {
	b := testBundle(t)
	tr := newTracker()

	candidates, err := ListCandidates(context.Background(), b, tr, nil, "llama-3.3-70b", NewRoutingContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 || candidates[0].Provider.Name != "groq" {
		t.Errorf("got %+v, want exactly the groq candidate", candidates)
	}
}

func TestListCandidates_DoesNotRequireAStrategy(t *testing.T) {
	b := testBundle(t)
	tr := newTracker()

	// best-large matches only the tier-3 model, served by groq.
	candidates, err := ListCandidates(context.Background(), b, tr, nil, "best-large", NewRoutingContext())
	if err != nil {
		t.Fatal(err)
	}
	if len(candidates) != 1 {
		t.Fatalf("got %d candidates, want 1", len(candidates))
	}
}

func TestListCandidates_ObservesQuotaRemainingRatio(t *testing.T) {
	b := testBundle(t)
	tr := newTracker()
	ctx := context.Background()

	// groq's llama-3.3-70b record has a 10 req/min limit; one recorded
	// request should leave a 0.9 remaining ratio.
	if err := tr.RecordUsage(ctx, "groq", "llama-3.3-70b", 1); err != nil {
		t.Fatal(err)
	}
	if _, err := ListCandidates(ctx, b, tr, nil, "llama-3.3-70b", NewRoutingContext()); err != nil {
		t.Fatal(err)
	}

	got := testutil.ToFloat64(metrics.QuotaRemainingRatio.WithLabelValues("groq", "llama-3.3-70b", "minute"))
	if got != 0.9 {
		t.Errorf("got quota_remaining_ratio=%v, want 0.9", got)
	}
}

func TestListCandidates_ObservesCooldownActive(t *testing.T) {
	b := testBundle(t)
	tr := newTracker()
	ctx := context.Background()

	if _, err := tr.MarkRateLimited(ctx, "cerebras", "qwen-3-32b", nil); err != nil {
		t.Fatal(err)
	}
	// cerebras is the only provider of qwen-3-32b, so cooling it down
	// leaves no candidate; the gauge still records the cooldown.
	if _, err := ListCandidates(ctx, b, tr, nil, "qwen-3-32b", NewRoutingContext()); err == nil {
		t.Fatal("expected ErrNoAvailableCandidates once the sole provider is cooling down")
	}

	got := testutil.ToFloat64(metrics.CooldownActive.WithLabelValues("cerebras", "qwen-3-32b"))
	if got != 1 {
		t.Errorf("got cooldown_active=%v, want 1", got)
	}
}

func isKind(err error, kind ErrorKind, target **Error) bool {
	se, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = se
	return se.Kind == kind
}
