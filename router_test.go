package llmrouter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/freetier/llmrouter/catalog"
	"github.com/freetier/llmrouter/internal/clock"
	"github.com/freetier/llmrouter/internal/ratelimit"
	"github.com/freetier/llmrouter/internal/selection"
	"github.com/freetier/llmrouter/internal/store"
	"github.com/freetier/llmrouter/internal/strategy"
	"github.com/freetier/llmrouter/upstream"
)

// fakeClient is a scripted upstream.Client double: each call to
// Complete pops the next entry off results, so a test can script a
// provider-specific failure sequence.
type fakeClient struct {
	results []clientResult
	calls   int
}

type clientResult struct {
	resp *upstream.Response
	err  error
}

func (f *fakeClient) Complete(_ context.Context, _ upstream.Request) (*upstream.Response, error) {
	r := f.results[f.calls]
	f.calls++
	return r.resp, r.err
}

func (f *fakeClient) CompleteStream(_ context.Context, _ upstream.Request) (<-chan upstream.StreamChunk, error) {
	r := f.results[f.calls]
	f.calls++
	if r.err != nil {
		return nil, r.err
	}
	ch := make(chan upstream.StreamChunk, 1)
	ch <- upstream.StreamChunk{ID: "s1", Model: "m"}
	close(ch)
	return ch, nil
}

func testBundle(t *testing.T) *catalog.Bundle {
	t.Helper()
	models := []catalog.ModelDescriptor{
		{CanonicalID: "big-model", Tier: 5},
	}
	providersList := []catalog.ProviderDescriptor{
		{Name: "alpha", Models: []catalog.ProviderModelRecord{
			{CanonicalID: "big-model", ProviderModelID: "alpha-big"},
		}},
		{Name: "beta", Models: []catalog.ProviderModelRecord{
			{CanonicalID: "big-model", ProviderModelID: "beta-big"},
		}},
	}
	b, err := catalog.NewBundle(models, nil, providersList, nil)
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	return b
}

func newTestRouter(t *testing.T, clients map[string]upstream.Client) *Router {
	t.Helper()
	fc := clock.NewFake(time.Unix(0, 0))
	st := store.NewMemory(fc.Now)
	tracker := ratelimit.New(st, fc, time.Minute)
	return &Router{
		bundle:    testBundle(t),
		tracker:   tracker,
		strategy:  strategy.Priority{},
		clients:   clients,
		runtime: map[string]selection.ProviderRuntime{
			"alpha": {Priority: 0},
			"beta":  {Priority: 1},
		},
		retry:     RetryConfig{MaxRetries: 2, InitialBackoffMS: 1, MaxBackoffMS: 5, BackoffMultiplier: 2},
		timeout:   time.Second,
		estimator: DefaultEstimator,
		throwHard: true,
		store:     st,
	}
}

func TestRoute_SucceedsOnFirstProvider(t *testing.T) {
	r := newTestRouter(t, map[string]upstream.Client{
		"alpha": &fakeClient{results: []clientResult{{resp: &upstream.Response{ID: "1", Usage: upstream.Usage{TotalTokens: 10}}}}},
		"beta":  &fakeClient{results: []clientResult{{resp: &upstream.Response{ID: "2"}}}},
	})

	resp, meta, err := r.Route(context.Background(), upstream.Request{Model: "big-model"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if meta.Provider != "alpha" {
		t.Errorf("got provider %q, want alpha", meta.Provider)
	}
	if resp.ID != "1" {
		t.Errorf("got response id %q, want 1", resp.ID)
	}
	if meta.RetryCount != 0 {
		t.Errorf("got retry count %d, want 0", meta.RetryCount)
	}
}

func TestRoute_FailsOverOnProviderErrorThenSucceeds(t *testing.T) {
	r := newTestRouter(t, map[string]upstream.Client{
		"alpha": &fakeClient{results: []clientResult{{err: &upstream.StatusError{Provider: "alpha", Status: 500, Body: "boom"}}}},
		"beta":  &fakeClient{results: []clientResult{{resp: &upstream.Response{ID: "2", Usage: upstream.Usage{TotalTokens: 5}}}}},
	})

	resp, meta, err := r.Route(context.Background(), upstream.Request{Model: "big-model"})
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if meta.Provider != "beta" {
		t.Errorf("got provider %q, want beta", meta.Provider)
	}
	if resp.ID != "2" {
		t.Errorf("got response id %q, want 2", resp.ID)
	}
	if meta.RetryCount != 1 {
		t.Errorf("got retry count %d, want 1", meta.RetryCount)
	}
}

func TestRoute_RateLimitFailsOverImmediatelyWithoutBackoff(t *testing.T) {
	r := newTestRouter(t, map[string]upstream.Client{
		"alpha": &fakeClient{results: []clientResult{{err: &upstream.RateLimitError{Provider: "alpha"}}}},
		"beta":  &fakeClient{results: []clientResult{{resp: &upstream.Response{ID: "2"}}}},
	})

	start := time.Now()
	_, meta, err := r.Route(context.Background(), upstream.Request{Model: "big-model"})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if meta.Provider != "beta" {
		t.Errorf("got provider %q, want beta", meta.Provider)
	}
	if elapsed > 50*time.Millisecond {
		t.Errorf("rate-limit failover took %s, want near-instant (no backoff)", elapsed)
	}
}

func TestRoute_AllProvidersExhaustedReturnsTypedError(t *testing.T) {
	r := newTestRouter(t, map[string]upstream.Client{
		"alpha": &fakeClient{results: []clientResult{
			{err: &upstream.StatusError{Provider: "alpha", Status: 500}},
			{err: &upstream.StatusError{Provider: "alpha", Status: 500}},
			{err: &upstream.StatusError{Provider: "alpha", Status: 500}},
		}},
		"beta": &fakeClient{results: []clientResult{
			{err: &upstream.StatusError{Provider: "beta", Status: 500}},
			{err: &upstream.StatusError{Provider: "beta", Status: 500}},
			{err: &upstream.StatusError{Provider: "beta", Status: 500}},
		}},
	})

	_, _, err := r.Route(context.Background(), upstream.Request{Model: "big-model"})
	var exhausted *AllProvidersExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %T (%v), want *AllProvidersExhausted", err, err)
	}
	if len(exhausted.Attempted) == 0 {
		t.Errorf("expected at least one attempted pair")
	}
}

func singleProviderBundle(t *testing.T) *catalog.Bundle {
	t.Helper()
	models := []catalog.ModelDescriptor{
		{CanonicalID: "big-model", Tier: 5},
	}
	providersList := []catalog.ProviderDescriptor{
		{Name: "alpha", Models: []catalog.ProviderModelRecord{
			{CanonicalID: "big-model", ProviderModelID: "alpha-big"},
		}},
	}
	b, err := catalog.NewBundle(models, nil, providersList, nil)
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	return b
}

func TestRoute_SingleProviderRateLimitedWithNoRetryAfterSetsEarliestReset(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	st := store.NewMemory(fc.Now)
	r := &Router{
		bundle:   singleProviderBundle(t),
		tracker:  ratelimit.New(st, fc, time.Minute),
		strategy: strategy.Priority{},
		clients: map[string]upstream.Client{
			"alpha": &fakeClient{results: []clientResult{{err: &upstream.RateLimitError{Provider: "alpha"}}}},
		},
		runtime:   map[string]selection.ProviderRuntime{"alpha": {Priority: 0}},
		retry:     RetryConfig{MaxRetries: 0, InitialBackoffMS: 1, MaxBackoffMS: 5, BackoffMultiplier: 2},
		timeout:   time.Second,
		estimator: DefaultEstimator,
		throwHard: true,
		store:     st,
	}

	before := fc.Now()
	_, _, err := r.Route(context.Background(), upstream.Request{Model: "big-model"})
	var exhausted *AllProvidersExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %T (%v), want *AllProvidersExhausted", err, err)
	}
	if len(exhausted.Attempted) != 1 || exhausted.Attempted[0].Provider != "alpha" {
		t.Fatalf("got attempted %+v, want exactly [alpha]", exhausted.Attempted)
	}
	if exhausted.EarliestReset == nil {
		t.Fatal("EarliestReset is nil; want the tracker's default cooldown deadline even with no upstream Retry-After")
	}
	wantNotBefore := before.Add(time.Minute)
	if exhausted.EarliestReset.Before(wantNotBefore) {
		t.Errorf("got EarliestReset %s, want at least %s out (the default cooldown)", exhausted.EarliestReset, wantNotBefore)
	}
}

// blockingClient ignores its request and waits out the caller's context,
// returning its deadline error — simulating a provider that never answers.
type blockingClient struct{}

func (blockingClient) Complete(ctx context.Context, _ upstream.Request) (*upstream.Response, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingClient) CompleteStream(ctx context.Context, _ upstream.Request) (<-chan upstream.StreamChunk, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRoute_PerCallTimeoutIsClassifiedAsTimeoutError(t *testing.T) {
	fc := clock.NewFake(time.Unix(0, 0))
	st := store.NewMemory(fc.Now)
	r := &Router{
		bundle:    singleProviderBundle(t),
		tracker:   ratelimit.New(st, fc, time.Minute),
		strategy:  strategy.Priority{},
		clients:   map[string]upstream.Client{"alpha": blockingClient{}},
		runtime:   map[string]selection.ProviderRuntime{"alpha": {Priority: 0}},
		retry:     RetryConfig{MaxRetries: 0, InitialBackoffMS: 1, MaxBackoffMS: 5, BackoffMultiplier: 2},
		timeout:   20 * time.Millisecond,
		estimator: DefaultEstimator,
		throwHard: false,
		store:     st,
	}

	_, _, err := r.Route(context.Background(), upstream.Request{Model: "big-model"})
	var providerErr *ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("got %T (%v), want *ProviderError", err, err)
	}
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("got %v, want the wrapped error chain to contain *TimeoutError", err)
	}
	if timeoutErr.Provider != "alpha" {
		t.Errorf("got provider %q, want alpha", timeoutErr.Provider)
	}
	if timeoutErr.TimeoutMS != 20 {
		t.Errorf("got TimeoutMS %d, want 20", timeoutErr.TimeoutMS)
	}
}

func TestRoute_ModelNotFoundPropagatesSelectionError(t *testing.T) {
	r := newTestRouter(t, map[string]upstream.Client{
		"alpha": &fakeClient{},
		"beta":  &fakeClient{},
	})

	_, _, err := r.Route(context.Background(), upstream.Request{Model: "unknown-model"})
	var selErr *selection.Error
	if !errors.As(err, &selErr) {
		t.Fatalf("got %T (%v), want *selection.Error", err, err)
	}
	if selErr.Kind != selection.ErrNoMatchingProviders {
		t.Errorf("got kind %v, want ErrNoMatchingProviders", selErr.Kind)
	}
}

func TestRouteStream_ReturnsMetadataAtHandoff(t *testing.T) {
	r := newTestRouter(t, map[string]upstream.Client{
		"alpha": &fakeClient{results: []clientResult{{}}},
		"beta":  &fakeClient{results: []clientResult{{}}},
	})

	result, err := r.RouteStream(context.Background(), upstream.Request{Model: "big-model"})
	if err != nil {
		t.Fatalf("RouteStream: %v", err)
	}
	if result.Metadata.Provider != "alpha" {
		t.Errorf("got provider %q, want alpha", result.Metadata.Provider)
	}

	var chunks int
	for range result.Chunks {
		chunks++
	}
	if chunks != 1 {
		t.Errorf("got %d chunks, want 1", chunks)
	}
}

func TestBackoffFor_BoundedByMaxBackoff(t *testing.T) {
	r := RetryConfig{InitialBackoffMS: 1000, MaxBackoffMS: 3000, BackoffMultiplier: 2}
	if got := backoffFor(r, 1); got != time.Second {
		t.Errorf("got %s, want 1s", got)
	}
	if got := backoffFor(r, 2); got != 2*time.Second {
		t.Errorf("got %s, want 2s", got)
	}
	if got := backoffFor(r, 5); got != 3*time.Second {
		t.Errorf("got %s, want bounded to %s", got, 3*time.Second)
	}
}
