package llmrouter

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/freetier/llmrouter/catalog"
	"github.com/freetier/llmrouter/internal/clock"
	"github.com/freetier/llmrouter/internal/logging"
	"github.com/freetier/llmrouter/internal/metrics"
	"github.com/freetier/llmrouter/internal/ratelimit"
	"github.com/freetier/llmrouter/internal/selection"
	"github.com/freetier/llmrouter/internal/store"
	"github.com/freetier/llmrouter/internal/strategy"
	"github.com/freetier/llmrouter/upstream"
)

// Metadata describes the outcome of a successful Route/RouteStream call:
// which provider and provider-model id actually served the request, how
// long it took (zero for streaming), and how many failovers occurred.
type Metadata struct {
	Provider   string
	ModelID    string
	LatencyMS  int64
	RetryCount int
}

// StreamResult pairs the streamed channel with its routing Metadata,
// available immediately at hand-off.
type StreamResult struct {
	Chunks   <-chan upstream.StreamChunk
	Metadata Metadata
}

// Router is the Execution Driver: it owns the Model Catalog, the
// Rate-Limit Tracker, the configured Strategy, and one
// upstream.Client per provider, and orchestrates select → invoke →
// classify error → failover/retry for each caller request.
type Router struct {
	bundle    *catalog.Bundle
	tracker   *ratelimit.Tracker
	strategy  selection.Strategy
	clients   map[string]upstream.Client
	runtime   map[string]selection.ProviderRuntime
	retry     RetryConfig
	timeout   time.Duration
	estimator Estimator
	throwHard bool
	store     store.Store
}

// New builds a Router from cfg: it loads the model catalog, constructs
// the configured Store, wires one upstream.Client per enabled provider,
// and resolves the routing Strategy.
func New(cfg Config) (*Router, error) {
	if len(cfg.Providers) == 0 {
		return nil, &ConfigurationError{Reason: "no providers configured"}
	}

	bundle, err := loadBundle(cfg)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("load catalog: %v", err)}
	}

	st, err := newStore(cfg)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("construct state store: %v", err)}
	}

	strat, err := resolveStrategy(cfg.strategyName())
	if err != nil {
		st.Close()
		return nil, err
	}

	clients := make(map[string]upstream.Client)
	runtime := make(map[string]selection.ProviderRuntime)
	descriptors := make(map[string]*catalog.ProviderDescriptor, len(bundle.Providers()))
	for i := range bundle.Providers() {
		pd := &bundle.Providers()[i]
		descriptors[pd.Name] = pd
	}

	for _, pc := range cfg.Providers {
		if !pc.IsEnabled() {
			continue
		}
		pd, ok := descriptors[pc.Name]
		if !ok {
			st.Close()
			return nil, &ConfigurationError{Reason: fmt.Sprintf("provider %q has no catalog entry", pc.Name)}
		}
		client, err := newClient(pc, pd)
		if err != nil {
			st.Close()
			return nil, &ConfigurationError{Reason: fmt.Sprintf("construct client for provider %q: %v", pc.Name, err)}
		}
		clients[pc.Name] = client
		runtime[pc.Name] = selection.ProviderRuntime{Priority: pc.Priority, IsFreeCredits: pc.IsFreeCredits}
	}
	if len(clients) == 0 {
		st.Close()
		return nil, &ConfigurationError{Reason: "no enabled providers"}
	}

	estimator := cfg.Estimator
	if estimator == nil {
		estimator = DefaultEstimator
	}

	tracker := ratelimit.New(st, clock.RealClock{}, cfg.DefaultCooldown)
	for _, pc := range cfg.Providers {
		if d := pc.defaultCooldown(); d > 0 {
			tracker.SetProviderCooldown(pc.Name, d)
		}
	}

	return &Router{
		bundle:    bundle,
		tracker:   tracker,
		strategy:  strat,
		clients:   clients,
		runtime:   runtime,
		retry:     cfg.Retry.withDefaults(),
		timeout:   cfg.timeout(),
		estimator: estimator,
		throwHard: cfg.throwOnExhausted(),
		store:     st,
	}, nil
}

func resolveStrategy(name StrategyName) (selection.Strategy, error) {
	switch name {
	case StrategyPriority:
		return strategy.Priority{}, nil
	case StrategyLeastUsed:
		return strategy.LeastUsed{}, nil
	case StrategyWeighted:
		return strategy.Weighted{}, nil
	case StrategyLatencyAware:
		return strategy.LatencyAware{}, nil
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown strategy %q", name)}
	}
}

// Close releases the underlying Store's resources (connection pools,
// file handles). The Router must not be used afterward.
func (r *Router) Close() error {
	return r.store.Close()
}

// attempt is one (provider, model-record) pairing the driver tried, kept
// so the terminal AllProvidersExhausted error can report every attempt
// and the earliest known cooldown deadline.
type attempt struct {
	provider string
	model    string
	resetAt  *time.Time
}

// Route executes one non-streaming chat/completion request, selecting a
// provider, invoking it, and transparently failing over on error.
func (r *Router) Route(ctx context.Context, req upstream.Request) (*upstream.Response, Metadata, error) {
	routingCtx := selection.NewRoutingContext()
	estimate := r.estimator.Estimate(req)
	start := time.Now()

	var attempts []attempt
	var lastErr error

	for routingCtx.RetryCount <= r.retry.MaxRetries {
		cand, err := selection.Select(ctx, r.bundle, r.tracker, r.runtime, req.Model, routingCtx, r.strategy)
		if err != nil {
			return nil, Metadata{}, r.terminal(attempts, err)
		}

		providerName := cand.Provider.Name
		canonicalID := cand.Record.CanonicalID
		providerModelID := cand.Record.ProviderModelID

		ok, err := r.tracker.CanMakeRequest(ctx, providerName, canonicalID, cand.Record.Limits, estimate)
		if err != nil {
			return nil, Metadata{}, fmt.Errorf("llmrouter: pre-flight quota check for %s/%s: %w", providerName, canonicalID, err)
		}
		if !ok {
			routingCtx = routingCtx.Excluding(providerName)
			continue
		}

		client, ok := r.clients[providerName]
		if !ok {
			return nil, Metadata{}, &ConfigurationError{Reason: fmt.Sprintf("no client wired for provider %q", providerName)}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		providerReq := req
		providerReq.Model = providerModelID
		callStart := time.Now()
		resp, callErr := client.Complete(callCtx, providerReq)
		cancel()

		if callErr == nil {
			latency := time.Since(callStart)
			tokens := int64(resp.Usage.TotalTokens)
			if tokens == 0 {
				tokens = estimate
			}
			if err := r.tracker.RecordUsage(ctx, providerName, canonicalID, tokens); err != nil {
				logging.FromContext(ctx).Warn("record usage failed", "provider", providerName, "model", canonicalID, "error", err)
			}
			if err := r.tracker.UpdateLatency(ctx, providerName, canonicalID, float64(latency.Milliseconds())); err != nil {
				logging.FromContext(ctx).Warn("update latency failed", "provider", providerName, "model", canonicalID, "error", err)
			}
			metrics.RequestsTotal.WithLabelValues(providerName, canonicalID, "success").Inc()
			metrics.RequestDuration.WithLabelValues(providerName, canonicalID).Observe(time.Since(start).Seconds())
			if rec, err := r.tracker.GetLatency(ctx, providerName, canonicalID); err == nil && rec != nil {
				metrics.LatencyEMAMilliseconds.WithLabelValues(providerName, canonicalID).Set(rec.EMAMillis)
			}
			return resp, Metadata{
				Provider:   providerName,
				ModelID:    providerModelID,
				LatencyMS:  latency.Milliseconds(),
				RetryCount: routingCtx.RetryCount,
			}, nil
		}

		at := attempt{provider: providerName, model: canonicalID}
		if ctx.Err() != nil {
			return nil, Metadata{}, ctx.Err()
		}

		if rle, isRL := callErr.(*upstream.RateLimitError); isRL {
			var resetAt *time.Time
			if rle.RetryAfter != nil {
				t := time.Now().Add(*rle.RetryAfter)
				resetAt = &t
			}
			expiresAt, err := r.tracker.MarkRateLimited(ctx, providerName, canonicalID, resetAt)
			if err != nil {
				logging.FromContext(ctx).Warn("mark rate limited failed", "provider", providerName, "model", canonicalID, "error", err)
			} else {
				resetAt = &expiresAt
			}
			at.resetAt = resetAt
			attempts = append(attempts, at)
			lastErr = &RateLimited{Provider: providerName, Model: canonicalID, ResetAt: resetAt}
			metrics.FailoversTotal.WithLabelValues(providerName, "rate_limited").Inc()
			routingCtx = routingCtx.Excluding(providerName)
			routingCtx.RetryCount++
			continue
		}

		attempts = append(attempts, at)
		lastErr = r.classifyProviderError(providerName, callErr, callCtx)
		metrics.FailoversTotal.WithLabelValues(providerName, "provider_error").Inc()
		routingCtx = routingCtx.Excluding(providerName)
		routingCtx.RetryCount++

		if routingCtx.RetryCount > r.retry.MaxRetries {
			break
		}
		backoff := backoffFor(r.retry, routingCtx.RetryCount)
		select {
		case <-ctx.Done():
			return nil, Metadata{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	err := r.terminal(attempts, lastErr)
	metrics.RequestsTotal.WithLabelValues(lastAttemptedProvider(attempts), req.Model, requestStatus(err)).Inc()
	metrics.RequestDuration.WithLabelValues(lastAttemptedProvider(attempts), req.Model).Observe(time.Since(start).Seconds())
	return nil, Metadata{}, err
}

// RouteStream is Route's streaming counterpart: it returns the channel
// and Metadata immediately on hand-off, recording usage against the
// pre-flight token estimate since the core cannot observe the eventual
// usage of a still-streaming response.
func (r *Router) RouteStream(ctx context.Context, req upstream.Request) (StreamResult, error) {
	routingCtx := selection.NewRoutingContext()
	estimate := r.estimator.Estimate(req)
	start := time.Now()

	var attempts []attempt
	var lastErr error

	for routingCtx.RetryCount <= r.retry.MaxRetries {
		cand, err := selection.Select(ctx, r.bundle, r.tracker, r.runtime, req.Model, routingCtx, r.strategy)
		if err != nil {
			return StreamResult{}, r.terminal(attempts, err)
		}

		providerName := cand.Provider.Name
		canonicalID := cand.Record.CanonicalID
		providerModelID := cand.Record.ProviderModelID

		ok, err := r.tracker.CanMakeRequest(ctx, providerName, canonicalID, cand.Record.Limits, estimate)
		if err != nil {
			return StreamResult{}, fmt.Errorf("llmrouter: pre-flight quota check for %s/%s: %w", providerName, canonicalID, err)
		}
		if !ok {
			routingCtx = routingCtx.Excluding(providerName)
			continue
		}

		client, ok := r.clients[providerName]
		if !ok {
			return StreamResult{}, &ConfigurationError{Reason: fmt.Sprintf("no client wired for provider %q", providerName)}
		}

		providerReq := req
		providerReq.Model = providerModelID
		providerReq.Stream = true
		chunks, callErr := client.CompleteStream(ctx, providerReq)

		if callErr == nil {
			if err := r.tracker.RecordUsage(ctx, providerName, canonicalID, estimate); err != nil {
				logging.FromContext(ctx).Warn("record usage failed", "provider", providerName, "model", canonicalID, "error", err)
			}
			metrics.RequestsTotal.WithLabelValues(providerName, canonicalID, "success").Inc()
			metrics.RequestDuration.WithLabelValues(providerName, canonicalID).Observe(time.Since(start).Seconds())
			return StreamResult{
				Chunks: chunks,
				Metadata: Metadata{
					Provider:   providerName,
					ModelID:    providerModelID,
					RetryCount: routingCtx.RetryCount,
				},
			}, nil
		}

		at := attempt{provider: providerName, model: canonicalID}
		if ctx.Err() != nil {
			return StreamResult{}, ctx.Err()
		}

		if rle, isRL := callErr.(*upstream.RateLimitError); isRL {
			var resetAt *time.Time
			if rle.RetryAfter != nil {
				t := time.Now().Add(*rle.RetryAfter)
				resetAt = &t
			}
			expiresAt, err := r.tracker.MarkRateLimited(ctx, providerName, canonicalID, resetAt)
			if err != nil {
				logging.FromContext(ctx).Warn("mark rate limited failed", "provider", providerName, "model", canonicalID, "error", err)
			} else {
				resetAt = &expiresAt
			}
			at.resetAt = resetAt
			attempts = append(attempts, at)
			lastErr = &RateLimited{Provider: providerName, Model: canonicalID, ResetAt: resetAt}
			metrics.FailoversTotal.WithLabelValues(providerName, "rate_limited").Inc()
			routingCtx = routingCtx.Excluding(providerName)
			routingCtx.RetryCount++
			continue
		}

		attempts = append(attempts, at)
		lastErr = r.classifyProviderError(providerName, callErr, nil)
		metrics.FailoversTotal.WithLabelValues(providerName, "provider_error").Inc()
		routingCtx = routingCtx.Excluding(providerName)
		routingCtx.RetryCount++

		if routingCtx.RetryCount > r.retry.MaxRetries {
			break
		}
		backoff := backoffFor(r.retry, routingCtx.RetryCount)
		select {
		case <-ctx.Done():
			return StreamResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}

	err := r.terminal(attempts, lastErr)
	metrics.RequestsTotal.WithLabelValues(lastAttemptedProvider(attempts), req.Model, requestStatus(err)).Inc()
	metrics.RequestDuration.WithLabelValues(lastAttemptedProvider(attempts), req.Model).Observe(time.Since(start).Seconds())
	return StreamResult{}, err
}

// DebugCandidates returns every current candidate for model — not
// excluded, not in cooldown, with its live quota/latency snapshot — the
// same list Route's first selection call would consider, without
// invoking a Strategy or a provider. It is read-only and safe to call
// from an admin/introspection surface.
func (r *Router) DebugCandidates(ctx context.Context, model string) ([]selection.Candidate, error) {
	return selection.ListCandidates(ctx, r.bundle, r.tracker, r.runtime, model, selection.NewRoutingContext())
}

// RecordStreamActual true's up the usage estimate recorded at stream
// hand-off once the caller has parsed the real usage off the trailing
// SSE event. delta is recorded through the tracker's RecordUsage: it is
// added to (or, if negative, subtracted from) the tokens already recorded
// for provider/model in the current windows, and each window's request
// count also goes up by one. It is never called automatically — callers that only need the default
// estimate-at-handoff behavior can ignore this entirely.
func (r *Router) RecordStreamActual(ctx context.Context, provider, model string, delta int64) error {
	if delta == 0 {
		return nil
	}
	return r.tracker.RecordUsage(ctx, provider, model, delta)
}

// lastAttemptedProvider returns the provider name of the final attempt,
// or "" if the loop exited before ever invoking a client.
func lastAttemptedProvider(attempts []attempt) string {
	if len(attempts) == 0 {
		return ""
	}
	return attempts[len(attempts)-1].provider
}

// requestStatus classifies a terminal Route/RouteStream error for the
// requests_total status label.
func requestStatus(err error) string {
	if err == nil {
		return "success"
	}
	var exhausted *AllProvidersExhausted
	if errors.As(err, &exhausted) {
		return "exhausted"
	}
	return "error"
}

// backoffFor computes the non-429 failover backoff: initial * multiplier
// ^ (retries-1), bounded by max-backoff.
func backoffFor(r RetryConfig, retries int) time.Duration {
	ms := float64(r.InitialBackoffMS) * math.Pow(r.BackoffMultiplier, float64(retries-1))
	if max := float64(r.MaxBackoffMS); ms > max {
		ms = max
	}
	return time.Duration(ms) * time.Millisecond
}

// classifyProviderError converts an upstream error into the root
// package's tagged ProviderError. A callCtx whose deadline has already
// elapsed is reported as a *TimeoutError wrapped in the ProviderError, so
// callers checking errors.As(err, *ProviderError) keep working while
// errors.As(err, *TimeoutError) can still distinguish the cause.
func (r *Router) classifyProviderError(provider string, err error, callCtx context.Context) error {
	if callCtx != nil && callCtx.Err() == context.DeadlineExceeded {
		return &ProviderError{Provider: provider, Err: &TimeoutError{Provider: provider, TimeoutMS: int(r.timeout.Milliseconds())}}
	}
	if se, ok := err.(*upstream.StatusError); ok {
		return &ProviderError{Provider: provider, Status: se.Status, Raw: se.Body, Err: err}
	}
	return &ProviderError{Provider: provider, Err: err}
}

// terminal builds the loop's exit error. When no provider was attempted,
// lastErr (typically the selection.Error) is returned as-is; otherwise it
// returns either AllProvidersExhausted (ThrowOnExhausted, the default) or
// lastErr.
func (r *Router) terminal(attempts []attempt, lastErr error) error {
	// No provider was ever actually attempted: either the model token
	// never resolved to any candidate, or every candidate was already
	// excluded before this request began (e.g. all in cooldown). Either
	// way there is nothing to report as "exhausted" — propagate the
	// selection failure (or the cause) as-is.
	if len(attempts) == 0 {
		return lastErr
	}

	if !r.throwHard {
		return lastErr
	}

	pairs := make([]AttemptedPair, len(attempts))
	var earliest *time.Time
	for i, a := range attempts {
		pairs[i] = AttemptedPair{Provider: a.provider, Model: a.model}
		if a.resetAt != nil && (earliest == nil || a.resetAt.Before(*earliest)) {
			earliest = a.resetAt
		}
	}
	return &AllProvidersExhausted{Attempted: pairs, EarliestReset: earliest}
}
