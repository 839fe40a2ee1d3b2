// Package selection implements candidate selection: resolving a model
// token to a set of provider candidates, filtering them by exclusion and
// cooldown, attaching quota/latency snapshots, sorting by quality tier,
// and handing the result to a pluggable Strategy.
//
// The Strategy interface lives here (rather than in the strategy
// package) so that selection never has to import the concrete strategy
// implementations — strategy imports selection, not the reverse.
package selection

import (
	"context"
	"fmt"
	"sort"

	"github.com/freetier/llmrouter/catalog"
	"github.com/freetier/llmrouter/internal/clock"
	"github.com/freetier/llmrouter/internal/metrics"
	"github.com/freetier/llmrouter/internal/ratelimit"
	"github.com/freetier/llmrouter/internal/store"
)

// Candidate is one (provider, provider-model-record) pair augmented with
// a quota/latency snapshot for a single request. Candidates are
// ephemeral — built fresh per request and owned by it.
type Candidate struct {
	Provider      *catalog.ProviderDescriptor
	Record        catalog.ProviderModelRecord
	Tier          int
	Quota         ratelimit.QuotaStatus
	LatencyMillis *float64
	Priority      int
	IsFreeCredits bool
}

// RoutingContext carries the per-attempt state threaded through
// successive selection calls within one caller request.
type RoutingContext struct {
	Excluded   map[string]bool
	RetryCount int
}

// NewRoutingContext returns an empty context ready for the first attempt.
func NewRoutingContext() RoutingContext {
	return RoutingContext{Excluded: make(map[string]bool)}
}

// Excluding returns a copy of ctx with provider added to the excluded set.
func (ctx RoutingContext) Excluding(provider string) RoutingContext {
	next := RoutingContext{Excluded: make(map[string]bool, len(ctx.Excluded)+1), RetryCount: ctx.RetryCount}
	for k := range ctx.Excluded {
		next.Excluded[k] = true
	}
	next.Excluded[provider] = true
	return next
}

// ErrorKind tags the variant of a SelectionError.
type ErrorKind int

// Selection error variants.
const (
	ErrNoMatchingProviders ErrorKind = iota
	ErrNoAvailableCandidates
	ErrStrategyError
	ErrProviderNotFound
)

// Error is the tagged error type returned by Select.
type Error struct {
	Kind  ErrorKind
	Model string
	Name  string
	Inner error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrNoMatchingProviders:
		return fmt.Sprintf("selection: no matching providers for model %q", e.Model)
	case ErrNoAvailableCandidates:
		return fmt.Sprintf("selection: no available candidates for model %q", e.Model)
	case ErrStrategyError:
		return fmt.Sprintf("selection: strategy error: %v", e.Inner)
	case ErrProviderNotFound:
		return fmt.Sprintf("selection: provider not found: %q", e.Name)
	default:
		return "selection: unknown error"
	}
}

// Unwrap exposes the wrapped strategy error, if any.
func (e *Error) Unwrap() error { return e.Inner }

// Strategy picks one candidate from a list already sorted by descending
// quality tier and already restricted to providers the caller is
// permitted to use this attempt.
type Strategy interface {
	Select(candidates []Candidate, ctx RoutingContext) (Candidate, error)
}

// QuotaSource is the subset of ratelimit.Tracker that candidate
// selection depends on, named here so tests can supply a double without
// depending on the concrete Tracker's other methods.
type QuotaSource interface {
	IsInCooldown(ctx context.Context, provider, model string) (bool, error)
	GetQuotaStatus(ctx context.Context, provider, model string, limits catalog.RateLimits) (ratelimit.QuotaStatus, error)
	GetLatency(ctx context.Context, provider, model string) (*store.LatencyRecord, error)
}

// ProviderRuntime carries the router-construction-time fields that
// augment a structural catalog.ProviderDescriptor: its configured
// priority and whether it runs on free credits. These are not part of
// the catalog because they come from Router construction options, not
// the models/providers YAML bundle.
type ProviderRuntime struct {
	Priority      int
	IsFreeCredits bool
}

// Select resolves token via bundle, builds the raw candidate list,
// filters by exclusion and cooldown, attaches quota/latency, sorts by
// descending tier, and hands the whole sorted list to strategy (the
// strategies in internal/strategy restrict themselves to its top-tier
// prefix).
func Select(ctx context.Context, bundle *catalog.Bundle, tracker QuotaSource, runtime map[string]ProviderRuntime, token string, routingCtx RoutingContext, strategy Strategy) (Candidate, error) {
	survivors, err := ListCandidates(ctx, bundle, tracker, runtime, token, routingCtx)
	if err != nil {
		return Candidate{}, err
	}

	choice, err := strategy.Select(survivors, routingCtx)
	if err != nil {
		return Candidate{}, &Error{Kind: ErrStrategyError, Model: token, Inner: err}
	}
	return choice, nil
}

// ListCandidates resolves token via bundle and returns every surviving
// candidate (not excluded, not in cooldown) with quota/latency attached
// and sorted by descending tier, without handing off to a Strategy. It
// is Select's read-only half, used by admin introspection to show what
// a live request would currently choose among.
func ListCandidates(ctx context.Context, bundle *catalog.Bundle, tracker QuotaSource, runtime map[string]ProviderRuntime, token string, routingCtx RoutingContext) ([]Candidate, error) {
	resolved := bundle.Resolve(token)

	var matches []catalog.ProviderMatch
	if bundle.IsGeneric(resolved) {
		spec, _ := bundle.GenericConfig(resolved)
		matches = bundle.ProvidersMatchingGeneric(spec)
	} else {
		matches = bundle.ProvidersSupporting(resolved)
	}

	if len(matches) == 0 {
		return nil, &Error{Kind: ErrNoMatchingProviders, Model: token}
	}

	var survivors []Candidate
	for _, m := range matches {
		if routingCtx.Excluded[m.Provider.Name] {
			continue
		}

		inCooldown, err := tracker.IsInCooldown(ctx, m.Provider.Name, m.Record.CanonicalID)
		if err != nil {
			return nil, fmt.Errorf("selection: check cooldown for %s/%s: %w", m.Provider.Name, m.Record.CanonicalID, err)
		}
		cooldownGauge := 0.0
		if inCooldown {
			cooldownGauge = 1.0
		}
		metrics.CooldownActive.WithLabelValues(m.Provider.Name, m.Record.CanonicalID).Set(cooldownGauge)
		if inCooldown {
			continue
		}

		quota, err := tracker.GetQuotaStatus(ctx, m.Provider.Name, m.Record.CanonicalID, m.Record.Limits)
		if err != nil {
			return nil, fmt.Errorf("selection: get quota status for %s/%s: %w", m.Provider.Name, m.Record.CanonicalID, err)
		}
		observeQuotaRatio(m.Provider.Name, m.Record.CanonicalID, m.Record.Limits, quota)

		model, _ := bundle.Model(m.Record.CanonicalID)
		rt := runtime[m.Provider.Name]
		cand := Candidate{
			Provider:      m.Provider,
			Record:        m.Record,
			Tier:          model.Tier,
			Quota:         quota,
			Priority:      rt.Priority,
			IsFreeCredits: rt.IsFreeCredits,
		}
		if latency, err := tracker.GetLatency(ctx, m.Provider.Name, m.Record.CanonicalID); err == nil && latency != nil {
			ema := latency.EMAMillis
			cand.LatencyMillis = &ema
		}
		survivors = append(survivors, cand)
	}

	if len(survivors) == 0 {
		return nil, &Error{Kind: ErrNoAvailableCandidates, Model: token}
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Tier > survivors[j].Tier
	})
	return survivors, nil
}

// observeQuotaRatio updates llmrouter_quota_remaining_ratio for every
// window that has a configured requests limit. Windows with no
// configured limit (unbounded) report nothing, since "remaining/limit"
// is undefined for them.
func observeQuotaRatio(provider, canonicalID string, limits catalog.RateLimits, status ratelimit.QuotaStatus) {
	for _, kind := range []clock.Kind{clock.Minute, clock.Hour, clock.Day} {
		limit := limits.RequestsLimitFor(int(kind))
		if limit == nil || *limit <= 0 {
			continue
		}
		wq := status.ByKind(kind)
		if wq.RequestsRemaining == nil {
			continue
		}
		ratio := float64(*wq.RequestsRemaining) / float64(*limit)
		metrics.QuotaRemainingRatio.WithLabelValues(provider, canonicalID, kind.String()).Set(ratio)
	}
}
