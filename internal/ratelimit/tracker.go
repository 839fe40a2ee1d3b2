// Package ratelimit implements the rate-limit tracker: usage accounting
// over tumbling aligned windows, quota snapshots, and cooldown
// management for (provider, model) pairs.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/freetier/llmrouter/catalog"
	"github.com/freetier/llmrouter/internal/clock"
	"github.com/freetier/llmrouter/internal/store"
)

// DefaultCooldown is applied by MarkRateLimited when the upstream gave no
// Retry-After hint.
const DefaultCooldown = 60 * time.Second

// WindowQuota is the remaining-capacity snapshot for one window.
type WindowQuota struct {
	RequestsRemaining *int64
	TokensRemaining   *int64
	ResetTime         *time.Time
}

// QuotaStatus is a point-in-time snapshot of remaining quota across all
// three windows, plus the active cooldown deadline if any.
type QuotaStatus struct {
	Minute        WindowQuota
	Hour          WindowQuota
	Day           WindowQuota
	CooldownUntil *time.Time
}

// ByKind returns the snapshot for one window kind.
func (q QuotaStatus) ByKind(kind clock.Kind) WindowQuota {
	switch kind {
	case clock.Minute:
		return q.Minute
	case clock.Hour:
		return q.Hour
	default:
		return q.Day
	}
}

func (q *QuotaStatus) set(kind clock.Kind, wq WindowQuota) {
	switch kind {
	case clock.Minute:
		q.Minute = wq
	case clock.Hour:
		q.Hour = wq
	case clock.Day:
		q.Day = wq
	}
}

// Tracker is the rate-limit bookkeeper. It holds no local state of its
// own — every read and write goes through the injected Store, and window
// boundaries come from the injected Clock so tests can advance time
// deterministically.
type Tracker struct {
	store            store.Store
	clock            clock.Clock
	defaultCooldown  time.Duration
	providerCooldown map[string]time.Duration
}

// New constructs a Tracker. defaultCooldown <= 0 falls back to
// DefaultCooldown.
func New(st store.Store, clk clock.Clock, defaultCooldown time.Duration) *Tracker {
	if defaultCooldown <= 0 {
		defaultCooldown = DefaultCooldown
	}
	return &Tracker{store: st, clock: clk, defaultCooldown: defaultCooldown}
}

// SetProviderCooldown overrides the default cooldown MarkRateLimited
// applies for provider when the upstream gave no Retry-After hint. A
// zero or negative duration clears the override, reverting to the
// tracker-wide default.
func (t *Tracker) SetProviderCooldown(provider string, d time.Duration) {
	if d <= 0 {
		delete(t.providerCooldown, provider)
		return
	}
	if t.providerCooldown == nil {
		t.providerCooldown = make(map[string]time.Duration)
	}
	t.providerCooldown[provider] = d
}

func (t *Tracker) cooldownFor(provider string) time.Duration {
	if d, ok := t.providerCooldown[provider]; ok {
		return d
	}
	return t.defaultCooldown
}

// RecordUsage increments usage counters for provider/model across all
// three windows. The three increments are issued concurrently; a failure
// on one window does not prevent the others from being written. Errors
// from failed writes are joined and returned, but every write that can
// proceed does.
func (t *Tracker) RecordUsage(ctx context.Context, provider, model string, tokens int64) error {
	now := t.clock.Now()

	type result struct {
		err error
	}
	results := make(chan result, len(clock.Kinds))
	for _, kind := range clock.Kinds {
		kind := kind
		go func() {
			windowStart := clock.WindowStart(kind, now)
			key := clock.UsageKey(provider, model, kind)
			_, err := t.store.IncrementUsage(ctx, key, 1, tokens, windowStart, kind.Duration())
			if err != nil {
				err = fmt.Errorf("record usage %s/%s window %s: %w", provider, model, kind, err)
			}
			results <- result{err: err}
		}()
	}

	var errs []error
	for range clock.Kinds {
		if r := <-results; r.err != nil {
			errs = append(errs, r.err)
		}
	}
	return errors.Join(errs...)
}

// GetQuotaStatus reads the current usage for provider/model against
// limits and returns remaining capacity per window. Only windows with a
// configured limit get a non-nil remaining count; others read nil
// ("unbounded"). A stored usage record whose window-start no longer
// matches the current aligned window is treated as zero usage.
func (t *Tracker) GetQuotaStatus(ctx context.Context, provider, model string, limits catalog.RateLimits) (QuotaStatus, error) {
	now := t.clock.Now()
	var status QuotaStatus

	for _, kind := range clock.Kinds {
		windowStart := clock.WindowStart(kind, now)
		key := clock.UsageKey(provider, model, kind)

		rec, err := t.store.GetUsage(ctx, key)
		if err != nil {
			return QuotaStatus{}, fmt.Errorf("get quota status %s/%s window %s: %w", provider, model, kind, err)
		}

		var used, tokensUsed int64
		if rec != nil && rec.WindowStart.Equal(windowStart) {
			used = rec.RequestCount
			tokensUsed = rec.TokenCount
		}

		resetTime := clock.WindowEnd(kind, now)
		wq := WindowQuota{ResetTime: &resetTime}
		if reqLimit := limits.RequestsLimitFor(int(kind)); reqLimit != nil {
			remaining := *reqLimit - used
			if remaining < 0 {
				remaining = 0
			}
			wq.RequestsRemaining = &remaining
		}
		if tokLimit := limits.TokensLimitFor(int(kind)); tokLimit != nil {
			remaining := *tokLimit - tokensUsed
			if remaining < 0 {
				remaining = 0
			}
			wq.TokensRemaining = &remaining
		}
		status.set(kind, wq)
	}

	cooldown, err := t.store.GetCooldown(ctx, provider, model)
	if err != nil {
		return QuotaStatus{}, fmt.Errorf("get quota status %s/%s: cooldown: %w", provider, model, err)
	}
	if cooldown != nil {
		expiresAt := cooldown.ExpiresAt
		status.CooldownUntil = &expiresAt
	}

	return status, nil
}

// CanMakeRequest reports whether a request estimated at estimatedTokens
// may currently be routed to provider/model. It is false if the pair is
// in cooldown, if any configured requests window has zero remaining, or
// if any configured tokens window has less remaining than
// estimatedTokens (the tokens check is skipped when estimatedTokens <= 0).
func (t *Tracker) CanMakeRequest(ctx context.Context, provider, model string, limits catalog.RateLimits, estimatedTokens int64) (bool, error) {
	inCooldown, err := t.IsInCooldown(ctx, provider, model)
	if err != nil {
		return false, err
	}
	if inCooldown {
		return false, nil
	}

	status, err := t.GetQuotaStatus(ctx, provider, model, limits)
	if err != nil {
		return false, err
	}

	for _, kind := range clock.Kinds {
		wq := status.ByKind(kind)
		if wq.RequestsRemaining != nil && *wq.RequestsRemaining <= 0 {
			return false, nil
		}
		if estimatedTokens > 0 && wq.TokensRemaining != nil && *wq.TokensRemaining < estimatedTokens {
			return false, nil
		}
	}
	return true, nil
}

// MarkRateLimited records a cooldown for provider/model and returns the
// deadline it actually wrote. If resetAt is nil, the cooldown expires
// after the tracker's configured default (or provider override); the
// returned time reflects whichever was applied, so a caller that only
// has an upstream Retry-After hint some of the time can still report an
// accurate deadline when it doesn't.
func (t *Tracker) MarkRateLimited(ctx context.Context, provider, model string, resetAt *time.Time) (time.Time, error) {
	expiresAt := t.clock.Now().Add(t.cooldownFor(provider))
	if resetAt != nil {
		expiresAt = *resetAt
	}
	if err := t.store.SetCooldown(ctx, provider, model, store.CooldownRecord{ExpiresAt: expiresAt}); err != nil {
		return time.Time{}, fmt.Errorf("mark rate limited %s/%s: %w", provider, model, err)
	}
	return expiresAt, nil
}

// IsInCooldown reports whether provider/model currently has an active
// cooldown marker.
func (t *Tracker) IsInCooldown(ctx context.Context, provider, model string) (bool, error) {
	rec, err := t.store.GetCooldown(ctx, provider, model)
	if err != nil {
		return false, fmt.Errorf("is in cooldown %s/%s: %w", provider, model, err)
	}
	return rec != nil, nil
}

// GetCooldownUntil returns the active cooldown deadline, or nil if none.
func (t *Tracker) GetCooldownUntil(ctx context.Context, provider, model string) (*time.Time, error) {
	rec, err := t.store.GetCooldown(ctx, provider, model)
	if err != nil {
		return nil, fmt.Errorf("get cooldown until %s/%s: %w", provider, model, err)
	}
	if rec == nil {
		return nil, nil
	}
	expiresAt := rec.ExpiresAt
	return &expiresAt, nil
}

// ClearCooldown removes any cooldown marker for provider/model.
func (t *Tracker) ClearCooldown(ctx context.Context, provider, model string) error {
	if err := t.store.RemoveCooldown(ctx, provider, model); err != nil {
		return fmt.Errorf("clear cooldown %s/%s: %w", provider, model, err)
	}
	return nil
}

// UpdateLatency folds one observed latency sample into the EMA for
// provider/model. Latency tracking is an optional signal; failures here
// are reported to the caller like any other store write.
func (t *Tracker) UpdateLatency(ctx context.Context, provider, model string, sampleMillis float64) error {
	if _, err := t.store.UpdateLatency(ctx, provider, model, sampleMillis); err != nil {
		return fmt.Errorf("update latency %s/%s: %w", provider, model, err)
	}
	return nil
}

// GetLatency returns the current EMA latency record, or nil if no sample
// has been recorded yet.
func (t *Tracker) GetLatency(ctx context.Context, provider, model string) (*store.LatencyRecord, error) {
	rec, err := t.store.GetLatency(ctx, provider, model)
	if err != nil {
		return nil, fmt.Errorf("get latency %s/%s: %w", provider, model, err)
	}
	return rec, nil
}

