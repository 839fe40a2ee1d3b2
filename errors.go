package llmrouter

import (
	"fmt"
	"time"
)

// ConfigurationError reports an invalid router construction: an empty or
// malformed provider list, an unknown provider kind, or an alias that
// references an unknown canonical id. It is fatal — raised at
// construction and never during routing.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("llmrouter: configuration error: %s", e.Reason)
}

// ModelNotFound means the resolved model token matched no provider, even
// after filtering.
type ModelNotFound struct {
	Model string
}

func (e *ModelNotFound) Error() string {
	return fmt.Sprintf("llmrouter: model not found: %q", e.Model)
}

// RateLimited is the driver's record of a 429 from an upstream. The
// Execution Driver handles it internally (cooldown write + failover).
// With ThrowOnExhausted set it is folded into AllProvidersExhausted; with
// ThrowOnExhausted false, Route/RouteStream return it when the retry
// budget runs out on a 429.
type RateLimited struct {
	Provider string
	Model    string
	ResetAt  *time.Time
}

func (e *RateLimited) Error() string {
	if e.ResetAt != nil {
		return fmt.Sprintf("llmrouter: %s/%s rate limited until %s", e.Provider, e.Model, e.ResetAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("llmrouter: %s/%s rate limited", e.Provider, e.Model)
}

// ProviderError is any non-429 HTTP or transport failure from an
// upstream. It triggers backoff and failover.
type ProviderError struct {
	Provider string
	Status   int
	Raw      string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("llmrouter: provider %s error: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("llmrouter: provider %s error (status %d): %s", e.Provider, e.Status, e.Raw)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TimeoutError means the per-call deadline was exceeded. Treated as a
// ProviderError by the driver for retry/backoff purposes.
type TimeoutError struct {
	Provider  string
	TimeoutMS int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("llmrouter: provider %s timed out after %dms", e.Provider, e.TimeoutMS)
}

// AttemptedPair records one (provider, model) pair the driver attempted
// before exhausting every candidate.
type AttemptedPair struct {
	Provider string
	Model    string
}

// AllProvidersExhausted is terminal: raised when the driver cannot
// proceed (every provider excluded or max-retries reached) and
// ThrowOnExhausted is set.
type AllProvidersExhausted struct {
	Attempted     []AttemptedPair
	EarliestReset *time.Time
}

func (e *AllProvidersExhausted) Error() string {
	if e.EarliestReset != nil {
		return fmt.Sprintf("llmrouter: all providers exhausted (%d attempted), earliest reset %s",
			len(e.Attempted), e.EarliestReset.Format(time.RFC3339))
	}
	return fmt.Sprintf("llmrouter: all providers exhausted (%d attempted)", len(e.Attempted))
}
