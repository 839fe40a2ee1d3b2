// Package strategy implements the routing strategies that pick one
// candidate from the already-sorted, already-filtered shortlist that
// candidate selection hands it (see internal/selection). Every strategy
// here restricts itself to the highest-tier group present in its input
// and never crosses tiers.
package strategy

import (
	"math/rand"
	"sort"
	"sync"

	"github.com/freetier/llmrouter/internal/clock"
	"github.com/freetier/llmrouter/internal/selection"
)

// tieEpsilon is the equality tolerance used when comparing LeastUsed
// availability scores and LatencyAware EMA latencies.
const tieEpsilon = 0.001

// topTier returns the prefix of candidates sharing the highest tier
// value. candidates must already be sorted by descending tier (the
// contract selection.Select guarantees).
func topTier(candidates []selection.Candidate) []selection.Candidate {
	if len(candidates) == 0 {
		return nil
	}
	highest := candidates[0].Tier
	end := 1
	for end < len(candidates) && candidates[end].Tier == highest {
		end++
	}
	return candidates[:end]
}

// preferFreeCredits is the shared, additive tie-break that Priority,
// LeastUsed and LatencyAware apply (Weighted does not): among candidates a strategy's own documented rule already left
// tied, prefer one running on free credits. It never overrides the
// strategy's required ordering — it only decides among candidates that
// rule left indistinguishable.
func preferFreeCredits(tied []selection.Candidate) selection.Candidate {
	for _, c := range tied {
		if c.IsFreeCredits {
			return c
		}
	}
	return tied[0]
}

// availabilityScore computes the Least-Used strategy's per-candidate
// score: the minimum remaining/limit ratio across every configured
// metric x window pair, or 1 if the candidate has no configured limits
// at all.
func availabilityScore(c selection.Candidate) float64 {
	limits := c.Record.Limits
	var minRatio float64 = -1

	consider := func(remaining *int64, limit *int64) {
		if limit == nil || *limit <= 0 || remaining == nil {
			return
		}
		ratio := float64(*remaining) / float64(*limit)
		if minRatio < 0 || ratio < minRatio {
			minRatio = ratio
		}
	}

	for _, kind := range clock.Kinds {
		wq := c.Quota.ByKind(kind)
		consider(wq.RequestsRemaining, limits.RequestsLimitFor(int(kind)))
		consider(wq.TokensRemaining, limits.TokensLimitFor(int(kind)))
	}

	if minRatio < 0 {
		return 1
	}
	return minRatio
}

// randMu guards math/rand's package-level source so concurrent
// Weighted.Select calls don't race on it.
var randMu sync.Mutex

func randFloat64() float64 {
	randMu.Lock()
	defer randMu.Unlock()
	return rand.Float64() //nolint:gosec
}

// sortByPriorityAscending stable-sorts candidates by ascending
// configured priority (lower number = higher precedence).
func sortByPriorityAscending(candidates []selection.Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
}
