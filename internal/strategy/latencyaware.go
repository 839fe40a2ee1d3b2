package strategy

import (
	"fmt"

	"github.com/freetier/llmrouter/internal/selection"
)

// LatencyAware is an additional strategy, using the optional EMA
// latency signal tracked per provider/model. Among the highest-tier
// candidates it picks the lowest observed EMA latency.
// Candidates with no latency sample yet are treated as worse than any
// candidate that has one (a router should prefer proven-fast providers
// over unknowns), and are themselves broken by ascending priority.
type LatencyAware struct{}

// Select implements selection.Strategy.
func (LatencyAware) Select(candidates []selection.Candidate, _ selection.RoutingContext) (selection.Candidate, error) {
	top := topTier(candidates)
	if len(top) == 0 {
		return selection.Candidate{}, fmt.Errorf("strategy: latency-aware: no candidates to choose from")
	}

	var withLatency, withoutLatency []selection.Candidate
	for _, c := range top {
		if c.LatencyMillis != nil {
			withLatency = append(withLatency, c)
		} else {
			withoutLatency = append(withoutLatency, c)
		}
	}

	if len(withLatency) == 0 {
		sortByPriorityAscending(withoutLatency)
		return preferFreeCredits(withoutLatency[:1]), nil
	}

	best := *withLatency[0].LatencyMillis
	for _, c := range withLatency[1:] {
		if *c.LatencyMillis < best {
			best = *c.LatencyMillis
		}
	}

	var tied []selection.Candidate
	for _, c := range withLatency {
		if *c.LatencyMillis-best <= tieEpsilon {
			tied = append(tied, c)
		}
	}
	sortByPriorityAscending(tied)
	lowestPriority := tied[0].Priority
	var finalTied []selection.Candidate
	for _, c := range tied {
		if c.Priority != lowestPriority {
			break
		}
		finalTied = append(finalTied, c)
	}
	return preferFreeCredits(finalTied), nil
}
