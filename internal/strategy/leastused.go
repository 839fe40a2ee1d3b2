package strategy

import (
	"fmt"

	"github.com/freetier/llmrouter/internal/selection"
)

// LeastUsed selects, among the highest-tier candidates, the one with the
// highest availability score (the minimum remaining/limit ratio across
// every configured metric x window pair; 1 when no limits are
// configured). Scores within tieEpsilon of the best are considered tied
// and broken by ascending priority, then by the free-credits preference.
type LeastUsed struct{}

// Select implements selection.Strategy.
func (LeastUsed) Select(candidates []selection.Candidate, _ selection.RoutingContext) (selection.Candidate, error) {
	top := topTier(candidates)
	if len(top) == 0 {
		return selection.Candidate{}, fmt.Errorf("strategy: least-used: no candidates to choose from")
	}

	bestScore := -1.0
	for _, c := range top {
		if s := availabilityScore(c); s > bestScore {
			bestScore = s
		}
	}

	var tied []selection.Candidate
	for _, c := range top {
		if bestScore-availabilityScore(c) <= tieEpsilon {
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
