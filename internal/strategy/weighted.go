package strategy

import (
	"fmt"

	"github.com/freetier/llmrouter/internal/selection"
)

// Weighted is an additional strategy. It picks among the highest-tier
// candidates with a weighted random draw: each candidate's weight is
// the inverse of its configured priority plus one, so
// lower-priority-number (higher precedence) providers are drawn more
// often without ever fully excluding the others.
type Weighted struct{}

// Select implements selection.Strategy.
func (Weighted) Select(candidates []selection.Candidate, _ selection.RoutingContext) (selection.Candidate, error) {
	top := topTier(candidates)
	if len(top) == 0 {
		return selection.Candidate{}, fmt.Errorf("strategy: weighted: no candidates to choose from")
	}

	weights := make([]float64, len(top))
	var total float64
	for i, c := range top {
		w := 1.0 / float64(c.Priority+1)
		weights[i] = w
		total += w
	}

	draw := randFloat64() * total
	var cumulative float64
	for i, w := range weights {
		cumulative += w
		if draw < cumulative {
			return top[i], nil
		}
	}
	return top[len(top)-1], nil
}
