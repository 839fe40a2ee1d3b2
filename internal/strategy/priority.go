package strategy

import (
	"fmt"

	"github.com/freetier/llmrouter/internal/selection"
)

// Priority selects, among the highest-tier candidates, the one with the
// smallest configured provider priority (lower number = higher
// precedence). Among candidates tied on priority, one running on free
// credits is preferred; otherwise the first in input order wins.
type Priority struct{}

// Select implements selection.Strategy.
func (Priority) Select(candidates []selection.Candidate, _ selection.RoutingContext) (selection.Candidate, error) {
	top := topTier(candidates)
	if len(top) == 0 {
		return selection.Candidate{}, fmt.Errorf("strategy: priority: no candidates to choose from")
	}

	ranked := make([]selection.Candidate, len(top))
	copy(ranked, top)
	sortByPriorityAscending(ranked)

	best := ranked[0].Priority
	var tied []selection.Candidate
	for _, c := range ranked {
		if c.Priority != best {
			break
		}
		tied = append(tied, c)
	}
	return preferFreeCredits(tied), nil
}
