package llmrouter

import (
	"github.com/freetier/llmrouter/upstream"
)

// Estimator estimates the token cost of a request before it is sent, so
// the driver can pre-flight-check quota. It is intentionally
// replaceable — see DefaultEstimator's doc comment.
type Estimator interface {
	Estimate(req upstream.Request) int64
}

// EstimatorFunc adapts a plain function to the Estimator interface.
type EstimatorFunc func(req upstream.Request) int64

// Estimate implements Estimator.
func (f EstimatorFunc) Estimate(req upstream.Request) int64 { return f(req) }

// perMessageOverhead and perRequestOverhead are the constant token costs
// the default heuristic adds on top of the character-count estimate.
const (
	perMessageOverhead = 4
	perRequestOverhead = 3
)

// DefaultEstimator implements a crude heuristic:
// ceil(total-content-chars / 4) plus ~4 tokens per message and ~3 per
// request. Callers with non-Latin-script or code-heavy workloads should
// supply their own Estimator via Config.Estimator.
var DefaultEstimator Estimator = EstimatorFunc(defaultEstimate)

func defaultEstimate(req upstream.Request) int64 {
	var chars int64
	for _, m := range req.Messages {
		chars += int64(len(m.Content))
	}
	tokens := (chars + 3) / 4 // ceil division
	tokens += int64(len(req.Messages)) * perMessageOverhead
	tokens += perRequestOverhead
	return tokens
}
