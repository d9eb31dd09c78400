// Copyright 2026 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package score implements the decision logic of a refinement run: the
// scorekeeper that accepts or rejects iterations, the stop controller
// that ends runs, the lock manager that freezes well-matched regions,
// and the patch planner that aims the next iteration.
//
// Everything here is deterministic given its inputs; no I/O, no clocks
// except the one handed to the stop controller.
package score

import (
	"math"
)

// Reason explains an acceptance decision.
type Reason string

// Acceptance decision reasons.
const (
	ReasonImproved      Reason = "improved"
	ReasonRegression    Reason = "regression"
	ReasonNoImprovement Reason = "no_improvement"
)

// DefaultEpsilon is the minimum overall-score gain required to accept
// an iteration over the current best.
const DefaultEpsilon = 0.01

// floatSlack absorbs binary rounding noise in score comparisons.
// Scores are ledgered at two decimals, so real deltas are far larger.
const floatSlack = 1e-9

// Decision is the outcome of evaluating one iteration's overall score.
type Decision struct {
	// Accepted is true when the iteration becomes the new best.
	Accepted bool

	// Reason explains the outcome.
	Reason Reason

	// Best is the best overall score after the decision.
	Best float64

	// BestIndex is the iteration index holding the best score.
	BestIndex int
}

// Scorekeeper tracks the best overall score across a run and decides
// whether each new candidate supersedes it.
//
// The first candidate is always accepted. Afterwards a candidate must
// beat the best by at least epsilon; a candidate more than epsilon
// below the best is a regression, anything in between is noise.
type Scorekeeper struct {
	epsilon   float64
	hasBest   bool
	best      float64
	bestIndex int
}

// NewScorekeeper creates a scorekeeper. Non-positive epsilon selects
// DefaultEpsilon.
func NewScorekeeper(epsilon float64) *Scorekeeper {
	if epsilon <= 0 {
		epsilon = DefaultEpsilon
	}
	return &Scorekeeper{
		epsilon: epsilon,
		best:    math.Inf(-1),
	}
}

// Evaluate decides whether the iteration's overall score becomes the new
// best. State advances only on acceptance.
func (k *Scorekeeper) Evaluate(iteration int, overall float64) Decision {
	if !k.hasBest {
		k.hasBest = true
		k.best = overall
		k.bestIndex = iteration
		return Decision{Accepted: true, Reason: ReasonImproved, Best: k.best, BestIndex: k.bestIndex}
	}

	delta := overall - k.best
	switch {
	case delta >= k.epsilon-floatSlack:
		k.best = overall
		k.bestIndex = iteration
		return Decision{Accepted: true, Reason: ReasonImproved, Best: k.best, BestIndex: k.bestIndex}
	case delta < -k.epsilon-floatSlack:
		return Decision{Accepted: false, Reason: ReasonRegression, Best: k.best, BestIndex: k.bestIndex}
	default:
		return Decision{Accepted: false, Reason: ReasonNoImprovement, Best: k.best, BestIndex: k.bestIndex}
	}
}

// Best returns the current best score and its iteration index.
// ok is false until the first evaluation.
func (k *Scorekeeper) Best() (score float64, index int, ok bool) {
	if !k.hasBest {
		return 0, 0, false
	}
	return k.best, k.bestIndex, true
}

// Epsilon returns the configured acceptance margin.
func (k *Scorekeeper) Epsilon() float64 {
	return k.epsilon
}
