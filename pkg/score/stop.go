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

package score

import (
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/atelier/pkg/errors"
)

// StopReason identifies why a run ended. The values are ledger constants:
// they appear verbatim in run records and trace payloads.
type StopReason string

// Stop reasons.
const (
	StopNone            StopReason = ""
	StopThresholdMet    StopReason = "threshold_met"
	StopMaxIterations   StopReason = "max_iterations"
	StopRegressionLimit StopReason = "regression_limit"
	StopPlateau         StopReason = "plateau"
	StopTimeBudget      StopReason = "time_budget"
	StopCustomRule      StopReason = "custom_rule"
	StopCanceled        StopReason = "canceled"
)

// Stop controller defaults.
const (
	DefaultMaxConsecutiveRejections = 3
	DefaultPlateauWindow            = 3
	DefaultPlateauThreshold         = 0.01
	DefaultTimeBudget               = 15 * time.Minute
)

// StopConfig tunes the stop controller.
type StopConfig struct {
	// MaxIterations bounds the number of iterations in a run.
	MaxIterations int

	// MaxConsecutiveRejections stops a run that keeps regressing.
	MaxConsecutiveRejections int

	// PlateauWindow is the number of accepted steps across which total
	// gain must stay below PlateauThreshold for the run to plateau.
	PlateauWindow int

	// PlateauThreshold is the minimum total gain the window must show.
	PlateauThreshold float64

	// TimeBudget bounds the run's wall-clock duration.
	TimeBudget time.Duration

	// CustomRule is an optional boolean expression evaluated after the
	// built-in rules. Variables: iteration, acceptedScores,
	// consecutiveRejections, bestScore, elapsedSeconds.
	CustomRule string
}

// withDefaults returns a copy with zero fields replaced by defaults.
func (c StopConfig) withDefaults() StopConfig {
	if c.MaxConsecutiveRejections <= 0 {
		c.MaxConsecutiveRejections = DefaultMaxConsecutiveRejections
	}
	if c.PlateauWindow <= 0 {
		c.PlateauWindow = DefaultPlateauWindow
	}
	if c.PlateauThreshold <= 0 {
		c.PlateauThreshold = DefaultPlateauThreshold
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = DefaultTimeBudget
	}
	return c
}

// StopState is the run state the controller inspects.
type StopState struct {
	// Iteration is the 0-based index of the iteration just finished.
	Iteration int

	// AcceptedScores is the history of accepted overall scores in order.
	AcceptedScores []float64

	// ConsecutiveRejections counts rejections since the last acceptance.
	ConsecutiveRejections int

	// BestScore is the current best overall score.
	BestScore float64

	// StartedAt is when the run began.
	StartedAt time.Time

	// Now is the evaluation instant; the zero value means time.Now().
	Now time.Time
}

// StopVerdict is the controller's answer.
type StopVerdict struct {
	Stop   bool
	Reason StopReason
}

// StopController applies the run-ending rules in a fixed order; the
// first matching rule wins. The threshold rule is not here: meeting the
// score threshold is decided where scores are accepted.
type StopController struct {
	cfg    StopConfig
	custom *vm.Program
}

// NewStopController validates the config and compiles the custom rule
// if one is set.
func NewStopController(cfg StopConfig) (*StopController, error) {
	cfg = cfg.withDefaults()
	if cfg.MaxIterations < 1 {
		return nil, &errors.ConfigError{
			Key:    "maxIterations",
			Reason: "must be at least 1",
		}
	}

	c := &StopController{cfg: cfg}
	if cfg.CustomRule != "" {
		prog, err := expr.Compile(cfg.CustomRule,
			expr.Env(customRuleEnv(StopState{})),
			expr.AsBool(),
		)
		if err != nil {
			return nil, &errors.ConfigError{
				Key:    "stop.customRule",
				Reason: fmt.Sprintf("does not compile: %v", err),
				Cause:  err,
			}
		}
		c.custom = prog
	}
	return c, nil
}

// Check evaluates the rules against the state. An error can only come
// from the custom rule; built-in rules cannot fail.
func (c *StopController) Check(s StopState) (StopVerdict, error) {
	if s.Iteration >= c.cfg.MaxIterations-1 {
		return StopVerdict{Stop: true, Reason: StopMaxIterations}, nil
	}

	if s.ConsecutiveRejections >= c.cfg.MaxConsecutiveRejections {
		return StopVerdict{Stop: true, Reason: StopRegressionLimit}, nil
	}

	// A plateau is a window of accepted steps whose total gain stays
	// below the threshold. The window needs an anchor score before it,
	// so it can fire at the earliest after PlateauWindow+1 acceptances.
	if n := len(s.AcceptedScores); n > c.cfg.PlateauWindow {
		gain := s.AcceptedScores[n-1] - s.AcceptedScores[n-1-c.cfg.PlateauWindow]
		if gain < c.cfg.PlateauThreshold {
			return StopVerdict{Stop: true, Reason: StopPlateau}, nil
		}
	}

	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}
	if !s.StartedAt.IsZero() && now.Sub(s.StartedAt) > c.cfg.TimeBudget {
		return StopVerdict{Stop: true, Reason: StopTimeBudget}, nil
	}

	if c.custom != nil {
		out, err := expr.Run(c.custom, customRuleEnv(s))
		if err != nil {
			return StopVerdict{}, &errors.ValidationError{
				Field:      "stop.customRule",
				Message:    fmt.Sprintf("evaluation failed: %v", err),
				Suggestion: "verify the rule only references the documented variables",
			}
		}
		if stop, ok := out.(bool); ok && stop {
			return StopVerdict{Stop: true, Reason: StopCustomRule}, nil
		}
	}

	return StopVerdict{}, nil
}

// customRuleEnv builds the expression environment for a state.
func customRuleEnv(s StopState) map[string]interface{} {
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}
	elapsed := 0.0
	if !s.StartedAt.IsZero() {
		elapsed = now.Sub(s.StartedAt).Seconds()
	}
	return map[string]interface{}{
		"iteration":             s.Iteration,
		"acceptedScores":        s.AcceptedScores,
		"consecutiveRejections": s.ConsecutiveRejections,
		"bestScore":             s.BestScore,
		"elapsedSeconds":        elapsed,
	}
}
