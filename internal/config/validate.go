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

package config

import (
	"fmt"

	"github.com/tombee/atelier/pkg/errors"
)

// Validate checks cross-field constraints. Called by Load; callers
// mutating a Config directly should re-run it.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return invalid("storage.root", "must not be empty")
	}

	if c.Score.Epsilon <= 0 || c.Score.Epsilon >= 1 {
		return invalid("score.epsilon", "must be in (0, 1)")
	}
	if sum := c.Score.Weights.Layout + c.Score.Weights.Style + c.Score.Weights.A11y + c.Score.Weights.Perceptual; sum <= 0 {
		return invalid("score.weights", "must sum to a positive value")
	}
	for _, w := range []struct {
		key string
		val float64
	}{
		{"score.weights.layout", c.Score.Weights.Layout},
		{"score.weights.style", c.Score.Weights.Style},
		{"score.weights.a11y", c.Score.Weights.A11y},
		{"score.weights.perceptual", c.Score.Weights.Perceptual},
	} {
		if w.val < 0 {
			return invalid(w.key, "must not be negative")
		}
	}

	if c.Stop.Threshold <= 0 || c.Stop.Threshold > 1 {
		return invalid("stop.threshold", "must be in (0, 1]")
	}
	if c.Stop.MaxIterations < 1 {
		return invalid("stop.max_iterations", "must be at least 1")
	}
	if c.Stop.MaxConsecutiveRejections < 1 {
		return invalid("stop.max_consecutive_rejections", "must be at least 1")
	}
	if c.Stop.PlateauWindow < 1 {
		return invalid("stop.plateau_window", "must be at least 1")
	}
	if c.Stop.TimeBudget <= 0 {
		return invalid("stop.time_budget", "must be positive")
	}

	if c.Sandbox.MaxHistorical < 1 {
		return invalid("sandbox.max_historical", "must be at least 1")
	}
	for _, d := range []struct {
		key string
		val int64
	}{
		{"sandbox.ready_timeout", int64(c.Sandbox.ReadyTimeout)},
		{"sandbox.kill_grace", int64(c.Sandbox.KillGrace)},
		{"sandbox.reap_interval", int64(c.Sandbox.ReapInterval)},
		{"sandbox.current_ttl", int64(c.Sandbox.CurrentTTL)},
		{"sandbox.historical_ttl", int64(c.Sandbox.HistoricalTTL)},
	} {
		if d.val <= 0 {
			return invalid(d.key, "must be positive")
		}
	}

	if c.Listen.Addr == "" {
		return invalid("listen.addr", "must not be empty")
	}

	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp-grpc", "otlp-http":
	default:
		return invalid("telemetry.exporter", fmt.Sprintf("unknown exporter %q", c.Telemetry.Exporter))
	}
	if c.Telemetry.SampleRate <= 0 || c.Telemetry.SampleRate > 1 {
		return invalid("telemetry.sample_rate", "must be in (0, 1]")
	}

	switch c.Log.Format {
	case "", "json", "text":
	default:
		return invalid("log.format", fmt.Sprintf("unknown format %q", c.Log.Format))
	}

	return nil
}

func invalid(key, reason string) error {
	return &errors.ConfigError{Key: key, Reason: reason}
}
