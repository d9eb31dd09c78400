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

// Package config loads the daemon configuration: a YAML file resolved
// via XDG paths, overlaid with ATELIER_* environment variables, then
// validated. Tunable engine knobs support hot reload via Watch.
package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/errors"
)

// Config is the complete daemon configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Score     ScoreConfig     `yaml:"score"`
	Stop      StopConfig      `yaml:"stop"`
	Provider  ProviderConfig  `yaml:"provider"`
	Listen    ListenConfig    `yaml:"listen"`
	Trace     TraceConfig     `yaml:"trace"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// StorageConfig locates on-disk state.
type StorageConfig struct {
	// Root holds projects/<id>/... (workspaces, snapshots, artifacts).
	Root string `yaml:"root" env:"ATELIER_STORAGE_ROOT"`

	// TemplateDir seeds workspaces missing a package manifest.
	TemplateDir string `yaml:"template_dir" env:"ATELIER_TEMPLATE_DIR"`
}

// SandboxConfig tunes preview process supervision.
type SandboxConfig struct {
	ReadyTimeout  time.Duration `yaml:"ready_timeout" env:"ATELIER_SANDBOX_READY_TIMEOUT"`
	KillGrace     time.Duration `yaml:"kill_grace" env:"ATELIER_SANDBOX_KILL_GRACE"`
	ReapInterval  time.Duration `yaml:"reap_interval" env:"ATELIER_SANDBOX_REAP_INTERVAL"`
	CurrentTTL    time.Duration `yaml:"current_ttl" env:"ATELIER_SANDBOX_CURRENT_TTL"`
	HistoricalTTL time.Duration `yaml:"historical_ttl" env:"ATELIER_SANDBOX_HISTORICAL_TTL"`
	MaxHistorical int           `yaml:"max_historical" env:"ATELIER_SANDBOX_MAX_HISTORICAL"`
}

// ScoreConfig carries the scoring weights and acceptance epsilon.
// Hot-reloadable.
type ScoreConfig struct {
	Weights design.Weights `yaml:"weights"`
	Epsilon float64        `yaml:"epsilon" env:"ATELIER_SCORE_EPSILON"`
}

// StopConfig carries the stop-controller knobs. Hot-reloadable.
type StopConfig struct {
	Threshold                float64       `yaml:"threshold" env:"ATELIER_STOP_THRESHOLD"`
	MaxIterations            int           `yaml:"max_iterations" env:"ATELIER_STOP_MAX_ITERATIONS"`
	MaxConsecutiveRejections int           `yaml:"max_consecutive_rejections" env:"ATELIER_STOP_MAX_REJECTIONS"`
	PlateauWindow            int           `yaml:"plateau_window" env:"ATELIER_STOP_PLATEAU_WINDOW"`
	PlateauThreshold         float64       `yaml:"plateau_threshold" env:"ATELIER_STOP_PLATEAU_THRESHOLD"`
	TimeBudget               time.Duration `yaml:"time_budget" env:"ATELIER_STOP_TIME_BUDGET"`
	CustomRule               string        `yaml:"custom_rule" env:"ATELIER_STOP_CUSTOM_RULE"`
}

// ProviderConfig points at the codegen and scoring backends. The API
// key is not configured here; see internal/secrets.
type ProviderConfig struct {
	CodegenEndpoint string        `yaml:"codegen_endpoint" env:"ATELIER_CODEGEN_ENDPOINT"`
	CodegenModel    string        `yaml:"codegen_model" env:"ATELIER_CODEGEN_MODEL"`
	ScorerEndpoint  string        `yaml:"scorer_endpoint" env:"ATELIER_SCORER_ENDPOINT"`
	ScorerModel     string        `yaml:"scorer_model" env:"ATELIER_SCORER_MODEL"`
	Timeout         time.Duration `yaml:"timeout" env:"ATELIER_PROVIDER_TIMEOUT"`
	RateLimit       float64       `yaml:"rate_limit" env:"ATELIER_PROVIDER_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"ATELIER_PROVIDER_RATE_BURST"`
}

// ListenConfig configures the daemon's HTTP listener.
type ListenConfig struct {
	Addr            string        `yaml:"addr" env:"ATELIER_LISTEN_ADDR"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ATELIER_SHUTDOWN_TIMEOUT"`

	// AuthToken, when set, gates the subscribe endpoint.
	AuthToken string `yaml:"auth_token" env:"ATELIER_AUTH_TOKEN"`
}

// TraceConfig tunes trace buffering and the event journal.
type TraceConfig struct {
	Retention   time.Duration `yaml:"retention" env:"ATELIER_TRACE_RETENTION"`
	JournalPath string        `yaml:"journal_path" env:"ATELIER_TRACE_JOURNAL"`
}

// TelemetryConfig controls OpenTelemetry span export. Metrics are
// always served on /metrics; span export is off unless an exporter is
// named.
type TelemetryConfig struct {
	// Exporter is one of "none", "stdout", "otlp-grpc", "otlp-http".
	Exporter string `yaml:"exporter" env:"ATELIER_TELEMETRY_EXPORTER"`

	// Endpoint is the OTLP collector address (host:port).
	Endpoint string `yaml:"endpoint" env:"ATELIER_TELEMETRY_ENDPOINT"`

	// SampleRate is the fraction of runs traced, in (0, 1].
	SampleRate float64 `yaml:"sample_rate" env:"ATELIER_TELEMETRY_SAMPLE_RATE"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level" env:"ATELIER_LOG_LEVEL"`

	// Format is "json" or "text".
	Format string `yaml:"format" env:"ATELIER_LOG_FORMAT"`
}

// Default creates a configuration with every knob at its default.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Root: defaultStorageRoot(),
		},
		Sandbox: SandboxConfig{
			ReadyTimeout:  120 * time.Second,
			KillGrace:     5 * time.Second,
			ReapInterval:  60 * time.Second,
			CurrentTTL:    30 * time.Minute,
			HistoricalTTL: 10 * time.Minute,
			MaxHistorical: 2,
		},
		Score: ScoreConfig{
			Weights: design.DefaultWeights(),
			Epsilon: 0.01,
		},
		Stop: StopConfig{
			Threshold:                design.DefaultThreshold,
			MaxIterations:            design.DefaultMaxIterations,
			MaxConsecutiveRejections: 3,
			PlateauWindow:            3,
			PlateauThreshold:         0.01,
			TimeBudget:               15 * time.Minute,
		},
		Provider: ProviderConfig{
			Timeout:   120 * time.Second,
			RateLimit: 2,
			RateBurst: 4,
		},
		Listen: ListenConfig{
			Addr:            "127.0.0.1:7333",
			ShutdownTimeout: 30 * time.Second,
		},
		Trace: TraceConfig{
			Retention: 30 * time.Minute,
		},
		Telemetry: TelemetryConfig{
			Exporter:   "none",
			SampleRate: 1.0,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads the config file at path (or the XDG default when path is
// empty), applies environment overrides, and validates. A missing file
// is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		var err error
		if path, err = Path(); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, errors.Wrapf(err, "reading config %s", path)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &errors.ConfigError{
				Key:    path,
				Reason: "not valid YAML",
				Cause:  err,
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, &errors.ConfigError{
			Key:    "environment",
			Reason: "invalid override value",
			Cause:  err,
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
