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

// Package engine drives refinement runs: a per-project single-slot
// scheduler over single-shot run pipelines. Each iteration generates
// code, waits for the preview, captures and scores screenshots, then
// decides whether the iteration becomes the new best.
package engine

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/tombee/atelier/internal/capture"
	"github.com/tombee/atelier/internal/sandbox"
	"github.com/tombee/atelier/internal/snapshot"
	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/errors"
	"github.com/tombee/atelier/pkg/provider"
	"github.com/tombee/atelier/pkg/score"
	"github.com/tombee/atelier/pkg/trace"
)

// PreviewStarter is the sandbox surface the engine needs.
type PreviewStarter interface {
	StartCurrent(ctx context.Context, projectID, workspaceDir string) (sandbox.Info, error)
	StatusCurrent(projectID string) sandbox.Info
	StopCurrent(projectID string)
}

// ScreenshotCapturer captures the preview at every breakpoint. The
// project id routes artifacts to the project's directory.
type ScreenshotCapturer interface {
	Capture(ctx context.Context, projectID, runID, previewURL string, breakpoints []design.Breakpoint) ([]capture.Screenshot, error)
}

// OverflowScanner runs the horizontal-overflow inspection.
type OverflowScanner interface {
	Inspect(ctx context.Context, projectID, runID string, iteration int, previewURL string, bp design.Breakpoint) (*capture.Report, error)
}

// Deps are the engine's collaborators. Snapshots and Bus are concrete:
// their filesystem and ordering semantics are part of the contract the
// engine is tested against.
type Deps struct {
	Codegen   provider.CodegenProvider
	Scorer    provider.VisionScorer
	Sandbox   PreviewStarter
	Capture   ScreenshotCapturer
	Overflow  OverflowScanner
	Snapshots *snapshot.Store
	Bus       *trace.Bus
	Logger    *slog.Logger
	Metrics   *Metrics
	Tracer    oteltrace.Tracer

	// Warmup issues the route warm-up requests. Nil selects a default
	// client.
	Warmup *http.Client
}

// Config tunes the run pipeline. Zero values select the defaults.
type Config struct {
	Threshold float64
	Epsilon   float64
	Weights   design.Weights
	Stop      score.StopConfig

	// PollInterval paces preview-status and warm-up polling.
	PollInterval time.Duration

	// ReadyTimeout bounds the preview-readiness wait.
	ReadyTimeout time.Duration

	// WarmupTimeout bounds route warm-up; WarmupSettle is the pause
	// after the route first answers, letting in-place recompilation
	// finish.
	WarmupTimeout time.Duration
	WarmupSettle  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = design.DefaultThreshold
	}
	if c.Epsilon <= 0 {
		c.Epsilon = score.DefaultEpsilon
	}
	if !c.Weights.Valid() {
		c.Weights = design.DefaultWeights()
	}
	if c.Stop.MaxIterations <= 0 {
		c.Stop.MaxIterations = design.DefaultMaxIterations
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = 120 * time.Second
	}
	if c.WarmupTimeout <= 0 {
		c.WarmupTimeout = 30 * time.Second
	}
	if c.WarmupSettle <= 0 {
		c.WarmupSettle = 1500 * time.Millisecond
	}
	return c
}

// Engine owns one run slot per project. Starting a run stops the
// project's previous run and waits for it to finish before the new
// pipeline begins.
type Engine struct {
	cfg  Config
	deps Deps

	mu   sync.Mutex
	runs map[string]*Run
}

// New creates an engine.
func New(cfg Config, deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Warmup == nil {
		deps.Warmup = &http.Client{Timeout: 5 * time.Second}
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("atelier/engine")
	}
	return &Engine{
		cfg:  cfg.withDefaults(),
		deps: deps,
		runs: make(map[string]*Run),
	}
}

// RunParams describe one run request.
type RunParams struct {
	ProjectID    string
	WorkspaceDir string
	Pack         *design.Pack

	// TargetID defaults to the pack's runDefaults target.
	TargetID string

	// Threshold and MaxIterations override the engine config when
	// positive; the pack's runDefaults fill them when the config is
	// also zero.
	Threshold     float64
	MaxIterations int
}

// StartRun schedules a run for the project, replacing any live
// predecessor. It returns once the new run is installed and started;
// progress flows through the trace bus.
func (e *Engine) StartRun(ctx context.Context, params RunParams) (*Run, error) {
	if params.Pack == nil {
		return nil, &errors.ValidationError{Field: "pack", Message: "run requires a design pack"}
	}

	targetID := params.TargetID
	if targetID == "" {
		targetID = params.Pack.Manifest.RunDefaults.TargetID
	}
	target, ok := params.Pack.Manifest.TargetByID(targetID)
	if !ok {
		return nil, &errors.NotFoundError{Resource: "target", ID: targetID}
	}

	run := newRun(e, params, *target)

	// Replace the slot first so a racing StartRun sees the newcomer,
	// then wait out the predecessor before the pipeline touches the
	// workspace.
	e.mu.Lock()
	prev := e.runs[params.ProjectID]
	e.runs[params.ProjectID] = run
	e.mu.Unlock()

	if prev != nil {
		prev.Stop()
		select {
		case <-prev.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	go run.loop(ctx)
	return run, nil
}

// Retune replaces the scoring and stop tuning. Runs already in flight
// keep the tuning they started with; subsequent runs pick up the new
// values. This is the hot-reload path for the config watcher.
func (e *Engine) Retune(threshold, epsilon float64, weights design.Weights, stop score.StopConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.cfg
	cfg.Threshold = threshold
	cfg.Epsilon = epsilon
	cfg.Weights = weights
	cfg.Stop = stop
	e.cfg = cfg.withDefaults()
}

// config snapshots the tuning for a new run.
func (e *Engine) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Active returns the project's current run, or nil.
func (e *Engine) Active(projectID string) *Run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.runs[projectID]
}

// StopRun stops the project's current run, if any, without waiting.
func (e *Engine) StopRun(projectID string) {
	if run := e.Active(projectID); run != nil {
		run.Stop()
	}
}

// Shutdown stops every run and waits for each to emit done.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.Stop()
	}
	for _, r := range runs {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// release clears the slot when a run finishes, unless a successor
// already replaced it.
func (e *Engine) release(run *Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs[run.ProjectID] == run {
		delete(e.runs, run.ProjectID)
	}
}

func newRunID() string {
	return uuid.New().String()
}
