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

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/tombee/atelier/internal/capture"
	"github.com/tombee/atelier/internal/log"
	"github.com/tombee/atelier/internal/sandbox"
	"github.com/tombee/atelier/internal/workspace"
	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/provider"
	"github.com/tombee/atelier/pkg/score"
	"github.com/tombee/atelier/pkg/trace"
)

// Pipeline step keys. They double as trace node id segments.
const (
	stepCodegen    = "codegen"
	stepPreview    = "preview"
	stepScreenshot = "screenshot"
	stepOverflow   = "overflow"
	stepScore      = "score"
	stepDecision   = "decision"
)

var stepTitles = map[string]string{
	stepCodegen:    "Code generation",
	stepPreview:    "Preview readiness",
	stepScreenshot: "Screenshot capture",
	stepOverflow:   "Overflow inspection",
	stepScore:      "Visual scoring",
	stepDecision:   "Decision",
}

// errStopped marks a cooperative exit at a suspension point.
var errStopped = errors.New("run stop requested")

// Result is a run's terminal state.
type Result struct {
	// Status is "success" or "error"; cancellation reports "error".
	Status string

	StopReason    score.StopReason
	Message       string
	Iterations    int
	BestIteration int
	BestScore     float64
	StartedAt     time.Time
	FinishedAt    time.Time
}

// Run is one in-flight refinement run.
type Run struct {
	ID        string
	ProjectID string

	eng    *Engine
	cfg    Config
	params RunParams
	target design.Target

	threshold     float64
	maxIterations int

	stopped atomic.Bool

	mu        sync.Mutex
	cancelGen context.CancelFunc
	result    Result

	done     chan struct{}
	doneOnce sync.Once
}

func newRun(eng *Engine, params RunParams, target design.Target) *Run {
	cfg := eng.config()

	threshold := params.Threshold
	if threshold <= 0 {
		threshold = params.Pack.Manifest.RunDefaults.Threshold
	}
	if threshold <= 0 {
		threshold = cfg.Threshold
	}

	maxIterations := params.MaxIterations
	if maxIterations <= 0 {
		maxIterations = params.Pack.Manifest.RunDefaults.MaxIterations
	}
	if maxIterations <= 0 {
		maxIterations = cfg.Stop.MaxIterations
	}

	return &Run{
		ID:            newRunID(),
		ProjectID:     params.ProjectID,
		eng:           eng,
		cfg:           cfg,
		params:        params,
		target:        target,
		threshold:     threshold,
		maxIterations: maxIterations,
		done:          make(chan struct{}),
	}
}

// Stop requests a cooperative exit and cancels any in-flight code-gen
// call. The run finishes at its next suspension point.
func (r *Run) Stop() {
	r.stopped.Store(true)
	r.mu.Lock()
	cancel := r.cancelGen
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Done closes when the run has fully finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result returns the terminal state; meaningful once Done is closed.
func (r *Run) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

func (r *Run) stopRequested() bool {
	return r.stopped.Load()
}

func (r *Run) publish(nodeID string, typ trace.EventType, payload trace.Payload) {
	r.eng.deps.Bus.Publish(trace.NewEvent(r.ProjectID, nodeID, typ, payload))
}

func (r *Run) stepBegin(iteration int, step string) string {
	nodeID := trace.StepNodeID(iteration, step)
	r.publish(nodeID, trace.EventNodeCreated, trace.Payload{
		StepKey: step,
		Title:   stepTitles[step],
		Status:  trace.StatusPending,
	})
	r.publish(nodeID, trace.EventNodeStarted, trace.Payload{Status: trace.StatusRunning})
	return nodeID
}

func (r *Run) stepEnd(nodeID string, payload trace.Payload) {
	if payload.Status == "" {
		payload.Status = trace.StatusSuccess
	}
	r.publish(nodeID, trace.EventNodeFinished, payload)
}

func (r *Run) stepFail(iteration int, nodeID string, err error) {
	r.publish(nodeID, trace.EventNodeFailed, trace.Payload{Message: err.Error()})
	r.publish(trace.IterationNodeID(iteration), trace.EventNodeFailed, trace.Payload{
		Message: fmt.Sprintf("iteration %d failed: %v", iteration, err),
	})
}

// runState is the orchestrator's mutable per-run state.
type runState struct {
	keeper  *score.Scorekeeper
	stopper *score.StopController
	locks   *score.LockManager
	planner *score.Planner

	nodes       []design.Node
	breakpoints []design.Breakpoint
	irSummary   string

	prevScore  *design.Vector
	plan       *score.Plan
	overflow   *capture.Report
	accepted   []float64
	rejections int
	best       float64
	bestIter   int
	startedAt  time.Time
}

func (r *Run) loop(ctx context.Context) {
	logger := log.WithRunContext(r.eng.deps.Logger, r.ID, r.ProjectID)
	started := time.Now()

	ctx, span := r.eng.deps.Tracer.Start(ctx, "engine.run",
		oteltrace.WithAttributes(
			attribute.String("run.id", r.ID),
			attribute.String("project.id", r.ProjectID),
			attribute.String("target.id", r.target.TargetID),
		))
	defer span.End()

	r.eng.deps.Bus.RunStarted(r.ProjectID, r.ID)
	r.publish(trace.RootNodeID, trace.EventNodeCreated, trace.Payload{
		Title:  fmt.Sprintf("Refine %s", r.target.TargetID),
		Status: trace.StatusPending,
	})
	r.publish(trace.RootNodeID, trace.EventNodeStarted, trace.Payload{Status: trace.StatusRunning})

	result := r.execute(ctx, logger)
	result.StartedAt = started
	result.FinishedAt = time.Now()

	if result.Status == "success" {
		span.SetAttributes(attribute.String("stop.reason", string(result.StopReason)))
		best := result.BestScore
		r.publish(trace.RootNodeID, trace.EventNodeFinished, trace.Payload{
			Status:  trace.StatusSuccess,
			Message: result.Message,
			Score:   &best,
		})
	} else {
		span.SetStatus(codes.Error, result.Message)
		r.publish(trace.RootNodeID, trace.EventNodeFailed, trace.Payload{Message: result.Message})
	}
	r.eng.deps.Bus.RunFinished(r.ProjectID, r.ID, result.Status)
	r.eng.deps.Metrics.countRun(result.Status)

	logger.Info("run finished",
		log.String("status", result.Status),
		log.String("stop_reason", string(result.StopReason)),
		log.Int("iterations", result.Iterations),
		log.Int("best_iteration", result.BestIteration))

	r.mu.Lock()
	r.result = result
	r.mu.Unlock()

	r.eng.release(r)
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Run) execute(ctx context.Context, logger *slog.Logger) Result {
	stopCfg := r.cfg.Stop
	stopCfg.MaxIterations = r.maxIterations
	stopper, err := score.NewStopController(stopCfg)
	if err != nil {
		return Result{Status: "error", Message: fmt.Sprintf("invalid stop rules: %v", err)}
	}

	breakpoints := r.params.Pack.Manifest.Breakpoints
	if len(breakpoints) == 0 {
		return Result{Status: "error", Message: "design pack declares no breakpoints"}
	}
	nodes := r.params.Pack.IR.NodesFor(r.target.TargetID)

	st := &runState{
		keeper:      score.NewScorekeeper(r.cfg.Epsilon),
		stopper:     stopper,
		locks:       score.NewLockManager(0, 0),
		planner:     score.NewPlanner(score.PlanConfig{Weights: r.cfg.Weights}),
		nodes:       nodes,
		breakpoints: breakpoints,
		irSummary:   irSummary(nodes),
		bestIter:    -1,
		startedAt:   time.Now(),
	}

	for iter := 0; iter < r.maxIterations; iter++ {
		if r.stopRequested() {
			return r.canceledResult(st)
		}

		iterNode := trace.IterationNodeID(iter)
		r.publish(iterNode, trace.EventNodeCreated, trace.Payload{
			Title:  fmt.Sprintf("Iteration %d", iter),
			Status: trace.StatusPending,
		})
		r.publish(iterNode, trace.EventNodeStarted, trace.Payload{Status: trace.StatusRunning})

		stopReason, err := r.iterate(ctx, logger, iter, st)
		if errors.Is(err, errStopped) {
			return r.canceledResult(st)
		}
		if err != nil {
			return Result{
				Status:        "error",
				Message:       err.Error(),
				Iterations:    iter + 1,
				BestIteration: st.bestIter,
				BestScore:     st.best,
			}
		}
		if stopReason != score.StopNone {
			return Result{
				Status:        "success",
				StopReason:    stopReason,
				Message:       fmt.Sprintf("stopped: %s", stopReason),
				Iterations:    iter + 1,
				BestIteration: st.bestIter,
				BestScore:     st.best,
			}
		}
	}

	// The stop controller fires max_iterations on the last pass, so
	// this is unreachable in practice; report it anyway.
	return Result{
		Status:        "success",
		StopReason:    score.StopMaxIterations,
		Message:       fmt.Sprintf("stopped: %s", score.StopMaxIterations),
		Iterations:    r.maxIterations,
		BestIteration: st.bestIter,
		BestScore:     st.best,
	}
}

func (r *Run) canceledResult(st *runState) Result {
	return Result{
		Status:        "error",
		StopReason:    score.StopCanceled,
		Message:       "run canceled",
		Iterations:    len(st.accepted) + st.rejections,
		BestIteration: st.bestIter,
		BestScore:     st.best,
	}
}

// iterate runs one full pipeline pass. A returned stop reason ends the
// run successfully; an error fails it.
func (r *Run) iterate(ctx context.Context, logger *slog.Logger, iter int, st *runState) (score.StopReason, error) {
	ilog := logger.With(slog.Int(log.IterationKey, iter))
	deps := r.eng.deps

	// 1. Code generation.
	if err := r.timedStep(ctx, iter, stepCodegen, func(ctx context.Context, nodeID string) error {
		return r.generate(ctx, ilog, iter, st, nodeID)
	}); err != nil {
		return score.StopNone, err
	}

	// 2. Preview readiness.
	var previewURL string
	if err := r.timedStep(ctx, iter, stepPreview, func(ctx context.Context, nodeID string) error {
		url, err := r.awaitPreview(ctx, ilog)
		if err != nil {
			return err
		}
		previewURL = url
		r.stepEnd(nodeID, trace.Payload{Message: url})
		return nil
	}); err != nil {
		return score.StopNone, err
	}

	if r.stopRequested() {
		return score.StopNone, errStopped
	}

	// 3. Screenshot capture.
	var shots []capture.Screenshot
	if err := r.timedStep(ctx, iter, stepScreenshot, func(ctx context.Context, nodeID string) error {
		var err error
		shots, err = r.captureAll(ctx, ilog, nodeID, previewURL, st.breakpoints)
		return err
	}); err != nil {
		return score.StopNone, err
	}

	if r.stopRequested() {
		return score.StopNone, errStopped
	}

	// 4. Overflow inspection. Failures are logged and treated as a
	// clean report.
	r.inspectOverflow(ctx, ilog, iter, st, previewURL)

	if r.stopRequested() {
		return score.StopNone, errStopped
	}

	// 5. Visual scoring.
	var aggregate design.Vector
	var overall float64
	if err := r.timedStep(ctx, iter, stepScore, func(ctx context.Context, nodeID string) error {
		var err error
		aggregate, overall, err = r.scoreShots(ctx, ilog, st, shots)
		if err != nil {
			return err
		}
		r.stepEnd(nodeID, trace.Payload{Score: &overall, Message: aggregate.String()})
		return nil
	}); err != nil {
		return score.StopNone, err
	}
	deps.Metrics.observeScore(overall)

	if r.stopRequested() {
		return score.StopNone, errStopped
	}

	// 6. Decision and snapshot.
	decision := r.decide(ctx, ilog, iter, st, aggregate, overall)
	if decision.Accepted && overall >= r.threshold {
		return score.StopThresholdMet, nil
	}

	// 7. Stop check.
	verdict, err := st.stopper.Check(score.StopState{
		Iteration:             iter,
		AcceptedScores:        st.accepted,
		ConsecutiveRejections: st.rejections,
		BestScore:             st.best,
		StartedAt:             st.startedAt,
	})
	if err != nil {
		ilog.Warn("stop rule evaluation failed", "error", err)
	}
	if verdict.Stop {
		return verdict.Reason, nil
	}
	return score.StopNone, nil
}

// timedStep wraps a pipeline step with trace begin/fail bookkeeping, an
// otel span and a duration metric. The step body must emit its own
// nodeFinished via stepEnd unless it returns an error.
func (r *Run) timedStep(ctx context.Context, iter int, step string, fn func(ctx context.Context, nodeID string) error) error {
	ctx, span := r.eng.deps.Tracer.Start(ctx, "engine.step."+step,
		oteltrace.WithAttributes(attribute.Int("iteration", iter)))
	defer span.End()

	nodeID := r.stepBegin(iter, step)
	start := time.Now()
	err := fn(ctx, nodeID)
	r.eng.deps.Metrics.observeStep(step, time.Since(start).Seconds())
	if err != nil && !errors.Is(err, errStopped) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.stepFail(iter, nodeID, err)
	}
	return err
}

func (r *Run) generate(ctx context.Context, logger *slog.Logger, iter int, st *runState, nodeID string) error {
	prompt := buildPrompt(promptContext{
		Target:       r.target,
		Nodes:        st.nodes,
		Iteration:    iter,
		WorkspaceDir: r.params.WorkspaceDir,
		PrevScore:    st.prevScore,
		Plan:         st.plan,
		Overflow:     st.overflow,
	})

	genCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.mu.Lock()
	r.cancelGen = cancel
	r.mu.Unlock()
	if r.stopRequested() {
		// Stop raced the handle installation.
		cancel()
	}

	response, err := r.eng.deps.Codegen.Generate(genCtx, prompt)

	r.mu.Lock()
	r.cancelGen = nil
	r.mu.Unlock()

	if r.stopRequested() {
		return errStopped
	}
	if err != nil {
		return fmt.Errorf("code generation failed: %w", err)
	}

	files, rejected := workspace.ParseResponse(response)
	for _, p := range rejected {
		logger.Warn("rejected unsafe path from provider", log.String("path", p))
	}

	applier := &workspace.Applier{ProtectedGlobs: workspace.DefaultProtectedGlobs}
	applied, err := applier.Apply(ctx, r.params.WorkspaceDir, files)
	if err != nil {
		return err
	}

	written := 0
	for _, a := range applied {
		if a.Skipped {
			continue
		}
		written++
		r.publish(nodeID, trace.EventArtifactAdded, trace.Payload{
			Artifact: &trace.Artifact{Kind: "file", Path: a.RelPath, SizeBytes: a.SizeBytes},
		})
	}
	r.stepEnd(nodeID, trace.Payload{Message: fmt.Sprintf("%d file(s) written", written)})
	return nil
}

// awaitPreview starts (or reuses) the current preview, waits for it to
// report ready, then warms the target route.
func (r *Run) awaitPreview(ctx context.Context, logger *slog.Logger) (string, error) {
	cfg := r.cfg
	deps := r.eng.deps

	info, err := deps.Sandbox.StartCurrent(ctx, r.ProjectID, r.params.WorkspaceDir)
	if err != nil {
		return "", err
	}

	deadline := time.Now().Add(cfg.ReadyTimeout)
	for info.Status != sandbox.StatusReady {
		if info.Status == sandbox.StatusError || info.Status == sandbox.StatusStopped {
			return "", fmt.Errorf("preview failed: %s", info.Error)
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("preview not ready within %s", cfg.ReadyTimeout)
		}
		if r.stopRequested() {
			return "", errStopped
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
		info = deps.Sandbox.StatusCurrent(r.ProjectID)
	}

	if err := r.warmRoute(ctx, logger, info.PreviewURL); err != nil {
		return "", err
	}
	return info.PreviewURL, nil
}

// warmRoute polls the target route until it answers with anything but
// 404, then pauses for in-place recompilation to settle.
func (r *Run) warmRoute(ctx context.Context, logger *slog.Logger, previewURL string) error {
	cfg := r.cfg
	routeURL := strings.TrimSuffix(previewURL, "/") + r.target.Route

	deadline := time.Now().Add(cfg.WarmupTimeout)
	for {
		if r.stopRequested() {
			return errStopped
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, routeURL, nil)
		if err != nil {
			return err
		}
		resp, err := r.eng.deps.Warmup.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode != http.StatusNotFound {
				break
			}
		}
		if time.Now().After(deadline) {
			// The route never answered; capture will surface whatever
			// the server renders.
			logger.Warn("route warm-up timed out", log.String("url", routeURL))
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.PollInterval):
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(cfg.WarmupSettle):
	}
	return nil
}

func (r *Run) captureAll(ctx context.Context, logger *slog.Logger, nodeID, previewURL string, breakpoints []design.Breakpoint) ([]capture.Screenshot, error) {
	routeURL := strings.TrimSuffix(previewURL, "/") + r.target.Route

	shots, err := r.eng.deps.Capture.Capture(ctx, r.ProjectID, r.ID, routeURL, breakpoints)
	if err != nil {
		return nil, err
	}

	captured := make(map[string]capture.Screenshot, len(shots))
	for _, s := range shots {
		captured[s.BreakpointID] = s
	}
	for _, bp := range breakpoints {
		bpNode := nodeID + "-" + bp.BreakpointID
		r.publish(bpNode, trace.EventNodeCreated, trace.Payload{
			Title:  bp.BreakpointID,
			Status: trace.StatusPending,
		})
		shot, ok := captured[bp.BreakpointID]
		if !ok {
			r.publish(bpNode, trace.EventNodeFailed, trace.Payload{Message: "capture failed"})
			continue
		}
		r.publish(bpNode, trace.EventArtifactAdded, trace.Payload{
			Artifact: &trace.Artifact{Kind: "screenshot", Path: shot.Path},
		})
		r.publish(bpNode, trace.EventNodeFinished, trace.Payload{Status: trace.StatusSuccess})
	}

	if len(shots) < len(breakpoints) {
		logger.Warn("some breakpoints failed to capture",
			log.Int("captured", len(shots)), log.Int("requested", len(breakpoints)))
	}
	r.stepEnd(nodeID, trace.Payload{Message: fmt.Sprintf("%d/%d breakpoints captured", len(shots), len(breakpoints))})
	return shots, nil
}

// inspectOverflow scans the primary (first) breakpoint. Any failure
// leaves the previous report cleared, never fails the iteration.
func (r *Run) inspectOverflow(ctx context.Context, logger *slog.Logger, iter int, st *runState, previewURL string) {
	nodeID := r.stepBegin(iter, stepOverflow)
	start := time.Now()
	routeURL := strings.TrimSuffix(previewURL, "/") + r.target.Route

	report, err := r.eng.deps.Overflow.Inspect(ctx, r.ProjectID, r.ID, iter, routeURL, st.breakpoints[0])
	r.eng.deps.Metrics.observeStep(stepOverflow, time.Since(start).Seconds())
	if err != nil {
		logger.Warn("overflow inspection failed", "error", err)
		st.overflow = nil
		r.stepEnd(nodeID, trace.Payload{Message: "scan failed, treated as no overflow"})
		return
	}
	st.overflow = report
	r.stepEnd(nodeID, trace.Payload{Message: fmt.Sprintf("%d offender(s)", len(report.Offenders))})
}

// scoreShots grades every captured breakpoint against its baseline and
// aggregates per-dimension means into the overall score.
func (r *Run) scoreShots(ctx context.Context, logger *slog.Logger, st *runState, shots []capture.Screenshot) (design.Vector, float64, error) {
	var vectors []design.Vector
	for _, shot := range shots {
		if r.stopRequested() {
			return design.Vector{}, 0, errStopped
		}
		baseline, err := r.params.Pack.Baseline(r.target.TargetID, shot.BreakpointID, "default")
		if err != nil {
			logger.Warn("no baseline for breakpoint, skipping",
				log.String("breakpoint", shot.BreakpointID), "error", err)
			continue
		}
		candidate, err := os.ReadFile(shot.Path)
		if err != nil {
			return design.Vector{}, 0, fmt.Errorf("reading screenshot %s: %w", shot.Path, err)
		}
		vec, err := r.eng.deps.Scorer.Score(ctx, provider.ScoreRequest{
			Baseline:     baseline,
			Candidate:    candidate,
			IRSummary:    st.irSummary,
			TargetID:     r.target.TargetID,
			BreakpointID: shot.BreakpointID,
		})
		if err != nil {
			return design.Vector{}, 0, fmt.Errorf("scoring %s failed: %w", shot.BreakpointID, err)
		}
		vectors = append(vectors, vec)
	}

	if len(vectors) == 0 {
		return design.Vector{}, 0, errors.New("no breakpoint could be scored")
	}
	aggregate := design.MeanVector(vectors)
	return aggregate, r.cfg.Weights.Overall(aggregate), nil
}

// decide snapshots the workspace, evaluates the candidate and applies
// the accept/reject consequences.
func (r *Run) decide(ctx context.Context, logger *slog.Logger, iter int, st *runState, aggregate design.Vector, overall float64) score.Decision {
	nodeID := r.stepBegin(iter, stepDecision)
	deps := r.eng.deps

	// Snapshot create failures are logged and swallowed; the iteration
	// still counts.
	if meta, err := deps.Snapshots.Create(ctx, r.ProjectID, iter, r.params.WorkspaceDir); err != nil {
		logger.Warn("snapshot creation failed", "error", err)
	} else {
		deps.Metrics.observeSnapshot(meta.SizeBytes)
		r.publish(nodeID, trace.EventArtifactAdded, trace.Payload{
			Artifact: &trace.Artifact{Kind: "snapshot", Path: meta.ArchivePath, SizeBytes: meta.SizeBytes},
		})
	}

	decision := st.keeper.Evaluate(iter, overall)
	st.locks.Update(aggregate, st.nodes)

	iterNode := trace.IterationNodeID(iter)
	if decision.Accepted {
		st.accepted = append(st.accepted, overall)
		st.rejections = 0
		st.prevScore = &aggregate
		st.best = decision.Best
		st.bestIter = decision.BestIndex

		isBest := true
		r.publish(iterNode, trace.EventNodeFinished, trace.Payload{
			Status:   trace.StatusSuccess,
			Score:    &overall,
			Decision: string(decision.Reason),
			IsBest:   &isBest,
		})
	} else {
		st.rejections++
		// The workspace keeps the rejected code; roll back to the best
		// accepted state so the next iteration patches from there.
		if st.bestIter >= 0 {
			if err := deps.Snapshots.Restore(ctx, r.ProjectID, st.bestIter, r.params.WorkspaceDir); err != nil {
				logger.Warn("restore from best snapshot failed, continuing with current workspace",
					log.Int("best_iteration", st.bestIter), "error", err)
			}
		}
		r.publish(iterNode, trace.EventNodeFinished, trace.Payload{
			Status:   trace.StatusSuccess,
			Score:    &overall,
			Decision: string(decision.Reason),
		})
	}
	deps.Metrics.countIteration(string(decision.Reason))

	// Plan the next iteration from the accepted state.
	if st.prevScore != nil {
		plan := st.planner.Plan(*st.prevScore, st.nodes, st.locks.Locked())
		st.plan = &plan
	}

	r.stepEnd(nodeID, trace.Payload{
		Decision:  string(decision.Reason),
		FocusArea: planFocus(st.plan),
	})
	return decision
}

func planFocus(p *score.Plan) string {
	if p == nil {
		return ""
	}
	return string(p.FocusArea)
}

func irSummary(nodes []design.Node) string {
	var b strings.Builder
	for i := range nodes {
		b.WriteString(nodes[i].Summary())
		b.WriteByte('\n')
	}
	return b.String()
}
