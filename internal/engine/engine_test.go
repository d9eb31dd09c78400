package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tombee/atelier/internal/capture"
	"github.com/tombee/atelier/internal/sandbox"
	"github.com/tombee/atelier/internal/snapshot"
	"github.com/tombee/atelier/pkg/design"
	"github.com/tombee/atelier/pkg/provider"
	"github.com/tombee/atelier/pkg/score"
	"github.com/tombee/atelier/pkg/trace"
)

// scriptedCodegen emits a new revision of src/App.tsx on every call.
// When block is set, Generate parks until the context is canceled.
type scriptedCodegen struct {
	mu     sync.Mutex
	calls  int
	block  bool
	called chan struct{}
}

func (c *scriptedCodegen) Name() string { return "scripted" }

func (c *scriptedCodegen) Generate(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	n := c.calls
	c.calls++
	called := c.called
	block := c.block
	c.mu.Unlock()

	if called != nil {
		select {
		case called <- struct{}{}:
		default:
		}
	}
	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return fmt.Sprintf(`<files><file path="src/App.tsx">// revision %d</file></files>`, n), nil
}

func (c *scriptedCodegen) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// scriptedScorer returns one preset score per call, every dimension set
// to the same value so the overall equals the script entry.
type scriptedScorer struct {
	mu     sync.Mutex
	scores []float64
	calls  int
}

func (s *scriptedScorer) Name() string { return "scripted" }

func (s *scriptedScorer) Score(ctx context.Context, req provider.ScoreRequest) (design.Vector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.scores[len(s.scores)-1]
	if s.calls < len(s.scores) {
		v = s.scores[s.calls]
	}
	s.calls++
	return design.Vector{Layout: v, Style: v, A11y: v, Perceptual: v}, nil
}

// fakeSandbox reports an always-ready preview backed by a test server.
type fakeSandbox struct {
	url string
}

func (f *fakeSandbox) StartCurrent(ctx context.Context, projectID, workspaceDir string) (sandbox.Info, error) {
	return sandbox.Info{PreviewURL: f.url, Status: sandbox.StatusReady}, nil
}

func (f *fakeSandbox) StatusCurrent(projectID string) sandbox.Info {
	return sandbox.Info{PreviewURL: f.url, Status: sandbox.StatusReady}
}

func (f *fakeSandbox) StopCurrent(projectID string) {}

// fakeCapturer writes one placeholder PNG per breakpoint.
type fakeCapturer struct {
	dir  string
	fail bool
}

func (f *fakeCapturer) Capture(ctx context.Context, projectID, runID, previewURL string, breakpoints []design.Breakpoint) ([]capture.Screenshot, error) {
	if f.fail {
		return nil, fmt.Errorf("browser unavailable")
	}
	var shots []capture.Screenshot
	for _, bp := range breakpoints {
		path := filepath.Join(f.dir, runID+"-"+bp.BreakpointID+".png")
		if err := os.WriteFile(path, []byte("png"), 0o644); err != nil {
			return nil, err
		}
		shots = append(shots, capture.Screenshot{
			BreakpointID: bp.BreakpointID,
			Path:         path,
			Width:        bp.Width,
			Height:       bp.Height,
		})
	}
	return shots, nil
}

type fakeOverflow struct{}

func (fakeOverflow) Inspect(ctx context.Context, projectID, runID string, iteration int, previewURL string, bp design.Breakpoint) (*capture.Report, error) {
	return &capture.Report{BreakpointID: bp.BreakpointID, Iteration: iteration}, nil
}

type fixture struct {
	eng     *Engine
	bus     *trace.Bus
	store   *snapshot.Store
	pack    *design.Pack
	wsDir   string
	codegen *scriptedCodegen
	server  *httptest.Server
}

func newFixture(t *testing.T, scores []float64, cfg Config) *fixture {
	t.Helper()
	tmp := t.TempDir()

	packDir := filepath.Join(tmp, "pack")
	baseline := filepath.Join(packDir, design.BaselineRelPath("home", "desktop", "default"))
	if err := os.MkdirAll(filepath.Dir(baseline), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(baseline, []byte("baseline-png"), 0o644); err != nil {
		t.Fatal(err)
	}

	pack := &design.Pack{
		ID:  "pack-1",
		Dir: packDir,
		Manifest: &design.Manifest{
			SchemaVersion: design.SchemaVersion,
			ProjectName:   "fixture",
			Targets:       []design.Target{{TargetID: "home", Route: "/"}},
			Breakpoints:   []design.Breakpoint{{BreakpointID: "desktop", Width: 1440, Height: 900, DeviceScaleFactor: 1}},
			RunDefaults:   design.RunDefaults{TargetID: "home", Threshold: 0.92, MaxIterations: 10},
		},
		IR: &design.IR{
			SchemaVersion: design.SchemaVersion,
			Targets: []design.IRTarget{{
				TargetID: "home",
				Nodes: []design.Node{
					{NodeID: "1:1", Name: "Hero", MatchImportance: design.ImportanceCritical},
					{NodeID: "1:2", Name: "CTA", MatchImportance: design.ImportanceNormal},
				},
			}},
		},
	}

	wsDir := filepath.Join(tmp, "workspace")
	if err := os.MkdirAll(filepath.Join(wsDir, "src"), 0o755); err != nil {
		t.Fatal(err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	shotDir := filepath.Join(tmp, "shots")
	if err := os.MkdirAll(shotDir, 0o755); err != nil {
		t.Fatal(err)
	}

	bus := trace.NewBus(nil, time.Minute)
	t.Cleanup(bus.Close)
	store := snapshot.NewStore(filepath.Join(tmp, "storage"), nil, nil)

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 2 * time.Millisecond
	}
	if cfg.WarmupTimeout == 0 {
		cfg.WarmupTimeout = 200 * time.Millisecond
	}
	if cfg.WarmupSettle == 0 {
		cfg.WarmupSettle = time.Millisecond
	}

	codegen := &scriptedCodegen{}
	eng := New(cfg, Deps{
		Codegen:   codegen,
		Scorer:    &scriptedScorer{scores: scores},
		Sandbox:   &fakeSandbox{url: server.URL},
		Capture:   &fakeCapturer{dir: shotDir},
		Overflow:  fakeOverflow{},
		Snapshots: store,
		Bus:       bus,
	})

	return &fixture{
		eng:     eng,
		bus:     bus,
		store:   store,
		pack:    pack,
		wsDir:   wsDir,
		codegen: codegen,
		server:  server,
	}
}

func (f *fixture) runAndWait(t *testing.T, params RunParams) Result {
	t.Helper()
	run, err := f.eng.StartRun(context.Background(), params)
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	select {
	case <-run.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish")
	}
	return run.Result()
}

func (f *fixture) params() RunParams {
	return RunParams{
		ProjectID:    "proj-1",
		WorkspaceDir: f.wsDir,
		Pack:         f.pack,
	}
}

func TestRun_ThresholdInOneShot(t *testing.T) {
	f := newFixture(t, []float64{0.85}, Config{})
	p := f.params()
	p.Threshold = 0.80
	p.MaxIterations = 5

	res := f.runAndWait(t, p)

	if res.Status != "success" {
		t.Fatalf("status = %q (%s)", res.Status, res.Message)
	}
	if res.StopReason != score.StopThresholdMet {
		t.Errorf("stop reason = %q, want threshold_met", res.StopReason)
	}
	if res.Iterations != 1 || res.BestIteration != 0 {
		t.Errorf("iterations = %d, best = %d", res.Iterations, res.BestIteration)
	}
	if !f.store.Has("proj-1", 0) {
		t.Error("missing snapshot for iteration 0")
	}
	if f.store.Has("proj-1", 1) {
		t.Error("unexpected snapshot for iteration 1")
	}
	if best := f.bus.BestIteration("proj-1"); best != 0 {
		t.Errorf("tree best iteration = %d", best)
	}
}

func TestRun_SteadyImprovementStopsAtThreshold(t *testing.T) {
	f := newFixture(t, []float64{0.60, 0.70, 0.80, 0.90}, Config{})
	p := f.params()
	p.Threshold = 0.85
	p.MaxIterations = 10

	res := f.runAndWait(t, p)

	if res.Status != "success" || res.StopReason != score.StopThresholdMet {
		t.Fatalf("status = %q, reason = %q (%s)", res.Status, res.StopReason, res.Message)
	}
	if res.Iterations != 4 || res.BestIteration != 3 {
		t.Errorf("iterations = %d, best = %d", res.Iterations, res.BestIteration)
	}
	for i := 0; i < 4; i++ {
		if !f.store.Has("proj-1", i) {
			t.Errorf("missing snapshot for iteration %d", i)
		}
	}
	if best := f.bus.BestIteration("proj-1"); best != 3 {
		t.Errorf("tree best iteration = %d", best)
	}
}

func TestRun_RegressionRestoresBestWorkspace(t *testing.T) {
	f := newFixture(t, []float64{0.80, 0.60}, Config{})
	p := f.params()
	p.Threshold = 0.99
	p.MaxIterations = 2

	res := f.runAndWait(t, p)

	if res.Status != "success" || res.StopReason != score.StopMaxIterations {
		t.Fatalf("status = %q, reason = %q (%s)", res.Status, res.StopReason, res.Message)
	}
	if res.BestIteration != 0 {
		t.Errorf("best = %d, want 0", res.BestIteration)
	}

	// Iteration 1 regressed: the workspace must hold iteration 0's code.
	data, err := os.ReadFile(filepath.Join(f.wsDir, "src", "App.tsx"))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "// revision 0\n" {
		t.Errorf("workspace content = %q, want revision 0", got)
	}

	tree := f.bus.Tree("proj-1")
	var iter1 *trace.Node
	for _, child := range tree.Children {
		if child.ID == trace.IterationNodeID(1) {
			iter1 = child
		}
	}
	if iter1 == nil {
		t.Fatal("iteration 1 node missing from tree")
	}
	if iter1.Decision != string(score.ReasonRegression) {
		t.Errorf("iteration 1 decision = %q", iter1.Decision)
	}
	if iter1.IsBest {
		t.Error("rejected iteration flagged best")
	}
}

func TestRun_RegressionLimitStops(t *testing.T) {
	f := newFixture(t, []float64{0.80, 0.60, 0.60, 0.60}, Config{
		Stop: score.StopConfig{MaxConsecutiveRejections: 3},
	})
	p := f.params()
	p.Threshold = 0.99
	p.MaxIterations = 10

	res := f.runAndWait(t, p)

	if res.Status != "success" || res.StopReason != score.StopRegressionLimit {
		t.Fatalf("status = %q, reason = %q (%s)", res.Status, res.StopReason, res.Message)
	}
	if res.Iterations != 4 || res.BestIteration != 0 {
		t.Errorf("iterations = %d, best = %d", res.Iterations, res.BestIteration)
	}
	if best := f.bus.BestIteration("proj-1"); best != 0 {
		t.Errorf("tree best iteration = %d", best)
	}
}

func TestRun_PlateauStops(t *testing.T) {
	f := newFixture(t, []float64{0.80, 0.81, 0.82, 0.83}, Config{
		Epsilon: 0.01,
		Stop:    score.StopConfig{PlateauWindow: 3, PlateauThreshold: 0.05},
	})
	p := f.params()
	p.Threshold = 0.99
	p.MaxIterations = 10

	res := f.runAndWait(t, p)

	if res.Status != "success" || res.StopReason != score.StopPlateau {
		t.Fatalf("status = %q, reason = %q (%s)", res.Status, res.StopReason, res.Message)
	}
	if res.Iterations != 4 || res.BestIteration != 3 {
		t.Errorf("iterations = %d, best = %d", res.Iterations, res.BestIteration)
	}
}

func TestRun_SingleBestInvariant(t *testing.T) {
	f := newFixture(t, []float64{0.60, 0.70, 0.80}, Config{})
	p := f.params()
	p.Threshold = 0.75

	res := f.runAndWait(t, p)
	if res.Status != "success" {
		t.Fatalf("status = %q (%s)", res.Status, res.Message)
	}

	tree := f.bus.Tree("proj-1")
	best := 0
	for _, child := range tree.Children {
		if child.IsBest {
			best++
		}
	}
	if best != 1 {
		t.Errorf("isBest set on %d iteration nodes, want 1", best)
	}
}

func TestRun_AllCapturesFailingFailsRun(t *testing.T) {
	f := newFixture(t, []float64{0.85}, Config{})
	f.eng.deps.Capture = &fakeCapturer{fail: true}
	p := f.params()

	res := f.runAndWait(t, p)

	if res.Status != "error" {
		t.Fatalf("status = %q, want error", res.Status)
	}
	tree := f.bus.Tree("proj-1")
	if tree.Status != trace.StatusError {
		t.Errorf("root status = %q", tree.Status)
	}
	iter0 := tree.Children[0]
	if iter0.Status != trace.StatusError {
		t.Errorf("iteration 0 status = %q", iter0.Status)
	}
}

func TestRun_StopCancelsInFlightCodegen(t *testing.T) {
	f := newFixture(t, []float64{0.85}, Config{})
	f.codegen.block = true
	f.codegen.called = make(chan struct{}, 1)

	run, err := f.eng.StartRun(context.Background(), f.params())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	select {
	case <-f.codegen.called:
	case <-time.After(5 * time.Second):
		t.Fatal("codegen never invoked")
	}
	run.Stop()

	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not exit after stop")
	}

	res := run.Result()
	if res.Status != "error" {
		t.Errorf("status = %q, want error for a canceled run", res.Status)
	}
	if res.StopReason != score.StopCanceled {
		t.Errorf("stop reason = %q", res.StopReason)
	}
}

func TestEngine_StartRunReplacesPredecessor(t *testing.T) {
	f := newFixture(t, []float64{0.95}, Config{})
	f.codegen.block = true
	f.codegen.called = make(chan struct{}, 1)

	first, err := f.eng.StartRun(context.Background(), f.params())
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}
	select {
	case <-f.codegen.called:
	case <-time.After(5 * time.Second):
		t.Fatal("first run never reached codegen")
	}

	// The second run must stop the first and wait for it.
	f.codegen.mu.Lock()
	f.codegen.block = false
	f.codegen.mu.Unlock()

	p := f.params()
	p.Threshold = 0.90
	second, err := f.eng.StartRun(context.Background(), p)
	if err != nil {
		t.Fatalf("second StartRun: %v", err)
	}

	select {
	case <-first.Done():
	default:
		t.Error("predecessor still live after successor started")
	}
	if first.Result().Status != "error" {
		t.Errorf("predecessor status = %q", first.Result().Status)
	}

	select {
	case <-second.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("second run did not finish")
	}
	if res := second.Result(); res.Status != "success" || res.StopReason != score.StopThresholdMet {
		t.Errorf("second run status = %q, reason = %q (%s)", res.Status, res.StopReason, res.Message)
	}
	if f.eng.Active("proj-1") != nil {
		t.Error("slot not released after completion")
	}
}

func TestRun_MaxIterationsOne(t *testing.T) {
	f := newFixture(t, []float64{0.50}, Config{})
	p := f.params()
	p.Threshold = 0.99
	p.MaxIterations = 1

	res := f.runAndWait(t, p)

	if res.Status != "success" || res.StopReason != score.StopMaxIterations {
		t.Fatalf("status = %q, reason = %q (%s)", res.Status, res.StopReason, res.Message)
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d", res.Iterations)
	}
	// First iteration is always accepted regardless of its score.
	if res.BestIteration != 0 {
		t.Errorf("best = %d", res.BestIteration)
	}
}

func TestEngine_StartRunUnknownTarget(t *testing.T) {
	f := newFixture(t, []float64{0.85}, Config{})
	p := f.params()
	p.TargetID = "nope"

	if _, err := f.eng.StartRun(context.Background(), p); err == nil {
		t.Fatal("expected error for unknown target")
	}
}
