// Package provider defines the external collaborators a refinement run
// calls out to: the code-gen provider that turns prompts into source
// files, and the vision scorer that grades rendered screenshots against
// pack baselines. The engine depends on these interfaces only;
// HTTP-backed implementations live alongside for the daemon to wire.
package provider

import (
	"context"

	"github.com/tombee/atelier/pkg/design"
)

// CodegenProvider produces a revision from a structured prompt. The
// response is a single text blob expected to contain one <files> block;
// parsing and path validation happen in the workspace layer.
type CodegenProvider interface {
	// Name returns the provider identifier used in logs and errors.
	Name() string

	// Generate invokes the provider with the prompt and returns its raw
	// response text. Generate must honor ctx cancellation: a stopped run
	// cancels its in-flight call.
	Generate(ctx context.Context, prompt string) (string, error)
}

// ScoreRequest pairs a rendered screenshot with its baseline.
type ScoreRequest struct {
	// Baseline is the reference PNG from the design pack.
	Baseline []byte

	// Candidate is the captured PNG being graded.
	Candidate []byte

	// IRSummary is the compact node digest giving the scorer layout and
	// style context.
	IRSummary string

	// TargetID and BreakpointID key the comparison for provider logs.
	TargetID     string
	BreakpointID string
}

// VisionScorer grades one screenshot against its baseline, returning a
// vector in [0,1] per dimension. Implementations substitute the neutral
// fallback vector for malformed provider payloads rather than failing;
// transport failures are errors.
type VisionScorer interface {
	// Name returns the provider identifier used in logs and errors.
	Name() string

	// Score grades the candidate against the baseline.
	Score(ctx context.Context, req ScoreRequest) (design.Vector, error)
}
