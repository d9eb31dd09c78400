package score

import (
	"testing"
)

func TestScorekeeper_FirstCandidateAlwaysAccepted(t *testing.T) {
	k := NewScorekeeper(0)

	d := k.Evaluate(0, 0.12)
	if !d.Accepted || d.Reason != ReasonImproved {
		t.Fatalf("first candidate: got %+v, want accepted/improved", d)
	}
	if d.Best != 0.12 || d.BestIndex != 0 {
		t.Errorf("best after first = (%v, %d), want (0.12, 0)", d.Best, d.BestIndex)
	}
}

func TestScorekeeper_Evaluate(t *testing.T) {
	tests := []struct {
		name       string
		prior      float64
		candidate  float64
		wantAccept bool
		wantReason Reason
	}{
		{
			name:       "clear improvement",
			prior:      0.60,
			candidate:  0.70,
			wantAccept: true,
			wantReason: ReasonImproved,
		},
		{
			name:       "improvement exactly epsilon",
			prior:      0.72,
			candidate:  0.73,
			wantAccept: true,
			wantReason: ReasonImproved,
		},
		{
			name:       "clear regression",
			prior:      0.80,
			candidate:  0.60,
			wantAccept: false,
			wantReason: ReasonRegression,
		},
		{
			name:       "regression exactly epsilon is noise",
			prior:      0.72,
			candidate:  0.71,
			wantAccept: false,
			wantReason: ReasonNoImprovement,
		},
		{
			name:       "same score is noise",
			prior:      0.72,
			candidate:  0.72,
			wantAccept: false,
			wantReason: ReasonNoImprovement,
		},
		{
			name:       "sub-epsilon gain is noise",
			prior:      0.80,
			candidate:  0.805,
			wantAccept: false,
			wantReason: ReasonNoImprovement,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := NewScorekeeper(0.01)
			k.Evaluate(0, tt.prior)

			d := k.Evaluate(1, tt.candidate)
			if d.Accepted != tt.wantAccept {
				t.Errorf("Accepted = %v, want %v", d.Accepted, tt.wantAccept)
			}
			if d.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", d.Reason, tt.wantReason)
			}
		})
	}
}

func TestScorekeeper_StateUnchangedOnRejection(t *testing.T) {
	k := NewScorekeeper(0.01)
	k.Evaluate(0, 0.80)

	k.Evaluate(1, 0.60)
	score, index, ok := k.Best()
	if !ok || score != 0.80 || index != 0 {
		t.Fatalf("Best() after rejection = (%v, %d, %v), want (0.80, 0, true)", score, index, ok)
	}

	// A later genuine improvement still lands against the original best.
	d := k.Evaluate(2, 0.85)
	if !d.Accepted || d.BestIndex != 2 {
		t.Errorf("recovery evaluation = %+v, want accepted at index 2", d)
	}
}

func TestScorekeeper_MonotoneAcceptedHistory(t *testing.T) {
	// Accepted scores must be non-decreasing by at least epsilon.
	k := NewScorekeeper(0.01)
	scores := []float64{0.60, 0.70, 0.65, 0.70, 0.80, 0.90}

	var accepted []float64
	for i, s := range scores {
		if d := k.Evaluate(i, s); d.Accepted {
			accepted = append(accepted, s)
		}
	}

	for i := 1; i < len(accepted); i++ {
		if accepted[i] < accepted[i-1]+0.01-1e-12 {
			t.Errorf("accepted history not monotone by epsilon: %v", accepted)
		}
	}

	want := []float64{0.60, 0.70, 0.80, 0.90}
	if len(accepted) != len(want) {
		t.Fatalf("accepted = %v, want %v", accepted, want)
	}
	for i := range want {
		if accepted[i] != want[i] {
			t.Fatalf("accepted = %v, want %v", accepted, want)
		}
	}
}

func TestScorekeeper_CustomEpsilon(t *testing.T) {
	k := NewScorekeeper(0.001)
	k.Evaluate(0, 0.800)

	if d := k.Evaluate(1, 0.805); !d.Accepted {
		t.Errorf("with epsilon 0.001, +0.005 should be accepted, got %+v", d)
	}
}

func TestScorekeeper_BestBeforeFirstEvaluation(t *testing.T) {
	k := NewScorekeeper(0)
	if _, _, ok := k.Best(); ok {
		t.Error("Best() should report not-ok before any evaluation")
	}
	if k.Epsilon() != DefaultEpsilon {
		t.Errorf("Epsilon() = %v, want default %v", k.Epsilon(), DefaultEpsilon)
	}
}
