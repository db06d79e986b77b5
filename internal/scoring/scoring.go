package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/lox/sanitrack/internal/grading"
)

// ErrInvalidInput is returned for malformed signals.
var ErrInvalidInput = errors.New("invalid input")

// Deduction policy for signal-based scoring.
const (
	MaxScore         = 100
	LitterPenalty    = 5
	LitterPenaltyCap = 40
	WetFloorPenalty  = 15
	OverflowPenalty  = 30
)

// Provenance records where a score came from.
type Provenance string

const (
	ProvenanceSignals  Provenance = "signals"
	ProvenanceManual   Provenance = "manual"
	ProvenanceVision   Provenance = "vision"
	ProvenanceDetector Provenance = "detector"
)

// Signals are the raw observations from one inspection.
type Signals struct {
	LitterCount int  `json:"litter_count"`
	WetFloor    bool `json:"wet_floor_detected"`
	Overflow    bool `json:"overflow_detected"`
}

// Input is either a set of signals to deduct from, or a score supplied by
// someone else. Build one with FromSignals or Supplied.
type Input struct {
	signals    *Signals
	supplied   float64
	provenance Provenance
}

// FromSignals builds an input that is scored by deduction.
func FromSignals(s Signals) Input {
	return Input{signals: &s, provenance: ProvenanceSignals}
}

// Supplied builds an input that bypasses deduction.
func Supplied(score float64, p Provenance) Input {
	if p == "" || p == ProvenanceSignals {
		p = ProvenanceManual
	}
	return Input{supplied: score, provenance: p}
}

// Signals returns the signals and true if this input is signal-based.
func (in Input) Signals() (Signals, bool) {
	if in.signals == nil {
		return Signals{}, false
	}
	return *in.signals, true
}

// Provenance returns where the input came from.
func (in Input) Provenance() Provenance {
	return in.provenance
}

// Result is a computed score with its provenance.
type Result struct {
	Score      float64    `json:"score"`
	Provenance Provenance `json:"provenance"`
}

// Compute converts an input into a score in [0, 100].
func Compute(in Input) (Result, error) {
	if in.signals == nil && in.provenance == "" {
		return Result{}, fmt.Errorf("%w: empty input", ErrInvalidInput)
	}
	if in.signals != nil {
		score, err := deduct(*in.signals)
		if err != nil {
			return Result{}, err
		}
		return Result{Score: score, Provenance: ProvenanceSignals}, nil
	}

	if math.IsNaN(in.supplied) {
		return Result{}, fmt.Errorf("%w: supplied score is not a number", ErrInvalidInput)
	}
	return Result{Score: grading.Clamp(in.supplied), Provenance: in.provenance}, nil
}

func deduct(s Signals) (float64, error) {
	if s.LitterCount < 0 {
		return 0, fmt.Errorf("%w: litter count %d is negative", ErrInvalidInput, s.LitterCount)
	}

	// Cap on the count, not the product, so huge counts cannot overflow.
	litter := LitterPenaltyCap
	if s.LitterCount < LitterPenaltyCap/LitterPenalty {
		litter = s.LitterCount * LitterPenalty
	}

	score := MaxScore - litter
	if s.WetFloor {
		score -= WetFloorPenalty
	}
	if s.Overflow {
		score -= OverflowPenalty
	}
	return grading.Clamp(float64(score)), nil
}
