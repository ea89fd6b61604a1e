// Package change decides whether a channel reading differs enough from the
// last persisted reading of the same channel to be stored again.
package change

import (
	"fmt"
	"math"

	"github.com/parthCJ/Aarma-be/internal/domain"
)

// DefaultThreshold is the minimum absolute delta treated as a change.
const DefaultThreshold = 5.0

// Evaluator compares channel values against a fixed threshold. The zero
// value uses a threshold of 0, so every reading with a baseline is kept.
type Evaluator struct {
	threshold float64
}

// NewEvaluator rejects negative, NaN and infinite thresholds.
func NewEvaluator(threshold float64) (Evaluator, error) {
	if threshold < 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return Evaluator{}, fmt.Errorf("change threshold must be a finite non-negative number, got %v", threshold)
	}
	return Evaluator{threshold: threshold}, nil
}

// Threshold returns the minimum absolute change a channel needs to be kept.
func (e Evaluator) Threshold() float64 { return e.threshold }

// Significant reports whether next should be kept. A nil previous means the
// channel was never seen for this sensor. The boundary is inclusive.
func (e Evaluator) Significant(next domain.Channel, previous *domain.Channel) bool {
	if previous == nil {
		return true
	}
	return math.Abs(next.Value-previous.Value) >= e.threshold
}
