// Package classifier maps fixed-length sequences of keypoint vectors onto a
// closed vocabulary of gesture labels.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// ErrDimensionMismatch is returned when a window or vector of unexpected
// shape reaches the classifier. No inference is attempted.
var ErrDimensionMismatch = errors.New("dimension mismatch")

// Classifier defines the interface for sequence classification implementations.
type Classifier interface {
	// Classify runs the model over exactly one full window of shape
	// [frames, features] and returns a probability distribution over the
	// vocabulary.
	Classify(ctx context.Context, window [][]float32) ([]float32, error)

	// Close releases any resources held by the classifier.
	Close() error
}

// Result is the argmax of one classification.
type Result struct {
	Label      int     // Index into the vocabulary
	Confidence float64 // Probability mass of Label
}

// ArgMax picks the most probable label. Ties resolve to the lowest index.
// It returns a Result with Label -1 for an empty distribution.
func ArgMax(probs []float32) Result {
	best := -1
	for i, p := range probs {
		if best < 0 || p > probs[best] {
			best = i
		}
	}
	if best < 0 {
		return Result{Label: -1}
	}
	return Result{Label: best, Confidence: Widen(probs[best])}
}

// Widen converts a model probability to float64 using its shortest decimal
// form, so float32(0.4) becomes exactly 0.4 rather than 0.4000000059604645.
func Widen(p float32) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(float64(p), 'g', -1, 32), 64)
	return f
}

// CheckShape verifies that window has exactly frames rows of features
// components each.
func CheckShape(window [][]float32, frames, features int) error {
	if len(window) != frames {
		return fmt.Errorf("%w: window has %d frames, want %d", ErrDimensionMismatch, len(window), frames)
	}
	for i, row := range window {
		if len(row) != features {
			return fmt.Errorf("%w: frame %d has %d features, want %d", ErrDimensionMismatch, i, len(row), features)
		}
	}
	return nil
}
