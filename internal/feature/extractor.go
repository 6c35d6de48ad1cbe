package feature

import (
	"errors"

	"gocv.io/x/gocv"
)

// ErrEmptyFrame is returned when an extractor is handed a nil or empty frame.
var ErrEmptyFrame = errors.New("frame is empty")

// Extractor defines the interface for keypoint extraction implementations.
type Extractor interface {
	// Extract analyzes a decoded BGR frame and returns its keypoint vector.
	// The returned vector always has Length components; undetected parts
	// are zero-filled.
	Extract(frame *gocv.Mat) (Vector, error)

	// Close releases any resources held by the extractor.
	Close() error
}

// Config holds configuration options for holistic landmark detection.
type Config struct {
	// ScriptPath points at holistic_service.py. When empty, well-known
	// locations are searched.
	ScriptPath string

	// PythonPath is the interpreter used to run the script. When empty a
	// virtualenv interpreter is preferred, falling back to python3.
	PythonPath string

	// MinDetectionConf is the minimum detection confidence (0.0-1.0).
	MinDetectionConf float64

	// MinTrackingConf is the minimum tracking confidence (0.0-1.0).
	MinTrackingConf float64
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MinDetectionConf: 0.5,
		MinTrackingConf:  0.5,
	}
}
