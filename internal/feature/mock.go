package feature

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockExtractor is a test implementation of the Extractor interface.
// It allows tests to control the extracted vectors.
type MockExtractor struct {
	mu     sync.Mutex
	vector Vector
	err    error
	calls  int
}

// NewMockExtractor creates a MockExtractor that returns an all-zero vector.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{vector: make(Vector, Length)}
}

// SetVector sets the vector that will be returned by Extract.
func (m *MockExtractor) SetVector(v Vector) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vector = v
}

// SetHolistic sets the vector from a set of landmarks.
func (m *MockExtractor) SetHolistic(h *Holistic) {
	m.SetVector(h.Flatten())
}

// SetError sets the error that will be returned by Extract.
func (m *MockExtractor) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Extract was invoked.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Extract returns a copy of the pre-configured vector or error.
func (m *MockExtractor) Extract(frame *gocv.Mat) (Vector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	out := make(Vector, len(m.vector))
	copy(out, m.vector)
	return out, nil
}

// Close is a no-op for the mock extractor.
func (m *MockExtractor) Close() error {
	return nil
}

// OpenPalmHolistic returns landmarks for a frame where the body, face and a
// raised right hand are visible but the left hand is not.
func OpenPalmHolistic() *Holistic {
	h := &Holistic{
		Pose:      make([]Landmark, PoseLandmarks),
		Face:      make([]Landmark, FaceLandmarks),
		RightHand: make([]Landmark, HandLandmarks),
	}
	for i := range h.Pose {
		h.Pose[i] = Landmark{X: 0.5, Y: 0.2 + float32(i)*0.02, Z: -0.1, Visibility: 0.99}
	}
	for i := range h.Face {
		h.Face[i] = Landmark{X: 0.45 + float32(i%20)*0.005, Y: 0.15 + float32(i/20)*0.004, Z: -0.02}
	}
	for i := range h.RightHand {
		h.RightHand[i] = Landmark{X: 0.7 + float32(i%5)*0.01, Y: 0.5 - float32(i/5)*0.03, Z: -0.05}
	}
	return h
}
