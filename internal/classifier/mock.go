package classifier

import (
	"context"
	"errors"
	"sync"
)

// MockClassifier is a test implementation of the Classifier interface.
// It returns a scripted sequence of distributions; once the script is
// exhausted the last distribution repeats.
type MockClassifier struct {
	mu       sync.Mutex
	frames   int
	features int
	script   [][]float32
	err      error
	calls    int
}

// NewMockClassifier creates a MockClassifier that expects windows of shape
// [frames, features]. A zero frames or features disables shape checking.
func NewMockClassifier(frames, features int) *MockClassifier {
	return &MockClassifier{frames: frames, features: features}
}

// SetDistribution makes every subsequent call return probs.
func (m *MockClassifier) SetDistribution(probs []float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = [][]float32{probs}
}

// Script queues distributions returned by successive calls.
func (m *MockClassifier) Script(dists ...[]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, dists...)
}

// SetError sets the error that will be returned by Classify.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Classify was invoked.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Classify returns the next scripted distribution.
func (m *MockClassifier) Classify(ctx context.Context, window [][]float32) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.frames > 0 && m.features > 0 {
		if err := CheckShape(window, m.frames, m.features); err != nil {
			return nil, err
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	if len(m.script) == 0 {
		return nil, errors.New("mock classifier: no distribution configured")
	}

	next := m.script[0]
	if len(m.script) > 1 {
		m.script = m.script[1:]
	}
	out := make([]float32, len(next))
	copy(out, next)
	return out, nil
}

// Close is a no-op for the mock classifier.
func (m *MockClassifier) Close() error {
	return nil
}

// OneHot returns a distribution of size n with confidence on label and the
// remaining mass spread evenly over the other labels.
func OneHot(n, label int, confidence float32) []float32 {
	probs := make([]float32, n)
	rest := float32(0)
	if n > 1 {
		rest = (1 - confidence) / float32(n-1)
	}
	for i := range probs {
		probs[i] = rest
	}
	probs[label] = confidence
	return probs
}
