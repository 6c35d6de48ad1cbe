package stream

import "github.com/ayusman/mudra/internal/feature"

// Window is a sliding FIFO of the most recent keypoint vectors.
//
// Precondition: every pushed vector has the same dimensionality. Vectors are
// retained by reference and must not be modified after Push.
type Window struct {
	size   int
	frames [][]float32
}

// NewWindow creates a window holding at most size vectors.
func NewWindow(size int) *Window {
	if size < 1 {
		panic("stream: window size must be positive")
	}
	return &Window{
		size:   size,
		frames: make([][]float32, 0, size),
	}
}

// Push appends v, evicting the oldest vector once the window is full, and
// returns a view of the current window (shorter than Cap during warm-up).
func (w *Window) Push(v feature.Vector) [][]float32 {
	if len(w.frames) == w.size {
		copy(w.frames, w.frames[1:])
		w.frames[w.size-1] = v
	} else {
		w.frames = append(w.frames, v)
	}
	return w.Snapshot()
}

// Preview returns the window as it would be after Push(v) without
// modifying it.
func (w *Window) Preview(v feature.Vector) [][]float32 {
	start := 0
	if len(w.frames) == w.size {
		start = 1
	}
	out := make([][]float32, 0, w.size)
	out = append(out, w.frames[start:]...)
	return append(out, v)
}

// Snapshot returns a copy of the window in arrival order.
func (w *Window) Snapshot() [][]float32 {
	out := make([][]float32, len(w.frames))
	copy(out, w.frames)
	return out
}

// Len returns the number of buffered vectors.
func (w *Window) Len() int { return len(w.frames) }

// Cap returns the window length N.
func (w *Window) Cap() int { return w.size }

// Full reports whether the window holds N vectors.
func (w *Window) Full() bool { return len(w.frames) == w.size }

// Reset empties the window.
func (w *Window) Reset() {
	clear(w.frames)
	w.frames = w.frames[:0]
}
