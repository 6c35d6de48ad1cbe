package stream

// Transcript is a capped log of confirmed gestures in which no two adjacent
// entries are equal.
type Transcript struct {
	limit   int
	entries []string
}

// NewTranscript creates a transcript keeping at most limit entries.
func NewTranscript(limit int) *Transcript {
	if limit < 1 {
		panic("stream: transcript cap must be positive")
	}
	return &Transcript{limit: limit}
}

// Append adds label unless it is empty or repeats the last entry, then drops
// the oldest entries beyond the cap. It reports whether label was added.
func (t *Transcript) Append(label string) bool {
	if label == "" {
		return false
	}
	if t.Last() == label {
		return false
	}

	t.entries = append(t.entries, label)
	if over := len(t.entries) - t.limit; over > 0 {
		t.entries = append(t.entries[:0], t.entries[over:]...)
	}
	return true
}

// Entries returns a copy of the transcript, oldest first.
func (t *Transcript) Entries() []string {
	out := make([]string, len(t.entries))
	copy(out, t.entries)
	return out
}

// Last returns the most recent entry, or "" when empty.
func (t *Transcript) Last() string {
	if len(t.entries) == 0 {
		return ""
	}
	return t.entries[len(t.entries)-1]
}

// Len returns the number of entries.
func (t *Transcript) Len() int { return len(t.entries) }

// Reset clears the transcript.
func (t *Transcript) Reset() { t.entries = t.entries[:0] }
