package stream

import (
	"fmt"

	"github.com/ayusman/mudra/internal/classifier"
)

// VoteHistory is a FIFO of the most recent predicted label indices.
type VoteHistory struct {
	size  int
	votes []int
}

// NewVoteHistory creates a history of at most size votes.
func NewVoteHistory(size int) *VoteHistory {
	if size < 1 {
		panic("stream: vote history size must be positive")
	}
	return &VoteHistory{size: size, votes: make([]int, 0, size)}
}

// Push records label, evicting the oldest vote once the history is full.
func (h *VoteHistory) Push(label int) {
	if len(h.votes) == h.size {
		copy(h.votes, h.votes[1:])
		h.votes[h.size-1] = label
		return
	}
	h.votes = append(h.votes, label)
}

// Count returns how often label occurs in the history.
func (h *VoteHistory) Count(label int) int {
	n := 0
	for _, v := range h.votes {
		if v == label {
			n++
		}
	}
	return n
}

// Len returns the number of recorded votes.
func (h *VoteHistory) Len() int { return len(h.votes) }

// Votes returns a copy of the history, oldest first.
func (h *VoteHistory) Votes() []int {
	out := make([]int, len(h.votes))
	copy(out, h.votes)
	return out
}

// Reset empties the history.
func (h *VoteHistory) Reset() { h.votes = h.votes[:0] }

// Decision is the outcome of voting on one classification.
type Decision struct {
	Label      int
	Confidence float64
	Confirmed  bool
}

// Smoother debounces raw classifications with a super-majority vote over
// recent history plus a confidence floor.
type Smoother struct {
	MinVotes  int     // Occurrences of the current label needed in the history
	Threshold float64 // Confidence must be strictly greater than this
	Labels    int     // Vocabulary size
}

// Decide records r in h and reports whether r's label is confirmed.
// Only the current label is counted; a label that was frequent earlier but
// is not the latest prediction is never confirmed by this call.
//
// A label outside the vocabulary is a programming error and panics.
func (s Smoother) Decide(h *VoteHistory, r classifier.Result) Decision {
	if r.Label < 0 || r.Label >= s.Labels {
		panic(fmt.Sprintf("stream: label %d outside vocabulary of %d", r.Label, s.Labels))
	}

	h.Push(r.Label)
	return Decision{
		Label:      r.Label,
		Confidence: r.Confidence,
		Confirmed:  h.Count(r.Label) >= s.MinVotes && r.Confidence > s.Threshold,
	}
}
