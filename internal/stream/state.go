package stream

import (
	"sync"
	"time"
)

// Phase is the lifecycle stage of a session.
type Phase int

const (
	PhaseWarmingUp Phase = iota // fewer than N vectors buffered
	PhaseActive                 // window full; every frame is classified
)

func (p Phase) String() string {
	if p == PhaseActive {
		return "active"
	}
	return "warming_up"
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is the per-session recognition state. One mutex guards the whole
// push, classify, vote and append sequence so concurrent frames for the
// same session are applied one at a time.
type State struct {
	id      string
	created time.Time

	mu         sync.Mutex
	window     *Window
	history    *VoteHistory
	transcript *Transcript
	frames     uint64
	updated    time.Time
}

func newState(id string, cfg Config) *State {
	now := time.Now()
	return &State{
		id:         id,
		created:    now,
		updated:    now,
		window:     NewWindow(cfg.WindowSize),
		history:    NewVoteHistory(cfg.HistorySize),
		transcript: NewTranscript(cfg.TranscriptCap),
	}
}

// ID returns the session identifier.
func (s *State) ID() string { return s.id }

// Phase returns the current lifecycle stage.
func (s *State) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase()
}

func (s *State) phase() Phase {
	if s.window.Full() {
		return PhaseActive
	}
	return PhaseWarmingUp
}

// Transcript returns a copy of the confirmed gestures, oldest first.
func (s *State) Transcript() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript.Entries()
}

// Reset discards the window, vote history and transcript.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window.Reset()
	s.history.Reset()
	s.transcript.Reset()
	s.updated = time.Now()
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID         string    `json:"id"`
	Phase      Phase     `json:"phase"`
	Buffered   int       `json:"buffered"`
	Votes      []int     `json:"votes"`
	Transcript []string  `json:"transcript"`
	Frames     uint64    `json:"frames"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Snapshot returns a consistent copy of the session.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:         s.id,
		Phase:      s.phase(),
		Buffered:   s.window.Len(),
		Votes:      s.history.Votes(),
		Transcript: s.transcript.Entries(),
		Frames:     s.frames,
		CreatedAt:  s.created,
		UpdatedAt:  s.updated,
	}
}
