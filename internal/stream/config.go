package stream

import "fmt"

// Config holds the recognition constants shared by every session.
type Config struct {
	WindowSize    int     // N: frames per classification window
	HistorySize   int     // M: predictions kept for voting
	MinVotes      int     // K: occurrences of the current label required
	Threshold     float64 // confidence must be strictly greater than this
	TranscriptCap int     // T: maximum transcript entries
}

// DefaultConfig returns the stock recognition constants.
func DefaultConfig() Config {
	return Config{
		WindowSize:    20,
		HistorySize:   6,
		MinVotes:      4,
		Threshold:     0.4,
		TranscriptCap: 5,
	}
}

// Validate checks the constants against each other.
func (c Config) Validate() error {
	switch {
	case c.WindowSize < 1:
		return fmt.Errorf("window size must be positive, got %d", c.WindowSize)
	case c.HistorySize < 1 || c.HistorySize > c.WindowSize:
		return fmt.Errorf("history size must be in [1, %d], got %d", c.WindowSize, c.HistorySize)
	case c.MinVotes < 1 || c.MinVotes > c.HistorySize:
		return fmt.Errorf("min votes must be in [1, %d], got %d", c.HistorySize, c.MinVotes)
	case c.Threshold < 0 || c.Threshold >= 1:
		return fmt.Errorf("threshold must be in [0, 1), got %v", c.Threshold)
	case c.TranscriptCap < 1:
		return fmt.Errorf("transcript cap must be positive, got %d", c.TranscriptCap)
	}
	return nil
}
