package search

import "sync/atomic"

// Sequencer hands out monotonically increasing query sequence numbers so
// that interactive callers can drop responses that were superseded.
type Sequencer struct {
	n atomic.Uint64
}

// Next issues a new sequence number.
func (s *Sequencer) Next() uint64 { return s.n.Add(1) }

// Latest returns the most recently issued number.
func (s *Sequencer) Latest() uint64 { return s.n.Load() }

// IsLatest reports whether seq is the most recently issued number.
func (s *Sequencer) IsLatest(seq uint64) bool { return seq == s.n.Load() }
