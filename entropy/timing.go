package entropy

import "time"

// TimingSource reads a monotonic tick counter. Only deltas between
// consecutive reads carry information; the absolute value is meaningless.
// The concrete backend is fixed at startup, never probed at runtime.
type TimingSource interface {
	Read() uint64
}

// MonotonicSource reads the process monotonic clock in nanoseconds.
type MonotonicSource struct {
	start time.Time
}

func NewMonotonicSource() *MonotonicSource {
	return &MonotonicSource{start: time.Now()}
}

func (s *MonotonicSource) Read() uint64 {
	return uint64(time.Since(s.start).Nanoseconds())
}

// SequenceSource replays a fixed tick sequence, repeating the last delta
// once the sequence is exhausted. Used by tests to drive the extractor
// deterministically.
type SequenceSource struct {
	ticks []uint64
	pos   int
}

func NewSequenceSource(ticks []uint64) *SequenceSource {
	return &SequenceSource{ticks: ticks}
}

func (s *SequenceSource) Read() uint64 {
	if len(s.ticks) == 0 {
		return 0
	}
	if s.pos >= len(s.ticks) {
		last := s.ticks[len(s.ticks)-1]
		var delta uint64
		if len(s.ticks) > 1 {
			delta = last - s.ticks[len(s.ticks)-2]
		}
		overflow := uint64(s.pos - len(s.ticks) + 1)
		s.pos++
		return last + overflow*delta
	}
	tick := s.ticks[s.pos]
	s.pos++
	return tick
}
