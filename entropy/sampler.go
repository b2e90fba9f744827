package entropy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxBufferedPackets bounds the sampler buffer when no consumer is
// draining; the oldest packets are dropped first.
const maxBufferedPackets = 4096

// Sampler drives an Rng at a fixed cadence and buffers the produced packets
// for consumers. One Sampler owns one Rng; Run must not be called twice.
type Sampler struct {
	rng     *Rng
	cadence time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	buffer  [][]byte
	dropped uint64
}

func NewSampler(rng *Rng, cadence time.Duration, logger *zap.Logger) *Sampler {
	return &Sampler{
		rng:     rng,
		cadence: cadence,
		logger:  logger,
	}
}

// Run steps the Rng until the context is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cadence)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.rng.Step()
			for _, packet := range s.rng.ReadPackets() {
				s.push(packet)
			}
		}
	}
}

// Drain returns all buffered packets in FIFO order and empties the buffer.
func (s *Sampler) Drain() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.buffer
	s.buffer = nil
	return out
}

func (s *Sampler) push(packet []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) >= maxBufferedPackets {
		s.buffer = s.buffer[1:]
		s.dropped++
		if s.dropped%uint64(maxBufferedPackets) == 1 && s.logger != nil {
			s.logger.Warn("sampler buffer full, dropping packets", zap.Uint64("dropped", s.dropped))
		}
	}
	s.buffer = append(s.buffer, packet)
}
