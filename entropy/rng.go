package entropy

import (
	"sync"

	"go.uber.org/zap"
)

const (
	// PacketSize is the length of one corrected output packet. Packet bytes
	// carry 7 bits each, so every byte is in [0,127].
	PacketSize = 17

	packetsPerByte = 4
	discardPackets = 10
)

// Rng consumes eBits from an Extractor and assembles whitened 17-byte
// packets. The first 10 packets after a cold start are discarded. The packet
// queue is the only state shared across goroutines; Step is expected to be
// called from a single driving loop while ReadPackets may be called from
// anywhere.
type Rng struct {
	extractor *Extractor
	lfsr      *lfsrCorrector

	discardLeft int

	mu      sync.Mutex
	packets [][]byte
}

func NewRng(source TimingSource, logger *zap.Logger) *Rng {
	return &Rng{
		extractor:   NewExtractor(source, logger),
		lfsr:        newLfsrCorrector(),
		discardLeft: discardPackets,
	}
}

// Step processes one timing sample, queuing up to 4 packets if the
// extractor produced an eBits byte.
func (r *Rng) Step() {
	eByte, ok := r.extractor.Step()
	if !ok {
		return
	}
	r.processEByte(eByte)
}

// ReadPackets drains and returns all queued packets in FIFO order. Packets
// are delivered exactly once.
func (r *Rng) ReadPackets() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.packets
	r.packets = nil
	return out
}

func (r *Rng) processEByte(eByte byte) {
	// 7-bit parity fold of the sample, fed as the LFSR input bit for every
	// output bit built from this byte.
	parity := uint64(eByte)
	parity ^= parity >> 4
	parity ^= parity >> 2
	parity &= 1

	for n := 0; n < packetsPerByte; n++ {
		packet := make([]byte, PacketSize)
		for i := range packet {
			var val uint64
			for b := 0; b < 7; b++ {
				val <<= 1
				val |= r.lfsr.NextBit(parity)
			}
			packet[i] = byte(val)
		}

		if r.discardLeft > 0 {
			r.discardLeft--
			continue
		}

		r.mu.Lock()
		r.packets = append(r.packets, packet)
		r.mu.Unlock()
	}
}
