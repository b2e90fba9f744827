package entropy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drainRng(rng *Rng, steps int) [][]byte {
	var out [][]byte
	for i := 0; i < steps; i++ {
		rng.Step()
		out = append(out, rng.ReadPackets()...)
	}
	return out
}

func TestRng_DiscardsFirstTenPackets(t *testing.T) {
	ticks := syntheticTicks(1+initSamples+rampSamples+3, 1000)
	rng := NewRng(NewSequenceSource(ticks), nil)

	// Three eBits bytes produce 12 packets; the first 10 are discarded.
	packets := drainRng(rng, len(ticks))
	require.Len(t, packets, 2)
}

func TestRng_PacketShape(t *testing.T) {
	ticks := syntheticTicks(1+initSamples+rampSamples+50, 1000)
	rng := NewRng(NewSequenceSource(ticks), nil)

	packets := drainRng(rng, len(ticks))
	require.NotEmpty(t, packets)
	for _, packet := range packets {
		require.Len(t, packet, PacketSize)
		for _, b := range packet {
			assert.LessOrEqual(t, b, byte(127))
		}
	}
}

func TestRng_ReadPacketsNeverRedelivers(t *testing.T) {
	ticks := syntheticTicks(1+initSamples+rampSamples+20, 1000)
	rng := NewRng(NewSequenceSource(ticks), nil)

	for i := 0; i < len(ticks); i++ {
		rng.Step()
	}

	first := rng.ReadPackets()
	require.NotEmpty(t, first)
	require.Empty(t, rng.ReadPackets())
}

func TestRng_DeterministicReplay(t *testing.T) {
	ticks := syntheticTicks(1+initSamples+rampSamples+100, 1000)

	produce := func() [][]byte {
		rng := NewRng(NewSequenceSource(ticks), nil)
		return drainRng(rng, len(ticks))
	}

	first := produce()
	second := produce()
	require.NotEmpty(t, first)
	require.Equal(t, first, second)
}
