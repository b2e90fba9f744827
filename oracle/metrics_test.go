package oracle

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromTrace_EmptyTrace(t *testing.T) {
	_, err := FromTrace(nil)
	require.ErrorIs(t, err, ErrEmptyTrace)
}

func TestFromTrace_ConstantTraceCompressesWell(t *testing.T) {
	trace := make([]byte, 4096)

	metrics, err := FromTrace(trace)
	require.NoError(t, err)

	assert.Less(t, metrics.CompressionRatio, 0.1)
	assert.Greater(t, metrics.QualityScore(), 0.9)
	assert.Equal(t, 4096, metrics.SampleCount)
}

func TestFromTrace_IncompressibleTraceScoresLow(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	trace := make([]byte, 4096)
	rng.Read(trace)

	metrics, err := FromTrace(trace)
	require.NoError(t, err)

	assert.Greater(t, metrics.CompressionRatio, 0.9)
	assert.Less(t, metrics.QualityScore(), 0.2)
}

func TestFromTrace_MutualInformationOfAlternatingPattern(t *testing.T) {
	trace := make([]byte, 2048)
	for i := range trace {
		if i%2 == 1 {
			trace[i] = 0xFF
		}
	}

	metrics, err := FromTrace(trace)
	require.NoError(t, err)

	// Perfectly dependent consecutive nibbles carry 1 bit of MI, which the
	// oracle normalizes by 4.
	assert.InDelta(t, 0.25, metrics.MutualInformation, 0.02)
}

func TestFromTrace_MetricsWithinDeclaredRanges(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	trace := make([]byte, 1024)
	rng.Read(trace)

	metrics, err := FromTrace(trace)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, metrics.SpectralSlope, 0.0)
	assert.LessOrEqual(t, metrics.SpectralSlope, 2.0)
	assert.GreaterOrEqual(t, metrics.Whiteness, 0.0)
	assert.LessOrEqual(t, metrics.Whiteness, 1.0)
	assert.GreaterOrEqual(t, metrics.MutualInformation, 0.0)
	assert.LessOrEqual(t, metrics.MutualInformation, 1.0)
}

func TestMetrics_Validate(t *testing.T) {
	good := Metrics{CompressionRatio: 0.5, SpectralSlope: 1, MutualInformation: 0.2, Whiteness: 0.4, SampleCount: 512}
	require.NoError(t, good.Validate())

	bad := good
	bad.CompressionRatio = 1.5
	require.Error(t, bad.Validate())

	bad = good
	bad.SpectralSlope = -0.1
	require.Error(t, bad.Validate())

	bad = good
	bad.SampleCount = 0
	require.Error(t, bad.Validate())
}

func TestMetrics_QualityScoreClamps(t *testing.T) {
	assert.Equal(t, 1.0, Metrics{CompressionRatio: 0}.QualityScore())
	assert.Equal(t, 0.0, Metrics{CompressionRatio: 1.4}.QualityScore())
	assert.InDelta(t, 0.3, Metrics{CompressionRatio: 0.7}.QualityScore(), 1e-9)
}
