// Package oracle scores the statistical quality of raw entropy traces.
package oracle

import (
	"math"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/dsp/fourier"
)

var ErrEmptyTrace = errors.New("empty trace")

// Metrics is a pure function of a byte trace. Only CompressionRatio drives
// the quality score; the remaining fields are computed and stored for
// auditability.
type Metrics struct {
	CompressionRatio  float64 `json:"compression_ratio"`
	SpectralSlope     float64 `json:"spectral_slope"`
	MutualInformation float64 `json:"mutual_information"`
	Whiteness         float64 `json:"whiteness"`
	SampleCount       int     `json:"sample_count"`
}

// Validate checks the field ranges a reveal payload must satisfy.
func (m Metrics) Validate() error {
	if m.CompressionRatio < 0 || m.CompressionRatio > 1 {
		return errors.Errorf("compression_ratio %f out of [0,1]", m.CompressionRatio)
	}
	if m.SpectralSlope < 0 || m.SpectralSlope > 2 {
		return errors.Errorf("spectral_slope %f out of [0,2]", m.SpectralSlope)
	}
	if m.MutualInformation < 0 || m.MutualInformation > 1 {
		return errors.Errorf("mutual_information %f out of [0,1]", m.MutualInformation)
	}
	if m.Whiteness < 0 || m.Whiteness > 1 {
		return errors.Errorf("whiteness %f out of [0,1]", m.Whiteness)
	}
	if m.SampleCount < 1 {
		return errors.Errorf("sample_count %d below 1", m.SampleCount)
	}
	return nil
}

// QualityScore maps metrics to [0,1]. Structural compressibility is the only
// input: a trace that compresses well carries little entropy.
func (m Metrics) QualityScore() float64 {
	return clamp(1-m.CompressionRatio, 0, 1)
}

// FromTrace computes metrics over a raw jitter trace.
func FromTrace(data []byte) (Metrics, error) {
	if len(data) == 0 {
		return Metrics{}, ErrEmptyTrace
	}

	ratio, err := compressionRatio(data)
	if err != nil {
		return Metrics{}, errors.Wrap(err, "computing compression ratio")
	}

	slope, whiteness := spectralMetrics(data)

	return Metrics{
		CompressionRatio:  ratio,
		SpectralSlope:     slope,
		MutualInformation: mutualInformation(data),
		Whiteness:         whiteness,
		SampleCount:       len(data),
	}, nil
}

func compressionRatio(data []byte) (float64, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return 0, errors.Wrap(err, "creating zstd encoder")
	}
	defer encoder.Close()

	compressed := encoder.EncodeAll(data, nil)
	return float64(len(compressed)) / float64(len(data)), nil
}

// mutualInformation estimates dependence between consecutive samples from a
// 16x16 joint histogram over high nibbles, normalized to [0,1].
func mutualInformation(data []byte) float64 {
	if len(data) < 2 {
		return 0
	}

	var joint [16][16]float64
	var rowSum, colSum [16]float64
	total := float64(len(data) - 1)

	for i := 0; i+1 < len(data); i++ {
		x := data[i] >> 4
		y := data[i+1] >> 4
		joint[x][y]++
		rowSum[x]++
		colSum[y]++
	}

	var mi float64
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			pxy := joint[x][y]
			if pxy == 0 {
				continue
			}
			mi += pxy * math.Log2(pxy*total/(rowSum[x]*colSum[y]))
		}
	}
	mi /= total

	return clamp(mi/4, 0, 1)
}

// spectralMetrics compares FFT power in the lowest vs highest quartile of
// frequencies, DC-centered at 128.
func spectralMetrics(data []byte) (slope, whiteness float64) {
	seq := make([]float64, len(data))
	for i, b := range data {
		seq[i] = float64(b) - 128
	}

	coeffs := fourier.NewFFT(len(seq)).Coefficients(nil, seq)
	power := make([]float64, len(coeffs))
	for i, c := range coeffs {
		power[i] = real(c)*real(c) + imag(c)*imag(c)
	}

	quartile := len(power) / 4
	var low, high float64
	if quartile > 0 {
		for _, p := range power[:quartile] {
			low += p
		}
		low /= float64(quartile)
		for _, p := range power[len(power)-quartile:] {
			high += p
		}
		high /= float64(quartile)
	}

	ratio := 0.0
	if high != 0 {
		ratio = low / high
	}
	slope = clamp((math.Log10(ratio+1e-6)+6)/12, 0, 2)
	whiteness = high / (low + high + 1e-6)
	return slope, whiteness
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
