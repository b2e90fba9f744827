package entropy

import (
	"math"
	"sort"

	"go.uber.org/zap"
)

type extractorState int

const (
	stateInit extractorState = iota
	stateRamp
	stateNormal
)

const (
	initSamples = 3
	rampSamples = 1000

	calWindow     = 1 << 10 // recalibrate every 1024 NORMAL samples
	minQDivisor   = 32.0
	maxQDivisor   = 16384.0
	targetSpan    = 100 // desired eBits span around the midpoint
	rampDivisor   = 128.0
	defaultQDiv   = 33333.0
	slowFilterLen = 1000.0
	fastFilterLen = 100.0
)

// Extractor turns monotonic timing deltas into quantized jitter bytes
// (eBits). It warms up through INIT (3 samples) and RAMP (1000 samples)
// before producing output, then recalibrates its quantization divisor every
// 1024 samples from robust statistics over the trailing window. Fully
// deterministic given the input tick sequence.
type Extractor struct {
	source TimingSource
	logger *zap.Logger

	lpf         lpFilter
	state       extractorState
	procCounter int

	prevTimestamp   uint64
	timestampPrimed bool
	rampAccumulator float64
	qDivisor        float64
	window          []float64
	windowPos       int
	windowFilled    bool
	samplesSinceCal int
}

func NewExtractor(source TimingSource, logger *zap.Logger) *Extractor {
	return &Extractor{
		source:   source,
		logger:   logger,
		state:    stateInit,
		qDivisor: defaultQDiv,
		window:   make([]float64, calWindow),
	}
}

// Step processes one timing sample. It returns an eBits byte and true once
// the extractor is in its steady state; during warm-up it returns false.
func (e *Extractor) Step() (byte, bool) {
	timestamp := e.source.Read()

	// The very first read only primes the delta baseline.
	if !e.timestampPrimed {
		e.prevTimestamp = timestamp
		e.timestampPrimed = true
		return 0, false
	}

	timingDiff := float64(timestamp - e.prevTimestamp)
	e.prevTimestamp = timestamp

	switch e.state {
	case stateInit:
		e.initProcessing(timingDiff)
		return 0, false
	case stateRamp:
		e.rampProcessing(timingDiff)
		return 0, false
	default:
		return e.normalProcessing(timingDiff), true
	}
}

func (e *Extractor) initProcessing(timingDiff float64) {
	if e.procCounter == 0 {
		e.lpf.Init(timingDiff)
	} else {
		e.lpf.Feed(timingDiff, fastFilterLen)
	}

	e.procCounter++
	if e.procCounter >= initSamples {
		e.procCounter = 0
		e.state = stateRamp
		e.rampAccumulator = 0
	}
}

func (e *Extractor) rampProcessing(timingDiff float64) {
	e.rampAccumulator += e.lpf.Feed(timingDiff, fastFilterLen)
	e.procCounter++

	if e.procCounter >= rampSamples {
		meanLpf := e.rampAccumulator / float64(rampSamples)
		e.qDivisor = rampDivisor
		e.procCounter = 0
		e.state = stateNormal
		if e.logger != nil {
			e.logger.Info("extractor calibrated",
				zap.Float64("mean_lpf", meanLpf),
				zap.Float64("divisor", e.qDivisor),
			)
		}
	}
}

func (e *Extractor) normalProcessing(timingDiff float64) byte {
	e.window[e.windowPos] = timingDiff
	e.windowPos = (e.windowPos + 1) % calWindow
	if e.windowPos == 0 {
		e.windowFilled = true
	}
	e.samplesSinceCal++

	if e.samplesSinceCal >= calWindow && e.windowFilled {
		e.recalibrate()
		e.samplesSinceCal = 0
	}

	// Slow reaction to in-band noise, fast reaction to >5% drift.
	lpfValue := e.lpf.Value()
	filterRatio := 1.0
	if lpfValue > 0 {
		filterRatio = timingDiff / lpfValue
	}
	if filterRatio > 1.05 || filterRatio < 0.95 {
		lpfValue = e.lpf.Feed(timingDiff, slowFilterLen)
	} else {
		lpfValue = e.lpf.Feed(timingDiff, fastFilterLen)
	}

	qFactor := lpfValue / e.qDivisor
	if qFactor == 0 {
		qFactor = 1.0
	}

	eBits := math.Floor(timingDiff/qFactor + 0.5)
	if eBits < 0 {
		eBits = 0
	} else if eBits > 255 {
		eBits = 255
	}
	return byte(eBits)
}

// recalibrate rescales the quantization divisor from the trailing window's
// median and MAD so that eBits span roughly targetSpan values.
func (e *Extractor) recalibrate() {
	sorted := make([]float64, calWindow)
	copy(sorted, e.window)
	sort.Float64s(sorted)

	mid := calWindow / 2
	mu := (sorted[mid-1] + sorted[mid]) / 2

	absDevs := make([]float64, calWindow)
	for i, v := range e.window {
		absDevs[i] = math.Abs(v - mu)
	}
	sort.Float64s(absDevs)
	mad := (absDevs[mid-1] + absDevs[mid]) / 2

	sigma := 1.4826 * mad
	if mad == 0 {
		sigma = 1.0
	}

	if sigma > 0 {
		targetQFactor := float64(targetSpan) / 2.0
		newQDiv := mu / targetQFactor
		e.qDivisor = math.Min(maxQDivisor, math.Max(minQDivisor, newQDiv))
	}
}
