package testutil

import "math"

// EstimateFrequency returns the fundamental of x in Hz: the lag with the
// highest normalized autocorrelation between sampleRate/maxHz and
// sampleRate/minHz.
func EstimateFrequency(x []float64, sampleRate, minHz, maxHz float64) float64 {
	lagMin := max(int(sampleRate/maxHz), 1)
	lagMax := min(int(math.Ceil(sampleRate/minHz)), len(x)-2)

	bestLag, bestScore := lagMin, math.Inf(-1)
	for lag := lagMin; lag <= lagMax; lag++ {
		var dot, e0, e1 float64
		for i := 0; i+lag < len(x); i++ {
			dot += x[i] * x[i+lag]
			e0 += x[i] * x[i]
			e1 += x[i+lag] * x[i+lag]
		}
		if e0 == 0 || e1 == 0 {
			continue
		}
		if score := dot / math.Sqrt(e0*e1); score > bestScore {
			bestLag, bestScore = lag, score
		}
	}
	return sampleRate / float64(bestLag)
}

// RMS returns the root mean square of x, or 0 for an empty slice.
func RMS(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += v * v
	}
	return math.Sqrt(s / float64(len(x)))
}
