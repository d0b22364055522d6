// Package level measures block levels of float32 PCM for status reporting.
//
// Block functions are pure. A Meter is written by one goroutine (the audio
// callback) and read by any number of others without locks.
package level

import (
	"math"
	"sync/atomic"
)

// Silence is the dBFS value reported for an all-zero block.
var Silence = math.Inf(-1)

// Reading is a level snapshot.
type Reading struct {
	Peak   float64 // max |x|, linear
	RMS    float64
	PeakDB float64 // dBFS
	RMSDB  float64
	Clips  uint64 // samples at or beyond full scale since the meter was created
}

// AmpToDB converts a linear amplitude to dBFS: 20 * log10(|value|).
// Returns -Inf for zero.
func AmpToDB(value float64) float64 {
	a := math.Abs(value)
	if a == 0 {
		return Silence
	}
	return 20 * math.Log10(a)
}

// DBToAmp converts dBFS to a linear amplitude.
func DBToAmp(db float64) float64 {
	return math.Pow(10, db/20)
}

// RMS returns the root-mean-square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, x := range samples {
		v := float64(x)
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}

// Peak returns the largest absolute sample.
func Peak(samples []float32) float64 {
	var peak float64
	for _, x := range samples {
		peak = max(peak, math.Abs(float64(x)))
	}
	return peak
}

// Meter tracks peak and RMS with exponential release.
type Meter struct {
	release float64

	// owned by the writer
	peak, rms float64

	peakBits atomic.Uint64
	rmsBits  atomic.Uint64
	clips    atomic.Uint64
}

// NewMeter returns a meter whose held values fall by release (0..1) of their
// value per update; 0 reports each block as is.
func NewMeter(release float64) *Meter {
	return &Meter{release: min(max(release, 0), 1)}
}

// Update folds one block into the meter. It never allocates.
func (m *Meter) Update(samples []float32) {
	peak, rms := Peak(samples), RMS(samples)
	var clips uint64
	for _, x := range samples {
		if x >= 1 || x <= -1 {
			clips++
		}
	}

	keep := 1 - m.release
	m.peak = max(peak, m.peak*keep)
	m.rms = max(rms, m.rms*keep)
	if m.release == 0 {
		m.peak, m.rms = peak, rms
	}

	m.peakBits.Store(math.Float64bits(m.peak))
	m.rmsBits.Store(math.Float64bits(m.rms))
	if clips > 0 {
		m.clips.Add(clips)
	}
}

// Reading returns the most recently published level.
func (m *Meter) Reading() Reading {
	peak := math.Float64frombits(m.peakBits.Load())
	rms := math.Float64frombits(m.rmsBits.Load())
	return Reading{
		Peak:   peak,
		RMS:    rms,
		PeakDB: AmpToDB(peak),
		RMSDB:  AmpToDB(rms),
		Clips:  m.clips.Load(),
	}
}

// Reset clears the held values. It must be called from the writer.
func (m *Meter) Reset() {
	m.peak, m.rms = 0, 0
	m.peakBits.Store(0)
	m.rmsBits.Store(0)
	m.clips.Store(0)
}
