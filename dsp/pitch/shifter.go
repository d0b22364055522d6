package pitch

import (
	"errors"
	"fmt"
	"math"
)

const (
	// MinRatio and MaxRatio bound the pitch ratio (two octaves each way).
	MinRatio = 0.25
	MaxRatio = 4.0

	tiny = 1e-12
)

// ErrInvalidConfig reports an unusable shifter configuration.
var ErrInvalidConfig = errors.New("pitch: invalid configuration")

// Engine names a pitch-shifting algorithm.
type Engine string

const (
	EngineWSOLA    Engine = "wsola"
	EngineSpectral Engine = "spectral"
)

// Shifter pitch-shifts mono blocks.
type Shifter interface {
	// Process writes len(src) shifted samples into dst, which must be at
	// least as long as src. ratio is clamped to [MinRatio, MaxRatio].
	Process(dst, src []float64, ratio float64)
	// Reset clears any state carried between blocks.
	Reset()
	// Latency returns the delay in samples the shifter adds.
	Latency() int
}

// New returns a shifter of the given engine for blocks of up to maxBlock
// samples at sampleRate.
func New(e Engine, sampleRate float64, maxBlock int) (Shifter, error) {
	switch e {
	case EngineWSOLA, "":
		w, err := NewWSOLA(sampleRate, maxBlock)
		if err != nil {
			return nil, err
		}
		return w, nil
	case EngineSpectral:
		s, err := NewSpectral(sampleRate, maxBlock)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown engine %q", ErrInvalidConfig, string(e))
	}
}

// CentsToRatio converts a pitch offset in cents to a frequency ratio.
func CentsToRatio(cents float64) float64 {
	return math.Exp2(cents / 1200)
}

// RatioToCents converts a frequency ratio to cents.
func RatioToCents(ratio float64) float64 {
	return 1200 * math.Log2(ratio)
}

// ClampRatio limits ratio to the supported range. Non-finite values map to 1.
func ClampRatio(ratio float64) float64 {
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || ratio <= 0 {
		return 1
	}
	return min(max(ratio, MinRatio), MaxRatio)
}

func isFinitePositive(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
