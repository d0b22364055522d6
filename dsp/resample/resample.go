package resample

import (
	"errors"
	"math"
)

var (
	// ErrInvalidRatio indicates an invalid up/down ratio.
	ErrInvalidRatio = errors.New("resample: invalid ratio")
	// ErrInvalidRate indicates an invalid input or output sample rate.
	ErrInvalidRate = errors.New("resample: invalid sample rate")
)

// Resampler performs streaming rational sample-rate conversion.
type Resampler struct {
	up, down int
	quality  Quality
	phases   [][]float64

	// work holds len(phases[0])-1 samples of history followed by the current
	// input block. The history starts zeroed.
	work  []float64
	hist  int
	pos   int
	phase int
}

// NewRational creates a resampler producing up output samples for every
// down input samples.
func NewRational(up, down int, opts ...Option) (*Resampler, error) {
	if up <= 0 || down <= 0 {
		return nil, ErrInvalidRatio
	}
	g := gcd(up, down)
	up, down = up/g, down/g

	o := buildOptions(opts)
	phases, longest, err := designPolyphase(up, down, o.profile)
	if err != nil {
		return nil, err
	}

	r := &Resampler{
		up:      up,
		down:    down,
		quality: o.quality,
		phases:  phases,
		hist:    max(longest-1, 0),
	}
	r.work = make([]float64, r.hist, r.hist+o.reserve)
	return r, nil
}

// NewForRates creates a resampler from inRate to outRate.
func NewForRates(inRate, outRate float64, opts ...Option) (*Resampler, error) {
	if !(inRate > 0) || !(outRate > 0) || math.IsInf(inRate, 0) || math.IsInf(outRate, 0) {
		return nil, ErrInvalidRate
	}
	o := buildOptions(opts)
	up, down := rationalApprox(outRate/inRate, o.maxDen)
	return NewRational(up, down, opts...)
}

// Reserve grows the internal scratch so that input blocks of up to n samples
// are processed without allocating.
func (r *Resampler) Reserve(n int) {
	if need := r.hist + n; cap(r.work) < need {
		w := make([]float64, len(r.work), need)
		copy(w, r.work)
		r.work = w
	}
}

// Reset clears the filter history.
func (r *Resampler) Reset() {
	r.work = r.work[:r.hist]
	clear(r.work)
	r.pos = 0
	r.phase = 0
}

// Process converts one input block into a newly allocated slice.
func (r *Resampler) Process(input []float64) []float64 {
	if len(input) == 0 {
		return nil
	}
	return r.ProcessInto(make([]float64, 0, r.PredictOutputLen(len(input))), input)
}

// ProcessInto converts one input block, appending the output to dst[:0].
// It allocates only when dst or the reserved scratch is too small.
func (r *Resampler) ProcessInto(dst, input []float64) []float64 {
	dst = dst[:0]
	if len(input) == 0 {
		return dst
	}

	r.work = append(r.work[:r.hist], input...)
	for r.pos < len(input) {
		newest := r.pos + r.hist
		var y float64
		for k, c := range r.phases[r.phase] {
			y += c * r.work[newest-k]
		}
		dst = append(dst, y)

		r.phase += r.down
		r.pos += r.phase / r.up
		r.phase %= r.up
	}
	r.pos -= len(input)

	copy(r.work, r.work[len(r.work)-r.hist:])
	r.work = r.work[:r.hist]
	return dst
}

// PredictOutputLen returns the number of samples the next call with n input
// samples will produce.
func (r *Resampler) PredictOutputLen(n int) int {
	if n <= 0 {
		return 0
	}
	pos, phase, count := r.pos, r.phase, 0
	for pos < n {
		count++
		phase += r.down
		pos += phase / r.up
		phase %= r.up
	}
	return count
}

// MaxOutputLen bounds the output of any call with n input samples.
func (r *Resampler) MaxOutputLen(n int) int {
	if n <= 0 {
		return 0
	}
	return (n*r.up)/r.down + 1
}

// Ratio returns the reduced up/down factors.
func (r *Resampler) Ratio() (up, down int) { return r.up, r.down }

// Quality returns the configured quality mode.
func (r *Resampler) Quality() Quality { return r.quality }

// TapsPerPhase returns the length of the longest polyphase branch.
func (r *Resampler) TapsPerPhase() int { return r.hist + 1 }
