package pitch

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-harmony/dsp/interp"
	"github.com/cwbudde/algo-harmony/dsp/window"
)

// Speech-tuned window defaults: a 40 ms sequence spans several glottal
// periods without smearing syllables.
const (
	defaultSequenceMs = 40.0
	defaultOverlapMs  = 8.0
	defaultSearchMs   = 15.0

	minSequenceMs = 20.0
	maxSequenceMs = 120.0
	minOverlapMs  = 4.0
	maxOverlapMs  = 60.0
	minSearchMs   = 2.0
	maxSearchMs   = 40.0

	// lookahead covers the Hermite taps read past the stretched position at
	// the lowest ratio.
	lookahead = 16
)

// WSOLA is a streaming pitch shifter. It time-stretches the input by the
// pitch ratio with waveform-similarity overlap-add and reads the stretched
// stream back at ratio samples per output sample.
//
// State carries across calls, so the result does not depend on how the
// input is split into blocks. Output is delayed by Latency samples.
type WSOLA struct {
	sampleRate float64
	maxBlock   int

	sequenceMs, overlapMs, searchMs float64

	sequenceLen int
	overlapLen  int
	searchLen   int
	stepOut     int
	latency     int
	maxDrift    int

	fadeIn  []float64
	fadeOut []float64
	tail    []float64

	// in holds input samples from absolute index inBase; nominal is the
	// predicted input position of the next segment.
	in      []float64
	inBase  int
	nominal float64

	// st holds stretched samples from absolute index stBase; rpos is the
	// read position in the stretched stream.
	st     []float64
	stBase int
	rpos   float64
}

// NewWSOLA returns a WSOLA shifter. Process splits inputs longer than
// maxBlock into maxBlock chunks.
func NewWSOLA(sampleRate float64, maxBlock int) (*WSOLA, error) {
	if !isFinitePositive(sampleRate) {
		return nil, fmt.Errorf("%w: sample rate %v", ErrInvalidConfig, sampleRate)
	}
	if maxBlock <= 0 {
		return nil, fmt.Errorf("%w: max block %d", ErrInvalidConfig, maxBlock)
	}
	w := &WSOLA{
		sampleRate: sampleRate,
		maxBlock:   maxBlock,
		sequenceMs: defaultSequenceMs,
		overlapMs:  defaultOverlapMs,
		searchMs:   defaultSearchMs,
	}
	if err := w.rebuild(); err != nil {
		return nil, err
	}
	return w, nil
}

// Windows returns the sequence, overlap and search lengths in milliseconds.
func (w *WSOLA) Windows() (sequenceMs, overlapMs, searchMs float64) {
	return w.sequenceMs, w.overlapMs, w.searchMs
}

// SetWindows changes the sequence, overlap and search lengths in
// milliseconds and resets the stream. It reallocates scratch and must not
// race with Process.
func (w *WSOLA) SetWindows(sequenceMs, overlapMs, searchMs float64) error {
	switch {
	case !(sequenceMs >= minSequenceMs && sequenceMs <= maxSequenceMs):
		return fmt.Errorf("%w: sequence must be in [%v, %v] ms: %v", ErrInvalidConfig, minSequenceMs, maxSequenceMs, sequenceMs)
	case !(overlapMs >= minOverlapMs && overlapMs <= maxOverlapMs):
		return fmt.Errorf("%w: overlap must be in [%v, %v] ms: %v", ErrInvalidConfig, minOverlapMs, maxOverlapMs, overlapMs)
	case !(searchMs >= minSearchMs && searchMs <= maxSearchMs):
		return fmt.Errorf("%w: search must be in [%v, %v] ms: %v", ErrInvalidConfig, minSearchMs, maxSearchMs, searchMs)
	}

	prev := *w
	w.sequenceMs, w.overlapMs, w.searchMs = sequenceMs, overlapMs, searchMs
	if err := w.rebuild(); err != nil {
		*w = prev
		return err
	}
	return nil
}

// Latency returns the output delay in samples.
func (w *WSOLA) Latency() int { return w.latency }

// Reset clears the stream. The next output sample is Latency samples of
// silence ahead of the next input sample.
func (w *WSOLA) Reset() {
	w.in = w.in[:w.latency]
	clear(w.in)
	w.inBase = 0
	w.nominal = 0
	clear(w.tail)
	w.st = w.st[:0]
	w.stBase = 0
	w.rpos = 0
}

// Process implements Shifter.
func (w *WSOLA) Process(dst, src []float64, ratio float64) {
	ratio = ClampRatio(ratio)
	for off := 0; off < len(src); off += w.maxBlock {
		end := min(off+w.maxBlock, len(src))
		w.push(src[off:end])
		for i := off; i < end; i++ {
			for w.stBase+len(w.st) < int(w.rpos)+3 {
				w.step(ratio)
			}
			dst[i] = interp.HermiteAt(w.st, w.rpos-float64(w.stBase))
			w.rpos += ratio
		}
	}
}

func (w *WSOLA) rebuild() error {
	if 2*w.overlapMs > w.sequenceMs {
		return fmt.Errorf("%w: overlap %v ms must be at most half of sequence %v ms", ErrInvalidConfig, w.overlapMs, w.sequenceMs)
	}

	w.sequenceLen = max(int(math.Round(w.sequenceMs*0.001*w.sampleRate)), 32)
	w.overlapLen = max(int(math.Round(w.overlapMs*0.001*w.sampleRate)), 8)
	w.searchLen = max(int(math.Round(w.searchMs*0.001*w.sampleRate)), 1)
	if 2*w.overlapLen > w.sequenceLen {
		return fmt.Errorf("%w: overlap %d samples too large for sequence %d", ErrInvalidConfig, w.overlapLen, w.sequenceLen)
	}
	w.stepOut = w.sequenceLen - w.overlapLen
	w.latency = w.searchLen + w.sequenceLen + lookahead
	w.maxDrift = 2*int(math.Ceil(float64(w.stepOut)/MinRatio)) + lookahead

	w.fadeIn = window.Rise(window.TypeHann, w.overlapLen)
	w.fadeOut = make([]float64, w.overlapLen)
	for i, v := range w.fadeIn {
		w.fadeOut[i] = 1 - v
	}
	w.tail = make([]float64, w.overlapLen)
	w.in = make([]float64, 0, w.latency+w.maxDrift+w.searchLen+w.maxBlock+4)
	w.st = make([]float64, 0, 2*w.stepOut+lookahead)
	w.Reset()
	return nil
}

// push appends chunk to the input, dropping samples no future segment can
// reach. Ratio changes skew the nominal position against the input; once
// the skew passes maxDrift it snaps back to the steady-state lag.
func (w *WSOLA) push(chunk []float64) {
	avail := w.inBase + len(w.in)
	if math.Abs(float64(avail-w.latency)-w.nominal) > float64(w.maxDrift) {
		w.nominal = float64(avail - w.latency)
	}
	keep := max(w.inBase, min(int(w.nominal)-w.searchLen-1, avail-w.latency))
	if drop := keep - w.inBase; drop > 0 {
		n := copy(w.in, w.in[drop:])
		w.in = w.in[:n]
		w.inBase = keep
	}
	w.in = append(w.in, chunk...)
}

// step appends stepOut stretched samples: the held tail crossfaded into the
// best-matching input segment near the nominal position.
func (w *WSOLA) step(ratio float64) {
	if len(w.st)+w.stepOut > cap(w.st) {
		keep := max(w.stBase, int(w.rpos)-1)
		drop := keep - w.stBase
		n := copy(w.st, w.st[drop:])
		w.st = w.st[:n]
		w.stBase = keep
	}

	cand := w.bestOverlap(int(math.Round(w.nominal)))
	for i := range w.overlapLen {
		w.st = append(w.st, w.tail[i]*w.fadeOut[i]+w.at(cand+i)*w.fadeIn[i])
	}
	for i := w.overlapLen; i < w.stepOut; i++ {
		w.st = append(w.st, w.at(cand+i))
	}
	for i := range w.tail {
		w.tail[i] = w.at(cand + w.stepOut + i)
	}
	w.nominal += float64(w.stepOut) / ratio
}

// bestOverlap returns the input position within the search range around
// predicted whose overlap region best matches the held tail by normalized
// cross-correlation. Ties go to the candidate nearest predicted.
func (w *WSOLA) bestOverlap(predicted int) int {
	avail := w.inBase + len(w.in)
	lo := max(predicted-w.searchLen, w.inBase)
	hi := min(predicted+w.searchLen, avail-w.sequenceLen)
	if hi < lo {
		return max(avail-w.sequenceLen, w.inBase)
	}
	predicted = min(max(predicted, lo), hi)

	tailEnergy := tiny
	for _, v := range w.tail {
		tailEnergy += v * v
	}

	best, bestScore := predicted, w.correlate(predicted, tailEnergy)
	for d := 1; d <= w.searchLen; d++ {
		if cand := predicted + d; cand <= hi {
			if score := w.correlate(cand, tailEnergy); score > bestScore {
				best, bestScore = cand, score
			}
		}
		if cand := predicted - d; cand >= lo {
			if score := w.correlate(cand, tailEnergy); score > bestScore {
				best, bestScore = cand, score
			}
		}
	}
	return best
}

func (w *WSOLA) correlate(cand int, tailEnergy float64) float64 {
	dot, energy := 0.0, tiny
	seg := w.in[cand-w.inBase : cand-w.inBase+w.overlapLen]
	for i, r := range w.tail {
		dot += r * seg[i]
		energy += seg[i] * seg[i]
	}
	return dot / math.Sqrt(tailEnergy*energy)
}

// at returns the input sample at absolute index i, or 0 outside the held
// range.
func (w *WSOLA) at(i int) float64 {
	i -= w.inBase
	if i < 0 || i >= len(w.in) {
		return 0
	}
	return w.in[i]
}
