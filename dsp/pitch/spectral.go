package pitch

import (
	"fmt"
	"math"

	algofft "github.com/MeKo-Christian/algo-fft"
	"github.com/cwbudde/algo-harmony/dsp/interp"
	"github.com/cwbudde/algo-harmony/dsp/window"
	"github.com/cwbudde/algo-vecmath"
)

const (
	// spectralFrameSeconds sets the analysis frame to roughly 32 ms.
	spectralFrameSeconds = 0.032
	spectralOverlap      = 4
	minSpectralFrame     = 64
)

// Spectral is a streaming phase-vocoder pitch shifter.
//
// Every Hop input samples it analyses the last FrameSize samples, moves each
// output bin k to the interpolated source bin k/ratio, accumulates synthesis
// phase from the shifted instantaneous frequencies and overlap-adds the
// result. Output is delayed by FrameSize samples.
type Spectral struct {
	frameSize int
	hop       int

	plan   *algofft.Plan[complex128]
	window []float64
	omega  []float64
	scale  float64

	// inFIFO holds the newest frameSize input samples once rover reaches
	// frameSize; outFIFO holds the hop samples being emitted.
	inFIFO  []float64
	outFIFO []float64
	outAcc  []float64
	rover   int

	frame    []float64
	spectrum []complex128
	timeBuf  []complex128

	prevPhase []float64
	sumPhase  []float64
	mag       []float64
	freq      []float64
	shiftMag  []float64
	shiftFreq []float64
}

// NewSpectral returns a spectral shifter. The frame size is the power of two
// nearest above 32 ms at sampleRate; maxBlock only validates the caller's
// block size since processing is sample-streamed.
func NewSpectral(sampleRate float64, maxBlock int) (*Spectral, error) {
	if !isFinitePositive(sampleRate) {
		return nil, fmt.Errorf("%w: sample rate %v", ErrInvalidConfig, sampleRate)
	}
	if maxBlock <= 0 {
		return nil, fmt.Errorf("%w: max block %d", ErrInvalidConfig, maxBlock)
	}
	size := minSpectralFrame
	for float64(size) < sampleRate*spectralFrameSeconds {
		size <<= 1
	}
	return NewSpectralSize(size, size/spectralOverlap)
}

// NewSpectralSize returns a spectral shifter with an explicit power-of-two
// frame size and hop.
func NewSpectralSize(frameSize, hop int) (*Spectral, error) {
	if frameSize < minSpectralFrame || frameSize&(frameSize-1) != 0 {
		return nil, fmt.Errorf("%w: frame size must be a power of two >= %d: %d", ErrInvalidConfig, minSpectralFrame, frameSize)
	}
	if hop <= 0 || hop >= frameSize {
		return nil, fmt.Errorf("%w: hop must be in [1, %d): %d", ErrInvalidConfig, frameSize, hop)
	}

	plan, err := algofft.NewPlan64(frameSize)
	if err != nil {
		return nil, fmt.Errorf("pitch: FFT plan for %d: %w", frameSize, err)
	}

	bins := frameSize/2 + 1
	s := &Spectral{
		frameSize: frameSize,
		hop:       hop,
		plan:      plan,
		window:    window.Generate(window.TypeHann, frameSize, window.WithPeriodic()),
		omega:     make([]float64, bins),
		inFIFO:    make([]float64, frameSize),
		outFIFO:   make([]float64, hop),
		outAcc:    make([]float64, frameSize),
		frame:     make([]float64, frameSize),
		spectrum:  make([]complex128, frameSize),
		timeBuf:   make([]complex128, frameSize),
		prevPhase: make([]float64, bins),
		sumPhase:  make([]float64, bins),
		mag:       make([]float64, bins),
		freq:      make([]float64, bins),
		shiftMag:  make([]float64, bins),
		shiftFreq: make([]float64, bins),
	}

	s.scale = float64(hop) / window.Energy(s.window)
	for k := range s.omega {
		s.omega[k] = 2 * math.Pi * float64(k) / float64(frameSize)
	}
	s.rover = frameSize - hop
	return s, nil
}

// FrameSize returns the FFT length.
func (s *Spectral) FrameSize() int { return s.frameSize }

// Hop returns the analysis and synthesis hop.
func (s *Spectral) Hop() int { return s.hop }

// Latency returns the output delay in samples.
func (s *Spectral) Latency() int { return s.frameSize }

// Reset clears the FIFOs and phase state.
func (s *Spectral) Reset() {
	clear(s.inFIFO)
	clear(s.outFIFO)
	clear(s.outAcc)
	clear(s.prevPhase)
	clear(s.sumPhase)
	s.rover = s.frameSize - s.hop
}

// Process implements Shifter.
func (s *Spectral) Process(dst, src []float64, ratio float64) {
	ratio = ClampRatio(ratio)
	base := s.frameSize - s.hop
	for i, x := range src {
		s.inFIFO[s.rover] = x
		dst[i] = s.outFIFO[s.rover-base]
		s.rover++
		if s.rover == s.frameSize {
			s.rover = base
			s.processFrame(ratio)
		}
	}
}

func (s *Spectral) processFrame(ratio float64) {
	half := s.frameSize / 2
	hop := float64(s.hop)

	vecmath.MulBlock(s.frame, s.inFIFO, s.window)
	for i, v := range s.frame {
		s.spectrum[i] = complex(v, 0)
	}
	if err := s.plan.Forward(s.spectrum, s.spectrum); err != nil {
		s.emitSilence()
		return
	}

	for k := 0; k <= half; k++ {
		re, im := real(s.spectrum[k]), imag(s.spectrum[k])
		s.mag[k] = math.Hypot(re, im)
		phase := math.Atan2(im, re)
		delta := wrapPhase(phase - s.prevPhase[k] - s.omega[k]*hop)
		s.freq[k] = s.omega[k] + delta/hop
		s.prevPhase[k] = phase
	}

	for k := 0; k <= half; k++ {
		src := float64(k) / ratio
		if src >= float64(half) {
			s.shiftMag[k] = 0
			s.shiftFreq[k] = s.omega[k]
			continue
		}
		lo := int(src)
		hi := min(lo+1, half)
		t := src - float64(lo)
		s.shiftMag[k] = interp.Linear(t, s.mag[lo], s.mag[hi])
		s.shiftFreq[k] = interp.Linear(t, s.freq[lo], s.freq[hi]) * ratio
	}

	for k := 0; k <= half; k++ {
		s.sumPhase[k] = wrapPhase(s.sumPhase[k] + s.shiftFreq[k]*hop)
		sin, cos := math.Sincos(s.sumPhase[k])
		s.spectrum[k] = complex(s.shiftMag[k]*cos, s.shiftMag[k]*sin)
	}
	s.spectrum[0] = complex(real(s.spectrum[0]), 0)
	s.spectrum[half] = complex(real(s.spectrum[half]), 0)
	for k := 1; k < half; k++ {
		v := s.spectrum[k]
		s.spectrum[s.frameSize-k] = complex(real(v), -imag(v))
	}

	if err := s.plan.Inverse(s.timeBuf, s.spectrum); err != nil {
		s.emitSilence()
		return
	}
	for i, v := range s.timeBuf {
		s.frame[i] = real(v)
	}
	vecmath.MulBlockInPlace(s.frame, s.window)
	vecmath.ScaleBlock(s.frame, s.frame, s.scale)
	vecmath.AddBlockInPlace(s.outAcc, s.frame)

	s.shiftOut()
}

func (s *Spectral) shiftOut() {
	copy(s.outFIFO, s.outAcc[:s.hop])
	copy(s.outAcc, s.outAcc[s.hop:])
	clear(s.outAcc[s.frameSize-s.hop:])
	copy(s.inFIFO, s.inFIFO[s.hop:])
}

func (s *Spectral) emitSilence() {
	clear(s.outAcc[:s.hop])
	s.shiftOut()
}

func wrapPhase(x float64) float64 {
	x = math.Mod(x+math.Pi, 2*math.Pi)
	if x < 0 {
		x += 2 * math.Pi
	}
	return x - math.Pi
}
