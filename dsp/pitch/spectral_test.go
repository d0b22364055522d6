package pitch

import (
	"math"
	"testing"

	"github.com/cwbudde/algo-harmony/internal/testutil"
)

func TestNewSpectralFrameSize(t *testing.T) {
	tests := []struct {
		rate float64
		want int
	}{
		{rate: 16000, want: 512},
		{rate: 44100, want: 2048},
		{rate: 48000, want: 2048},
	}
	for _, tt := range tests {
		s, err := NewSpectral(tt.rate, 1024)
		if err != nil {
			t.Fatalf("NewSpectral(%v) error = %v", tt.rate, err)
		}
		if s.FrameSize() != tt.want || s.Hop() != tt.want/4 {
			t.Fatalf("NewSpectral(%v) frame/hop = %d/%d, want %d/%d", tt.rate, s.FrameSize(), s.Hop(), tt.want, tt.want/4)
		}
		if s.Latency() != tt.want {
			t.Fatalf("Latency() = %d, want %d", s.Latency(), tt.want)
		}
	}
}

func TestNewSpectralSizeValidation(t *testing.T) {
	for _, tc := range [][2]int{{100, 25}, {32, 8}, {512, 0}, {512, 512}} {
		if _, err := NewSpectralSize(tc[0], tc[1]); err == nil {
			t.Fatalf("NewSpectralSize(%d, %d) error = nil, want error", tc[0], tc[1])
		}
	}
}

func TestSpectralUnityRatioReconstructsDelayedInput(t *testing.T) {
	s, err := NewSpectral(16000, 1024)
	if err != nil {
		t.Fatalf("NewSpectral() error = %v", err)
	}
	in := testutil.DeterministicSine(440, 16000, 0.5, 8192)
	out := make([]float64, len(in))
	for off := 0; off < len(in); off += 1024 {
		s.Process(out[off:off+1024], in[off:off+1024], 1)
	}

	lat := s.Latency()
	for n := 2 * lat; n < len(in); n++ {
		if diff := math.Abs(out[n] - in[n-lat]); diff > 1e-6 {
			t.Fatalf("sample %d: got %v, want %v (diff %g)", n, out[n], in[n-lat], diff)
		}
	}
}

func TestSpectralPitchAccuracy(t *testing.T) {
	const rate = 16000.0
	s, err := NewSpectral(rate, 1024)
	if err != nil {
		t.Fatalf("NewSpectral() error = %v", err)
	}
	// 250 Hz sits exactly on bin 8 of a 512-point frame.
	in := testutil.DeterministicSine(250, rate, 0.5, 16384)
	out := make([]float64, len(in))
	ratio := 1.5
	for off := 0; off < len(in); off += 1024 {
		s.Process(out[off:off+1024], in[off:off+1024], ratio)
	}
	testutil.RequireFinite(t, out)

	got := testutil.EstimateFrequency(out[4096:], rate, 250, 600)
	if math.Abs(got-375) > 375*0.03 {
		t.Fatalf("frequency = %.1f Hz, want 375 Hz", got)
	}
	if r := testutil.RMS(out[4096:]); r < 0.1 {
		t.Fatalf("rms = %v, want audible output", r)
	}
}

func TestSpectralResetClearsState(t *testing.T) {
	s, err := NewSpectral(16000, 512)
	if err != nil {
		t.Fatalf("NewSpectral() error = %v", err)
	}
	in := testutil.DeterministicNoise(5, 0.5, 2048)
	first := make([]float64, len(in))
	s.Process(first, in, 1.2)

	s.Reset()
	again := make([]float64, len(in))
	s.Process(again, in, 1.2)
	testutil.RequireSliceNearlyEqual(t, again, first, 1e-12)
}
