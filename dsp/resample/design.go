package resample

import (
	"fmt"
	"math"
)

// designPolyphase builds a Kaiser-windowed sinc lowpass of taps·up
// coefficients, normalized to a DC gain of up, and splits it into up phase
// branches.
func designPolyphase(up, down int, p Profile) ([][]float64, int, error) {
	if p.TapsPerPhase <= 0 {
		return nil, 0, fmt.Errorf("%w: %d taps per phase", ErrInvalidRatio, p.TapsPerPhase)
	}

	n := p.TapsPerPhase * up
	fc := 0.5 / float64(max(up, down)) * p.CutoffScale
	center := float64(n-1) / 2
	norm := besselI0(p.KaiserBeta)

	proto := make([]float64, n)
	var sum float64
	for i := range proto {
		x := float64(i) - center
		w := 1.0
		if n > 1 {
			t := 2*float64(i)/float64(n-1) - 1
			w = besselI0(p.KaiserBeta*math.Sqrt(math.Max(0, 1-t*t))) / norm
		}
		proto[i] = 2 * fc * sinc(2*fc*x) * w
		sum += proto[i]
	}
	if sum == 0 {
		return nil, 0, fmt.Errorf("%w: degenerate filter", ErrInvalidRatio)
	}

	gain := float64(up) / sum
	phases := make([][]float64, up)
	longest := 0
	for ph := range up {
		branch := make([]float64, 0, (n-ph+up-1)/up)
		for i := ph; i < n; i += up {
			branch = append(branch, proto[i]*gain)
		}
		phases[ph] = branch
		longest = max(longest, len(branch))
	}
	return phases, longest, nil
}

// rationalApprox finds num/den ≈ v with den ≤ maxDen using continued
// fractions.
func rationalApprox(v float64, maxDen int) (num, den int) {
	if !(v > 0) || math.IsInf(v, 0) {
		return 1, 1
	}

	h0, k0 := 1.0, 0.0
	h1, k1 := math.Floor(v), 1.0
	x := v
	for {
		f := x - math.Floor(x)
		if f < 1e-12 {
			break
		}
		x = 1 / f
		a := math.Floor(x)
		h2, k2 := a*h1+h0, a*k1+k0
		if k2 > float64(maxDen) {
			break
		}
		h0, k0, h1, k1 = h1, k1, h2, k2
	}

	num, den = int(math.Round(h1)), int(math.Round(k1))
	if num <= 0 || den <= 0 {
		return 1, 1
	}
	g := gcd(num, den)
	return num / g, den / g
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	if a < 0 {
		return -a
	}
	return max(a, 1)
}

func sinc(x float64) float64 {
	if math.Abs(x) < 1e-12 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}

// besselI0 is the zeroth-order modified Bessel function of the first kind,
// summed as a power series.
func besselI0(x float64) float64 {
	sum, term := 1.0, 1.0
	q := x * x / 4
	for k := 1; k < 64; k++ {
		term *= q / float64(k*k)
		sum += term
		if term < 1e-16*sum {
			break
		}
	}
	return sum
}
