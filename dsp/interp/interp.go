package interp

// Linear interpolates between x0 and x1 at t in [0, 1].
func Linear(t, x0, x1 float64) float64 {
	return x0 + t*(x1-x0)
}

// Hermite4 computes cubic 4-point interpolation.
// It interpolates from x0 to x1 using neighbor points xm1 and x2.
func Hermite4(t, xm1, x0, x1, x2 float64) float64 {
	c1 := 0.5 * (x1 - xm1)
	c2 := xm1 - 2.5*x0 + 2*x1 - 0.5*x2
	c3 := 0.5*(x2-xm1) + 1.5*(x0-x1)
	return ((c3*t+c2)*t+c1)*t + x0
}

// Clamped returns x[i] with i clamped to the slice bounds, or 0 for an empty
// slice.
func Clamped(x []float64, i int) float64 {
	switch {
	case len(x) == 0:
		return 0
	case i < 0:
		return x[0]
	case i >= len(x):
		return x[len(x)-1]
	}
	return x[i]
}

// HermiteAt evaluates x at fractional position pos with edge clamping.
func HermiteAt(x []float64, pos float64) float64 {
	i := int(pos)
	if pos < 0 && float64(i) != pos {
		i--
	}
	t := pos - float64(i)
	return Hermite4(t, Clamped(x, i-1), Clamped(x, i), Clamped(x, i+1), Clamped(x, i+2))
}
