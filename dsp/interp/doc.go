// Package interp provides the fractional-position interpolation used by the
// pitch shifters: 2-point linear and 4-point cubic Hermite, plus a block
// resampler that stretches or squeezes one slice onto another.
package interp
