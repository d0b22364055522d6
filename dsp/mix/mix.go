// Package mix provides a planar float64 mix bus that sums gain-scaled
// channel blocks and interleaves the result into float32 PCM.
package mix

import (
	"fmt"
	"math"

	"github.com/cwbudde/algo-vecmath"
)

// Bus accumulates per-channel blocks.
//
// The bus is sized once; Begin, Accumulate and Interleave never allocate.
type Bus struct {
	channels  int
	maxFrames int
	frames    int
	data      [][]float64
	scratch   []float64
}

// NewBus returns a bus for up to maxFrames frames of channels channels.
func NewBus(channels, maxFrames int) (*Bus, error) {
	if channels < 1 {
		return nil, fmt.Errorf("mix: channels must be >= 1: %d", channels)
	}
	if maxFrames < 1 {
		return nil, fmt.Errorf("mix: max frames must be >= 1: %d", maxFrames)
	}
	b := &Bus{
		channels:  channels,
		maxFrames: maxFrames,
		data:      make([][]float64, channels),
		scratch:   make([]float64, maxFrames),
	}
	for c := range b.data {
		b.data[c] = make([]float64, maxFrames)
	}
	return b, nil
}

// Channels returns the channel count.
func (b *Bus) Channels() int { return b.channels }

// MaxFrames returns the largest block the bus holds.
func (b *Bus) MaxFrames() int { return b.maxFrames }

// Frames returns the length of the current block.
func (b *Bus) Frames() int { return b.frames }

// Begin zeroes the bus and starts a block of frames frames, clamped to
// MaxFrames. It returns the block length in use.
func (b *Bus) Begin(frames int) int {
	b.frames = min(max(frames, 0), b.maxFrames)
	for _, ch := range b.data {
		clear(ch[:b.frames])
	}
	return b.frames
}

// Channel returns the current block of channel c.
func (b *Bus) Channel(c int) []float64 {
	return b.data[c][:b.frames]
}

// Accumulate adds gain*src into channel c. src shorter than the block is
// added to its leading frames; extra samples are ignored.
func (b *Bus) Accumulate(c int, src []float64, gain float64) {
	if gain == 0 {
		return
	}
	n := min(len(src), b.frames)
	if n == 0 {
		return
	}
	dst := b.data[c][:n]
	if gain == 1 {
		vecmath.AddBlockInPlace(dst, src[:n])
		return
	}
	tmp := b.scratch[:n]
	vecmath.ScaleBlock(tmp, src[:n], gain)
	vecmath.AddBlockInPlace(dst, tmp)
}

// Peak returns the largest absolute sample of the current block.
func (b *Bus) Peak() float64 {
	var peak float64
	for _, ch := range b.data {
		for _, v := range ch[:b.frames] {
			peak = max(peak, math.Abs(v))
		}
	}
	return peak
}

// Interleave writes the current block into dst as interleaved float32,
// clamped to [-1, 1]. It returns the number of frames written, limited by
// the length of dst.
func (b *Bus) Interleave(dst []float32) int {
	frames := min(b.frames, len(dst)/b.channels)
	for c, ch := range b.data {
		for f, v := range ch[:frames] {
			dst[f*b.channels+c] = float32(Clamp(v))
		}
	}
	return frames
}

// Clamp limits v to [-1, 1].
func Clamp(v float64) float64 {
	switch {
	case v > 1:
		return 1
	case v < -1:
		return -1
	default:
		return v
	}
}
