package device

import (
	"math"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
)

// FrameClock counts output frames against input blocks when the input and
// output rates differ. Each Next returns the output frames for one more
// input block, so the running total stays at floor(blocks·block·out/in)
// and never runs ahead of a resampler fed the same input.
type FrameClock struct {
	inRate, outRate float64
	block           int

	inFrames  int
	outFrames int
}

// NewFrameClock returns a clock for blocks of block input frames.
func NewFrameClock(in, out buffer.Format, block int) *FrameClock {
	return &FrameClock{inRate: in.SampleRate, outRate: out.SampleRate, block: block}
}

// MaxFrames bounds the result of Next.
func (c *FrameClock) MaxFrames() int {
	return int(math.Ceil(float64(c.block)*c.outRate/c.inRate)) + 1
}

// Next advances by one input block and returns the output frames due.
func (c *FrameClock) Next() int {
	c.inFrames += c.block
	total := int(math.Floor(float64(c.inFrames) * c.outRate / c.inRate))
	n := total - c.outFrames
	c.outFrames = total
	return n
}

// Reset restarts the count.
func (c *FrameClock) Reset() { c.inFrames, c.outFrames = 0, 0 }
