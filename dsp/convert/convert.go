// Package convert maps PCM buffers from a hardware format onto the
// harmonizer's canonical format.
//
// A Converter is built once per format change and then reused for every
// block. It supports three channel layouts: N→N identity, N→1 downmix by
// averaging and 1→N duplication. Rate changes go through a streaming
// polyphase resampler per output channel.
package convert

import (
	"errors"
	"fmt"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/dsp/resample"
)

// ErrShortBuffer is returned when the destination cannot hold the converted
// block.
var ErrShortBuffer = errors.New("convert: destination buffer too small")

// Status is the availability reported by an InputFunc and by Convert.
type Status int

const (
	// HaveData means a block was produced.
	HaveData Status = iota
	// NoDataNow means no input is available yet.
	NoDataNow
	// EndOfStream means the input is exhausted for good.
	EndOfStream
)

func (s Status) String() string {
	switch s {
	case HaveData:
		return "have-data"
	case NoDataNow:
		return "no-data-now"
	case EndOfStream:
		return "end-of-stream"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// InputFunc supplies the next input block on demand.
type InputFunc func() (*buffer.Buffer, Status)

type mapping int

const (
	mapIdentity mapping = iota
	mapDownmix
	mapDuplicate
)

// Converter converts buffers from one Format to another.
type Converter struct {
	from, to buffer.Format
	mapping  mapping

	// pending is the input block waiting to be converted.
	pending *buffer.Buffer

	resamplers []*resample.Resampler
	in         []float64
	out        [][]float64
}

// Option configures a Converter.
type Option func(*config)

type config struct {
	maxFrames int
	quality   resample.Quality
}

// WithMaxInputFrames reserves scratch for input blocks of up to n frames, so
// conversion of such blocks never allocates.
func WithMaxInputFrames(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxFrames = n
		}
	}
}

// WithQuality selects the resampler quality used when rates differ.
func WithQuality(q resample.Quality) Option {
	return func(c *config) { c.quality = q }
}

// New returns a Converter from one format to another. Unsupported sample
// formats or channel layouts fail with buffer.ErrFormat.
func New(from, to buffer.Format, opts ...Option) (*Converter, error) {
	if err := from.Validate(); err != nil {
		return nil, fmt.Errorf("convert: input %s: %w", from, err)
	}
	if err := to.Validate(); err != nil {
		return nil, fmt.Errorf("convert: output %s: %w", to, err)
	}

	cfg := config{maxFrames: 4096, quality: resample.QualityBalanced}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	c := &Converter{from: from, to: to}
	switch {
	case from.Channels == to.Channels:
		c.mapping = mapIdentity
	case to.Channels == 1:
		c.mapping = mapDownmix
	case from.Channels == 1:
		c.mapping = mapDuplicate
	default:
		return nil, fmt.Errorf("%w: cannot map %d channels to %d", buffer.ErrFormat, from.Channels, to.Channels)
	}

	if from.SampleRate != to.SampleRate {
		c.resamplers = make([]*resample.Resampler, to.Channels)
		c.out = make([][]float64, to.Channels)
		for ch := range c.resamplers {
			r, err := resample.NewForRates(from.SampleRate, to.SampleRate,
				resample.WithQuality(cfg.quality), resample.WithBlockSize(cfg.maxFrames))
			if err != nil {
				return nil, fmt.Errorf("%w: %w", buffer.ErrFormat, err)
			}
			c.resamplers[ch] = r
			c.out[ch] = make([]float64, 0, r.MaxOutputLen(cfg.maxFrames))
		}
		c.in = make([]float64, cfg.maxFrames)
	}
	return c, nil
}

// From returns the input format.
func (c *Converter) From() buffer.Format { return c.from }

// To returns the output format.
func (c *Converter) To() buffer.Format { return c.to }

// Pending reports whether an input block is waiting.
func (c *Converter) Pending() bool { return c.pending != nil }

// OutputCapacity returns the destination capacity needed for an input block
// of frames frames.
func (c *Converter) OutputCapacity(frames int) int {
	if c.resamplers == nil {
		return frames
	}
	return c.resamplers[0].MaxOutputLen(frames)
}

// Feed queues src as the next input block, replacing any block not yet
// converted.
func (c *Converter) Feed(src *buffer.Buffer) {
	c.pending = src
}

// Process converts src into dst in one shot.
func (c *Converter) Process(dst, src *buffer.Buffer) error {
	c.Feed(src)
	_, err := c.Convert(dst, nil)
	return err
}

// Convert fills dst with the next converted block. When no block is queued,
// pull is asked for one; a nil pull or a pull without data yields NoDataNow
// or EndOfStream and leaves dst empty.
func (c *Converter) Convert(dst *buffer.Buffer, pull InputFunc) (Status, error) {
	dst.SetFrameLength(0)
	if c.pending == nil {
		if pull == nil {
			return NoDataNow, nil
		}
		buf, st := pull()
		if st != HaveData {
			return st, nil
		}
		if buf == nil {
			return NoDataNow, nil
		}
		c.pending = buf
	}

	src := c.pending
	c.pending = nil

	if src.Channels() != c.from.Channels {
		return HaveData, fmt.Errorf("%w: block has %d channels, converter expects %d",
			buffer.ErrFormat, src.Channels(), c.from.Channels)
	}
	if dst.Channels() != c.to.Channels {
		return HaveData, fmt.Errorf("%w: destination has %d channels, converter produces %d",
			buffer.ErrFormat, dst.Channels(), c.to.Channels)
	}

	if c.resamplers == nil {
		return HaveData, c.mapChannels(dst, src)
	}
	return HaveData, c.resampleChannels(dst, src)
}

func (c *Converter) mapChannels(dst, src *buffer.Buffer) error {
	frames := src.Frames()
	if frames > dst.Capacity() {
		return fmt.Errorf("%w: %d frames into %d", ErrShortBuffer, frames, dst.Capacity())
	}
	in := src.Samples()
	out := dst.Raw()
	inCh, outCh := c.from.Channels, c.to.Channels

	switch c.mapping {
	case mapIdentity:
		copy(out, in)
	case mapDownmix:
		inv := 1 / float32(inCh)
		for f := range frames {
			var sum float32
			for _, v := range in[f*inCh : (f+1)*inCh] {
				sum += v
			}
			out[f] = sum * inv
		}
	case mapDuplicate:
		for f, v := range in {
			for ch := range outCh {
				out[f*outCh+ch] = v
			}
		}
	}
	dst.SetFrameLength(frames)
	return nil
}

// sourceSample returns output channel ch of frame f before resampling.
func (c *Converter) sourceSample(in []float32, f, ch int) float64 {
	inCh := c.from.Channels
	switch c.mapping {
	case mapDownmix:
		var sum float32
		for _, v := range in[f*inCh : (f+1)*inCh] {
			sum += v
		}
		return float64(sum / float32(inCh))
	case mapDuplicate:
		return float64(in[f])
	default:
		return float64(in[f*inCh+ch])
	}
}

func (c *Converter) resampleChannels(dst, src *buffer.Buffer) error {
	frames := src.Frames()
	if need := c.resamplers[0].PredictOutputLen(frames); need > dst.Capacity() {
		return fmt.Errorf("%w: %d frames into %d", ErrShortBuffer, need, dst.Capacity())
	}
	if cap(c.in) < frames {
		c.in = make([]float64, frames)
	}
	in := src.Samples()
	scratch := c.in[:frames]
	outCh := c.to.Channels
	produced := 0

	for ch, r := range c.resamplers {
		for f := range scratch {
			scratch[f] = c.sourceSample(in, f, ch)
		}
		c.out[ch] = r.ProcessInto(c.out[ch], scratch)
		produced = len(c.out[ch])
	}

	out := dst.Raw()
	for ch := range outCh {
		for f, v := range c.out[ch][:produced] {
			out[f*outCh+ch] = float32(v)
		}
	}
	dst.SetFrameLength(produced)
	return nil
}

// Reset drops any pending block and clears resampler history.
func (c *Converter) Reset() {
	c.pending = nil
	for _, r := range c.resamplers {
		r.Reset()
	}
}
