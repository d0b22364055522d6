package buffer

// Buffer holds interleaved float32 frames of a single Format.
//
// The frame length is the number of valid frames; the backing storage may be
// larger. A Buffer published to another goroutine must not be mutated again
// by the publisher.
type Buffer struct {
	format  Format
	samples []float32
	frames  int
}

// New returns a zeroed Buffer able to hold capacity frames of f. The frame
// length starts at zero.
func New(f Format, capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	ch := max(f.Channels, 1)
	return &Buffer{format: f, samples: make([]float32, capacity*ch)}
}

// FromSamples wraps interleaved samples without copying. The frame length is
// len(samples)/channels; a trailing partial frame is ignored.
func FromSamples(f Format, samples []float32) *Buffer {
	ch := max(f.Channels, 1)
	return &Buffer{format: f, samples: samples, frames: len(samples) / ch}
}

// Format returns the buffer's PCM format.
func (b *Buffer) Format() Format { return b.format }

// Channels returns the channel count.
func (b *Buffer) Channels() int { return max(b.format.Channels, 1) }

// Frames returns the number of valid frames.
func (b *Buffer) Frames() int { return b.frames }

// Capacity returns the number of frames the backing storage can hold.
func (b *Buffer) Capacity() int { return len(b.samples) / b.Channels() }

// SetFrameLength sets the number of valid frames, clamped to [0, Capacity].
func (b *Buffer) SetFrameLength(n int) {
	b.frames = min(max(n, 0), b.Capacity())
}

// Samples returns the valid interleaved samples. The slice aliases the
// buffer.
func (b *Buffer) Samples() []float32 {
	return b.samples[:b.frames*b.Channels()]
}

// Raw returns the full backing storage regardless of frame length.
func (b *Buffer) Raw() []float32 { return b.samples }

// Channel copies channel c of the valid frames into dst, growing dst only if
// it is too short, and returns the filled slice.
func (b *Buffer) Channel(c int, dst []float32) []float32 {
	ch := b.Channels()
	if c < 0 || c >= ch {
		return dst[:0]
	}
	if cap(dst) < b.frames {
		dst = make([]float32, b.frames)
	}
	dst = dst[:b.frames]
	for i := range dst {
		dst[i] = b.samples[i*ch+c]
	}
	return dst
}

// Grow ensures the buffer can hold at least n frames, preserving the valid
// frames.
func (b *Buffer) Grow(n int) {
	need := n * b.Channels()
	if need <= len(b.samples) {
		return
	}
	grown := make([]float32, need)
	copy(grown, b.Samples())
	b.samples = grown
}

// Zero clears the valid frames.
func (b *Buffer) Zero() {
	clear(b.Samples())
}

// CopyFrom replaces the buffer's contents with src, truncated to capacity,
// and returns the number of frames copied. The channel counts must match;
// otherwise nothing is copied.
func (b *Buffer) CopyFrom(src *Buffer) int {
	if src == nil || src.Channels() != b.Channels() {
		return 0
	}
	n := min(src.frames, b.Capacity())
	copy(b.samples, src.samples[:n*b.Channels()])
	b.frames = n
	return n
}

// Append adds interleaved samples after the valid frames, up to capacity, and
// returns the number of whole frames appended.
func (b *Buffer) Append(samples []float32) int {
	ch := b.Channels()
	n := min(len(samples)/ch, b.Capacity()-b.frames)
	if n <= 0 {
		return 0
	}
	copy(b.samples[b.frames*ch:], samples[:n*ch])
	b.frames += n
	return n
}

// Clone returns a deep copy sized to the valid frames.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{format: b.format, frames: b.frames}
	c.samples = make([]float32, len(b.Samples()))
	copy(c.samples, b.Samples())
	return c
}

// Duration returns the length of the valid frames in seconds.
func (b *Buffer) Duration() float64 {
	if b.format.SampleRate <= 0 {
		return 0
	}
	return float64(b.frames) / b.format.SampleRate
}
