package device

import (
	"io"
	"sync"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
)

// Source supplies input blocks to a Clocked device.
type Source interface {
	Format() buffer.Format
	// Read fills dst up to its capacity. It returns io.EOF once exhausted;
	// dst may still hold a final partial block.
	Read(dst *buffer.Buffer) error
}

// Sink receives output blocks from a Clocked device.
type Sink interface {
	Write(samples []float32) error
}

// BufferSource plays a buffer once or in a loop.
type BufferSource struct {
	buf  *buffer.Buffer
	loop bool
	pos  int
}

// NewBufferSource returns a source reading buf.
func NewBufferSource(buf *buffer.Buffer, loop bool) *BufferSource {
	return &BufferSource{buf: buf, loop: loop}
}

// Format implements Source.
func (s *BufferSource) Format() buffer.Format { return s.buf.Format() }

// Read implements Source.
func (s *BufferSource) Read(dst *buffer.Buffer) error {
	ch := s.buf.Channels()
	src := s.buf.Samples()
	frames := s.buf.Frames()
	raw := dst.Raw()
	n := 0
	for n < dst.Capacity() {
		if s.pos >= frames {
			if !s.loop || frames == 0 {
				break
			}
			s.pos = 0
		}
		k := min(dst.Capacity()-n, frames-s.pos)
		copy(raw[n*ch:(n+k)*ch], src[s.pos*ch:(s.pos+k)*ch])
		n += k
		s.pos += k
	}
	dst.SetFrameLength(n)
	if n < dst.Capacity() {
		return io.EOF
	}
	return nil
}

// SilenceSource produces zeros forever.
type SilenceSource struct {
	format buffer.Format
}

// NewSilenceSource returns a silent source of format.
func NewSilenceSource(format buffer.Format) *SilenceSource {
	return &SilenceSource{format: format}
}

// Format implements Source.
func (s *SilenceSource) Format() buffer.Format { return s.format }

// Read implements Source.
func (s *SilenceSource) Read(dst *buffer.Buffer) error {
	dst.SetFrameLength(dst.Capacity())
	dst.Zero()
	return nil
}

// MemorySink keeps every written sample.
type MemorySink struct {
	mu      sync.Mutex
	samples []float32
}

// Write implements Sink.
func (s *MemorySink) Write(samples []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, samples...)
	return nil
}

// Samples returns a copy of everything written.
func (s *MemorySink) Samples() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.samples...)
}

// Discard is a Sink that drops its input.
var Discard Sink = discard{}

type discard struct{}

func (discard) Write([]float32) error { return nil }
