package capture

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// BitDepth is the PCM depth of written files.
	BitDepth = 16

	wavFormatPCM = 1
)

// FileSink writes interleaved float32 blocks to a PCM16 WAV file on the
// calling goroutine.
type FileSink struct {
	mu   sync.Mutex
	f    File
	enc  *wav.Encoder
	ints *audio.IntBuffer

	frames atomic.Uint64
	closed bool
}

// CreateSink opens path with open and returns a FileSink on it.
func CreateSink(open Opener, path string, format buffer.Format) (*FileSink, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		open = CreateFile
	}
	f, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrFileIO, path, err)
	}
	s, err := NewFileSink(f, format, DefaultBlockFrames)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// NewFileSink writes the WAV header to f and returns a sink for blocks of
// format. blockFrames sizes the conversion scratch; larger blocks grow it.
func NewFileSink(f File, format buffer.Format, blockFrames int) (*FileSink, error) {
	afmt := &audio.Format{NumChannels: format.Channels, SampleRate: int(math.Round(format.SampleRate))}
	s := &FileSink{
		f:   f,
		enc: wav.NewEncoder(f, afmt.SampleRate, BitDepth, format.Channels, wavFormatPCM),
		ints: &audio.IntBuffer{
			Format:         afmt,
			Data:           make([]int, 0, max(blockFrames, 1)*format.Channels),
			SourceBitDepth: BitDepth,
		},
	}
	if err := s.enc.Write(s.ints); err != nil {
		return nil, fmt.Errorf("%w: write header: %w", ErrFileIO, err)
	}
	return s, nil
}

// Write appends interleaved samples, clamped to [-1, 1].
func (s *FileSink) Write(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: write on closed file", ErrFileIO)
	}
	data := s.ints.Data[:0]
	for _, v := range samples {
		data = append(data, toPCM16(v))
	}
	s.ints.Data = data
	if err := s.enc.Write(s.ints); err != nil {
		return fmt.Errorf("%w: write: %w", ErrFileIO, err)
	}
	s.frames.Add(uint64(len(samples) / s.ints.Format.NumChannels))
	return nil
}

// Frames returns the number of frames written.
func (s *FileSink) Frames() uint64 { return s.frames.Load() }

// Close finalises the header and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if err := s.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: finalise: %w", ErrFileIO, err))
	}
	if err := s.f.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: close: %w", ErrFileIO, err))
	}
	return errors.Join(errs...)
}

func toPCM16(v float32) int {
	switch {
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int(math.Round(float64(v) * math.MaxInt16))
}
