package buffer

import (
	"errors"
	"fmt"
	"math"
)

// ErrFormat reports an unsupported or incompatible PCM format.
var ErrFormat = errors.New("buffer: unsupported audio format")

// SampleFormat identifies the in-memory sample representation.
type SampleFormat int

const (
	// SampleUnknown is the zero value and is never valid.
	SampleUnknown SampleFormat = iota
	// Float32 is 32-bit IEEE float in [-1, 1].
	Float32
)

func (s SampleFormat) String() string {
	switch s {
	case Float32:
		return "float32"
	default:
		return fmt.Sprintf("SampleFormat(%d)", int(s))
	}
}

// Format describes a PCM stream.
type Format struct {
	SampleRate   float64
	Channels     int
	SampleFormat SampleFormat
	Interleaved  bool
}

// headroom is the extra capacity Capacity adds on top of the exact frame count.
const headroom = 0.1

// Canonical is the format shared by all voices and the output sink:
// 16 kHz mono float32.
var Canonical = Format{
	SampleRate:   16000,
	Channels:     1,
	SampleFormat: Float32,
	Interleaved:  true,
}

// Mono returns a float32 interleaved format with one channel at rate.
func Mono(rate float64) Format {
	return Format{SampleRate: rate, Channels: 1, SampleFormat: Float32, Interleaved: true}
}

// Validate reports whether f can be carried by a Buffer. Only float32 is
// supported, and multi-channel streams must be interleaved.
func (f Format) Validate() error {
	switch {
	case f.SampleFormat != Float32:
		return fmt.Errorf("%w: sample format %s", ErrFormat, f.SampleFormat)
	case f.Channels < 1:
		return fmt.Errorf("%w: %d channels", ErrFormat, f.Channels)
	case !(f.SampleRate > 0) || math.IsInf(f.SampleRate, 0):
		return fmt.Errorf("%w: sample rate %v", ErrFormat, f.SampleRate)
	case f.Channels > 1 && !f.Interleaved:
		return fmt.Errorf("%w: non-interleaved %d-channel layout", ErrFormat, f.Channels)
	}
	return nil
}

func (f Format) String() string {
	layout := "interleaved"
	if !f.Interleaved {
		layout = "planar"
	}
	return fmt.Sprintf("%g Hz %dch %s %s", f.SampleRate, f.Channels, f.SampleFormat, layout)
}

// FramesFor returns the number of whole frames covering seconds at f's rate.
func (f Format) FramesFor(seconds float64) int {
	if seconds <= 0 || f.SampleRate <= 0 {
		return 0
	}
	return int(math.Ceil(seconds * f.SampleRate))
}

// Capacity returns the frame capacity needed to hold seconds of audio in f,
// with 10% headroom on top of the exact count.
func Capacity(seconds float64, f Format) int {
	frames := f.FramesFor(seconds)
	return frames + int(math.Ceil(float64(frames)*headroom))
}

// ConvertedCapacity returns the frame capacity needed to hold the result of
// converting frames frames from one rate to another, with headroom.
func ConvertedCapacity(frames int, from, to Format) int {
	if frames <= 0 || from.SampleRate <= 0 {
		return 0
	}
	return Capacity(float64(frames)/from.SampleRate, to)
}
