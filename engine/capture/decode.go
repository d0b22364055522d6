package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/dsp/convert"
	"github.com/go-audio/aiff"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// Decoder reads a whole audio file into an interleaved float32 buffer in the
// file's own rate and channel count.
type Decoder interface {
	Decode(r io.ReadSeeker) (*buffer.Buffer, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(r io.ReadSeeker) (*buffer.Buffer, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(r io.ReadSeeker) (*buffer.Buffer, error) { return f(r) }

var errDuplicateDecoder = errors.New("capture: duplicate decoder")

// Registry maps lower-case file extensions, without the dot, to decoders.
type Registry struct {
	mu       sync.RWMutex
	decoders map[string]Decoder
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{decoders: make(map[string]Decoder)}
}

// DefaultRegistry returns a registry for WAV, AIFF, MP3 and Ogg Vorbis.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister("wav", DecoderFunc(DecodeWAV))
	r.MustRegister("wave", DecoderFunc(DecodeWAV))
	r.MustRegister("aiff", DecoderFunc(DecodeAIFF))
	r.MustRegister("aif", DecoderFunc(DecodeAIFF))
	r.MustRegister("mp3", DecoderFunc(DecodeMP3))
	r.MustRegister("ogg", DecoderFunc(DecodeVorbis))
	r.MustRegister("oga", DecoderFunc(DecodeVorbis))
	return r
}

// Register adds a decoder for ext.
func (r *Registry) Register(ext string, d Decoder) error {
	ext = normalizeExt(ext)
	if ext == "" {
		return errors.New("capture: empty extension")
	}
	if d == nil {
		return errors.New("capture: nil decoder")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decoders[ext]; exists {
		return fmt.Errorf("%w: %s", errDuplicateDecoder, ext)
	}
	r.decoders[ext] = d
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(ext string, d Decoder) {
	if err := r.Register(ext, d); err != nil {
		panic(err)
	}
}

// Lookup returns the decoder for ext, with or without a leading dot.
func (r *Registry) Lookup(ext string) (Decoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.decoders[normalizeExt(ext)]
	return d, ok
}

// Extensions returns the registered extensions, sorted.
func (r *Registry) Extensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.decoders))
	for ext := range r.decoders {
		out = append(out, ext)
	}
	slices.Sort(out)
	return out
}

// DecodeFile decodes the file at path with the decoder for its extension.
// All failures wrap ErrFileIO.
func (r *Registry) DecodeFile(path string) (*buffer.Buffer, error) {
	d, ok := r.Lookup(filepath.Ext(path))
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrFileIO, ErrUnsupportedFormat, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileIO, err)
	}
	defer f.Close()

	buf, err := d.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrFileIO, path, err)
	}
	return buf, nil
}

// Load decodes the file at path and converts it to format. Read and decode
// failures wrap ErrFileIO; a channel layout that cannot be mapped onto
// format wraps buffer.ErrFormat.
func (r *Registry) Load(path string, format buffer.Format) (*buffer.Buffer, error) {
	src, err := r.DecodeFile(path)
	if err != nil {
		return nil, err
	}
	return ConvertAll(src, format)
}

// ConvertAll converts a whole buffer to format in one pass.
func ConvertAll(src *buffer.Buffer, format buffer.Format) (*buffer.Buffer, error) {
	frames := max(src.Frames(), 1)
	c, err := convert.New(src.Format(), format, convert.WithMaxInputFrames(frames))
	if err != nil {
		return nil, err
	}
	dst := buffer.New(format, c.OutputCapacity(frames))
	if err := c.Process(dst, src); err != nil {
		return nil, err
	}
	return dst, nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// DecodeWAV decodes integer PCM WAV files of 8 to 32 bits.
func DecodeWAV(r io.ReadSeeker) (*buffer.Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("%w: wav: %w", ErrUnsupportedFormat, err)
		}
		return nil, fmt.Errorf("%w: not a PCM wav file", ErrUnsupportedFormat)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("wav: %w", err)
	}
	depth := int(dec.BitDepth)
	return fromInts(float64(dec.SampleRate), int(dec.NumChans), depth, pcm.Data, depth == 8)
}

// DecodeAIFF decodes integer PCM AIFF files.
func DecodeAIFF(r io.ReadSeeker) (*buffer.Buffer, error) {
	dec := aiff.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not an aiff file", ErrUnsupportedFormat)
	}
	dec.ReadInfo()
	format := dec.Format()
	if format == nil || format.NumChannels < 1 {
		return nil, fmt.Errorf("%w: aiff without a common chunk", ErrUnsupportedFormat)
	}

	chunk := &audio.IntBuffer{Format: format, Data: make([]int, 4096*format.NumChannels)}
	var data []int
	for {
		n, err := dec.PCMBuffer(chunk)
		data = append(data, chunk.Data[:n]...)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("aiff: %w", err)
		}
		if n == 0 || err != nil {
			break
		}
	}
	return fromInts(float64(format.SampleRate), format.NumChannels, int(dec.BitDepth), data, false)
}

// DecodeMP3 decodes MPEG-1/2 layer III files. The decoder always yields
// 16-bit stereo.
func DecodeMP3(r io.ReadSeeker) (*buffer.Buffer, error) {
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3: %w", ErrUnsupportedFormat, err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	const mp3Channels = 2
	samples = samples[:len(samples)/mp3Channels*mp3Channels]
	return buffer.FromSamples(fileFormat(float64(dec.SampleRate()), mp3Channels), samples), nil
}

// DecodeVorbis decodes Ogg Vorbis files.
func DecodeVorbis(r io.ReadSeeker) (*buffer.Buffer, error) {
	samples, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: vorbis: %w", ErrUnsupportedFormat, err)
	}
	if format.Channels < 1 {
		return nil, fmt.Errorf("%w: vorbis stream without channels", ErrUnsupportedFormat)
	}
	samples = samples[:len(samples)/format.Channels*format.Channels]
	return buffer.FromSamples(fileFormat(float64(format.SampleRate), format.Channels), samples), nil
}

func fileFormat(rate float64, channels int) buffer.Format {
	return buffer.Format{SampleRate: rate, Channels: channels, SampleFormat: buffer.Float32, Interleaved: true}
}

// fromInts scales integer PCM of the given depth to [-1, 1). 8-bit WAV data
// is unsigned.
func fromInts(rate float64, channels, depth int, data []int, unsigned8 bool) (*buffer.Buffer, error) {
	if depth < 8 || depth > 32 {
		return nil, fmt.Errorf("%w: %d-bit PCM", ErrUnsupportedFormat, depth)
	}
	if channels < 1 {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}
	scale := 1 / float64(int64(1)<<(depth-1))
	samples := make([]float32, len(data)/channels*channels)
	for i := range samples {
		v := data[i]
		if unsigned8 {
			v -= 128
		}
		samples[i] = float32(float64(v) * scale)
	}
	return buffer.FromSamples(fileFormat(rate, channels), samples), nil
}
