// Package otodev plays the engine's output through the system speakers
// using oto.
//
// oto pulls float32 little-endian PCM from a reader on its own goroutine;
// that goroutine is the render goroutine. Input comes from a device.Source
// (silence by default) so the engine can run without a microphone driver.
package otodev

import (
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/engine/device"
	"github.com/ebitengine/oto/v3"
)

// DefaultBufferSize is the oto playback buffer duration.
const DefaultBufferSize = 50 * time.Millisecond

// Option configures a Device.
type Option func(*Device)

// WithSource sets the input source.
func WithSource(s device.Source) Option { return func(d *Device) { d.src = s } }

// WithOutputFormat sets the speaker format. Only float32 interleaved
// formats are accepted.
func WithOutputFormat(f buffer.Format) Option { return func(d *Device) { d.out = f } }

// WithBlockFrames sets the input frames per callback.
func WithBlockFrames(n int) Option { return func(d *Device) { d.blockFrames = n } }

// WithBufferSize sets the oto buffer duration.
func WithBufferSize(b time.Duration) Option { return func(d *Device) { d.bufferSize = b } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Device) { d.logger = l } }

// Device is a device.Device backed by an oto context. oto allows one
// context per process, so at most one Device should be opened.
type Device struct {
	src         device.Source
	out         buffer.Format
	blockFrames int
	bufferSize  time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
	closed bool

	reader *renderReader
}

var _ device.Device = (*Device)(nil)

// New returns a stopped Device. The oto context is created by the first
// Start.
func New(opts ...Option) (*Device, error) {
	d := &Device{
		out:         buffer.Canonical,
		blockFrames: device.DefaultBlockFrames,
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.src == nil {
		d.src = device.NewSilenceSource(buffer.Canonical)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	if err := d.out.Validate(); err != nil {
		return nil, fmt.Errorf("otodev: output: %w", err)
	}
	r, err := newRenderReader(d.src, d.out, d.blockFrames, d.logger)
	if err != nil {
		return nil, err
	}
	d.reader = r
	return d, nil
}

// Format implements device.Device.
func (d *Device) Format() buffer.Format { return d.src.Format() }

// OutputFormat implements device.Device.
func (d *Device) OutputFormat() buffer.Format { return d.out }

// BlockFrames implements device.Device.
func (d *Device) BlockFrames() int { return d.blockFrames }

// Running implements device.Device.
func (d *Device) Running() bool { return d.reader.running.Load() }

// Start implements device.Device.
func (d *Device) Start(cb device.Callback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback", device.ErrEngineStart)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("%w: device closed", device.ErrEngineStart)
	}
	if d.reader.running.Load() {
		return nil
	}

	if d.ctx == nil {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   int(math.Round(d.out.SampleRate)),
			ChannelCount: d.out.Channels,
			Format:       oto.FormatFloat32LE,
			BufferSize:   d.bufferSize,
		})
		if err != nil {
			return fmt.Errorf("%w: oto: %w", device.ErrEngineStart, err)
		}
		<-ready
		d.ctx = ctx
		d.player = ctx.NewPlayer(d.reader)
	} else if err := d.ctx.Resume(); err != nil {
		return fmt.Errorf("%w: resume: %w", device.ErrEngineStart, err)
	}
	if err := d.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", device.ErrEngineStart, err)
	}

	d.reader.setCallback(cb)
	d.reader.running.Store(true)
	d.player.Play()
	d.logger.Info("speaker output started", "rate", d.out.SampleRate, "channels", d.out.Channels)
	return nil
}

// Stop implements device.Device. Once it returns the callback is no longer
// invoked; oto may still drain already rendered audio.
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopLocked()
}

func (d *Device) stopLocked() error {
	if !d.reader.running.Swap(false) {
		return nil
	}
	d.reader.waitIdle()
	if d.player != nil {
		d.player.Pause()
	}
	if d.ctx != nil {
		if err := d.ctx.Suspend(); err != nil {
			return fmt.Errorf("otodev: suspend: %w", err)
		}
	}
	return nil
}

// Close implements device.Device.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.stopLocked()
	if d.player != nil {
		if cerr := d.player.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("otodev: close player: %w", cerr)
		}
	}
	return err
}

// renderReader runs the callback whenever oto wants more bytes.
type renderReader struct {
	src    device.Source
	logger *slog.Logger

	running atomic.Bool
	cb      atomic.Pointer[device.Callback]
	busy    sync.Mutex

	in       *buffer.Buffer
	out      []float32
	clock    *device.FrameClock
	channels int
	pending  []byte
	scratch  []byte
}

func newRenderReader(src device.Source, out buffer.Format, blockFrames int, logger *slog.Logger) (*renderReader, error) {
	in := src.Format()
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("otodev: input: %w", err)
	}
	if blockFrames < 1 {
		return nil, fmt.Errorf("otodev: block frames must be >= 1: %d", blockFrames)
	}
	clock := device.NewFrameClock(in, out, blockFrames)
	samples := clock.MaxFrames() * out.Channels
	return &renderReader{
		src:      src,
		logger:   logger,
		in:       buffer.New(in, blockFrames),
		out:      make([]float32, samples),
		clock:    clock,
		channels: out.Channels,
		scratch:  make([]byte, samples*4),
	}, nil
}

func (r *renderReader) setCallback(cb device.Callback) { r.cb.Store(&cb) }

// waitIdle returns once no callback is in flight.
func (r *renderReader) waitIdle() {
	r.busy.Lock()
	r.busy.Unlock() //nolint:staticcheck
}

// Read implements io.Reader. It never returns an error; a stopped device
// reads as silence.
func (r *renderReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(r.pending) == 0 {
			r.render()
		}
		k := copy(p[n:], r.pending)
		r.pending = r.pending[k:]
		n += k
	}
	return n, nil
}

func (r *renderReader) render() {
	r.busy.Lock()
	defer r.busy.Unlock()

	out := r.out[:r.clock.Next()*r.channels]
	clear(out)
	if cb := r.cb.Load(); cb != nil && r.running.Load() {
		if err := r.src.Read(r.in); err != nil && err != io.EOF {
			r.logger.Error("input read failed", "err", err)
		}
		if n := r.in.Frames(); n < r.in.Capacity() {
			r.in.SetFrameLength(r.in.Capacity())
			clear(r.in.Raw()[n*r.in.Channels():])
		}
		(*cb)(r.in, out)
	}
	for i, v := range out {
		binary.LittleEndian.PutUint32(r.scratch[4*i:], math.Float32bits(v))
	}
	r.pending = r.scratch[:4*len(out)]
}
