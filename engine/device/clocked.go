package device

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
)

// DefaultBlockFrames is the input block size of a Clocked device.
const DefaultBlockFrames = 1024

// ClockedOption configures a Clocked device.
type ClockedOption func(*Clocked)

// WithSource sets the input. The default is silence in the canonical format.
func WithSource(s Source) ClockedOption { return func(d *Clocked) { d.src = s } }

// WithSink sets the output. The default discards.
func WithSink(s Sink) ClockedOption { return func(d *Clocked) { d.sink = s } }

// WithOutputFormat sets the output format. The default is canonical.
func WithOutputFormat(f buffer.Format) ClockedOption { return func(d *Clocked) { d.out = f } }

// WithBlockFrames sets the input frames per callback.
func WithBlockFrames(n int) ClockedOption { return func(d *Clocked) { d.blockFrames = n } }

// WithPeriod overrides the tick period. The default is the real-time
// duration of one block; 0 runs as fast as the callback allows.
func WithPeriod(p time.Duration) ClockedOption {
	return func(d *Clocked) { d.period, d.periodSet = p, true }
}

// WithManualClock disables the ticker goroutine; callbacks run only from
// Tick.
func WithManualClock() ClockedOption { return func(d *Clocked) { d.manual = true } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ClockedOption { return func(d *Clocked) { d.logger = l } }

// Clocked is a software device paced by a ticker. Each tick reads one block
// from its Source, runs the callback and writes the output to its Sink.
// When the rates differ the output length varies by a frame between ticks
// so that output keeps pace with input.
type Clocked struct {
	src         Source
	sink        Sink
	out         buffer.Format
	blockFrames int
	period      time.Duration
	periodSet   bool
	manual      bool
	logger      *slog.Logger

	mu        sync.Mutex // serialises Start, Stop, Close and ticks
	cb        Callback
	stop      chan struct{}
	wg        sync.WaitGroup
	running   atomic.Bool
	available atomic.Bool
	closed    bool

	inBuf  *buffer.Buffer
	outBuf []float32
	clock  *FrameClock

	ticks   atomic.Uint64
	eof     chan struct{}
	eofOnce sync.Once
}

// NewClocked returns a stopped Clocked device.
func NewClocked(opts ...ClockedOption) (*Clocked, error) {
	d := &Clocked{
		out:         buffer.Canonical,
		blockFrames: DefaultBlockFrames,
		eof:         make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if d.src == nil {
		d.src = NewSilenceSource(buffer.Canonical)
	}
	if d.sink == nil {
		d.sink = Discard
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	in := d.src.Format()
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("device: input: %w", err)
	}
	if err := d.out.Validate(); err != nil {
		return nil, fmt.Errorf("device: output: %w", err)
	}
	if d.blockFrames < 1 {
		return nil, fmt.Errorf("device: block frames must be >= 1: %d", d.blockFrames)
	}
	if !d.periodSet {
		d.period = time.Duration(float64(d.blockFrames) / in.SampleRate * float64(time.Second))
	}

	d.clock = NewFrameClock(in, d.out, d.blockFrames)
	d.inBuf = buffer.New(in, d.blockFrames)
	d.outBuf = make([]float32, d.clock.MaxFrames()*d.out.Channels)
	d.available.Store(true)
	return d, nil
}

// Format implements Device.
func (d *Clocked) Format() buffer.Format { return d.src.Format() }

// OutputFormat implements Device.
func (d *Clocked) OutputFormat() buffer.Format { return d.out }

// BlockFrames implements Device.
func (d *Clocked) BlockFrames() int { return d.blockFrames }

// Running implements Device.
func (d *Clocked) Running() bool { return d.running.Load() }

// Ticks returns the number of callbacks delivered.
func (d *Clocked) Ticks() uint64 { return d.ticks.Load() }

// EOF is closed once the source is exhausted.
func (d *Clocked) EOF() <-chan struct{} { return d.eof }

// SetAvailable simulates the hardware appearing or vanishing. While
// unavailable, Start fails with ErrEngineStart.
func (d *Clocked) SetAvailable(ok bool) { d.available.Store(ok) }

// Start implements Device.
func (d *Clocked) Start(cb Callback) error {
	if cb == nil {
		return fmt.Errorf("%w: nil callback", ErrEngineStart)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case d.closed:
		return fmt.Errorf("%w: device closed", ErrEngineStart)
	case !d.available.Load():
		return fmt.Errorf("%w: device unavailable", ErrEngineStart)
	case d.running.Load():
		return nil
	}

	d.cb = cb
	d.running.Store(true)
	if d.manual {
		return nil
	}
	d.stop = make(chan struct{})
	d.wg.Add(1)
	go d.loop(d.stop)
	return nil
}

func (d *Clocked) loop(stop <-chan struct{}) {
	defer d.wg.Done()
	if d.period <= 0 {
		for {
			select {
			case <-stop:
				return
			default:
				d.Tick()
			}
		}
	}
	ticker := time.NewTicker(d.period)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.Tick()
		}
	}
}

// Tick delivers one block if the device is running and reports whether it
// did.
func (d *Clocked) Tick() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return false
	}

	err := d.src.Read(d.inBuf)
	if errors.Is(err, io.EOF) {
		d.eofOnce.Do(func() { close(d.eof) })
	} else if err != nil {
		d.logger.Error("device source read failed", "err", err)
		d.inBuf.SetFrameLength(0)
	}
	// Short reads are padded so every tick spans one block of time.
	if n := d.inBuf.Frames(); n < d.blockFrames {
		d.inBuf.SetFrameLength(d.blockFrames)
		clear(d.inBuf.Raw()[n*d.inBuf.Channels():])
	}

	out := d.outBuf[:d.clock.Next()*d.out.Channels]
	clear(out)
	d.cb(d.inBuf, out)
	if err := d.sink.Write(out); err != nil {
		d.logger.Error("device sink write failed", "err", err)
	}
	d.ticks.Add(1)
	return true
}

// Stop implements Device.
func (d *Clocked) Stop() error {
	d.halt()
	return nil
}

// Interrupt stops the device the way the host would, without the engine
// asking for it.
func (d *Clocked) Interrupt() { d.halt() }

func (d *Clocked) halt() {
	if !d.running.Swap(false) {
		return
	}
	d.mu.Lock()
	stop := d.stop
	d.stop = nil
	d.mu.Unlock()
	if stop != nil {
		close(stop)
		d.wg.Wait()
	}
}

// Close implements Device.
func (d *Clocked) Close() error {
	d.halt()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}
