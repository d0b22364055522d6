// Package session owns the audio device, the harmony graph and the transport
// for the lifetime of the process, and recovers them after host audio
// interruptions.
//
// The lifecycle is New → Setup → Start → (running) → Stop or interruption →
// CheckEngineIsRunning → (running) … → Close. All methods except the render
// callback run on the control goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/dsp/convert"
	"github.com/cwbudde/algo-harmony/engine/capture"
	"github.com/cwbudde/algo-harmony/engine/control"
	"github.com/cwbudde/algo-harmony/engine/device"
	"github.com/cwbudde/algo-harmony/engine/graph"
	"github.com/cwbudde/algo-harmony/engine/transport"
	"github.com/cwbudde/algo-harmony/internal/config"
	"github.com/cwbudde/algo-harmony/internal/observe"
	"github.com/cwbudde/algo-harmony/stats/level"
)

var (
	// ErrNotSetup is returned by operations that need Setup first.
	ErrNotSetup = errors.New("session: not set up")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// Lifecycle is the session state.
type Lifecycle int

const (
	Uninitialized Lifecycle = iota
	Stopped
	Running
	Closed
)

func (l Lifecycle) String() string {
	switch l {
	case Uninitialized:
		return "uninitialized"
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("Lifecycle(%d)", int(l))
	}
}

// meterRelease is the per-block decay of the output level meter.
const meterRelease = 0.8

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// WithMetrics sets the metric instruments.
func WithMetrics(m *observe.Metrics) Option { return func(s *Session) { s.metrics = m } }

// WithOpener replaces the function creating capture files.
func WithOpener(o capture.Opener) Option { return func(s *Session) { s.opener = o } }

// WithChords replaces the chord table.
func WithChords(t *graph.ChordTable) Option { return func(s *Session) { s.chords = t } }

// WithRegistry sets the decoders used by Load.
func WithRegistry(r *capture.Registry) Option { return func(s *Session) { s.registry = r } }

// pipeline is everything the render callback touches. A new pipeline is
// built by every Setup and published atomically.
type pipeline struct {
	conv      *convert.Converter
	in        *buffer.Buffer
	graph     *graph.Graph
	transport *transport.Controller
	convErrs  atomic.Uint64
}

// Session is the top-level engine object.
type Session struct {
	cfg      *config.Config
	dev      device.Device
	format   buffer.Format
	logger   *slog.Logger
	metrics  *observe.Metrics
	opener   capture.Opener
	chords   *graph.ChordTable
	registry *capture.Registry
	meter    *level.Meter

	mu            sync.Mutex
	pipe          atomic.Pointer[pipeline]
	closed        bool
	startFailures int
	unavailable   atomic.Bool
	interrupted   *transport.Suspension
	dropped       uint64
	voices        int
}

// New returns an uninitialized session for dev. A nil cfg uses
// config.Default().
func New(cfg *config.Config, dev device.Device, opts ...Option) (*Session, error) {
	if dev == nil {
		return nil, errors.New("session: nil device")
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s := &Session{
		cfg:    cfg,
		dev:    dev,
		format: cfg.Format(),
		meter:  level.NewMeter(meterRelease),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.chords == nil {
		s.chords = graph.DefaultChords()
	}
	if s.registry == nil {
		s.registry = capture.DefaultRegistry()
	}
	return s, nil
}

// Format returns the canonical format of the graph and the output.
func (s *Session) Format() buffer.Format { return s.format }

// Setup negotiates formats with the device and builds the graph and the
// transport. The device output must use the canonical format; input in any
// supported format is converted. Setup on a set-up session is a no-op.
func (s *Session) Setup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setupLocked()
}

func (s *Session) setupLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.pipe.Load() != nil:
		return nil
	}

	if out := s.dev.OutputFormat(); out != s.format {
		return fmt.Errorf("%w: device output %s, engine renders %s", buffer.ErrFormat, out, s.format)
	}
	in := s.dev.Format()
	block := s.dev.BlockFrames()
	conv, err := convert.New(in, s.format, convert.WithMaxInputFrames(block))
	if err != nil {
		return fmt.Errorf("session: input converter: %w", err)
	}
	inFrames := buffer.ConvertedCapacity(block, in, s.format)

	g, err := graph.New(s.format,
		graph.WithMaxVoices(s.cfg.Harmony.MaxVoices),
		graph.WithMaxFrames(max(inFrames, s.cfg.Audio.BlockFrames)),
		graph.WithEngine(s.cfg.Harmony.PitchEngine),
		graph.WithChords(s.chords),
		graph.WithVolumes(s.cfg.Harmony.RootVolume, s.cfg.Harmony.HarmonyVolume),
		graph.WithLogger(s.logger))
	if err != nil {
		return fmt.Errorf("session: graph: %w", err)
	}

	topts := []transport.Option{
		transport.WithCapturePath(s.cfg.Capture.Path),
		transport.WithBlockFrames(inFrames),
		transport.WithRegistry(s.registry),
		transport.WithLogger(s.logger),
	}
	if s.opener != nil {
		topts = append(topts, transport.WithOpener(s.opener))
	}
	tr, err := transport.New(s.format, g, topts...)
	if err != nil {
		return fmt.Errorf("session: transport: %w", err)
	}

	s.pipe.Store(&pipeline{
		conv:      conv,
		in:        buffer.New(s.format, inFrames),
		graph:     g,
		transport: tr,
	})
	s.voices = g.AttachedCount()
	s.metrics.AttachedVoices.Add(context.Background(), int64(s.voices))
	s.logger.Info("session set up",
		"input", in.String(), "output", s.format.String(),
		"block_frames", block, "max_voices", s.cfg.Harmony.MaxVoices,
		"pitch_engine", string(s.cfg.Harmony.PitchEngine))
	return nil
}

// process is the device callback. It runs on the render goroutine and
// never blocks, locks or allocates.
func (s *Session) process(in *buffer.Buffer, out []float32) {
	p := s.pipe.Load()
	if p == nil {
		clear(out)
		return
	}
	if err := p.conv.Process(p.in, in); err != nil {
		p.convErrs.Add(1)
		p.in.SetFrameLength(0)
	}
	p.transport.OnInput(p.in)
	p.graph.Render(out)
	s.meter.Update(out)
}

// Start starts the device. Device failures wrap device.ErrEngineStart and
// are returned so the caller can retry on the next recovery signal; once
// cfg.Engine.MaxStartFailures consecutive starts failed, Status reports
// audio as unavailable.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked()
}

func (s *Session) startLocked() error {
	switch {
	case s.closed:
		return ErrClosed
	case s.pipe.Load() == nil:
		return ErrNotSetup
	case s.dev.Running():
		return nil
	}

	err := s.dev.Start(s.process)
	s.metrics.RecordEngineStart(context.Background(), err)
	if err != nil {
		if !errors.Is(err, device.ErrEngineStart) {
			err = fmt.Errorf("%w: %w", device.ErrEngineStart, err)
		}
		s.startFailures++
		if s.startFailures >= s.cfg.Engine.MaxStartFailures {
			if !s.unavailable.Swap(true) {
				s.logger.Error("audio unavailable", "failures", s.startFailures, "err", err)
			}
		} else {
			s.logger.Warn("engine start failed", "failures", s.startFailures, "err", err)
		}
		return err
	}
	s.startFailures = 0
	s.unavailable.Store(false)
	s.logger.Info("engine started")
	return nil
}

// CheckEngineIsRunning starts the device if it is not running. It is the
// recovery action for every host signal.
func (s *Session) CheckEngineIsRunning() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkLocked()
}

func (s *Session) checkLocked() error {
	if s.dev.Running() {
		return nil
	}
	return s.startLocked()
}

// Stop stops the device. The transport flags are kept, so playback
// continues once the device is started again.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Session) stopLocked() error {
	if !s.dev.Running() {
		return nil
	}
	if err := s.dev.Stop(); err != nil {
		return fmt.Errorf("session: stop device: %w", err)
	}
	s.logger.Info("engine stopped")
	return nil
}

// Close stops everything, closes the capture file and releases the device.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.teardownLocked()
	if s.interrupted != nil {
		err = errors.Join(err, s.interrupted.Close())
		s.interrupted = nil
	}
	return errors.Join(err, s.dev.Close())
}

// teardownLocked stops the device and drops the pipeline.
func (s *Session) teardownLocked() error {
	errStop := s.stopLocked()
	p := s.pipe.Swap(nil)
	if p == nil {
		return errStop
	}
	errTr := p.transport.Close()
	s.syncDroppedLocked(p)
	s.metrics.AttachedVoices.Add(context.Background(), -int64(s.voices))
	s.voices = 0
	return errors.Join(errStop, errTr)
}

// Reset rebuilds the session after the host audio services were reset:
// teardown, Setup and Start. The chord mode and the transport state are
// carried over; a recording in progress continues in the same file.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	mode := graph.RootMode
	var sus *transport.Suspension
	if p := s.pipe.Load(); p != nil {
		mode = p.graph.Mode().Name
		sus = p.transport.Suspend()
	}
	if s.interrupted != nil {
		if err := sus.Close(); err != nil {
			s.logger.Warn("closing capture during reset", "err", err)
		}
		sus, s.interrupted = s.interrupted, nil
	}

	if err := s.teardownLocked(); err != nil {
		s.logger.Warn("teardown during reset", "err", err)
	}
	if err := s.setupLocked(); err != nil {
		s.interrupted = sus
		return err
	}
	p := s.pipe.Load()
	s.applyChordLocked(p, mode)
	if err := p.transport.Resume(sus); err != nil {
		s.logger.Warn("resuming transport after reset", "err", err)
	}
	if err := s.startLocked(); err != nil {
		return err
	}
	s.logger.Info("session reset", "mode", mode)
	return nil
}

// ApplyCommand executes cmd. Format and file errors are logged and
// swallowed, chord mode errors are best-effort. Only engine start failures
// and lifecycle errors are returned.
func (s *Session) ApplyCommand(cmd control.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	p := s.pipe.Load()
	if p == nil {
		return ErrNotSetup
	}
	s.metrics.RecordCommand(context.Background(), cmd.Kind.String())

	var err error
	switch cmd.Kind {
	case control.EnsureRunning:
		return s.checkLocked()
	case control.StartRecording:
		err = p.transport.StartRecording()
	case control.StopRecording:
		err = p.transport.StopRecording()
		s.syncDroppedLocked(p)
	case control.SetChordMode:
		s.applyChordLocked(p, cmd.Mode)
	case control.StopAll:
		err = p.transport.StopAll()
		s.syncDroppedLocked(p)
	case control.PlayVoice:
		p.transport.PlayVoice()
	case control.StopVoice:
		p.transport.StopVoice()
	case control.PlayHarmonies:
		p.transport.PlayHarmonies()
	case control.StopHarmonies:
		p.transport.StopHarmonies()
	default:
		return fmt.Errorf("session: unsupported command %s", cmd)
	}
	return s.swallow(cmd.String(), err)
}

// swallow drops the error kinds that are handled locally.
func (s *Session) swallow(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, buffer.ErrFormat) || errors.Is(err, capture.ErrFileIO) {
		s.logger.Warn("operation failed, state unchanged", "op", op, "err", err)
		return nil
	}
	return err
}

func (s *Session) applyChordLocked(p *pipeline, mode string) {
	if err := p.graph.ApplyChordMode(mode); err != nil {
		s.logger.Warn("chord mode incomplete, next change reconciles", "mode", mode, "err", err)
	}
	n := p.graph.AttachedCount()
	s.metrics.RecordChordChange(context.Background(), p.graph.Mode().Name, int64(n-s.voices))
	s.voices = n
}

func (s *Session) syncDroppedLocked(p *pipeline) {
	total := p.transport.Dropped()
	if total > s.dropped {
		s.metrics.RecordDropped(context.Background(), total-s.dropped)
	}
	s.dropped = total
}

// Load decodes an audio file and makes it the buffer the voices play. File
// and format errors are logged and swallowed like command errors.
func (s *Session) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.pipe.Load()
	if p == nil {
		return ErrNotSetup
	}
	return s.swallow("load", p.transport.Load(path))
}

// PlayingVoice reports whether the root voice is playing.
func (s *Session) PlayingVoice() bool {
	if p := s.pipe.Load(); p != nil {
		return p.transport.State().PlayingVoice
	}
	return false
}

// Lifecycle returns the current lifecycle state.
func (s *Session) Lifecycle() Lifecycle {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.closed:
		return Closed
	case s.pipe.Load() == nil:
		return Uninitialized
	case s.dev.Running():
		return Running
	default:
		return Stopped
	}
}

// Graph returns the current harmony graph, or nil before Setup.
func (s *Session) Graph() *graph.Graph {
	if p := s.pipe.Load(); p != nil {
		return p.graph
	}
	return nil
}

// Transport returns the current transport, or nil before Setup.
func (s *Session) Transport() *transport.Controller {
	if p := s.pipe.Load(); p != nil {
		return p.transport
	}
	return nil
}
