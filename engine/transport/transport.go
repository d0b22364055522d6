// Package transport tracks recording and playback state and routes every
// captured input block to the capture file and the voices.
//
// Control methods (StartRecording, PlayVoice, ...) run on the control
// goroutine and are serialised by a mutex; they decide what each voice
// plays. OnInput runs on the render goroutine and only hands the block to
// the capture writer and the live input.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/engine/capture"
)

const (
	// DefaultCaptureName is the capture file name inside the temp dir.
	DefaultCaptureName = "input.mic.wav"
)

// Scheduler is the voice graph as the transport drives it. Feed runs on
// the render goroutine, the rest on the control goroutine.
type Scheduler interface {
	Feed(buf *buffer.Buffer)
	ScheduleRoot(buf *buffer.Buffer, loop bool)
	ScheduleHarmonies(buf *buffer.Buffer, loop bool)
	ListenRoot()
	ListenHarmonies()
}

// State is a snapshot of the transport flags.
type State struct {
	Recording        bool
	PlayingVoice     bool
	PlayingHarmonies bool
	HasCapture       bool
}

// Suspension is the transport state set aside by Suspend, including a
// recording kept open so that Resume appends to the same file.
type Suspension struct {
	State State

	writer *capture.Writer
	loaded *buffer.Buffer
}

// Close closes a capture file still held by the suspension. Call it when
// the suspension will never be resumed.
func (s *Suspension) Close() error {
	if s == nil || s.writer == nil {
		return nil
	}
	w := s.writer
	s.writer = nil
	return w.Close()
}

// DefaultCapturePath returns the capture file path in the temp directory.
func DefaultCapturePath() string {
	return filepath.Join(os.TempDir(), DefaultCaptureName)
}

// Option configures a Controller.
type Option func(*Controller)

// WithCapturePath sets the capture file path.
func WithCapturePath(p string) Option { return func(c *Controller) { c.path = p } }

// WithOpener replaces the function that creates capture files.
func WithOpener(o capture.Opener) Option { return func(c *Controller) { c.open = o } }

// WithRegistry sets the decoders used by Load.
func WithRegistry(r *capture.Registry) Option { return func(c *Controller) { c.registry = r } }

// WithBlockFrames sets the frames per queued capture block.
func WithBlockFrames(n int) Option { return func(c *Controller) { c.blockFrames = n } }

// WithWriterOptions passes options to every capture writer.
func WithWriterOptions(opts ...capture.WriterOption) Option {
	return func(c *Controller) { c.writerOpts = append(c.writerOpts, opts...) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Controller) { c.logger = l } }

// Controller owns the transport flags and the open capture file.
type Controller struct {
	format      buffer.Format
	sched       Scheduler
	path        string
	open        capture.Opener
	registry    *capture.Registry
	blockFrames int
	writerOpts  []capture.WriterOption
	logger      *slog.Logger

	mu sync.Mutex

	recording        atomic.Bool
	playingVoice     atomic.Bool
	playingHarmonies atomic.Bool
	writer           atomic.Pointer[capture.Writer]
	loaded           atomic.Pointer[buffer.Buffer]
	dropped          atomic.Uint64
}

// New returns an idle controller feeding sched.
func New(format buffer.Format, sched Scheduler, opts ...Option) (*Controller, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, errors.New("transport: nil scheduler")
	}
	c := &Controller{
		format:      format,
		sched:       sched,
		path:        DefaultCapturePath(),
		open:        capture.CreateFile,
		blockFrames: capture.DefaultBlockFrames,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.registry == nil {
		c.registry = capture.DefaultRegistry()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.blockFrames < 1 {
		return nil, fmt.Errorf("transport: block frames must be >= 1: %d", c.blockFrames)
	}
	return c, nil
}

// Format returns the format of captured blocks.
func (c *Controller) Format() buffer.Format { return c.format }

// CapturePath returns the capture file path.
func (c *Controller) CapturePath() string { return c.path }

// State returns the current flags.
func (c *Controller) State() State {
	return State{
		Recording:        c.recording.Load(),
		PlayingVoice:     c.playingVoice.Load(),
		PlayingHarmonies: c.playingHarmonies.Load(),
		HasCapture:       c.writer.Load() != nil,
	}
}

// Dropped returns the number of capture blocks dropped because the writer
// fell behind, over all recordings.
func (c *Controller) Dropped() uint64 {
	n := c.dropped.Load()
	if w := c.writer.Load(); w != nil {
		n += w.Dropped()
	}
	return n
}

// Loaded returns the buffer set by Load, or nil when the voices play the
// live input.
func (c *Controller) Loaded() *buffer.Buffer { return c.loaded.Load() }

// StartRecording opens a new capture file and starts appending input to it.
// It is a no-op while recording. A loaded buffer is dropped so the voices
// follow the live input again. On failure the state is unchanged and the
// error wraps capture.ErrFileIO.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startRecordingLocked()
}

func (c *Controller) startRecordingLocked() error {
	if c.recording.Load() {
		return nil
	}

	w, err := capture.Create(c.open, c.path, c.format,
		append([]capture.WriterOption{capture.WithBlockFrames(c.blockFrames), capture.WithWriterLogger(c.logger)}, c.writerOpts...)...)
	if err != nil {
		c.logger.Error("start recording failed", "path", c.path, "err", err)
		return err
	}
	c.writer.Store(w)
	c.recording.Store(true)
	if c.loaded.Swap(nil) != nil {
		c.routeLocked()
	}
	c.logger.Info("recording started", "path", c.path)
	return nil
}

// StopRecording closes the capture file. It is a no-op when not recording.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopRecordingLocked()
}

func (c *Controller) stopRecordingLocked() error {
	if !c.recording.Swap(false) {
		return nil
	}
	w := c.writer.Swap(nil)
	if w == nil {
		return nil
	}
	err := w.Close()
	c.dropped.Add(w.Dropped())
	if err != nil {
		c.logger.Error("closing capture failed", "path", c.path, "err", err)
		return err
	}
	c.logger.Info("recording stopped", "path", c.path, "frames", w.Frames(), "dropped", w.Dropped())
	return nil
}

// PlayVoice starts the root voice: the loaded buffer on loop, otherwise
// the live input. It is idempotent.
func (c *Controller) PlayVoice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playingVoice.Swap(true) {
		c.routeLocked()
	}
}

// StopVoice silences the root voice. It is idempotent.
func (c *Controller) StopVoice() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playingVoice.Swap(false) {
		c.routeLocked()
	}
}

// PlayHarmonies starts the harmony voices on the same source as PlayVoice.
// It is idempotent.
func (c *Controller) PlayHarmonies() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.playingHarmonies.Swap(true) {
		c.routeLocked()
	}
}

// StopHarmonies silences the harmony voices. It is idempotent.
func (c *Controller) StopHarmonies() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.playingHarmonies.Swap(false) {
		c.routeLocked()
	}
}

// routeLocked points the voices at what the flags ask for.
func (c *Controller) routeLocked() {
	l := c.loaded.Load()
	switch {
	case !c.playingVoice.Load():
		c.sched.ScheduleRoot(nil, false)
	case l != nil:
		c.sched.ScheduleRoot(l, true)
	default:
		c.sched.ListenRoot()
	}
	switch {
	case !c.playingHarmonies.Load():
		c.sched.ScheduleHarmonies(nil, false)
	case l != nil:
		c.sched.ScheduleHarmonies(l, true)
	default:
		c.sched.ListenHarmonies()
	}
}

// StopAll stops recording and both players.
func (c *Controller) StopAll() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.stopRecordingLocked()
	c.playingVoice.Store(false)
	c.playingHarmonies.Store(false)
	c.routeLocked()
	return err
}

// Suspend stops both players and recording without closing the capture
// file, and returns what it stopped. Resume picks up from there, on this
// controller or on one built after a device change.
func (c *Controller) Suspend() *Suspension {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &Suspension{
		State: State{
			Recording:        c.recording.Swap(false),
			PlayingVoice:     c.playingVoice.Swap(false),
			PlayingHarmonies: c.playingHarmonies.Swap(false),
		},
		loaded: c.loaded.Load(),
	}
	if w := c.writer.Swap(nil); w != nil {
		s.writer = w
		s.State.HasCapture = true
	}
	c.routeLocked()
	c.logger.Debug("transport suspended", "recording", s.State.Recording,
		"voice", s.State.PlayingVoice, "harmonies", s.State.PlayingHarmonies)
	return s
}

// Resume restores what s stopped. A recording continues in the file s
// kept open; without one a new recording is started. s is spent
// afterwards. A nil s is a no-op.
func (c *Controller) Resume(s *Suspension) error {
	if s == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.loaded != nil && s.loaded.Format() == c.format && c.loaded.Load() == nil {
		c.loaded.Store(s.loaded)
	}
	var err error
	switch {
	case !s.State.Recording:
		err = s.Close()
	case c.recording.Load():
		err = s.Close()
	case s.writer != nil:
		c.writer.Store(s.writer)
		c.recording.Store(true)
		s.writer = nil
		c.logger.Info("recording resumed", "path", c.path)
	default:
		err = c.startRecordingLocked()
	}
	s.loaded = nil

	c.playingVoice.Store(s.State.PlayingVoice)
	c.playingHarmonies.Store(s.State.PlayingHarmonies)
	c.routeLocked()
	return err
}

// Load decodes an audio file into the controller's format and makes it the
// buffer the voices loop until the next recording starts. On failure the
// state is unchanged.
func (c *Controller) Load(path string) error {
	buf, err := c.registry.Load(path, c.format)
	if err != nil {
		c.logger.Error("load failed", "path", path, "err", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaded.Store(buf)
	c.routeLocked()
	c.logger.Info("loaded", "path", path, "frames", buf.Frames())
	return nil
}

// Close stops everything and closes the capture file.
func (c *Controller) Close() error {
	return c.StopAll()
}

// OnInput handles one captured block on the render goroutine: it queues a
// copy for the capture file while recording and feeds the live input. buf
// may be reused by the caller. It never blocks or allocates.
func (c *Controller) OnInput(buf *buffer.Buffer) {
	if buf == nil || buf.Frames() == 0 {
		return
	}
	if c.recording.Load() {
		if w := c.writer.Load(); w != nil {
			w.Submit(buf)
		}
	}
	c.sched.Feed(buf)
}
