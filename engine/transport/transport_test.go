package transport

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/engine/capture"
)

type scheduled struct {
	buf  *buffer.Buffer
	loop bool
	live bool
}

type fakeScheduler struct {
	mu        sync.Mutex
	root      scheduled
	harmonies scheduled
	rootCalls int
	fed       int
}

func (f *fakeScheduler) Feed(buf *buffer.Buffer) { f.fed += buf.Frames() }

func (f *fakeScheduler) ScheduleRoot(buf *buffer.Buffer, loop bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.root = scheduled{buf: buf, loop: loop}
	f.rootCalls++
}

func (f *fakeScheduler) ListenRoot() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.root = scheduled{live: true}
	f.rootCalls++
}

func (f *fakeScheduler) ScheduleHarmonies(buf *buffer.Buffer, loop bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.harmonies = scheduled{buf: buf, loop: loop}
}

func (f *fakeScheduler) ListenHarmonies() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.harmonies = scheduled{live: true}
}

// countingOpener records how often a capture file was opened.
type countingOpener struct {
	mu    sync.Mutex
	opens int
	fail  bool
}

func (o *countingOpener) open(path string) (capture.File, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.fail {
		return nil, errors.New("read-only file system")
	}
	return os.Create(path)
}

func (o *countingOpener) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

func newTestController(t *testing.T, opts ...Option) (*Controller, *fakeScheduler, *countingOpener) {
	t.Helper()
	sched := &fakeScheduler{}
	opener := &countingOpener{}
	base := []Option{
		WithCapturePath(filepath.Join(t.TempDir(), DefaultCaptureName)),
		WithOpener(opener.open),
		WithBlockFrames(256),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	c, err := New(buffer.Canonical, sched, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, sched, opener
}

func block(v float32, n int) *buffer.Buffer {
	s := make([]float32, n)
	for i := range s {
		s[i] = v
	}
	return buffer.FromSamples(buffer.Canonical, s)
}

func TestStartRecordingIsIdempotent(t *testing.T) {
	c, _, opener := newTestController(t)
	for range 3 {
		if err := c.StartRecording(); err != nil {
			t.Fatalf("StartRecording() error = %v", err)
		}
	}
	if opener.count() != 1 {
		t.Fatalf("capture opened %d times, want 1", opener.count())
	}
	if s := c.State(); !s.Recording || !s.HasCapture {
		t.Fatalf("State() = %+v, want recording with capture", s)
	}
	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
}

func TestStopRecordingWhileIdleDoesNothing(t *testing.T) {
	c, _, opener := newTestController(t)
	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if opener.count() != 0 {
		t.Fatalf("capture opened %d times, want 0", opener.count())
	}
	if _, err := os.Stat(c.CapturePath()); !os.IsNotExist(err) {
		t.Fatalf("capture file exists after idle stop: %v", err)
	}
	if s := c.State(); s != (State{}) {
		t.Fatalf("State() = %+v, want zero", s)
	}
}

func TestStartRecordingFailureLeavesStateUnchanged(t *testing.T) {
	c, _, opener := newTestController(t)
	opener.fail = true
	err := c.StartRecording()
	if !errors.Is(err, capture.ErrFileIO) {
		t.Fatalf("StartRecording() error = %v, want ErrFileIO", err)
	}
	if s := c.State(); s.Recording || s.HasCapture {
		t.Fatalf("State() = %+v, want not recording", s)
	}
}

func TestRecordingWritesOnlyWhileRecording(t *testing.T) {
	c, _, _ := newTestController(t)

	c.OnInput(block(0.1, 100))
	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	c.OnInput(block(0.2, 100))
	c.OnInput(block(0.3, 50))
	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	c.OnInput(block(0.4, 100))

	got, err := capture.DefaultRegistry().Load(c.CapturePath(), buffer.Canonical)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Frames() != 150 {
		t.Fatalf("captured %d frames, want 150", got.Frames())
	}
	if s := c.State(); s.Recording || s.HasCapture {
		t.Fatalf("State() = %+v, want idle", s)
	}
}

func TestOnInputFeedsLiveInput(t *testing.T) {
	c, sched, _ := newTestController(t)
	c.OnInput(block(0.5, 32))
	c.OnInput(nil)
	c.OnInput(block(0.5, 0))
	c.PlayVoice()
	c.OnInput(block(0.5, 48))
	if sched.fed != 80 {
		t.Fatalf("fed %d frames, want 80", sched.fed)
	}
}

func TestPlayRoutesLiveInput(t *testing.T) {
	c, sched, _ := newTestController(t)

	c.PlayVoice()
	if !sched.root.live {
		t.Fatalf("root = %+v after PlayVoice, want live input", sched.root)
	}
	if sched.harmonies != (scheduled{}) {
		t.Fatalf("harmonies = %+v without PlayHarmonies, want silent", sched.harmonies)
	}

	c.PlayHarmonies()
	if !sched.harmonies.live {
		t.Fatalf("harmonies = %+v after PlayHarmonies, want live input", sched.harmonies)
	}

	c.StopVoice()
	if sched.root != (scheduled{}) || !sched.harmonies.live {
		t.Fatalf("StopVoice left root=%+v harmonies=%+v", sched.root, sched.harmonies)
	}

	if err := c.StopAll(); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}
	if sched.root != (scheduled{}) || sched.harmonies != (scheduled{}) {
		t.Fatal("StopAll left voices scheduled")
	}
	if s := c.State(); s != (State{}) {
		t.Fatalf("State() = %+v, want zero", s)
	}
}

func TestPlayVoiceIsIdempotent(t *testing.T) {
	c, sched, _ := newTestController(t)
	c.PlayVoice()
	c.PlayVoice()
	if sched.rootCalls != 1 {
		t.Fatalf("root routed %d times, want 1", sched.rootCalls)
	}
	c.StopVoice()
	c.StopVoice()
	if sched.rootCalls != 2 {
		t.Fatalf("root routed %d times, want 2", sched.rootCalls)
	}
}

// recordTake records frames of a constant block and copies the capture to
// a file Load can read.
func recordTake(t *testing.T, c *Controller, frames int) string {
	t.Helper()
	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	c.OnInput(block(0.5, frames))
	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	take := filepath.Join(t.TempDir(), "take.wav")
	data, err := os.ReadFile(c.CapturePath())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if err := os.WriteFile(take, data, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return take
}

func TestLoadPlaysFileUntilNextRecording(t *testing.T) {
	c, sched, _ := newTestController(t)
	take := recordTake(t, c, 200)

	c.PlayVoice()
	c.PlayHarmonies()
	if err := c.Load(take); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	loaded := c.Loaded()
	if loaded == nil || loaded.Frames() != 200 {
		t.Fatalf("Loaded() = %v, want 200 frames", loaded)
	}
	if sched.root.buf != loaded || !sched.root.loop {
		t.Fatal("root is not looping the loaded file")
	}
	if sched.harmonies.buf != loaded || !sched.harmonies.loop {
		t.Fatal("harmonies are not looping the loaded file")
	}

	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	if c.Loaded() != nil || !sched.root.live || !sched.harmonies.live {
		t.Fatalf("after new recording loaded=%v root=%+v harmonies=%+v, want live input",
			c.Loaded(), sched.root, sched.harmonies)
	}
	_ = c.Close()
}

func TestLoadFailureKeepsState(t *testing.T) {
	c, _, _ := newTestController(t)
	take := recordTake(t, c, 64)
	if err := c.Load(take); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	before := c.Loaded()
	if err := c.Load(filepath.Join(t.TempDir(), "missing.wav")); !errors.Is(err, capture.ErrFileIO) {
		t.Fatalf("Load() error = %v, want ErrFileIO", err)
	}
	if c.Loaded() != before {
		t.Fatal("failed Load replaced the loaded buffer")
	}
}

func captureFrames(t *testing.T, path string) int {
	t.Helper()
	got, err := capture.DefaultRegistry().Load(path, buffer.Canonical)
	if err != nil {
		t.Fatalf("Load(%s) error = %v", path, err)
	}
	return got.Frames()
}

func TestSuspendResumeAppendsToSameCapture(t *testing.T) {
	c, sched, opener := newTestController(t)
	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	c.PlayVoice()
	c.OnInput(block(0.2, 100))

	s := c.Suspend()
	want := State{Recording: true, PlayingVoice: true, HasCapture: true}
	if s.State != want {
		t.Fatalf("Suspend().State = %+v, want %+v", s.State, want)
	}
	if got := c.State(); got != (State{}) {
		t.Fatalf("State() while suspended = %+v, want zero", got)
	}
	if sched.root != (scheduled{}) {
		t.Fatalf("root = %+v while suspended, want silent", sched.root)
	}
	c.OnInput(block(0.9, 30))

	if err := c.Resume(s); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if got := c.State(); got != want {
		t.Fatalf("State() after Resume = %+v, want %+v", got, want)
	}
	if !sched.root.live {
		t.Fatalf("root = %+v after Resume, want live input", sched.root)
	}
	c.OnInput(block(0.3, 50))
	if err := c.StopRecording(); err != nil {
		t.Fatalf("StopRecording() error = %v", err)
	}
	if opener.count() != 1 {
		t.Fatalf("capture opened %d times, want 1", opener.count())
	}
	if n := captureFrames(t, c.CapturePath()); n != 150 {
		t.Fatalf("captured %d frames, want 150", n)
	}
}

func TestResumeOnAnotherController(t *testing.T) {
	first, _, _ := newTestController(t)
	if err := first.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	first.OnInput(block(0.2, 100))
	s := first.Suspend()
	_ = first.Close()

	second, _, opener := newTestController(t, WithCapturePath(first.CapturePath()), WithBlockFrames(64))
	if err := second.Resume(s); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if opener.count() != 0 {
		t.Fatalf("second controller opened %d captures, want 0", opener.count())
	}
	second.OnInput(block(0.3, 200))
	if err := second.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := captureFrames(t, first.CapturePath()); n != 300 {
		t.Fatalf("captured %d frames, want 300", n)
	}
}

func TestResumeWithoutOpenCaptureStartsRecording(t *testing.T) {
	c, _, opener := newTestController(t)
	if err := c.Resume(&Suspension{State: State{Recording: true, PlayingHarmonies: true}}); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	want := State{Recording: true, PlayingHarmonies: true, HasCapture: true}
	if got := c.State(); got != want {
		t.Fatalf("State() = %+v, want %+v", got, want)
	}
	if opener.count() != 1 {
		t.Fatalf("capture opened %d times, want 1", opener.count())
	}
	if err := c.Resume(nil); err != nil {
		t.Fatalf("Resume(nil) error = %v", err)
	}
	_ = c.Close()
}

func TestSuspensionCloseFinishesCapture(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.StartRecording(); err != nil {
		t.Fatalf("StartRecording() error = %v", err)
	}
	c.OnInput(block(0.2, 120))
	s := c.Suspend()
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if n := captureFrames(t, c.CapturePath()); n != 120 {
		t.Fatalf("captured %d frames, want 120", n)
	}
}

func TestOnInputDoesNotAllocate(t *testing.T) {
	c, _, _ := newTestController(t)
	c.PlayVoice()
	c.PlayHarmonies()
	in := block(0.3, 256)
	if allocs := testing.AllocsPerRun(50, func() { c.OnInput(in) }); allocs != 0 {
		t.Fatalf("OnInput allocated %v times per run, want 0", allocs)
	}
}
