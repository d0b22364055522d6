// Package graph holds the harmony voice graph: a fixed number of voice
// slots, each a pitch-shift chain summed into one mix bus.
//
// Topology edits (attach, detach, chord changes) run on a control goroutine
// under a mutex. Render reads slots through atomic pointers and never takes
// that mutex, so a render pass may observe a chord change half applied; the
// next pass sees the rest.
package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/dsp/mix"
	"github.com/cwbudde/algo-harmony/dsp/pitch"
)

// ErrGraphConfiguration reports an invalid topology edit.
var ErrGraphConfiguration = errors.New("graph: invalid configuration")

const (
	DefaultMaxVoices     = 8
	DefaultMaxFrames     = 1024
	DefaultRootVolume    = 1.0
	DefaultHarmonyVolume = 0.8
)

// Option configures a Graph.
type Option func(*Graph)

// WithMaxVoices sets the number of voice slots, root included.
func WithMaxVoices(n int) Option { return func(g *Graph) { g.maxVoices = n } }

// WithMaxFrames sets the largest block a voice renders in one step. Longer
// renders are split.
func WithMaxFrames(n int) Option { return func(g *Graph) { g.maxFrames = n } }

// WithInputCapacity sets how many frames of live input the graph buffers
// between Feed and Render. The default is four render blocks.
func WithInputCapacity(frames int) Option { return func(g *Graph) { g.inputCap = frames } }

// WithEngine selects the pitch shifter used by every voice.
func WithEngine(e pitch.Engine) Option { return func(g *Graph) { g.engine = e } }

// WithChords replaces the default chord table.
func WithChords(t *ChordTable) Option { return func(g *Graph) { g.chords = t } }

// WithVolumes sets the root and harmony voice gains.
func WithVolumes(root, harmony float64) Option {
	return func(g *Graph) { g.rootVolume, g.harmonyVolume = root, harmony }
}

// WithLogger sets the logger for control-side events.
func WithLogger(l *slog.Logger) Option { return func(g *Graph) { g.logger = l } }

// Graph is a set of voice slots rendering into a shared bus.
type Graph struct {
	format        buffer.Format
	maxVoices     int
	maxFrames     int
	inputCap      int
	engine        pitch.Engine
	chords        *ChordTable
	rootVolume    float64
	harmonyVolume float64
	logger        *slog.Logger

	slots    []atomic.Pointer[Voice]
	attached atomic.Int32

	mu      sync.Mutex
	voices  []*Voice
	mode    ChordMode
	harmony *source

	overruns  atomic.Uint64
	underruns atomic.Uint64

	// render
	bus      *mix.Bus
	input    []float32
	inFrames int
	live     []float32
	primed   bool
}

var liveSource = &source{live: true}

// New returns a graph in the given format with the root voice attached.
func New(format buffer.Format, opts ...Option) (*Graph, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	g := &Graph{
		format:        format,
		maxVoices:     DefaultMaxVoices,
		maxFrames:     DefaultMaxFrames,
		engine:        pitch.EngineWSOLA,
		rootVolume:    DefaultRootVolume,
		harmonyVolume: DefaultHarmonyVolume,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	if g.maxVoices < 1 {
		return nil, fmt.Errorf("%w: max voices must be >= 1: %d", ErrGraphConfiguration, g.maxVoices)
	}
	if g.inputCap == 0 {
		g.inputCap = 4 * g.maxFrames
	}
	if g.inputCap < g.maxFrames {
		return nil, fmt.Errorf("%w: input capacity %d below max frames %d", ErrGraphConfiguration, g.inputCap, g.maxFrames)
	}
	if g.chords == nil {
		g.chords = DefaultChords()
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}

	bus, err := mix.NewBus(format.Channels, g.maxFrames)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGraphConfiguration, err)
	}
	g.bus = bus
	g.input = make([]float32, g.inputCap*format.Channels)
	g.live = make([]float32, g.maxFrames*format.Channels)
	g.slots = make([]atomic.Pointer[Voice], g.maxVoices)
	g.voices = make([]*Voice, g.maxVoices)

	root, err := newVoice(g, 0, g.rootVolume)
	if err != nil {
		return nil, fmt.Errorf("%w: root voice: %w", ErrGraphConfiguration, err)
	}
	g.voices[0] = root
	g.attachLocked(root)
	g.mode = ChordMode{Name: RootMode, Offsets: []float64{0}}
	return g, nil
}

// Format returns the graph's audio format.
func (g *Graph) Format() buffer.Format { return g.format }

// MaxVoices returns the number of voice slots.
func (g *Graph) MaxVoices() int { return g.maxVoices }

// Chords returns the chord table.
func (g *Graph) Chords() *ChordTable { return g.chords }

// Root returns the root voice.
func (g *Graph) Root() *Voice {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voices[0]
}

// Voice returns the voice at index i, creating it detached if needed.
func (g *Graph) Voice(i int) (*Voice, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.voiceLocked(i)
}

func (g *Graph) voiceLocked(i int) (*Voice, error) {
	if i < 0 || i >= g.maxVoices {
		return nil, fmt.Errorf("%w: voice %d outside [0, %d)", ErrGraphConfiguration, i, g.maxVoices)
	}
	if v := g.voices[i]; v != nil {
		return v, nil
	}
	v, err := newVoice(g, i, g.harmonyVolume)
	if err != nil {
		return nil, fmt.Errorf("%w: voice %d: %w", ErrGraphConfiguration, i, err)
	}
	g.voices[i] = v
	return v, nil
}

// Attach attaches voice i. Attaching an attached voice fails.
func (g *Graph) Attach(i int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, err := g.voiceLocked(i)
	if err != nil {
		return err
	}
	if v.Attached() {
		return fmt.Errorf("%w: voice %d already attached", ErrGraphConfiguration, i)
	}
	g.attachLocked(v)
	return nil
}

// Detach detaches voice i and discards its scheduled source. The root voice
// cannot be detached.
func (g *Graph) Detach(i int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if i == 0 {
		return fmt.Errorf("%w: root voice cannot be detached", ErrGraphConfiguration)
	}
	v, err := g.voiceLocked(i)
	if err != nil {
		return err
	}
	if !v.Attached() {
		return fmt.Errorf("%w: voice %d not attached", ErrGraphConfiguration, i)
	}
	g.detachLocked(v)
	return nil
}

func (g *Graph) attachLocked(v *Voice) {
	var src *source
	if v.id != 0 {
		src = g.harmony
	}
	v.attach(src)
	g.slots[v.id].Store(v)
	g.attached.Add(1)
}

func (g *Graph) detachLocked(v *Voice) {
	g.slots[v.id].Store(nil)
	v.detach()
	g.attached.Add(-1)
}

// ApplyChordMode reconfigures the graph for the named mode: one voice per
// offset up to MaxVoices, each pitched to its offset. Unknown names select
// the root mode. Failed slot edits are joined into the returned error and
// the graph is left as far as it got; calling again converges.
func (g *Graph) ApplyChordMode(name string) error {
	mode, ok := g.chords.Lookup(name)
	if !ok {
		g.logger.Warn("unknown chord mode, using root", "mode", name)
		mode = ChordMode{Name: RootMode, Offsets: []float64{0}}
	}
	target := min(mode.Voices(), g.maxVoices)

	g.mu.Lock()
	defer g.mu.Unlock()

	var errs []error
	g.voices[0].SetPitch(0)
	for i := 1; i < g.maxVoices; i++ {
		if i >= target {
			if v := g.voices[i]; v != nil && v.Attached() {
				g.detachLocked(v)
			}
			continue
		}
		v, err := g.voiceLocked(i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		v.SetPitch(mode.Offsets[i])
		if !v.Attached() {
			g.attachLocked(v)
		}
	}
	g.mode = mode

	err := errors.Join(errs...)
	if err != nil {
		g.logger.Error("chord mode applied partially", "mode", mode.Name, "err", err)
	} else {
		g.logger.Debug("chord mode applied", "mode", mode.Name, "voices", target)
	}
	return err
}

// Mode returns the last applied chord mode.
func (g *Graph) Mode() ChordMode {
	g.mu.Lock()
	defer g.mu.Unlock()
	m := g.mode
	m.Offsets = append([]float64(nil), m.Offsets...)
	return m
}

// AttachedCount returns the number of attached voices.
func (g *Graph) AttachedCount() int { return int(g.attached.Load()) }

// Voices returns the attached voices in slot order.
func (g *Graph) Voices() []*Voice {
	out := make([]*Voice, 0, g.maxVoices)
	for i := range g.slots {
		if v := g.slots[i].Load(); v != nil {
			out = append(out, v)
		}
	}
	return out
}

// Pitches returns the pitch of every attached voice in slot order.
func (g *Graph) Pitches() []float64 {
	voices := g.Voices()
	out := make([]float64, len(voices))
	for i, v := range voices {
		out[i] = v.Pitch()
	}
	return out
}

// ScheduleRoot schedules buf into the root voice.
func (g *Graph) ScheduleRoot(buf *buffer.Buffer, loop bool) {
	if v := g.slots[0].Load(); v != nil {
		v.Schedule(buf, loop)
	}
}

// ListenRoot switches the root voice to the live input.
func (g *Graph) ListenRoot() {
	if v := g.slots[0].Load(); v != nil {
		v.Listen()
	}
}

// ScheduleHarmonies schedules buf into every non-root voice, including
// voices attached later by a chord change. A nil buffer silences them.
func (g *Graph) ScheduleHarmonies(buf *buffer.Buffer, loop bool) {
	var src *source
	if buf != nil {
		src = &source{buf: buf, loop: loop}
	}
	g.setHarmony(src)
}

// ListenHarmonies switches every non-root voice to the live input.
func (g *Graph) ListenHarmonies() { g.setHarmony(liveSource) }

func (g *Graph) setHarmony(src *source) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.harmony = src
	for i := 1; i < len(g.slots); i++ {
		if v := g.slots[i].Load(); v != nil {
			v.pending.Store(src)
		}
	}
}

// Feed appends buf to the live input. Channels are mapped as in playback:
// extra graph channels repeat the last source channel. When the input is
// full the oldest frames are dropped. Feed runs on the render goroutine,
// between Render calls, and never allocates.
func (g *Graph) Feed(buf *buffer.Buffer) {
	if buf == nil || buf.Frames() == 0 {
		return
	}
	channels := g.format.Channels
	frames := buf.Frames()
	samples := buf.Samples()
	srcCh := buf.Channels()
	if frames > g.inputCap {
		samples = samples[(frames-g.inputCap)*srcCh:]
		frames = g.inputCap
	}
	if over := g.inFrames + frames - g.inputCap; over > 0 {
		copy(g.input, g.input[over*channels:g.inFrames*channels])
		g.inFrames -= over
		g.overruns.Add(1)
	}
	dst := g.input[g.inFrames*channels : (g.inFrames+frames)*channels]
	for i := range frames {
		for c := range channels {
			dst[i*channels+c] = samples[i*srcCh+min(c, srcCh-1)]
		}
	}
	g.inFrames += frames
	g.primed = true
}

// InputStats returns how often Feed dropped frames on a full input and how
// often Render found the input short after the first Feed.
func (g *Graph) InputStats() (overruns, underruns uint64) {
	return g.overruns.Load(), g.underruns.Load()
}

// Render mixes every attached voice into out, interleaved in the graph's
// format and clamped to [-1, 1]. It returns the frames written. Each block
// consumes the same number of live input frames, padding with silence when
// Feed has not supplied enough. Render must only be called from one
// goroutine at a time and never allocates.
func (g *Graph) Render(out []float32) int {
	total := len(out) / g.format.Channels
	channels := g.format.Channels
	for off := 0; off < total; {
		frames := g.bus.Begin(total - off)
		live := g.pull(frames)
		for i := range g.slots {
			if v := g.slots[i].Load(); v != nil {
				v.render(g.bus, live)
			}
		}
		g.bus.Interleave(out[off*channels : (off+frames)*channels])
		off += frames
	}
	return total
}

// pull moves the next frames of live input into g.live.
func (g *Graph) pull(frames int) []float32 {
	channels := g.format.Channels
	live := g.live[:frames*channels]
	n := min(frames, g.inFrames)
	copy(live, g.input[:n*channels])
	clear(live[n*channels:])
	if n < frames && g.primed {
		g.underruns.Add(1)
	}
	copy(g.input, g.input[n*channels:g.inFrames*channels])
	g.inFrames -= n
	return live
}
