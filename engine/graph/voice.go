package graph

import (
	"math"
	"sync/atomic"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/dsp/mix"
	"github.com/cwbudde/algo-harmony/dsp/pitch"
)

// State is a voice's attachment state.
type State int32

const (
	Detached State = iota
	Attached
)

func (s State) String() string {
	if s == Attached {
		return "attached"
	}
	return "detached"
}

// source is what a voice plays: a buffer, looping or once, or the graph's
// live input.
type source struct {
	buf  *buffer.Buffer
	loop bool
	live bool
}

// same reports whether switching from s to o continues the same stream.
func (s *source) same(o *source) bool {
	switch {
	case s == nil || o == nil:
		return s == o
	case s.live || o.live:
		return s.live == o.live
	}
	return s.buf == o.buf
}

// Voice is one pitch-shift chain feeding the graph's mix bus.
//
// Pitch, volume, state and the scheduled source are atomics that any
// goroutine may set. Everything below the render marker is owned by the
// render goroutine.
type Voice struct {
	id    int
	graph *Graph

	cents   atomic.Uint64
	volume  atomic.Uint64
	state   atomic.Int32
	pending atomic.Pointer[source]
	flush   atomic.Bool

	// render
	src       *source
	pos       int
	lastCents float64
	shifters  []pitch.Shifter
	in, out   []float64
}

func newVoice(g *Graph, id int, volume float64) (*Voice, error) {
	v := &Voice{
		id:       id,
		graph:    g,
		shifters: make([]pitch.Shifter, g.format.Channels),
		in:       make([]float64, g.maxFrames),
		out:      make([]float64, g.maxFrames),
	}
	for c := range v.shifters {
		s, err := pitch.New(g.engine, g.format.SampleRate, g.maxFrames)
		if err != nil {
			return nil, err
		}
		v.shifters[c] = s
	}
	v.SetVolume(volume)
	return v, nil
}

// ID returns the voice's slot index; 0 is the root.
func (v *Voice) ID() int { return v.id }

// State returns the attachment state.
func (v *Voice) State() State { return State(v.state.Load()) }

// Attached reports whether the voice is rendering into the graph.
func (v *Voice) Attached() bool { return v.State() == Attached }

// Attach registers the voice with its graph. It fails with
// ErrGraphConfiguration if the voice is already attached.
func (v *Voice) Attach() error { return v.graph.Attach(v.id) }

// Detach removes the voice from its graph and discards its scheduled source.
func (v *Voice) Detach() error { return v.graph.Detach(v.id) }

// SetPitch sets the pitch offset in cents. The render goroutine picks it up
// at the start of its next block.
func (v *Voice) SetPitch(cents float64) {
	if math.IsNaN(cents) || math.IsInf(cents, 0) {
		cents = 0
	}
	v.cents.Store(math.Float64bits(cents))
}

// Pitch returns the pitch offset in cents.
func (v *Voice) Pitch() float64 { return math.Float64frombits(v.cents.Load()) }

// SetVolume sets the voice gain, clamped to [0, 1].
func (v *Voice) SetVolume(vol float64) {
	if math.IsNaN(vol) {
		vol = 0
	}
	v.volume.Store(math.Float64bits(min(max(vol, 0), 1)))
}

// Volume returns the voice gain.
func (v *Voice) Volume() float64 { return math.Float64frombits(v.volume.Load()) }

// Schedule replaces the voice's source with buf. The most recent call wins;
// a nil buffer silences the voice. Rescheduling the buffer already playing
// keeps its play position.
func (v *Voice) Schedule(buf *buffer.Buffer, loop bool) {
	if buf == nil {
		v.pending.Store(nil)
		return
	}
	v.pending.Store(&source{buf: buf, loop: loop})
}

// Listen switches the voice to the graph's live input.
func (v *Voice) Listen() { v.pending.Store(liveSource) }

// Scheduled returns the most recently scheduled buffer, or nil when the
// voice is silent or listening.
func (v *Voice) Scheduled() *buffer.Buffer {
	if p := v.pending.Load(); p != nil {
		return p.buf
	}
	return nil
}

// Listening reports whether the voice plays the live input.
func (v *Voice) Listening() bool {
	p := v.pending.Load()
	return p != nil && p.live
}

func (v *Voice) attach(src *source) {
	v.pending.Store(src)
	v.flush.Store(true)
	v.state.Store(int32(Attached))
}

func (v *Voice) detach() {
	v.state.Store(int32(Detached))
	v.pending.Store(nil)
	v.flush.Store(true)
}

// render accumulates the voice's next bus.Frames() frames into bus. live
// holds the same frames of the graph's input, interleaved.
func (v *Voice) render(bus *mix.Bus, live []float32) {
	if p := v.pending.Load(); p != v.src {
		if !v.src.same(p) {
			v.pos = 0
		}
		v.src = p
	}

	src := v.src
	if src == nil || (!src.live && (src.buf.Frames() == 0 || (!src.loop && v.pos >= src.buf.Frames()))) {
		return
	}

	cents := v.Pitch()
	if v.flush.Swap(false) || (cents != 0 && v.lastCents == 0) {
		for _, s := range v.shifters {
			s.Reset()
		}
	}
	v.lastCents = cents
	ratio := pitch.CentsToRatio(cents)
	gain := v.Volume()

	frames := bus.Frames()
	in, out := v.in[:frames], v.out[:frames]
	next := v.pos
	for c := range bus.Channels() {
		if src.live {
			gatherLive(in, live, bus.Channels(), c)
		} else {
			next = v.gather(in, src, min(c, src.buf.Channels()-1))
		}
		if cents == 0 {
			bus.Accumulate(c, in, gain)
			continue
		}
		v.shifters[c].Process(out, in, ratio)
		bus.Accumulate(c, out, gain)
	}
	v.pos = next
}

// gather copies channel c of src from the play position into dst, wrapping
// when looping and zero-filling past the end otherwise. It returns the play
// position after dst.
func (v *Voice) gather(dst []float64, src *source, c int) int {
	samples := src.buf.Samples()
	channels, frames := src.buf.Channels(), src.buf.Frames()
	pos := v.pos
	for i := range dst {
		if pos >= frames {
			if !src.loop {
				clear(dst[i:])
				break
			}
			pos = 0
		}
		dst[i] = float64(samples[pos*channels+c])
		pos++
	}
	return pos
}

func gatherLive(dst []float64, live []float32, channels, c int) {
	for i := range dst {
		dst[i] = float64(live[i*channels+c])
	}
}
