package graph

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"slices"
	"testing"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/dsp/pitch"
	"github.com/cwbudde/algo-harmony/internal/testutil"
)

func newTestGraph(t *testing.T, opts ...Option) *Graph {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), WithMaxFrames(256)}, opts...)
	g, err := New(buffer.Canonical, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestNewStartsWithRootOnly(t *testing.T) {
	g := newTestGraph(t)
	if g.AttachedCount() != 1 {
		t.Fatalf("AttachedCount() = %d, want 1", g.AttachedCount())
	}
	if got := g.Mode().Name; got != RootMode {
		t.Fatalf("Mode() = %q, want %q", got, RootMode)
	}
	if g.Root().Volume() != DefaultRootVolume {
		t.Fatalf("root volume = %v, want %v", g.Root().Volume(), DefaultRootVolume)
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(buffer.Canonical, WithMaxVoices(0)); !errors.Is(err, ErrGraphConfiguration) {
		t.Fatalf("New(max 0) error = %v, want ErrGraphConfiguration", err)
	}
	if _, err := New(buffer.Format{}); !errors.Is(err, buffer.ErrFormat) {
		t.Fatalf("New(zero format) error = %v, want ErrFormat", err)
	}
	if _, err := New(buffer.Canonical, WithEngine("granular")); !errors.Is(err, ErrGraphConfiguration) {
		t.Fatalf("New(bad engine) error = %v, want ErrGraphConfiguration", err)
	}
}

func TestApplyChordMode(t *testing.T) {
	tests := []struct {
		name      string
		mode      string
		maxVoices int
		want      []float64
	}{
		{name: "major", mode: "Major", maxVoices: 8, want: []float64{0, 400, 700}},
		{name: "minor", mode: "Minor", maxVoices: 8, want: []float64{0, 300, 700}},
		{name: "dom7", mode: "Dom7", maxVoices: 8, want: []float64{0, 400, 700, 1000}},
		{name: "dim7", mode: "Dim7", maxVoices: 8, want: []float64{0, 300, 600, 900}},
		{name: "root", mode: RootMode, maxVoices: 8, want: []float64{0}},
		{name: "unknown falls back to root", mode: "Lydian", maxVoices: 8, want: []float64{0}},
		{name: "capped by max voices", mode: "Dom7", maxVoices: 2, want: []float64{0, 400}},
		{name: "single slot", mode: "Major", maxVoices: 1, want: []float64{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGraph(t, WithMaxVoices(tt.maxVoices))
			if err := g.ApplyChordMode(tt.mode); err != nil {
				t.Fatalf("ApplyChordMode(%q) error = %v", tt.mode, err)
			}
			if g.AttachedCount() != len(tt.want) {
				t.Fatalf("AttachedCount() = %d, want %d", g.AttachedCount(), len(tt.want))
			}
			if got := g.Pitches(); !slices.Equal(got, tt.want) {
				t.Fatalf("Pitches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEightVoiceChordCappedAtThree(t *testing.T) {
	chords := DefaultChords()
	chords.MustRegister(ChordMode{Name: "Cluster", Offsets: []float64{0, 100, 200, 300, 400, 500, 600, 700}})
	g := newTestGraph(t, WithMaxVoices(3), WithChords(chords))

	if err := g.ApplyChordMode("Cluster"); err != nil {
		t.Fatalf("ApplyChordMode() error = %v", err)
	}
	if got := g.Pitches(); !slices.Equal(got, []float64{0, 100, 200}) {
		t.Fatalf("Pitches() = %v, want [0 100 200]", got)
	}
}

func TestMajorThenUnknownLeavesDryRoot(t *testing.T) {
	g := newTestGraph(t)
	if err := g.ApplyChordMode("Major"); err != nil {
		t.Fatalf("ApplyChordMode(Major) error = %v", err)
	}
	if err := g.ApplyChordMode("unknown123"); err != nil {
		t.Fatalf("ApplyChordMode(unknown123) error = %v", err)
	}
	if g.AttachedCount() != 1 {
		t.Fatalf("AttachedCount() = %d, want 1", g.AttachedCount())
	}
	if got := g.Pitches(); !slices.Equal(got, []float64{0}) {
		t.Fatalf("Pitches() = %v, want [0]", got)
	}
	if v, _ := g.Voice(1); v.Attached() || v.Scheduled() != nil {
		t.Fatalf("voice 1 attached=%v scheduled=%v, want detached with nothing scheduled", v.Attached(), v.Scheduled())
	}
}

func TestChordChangesReuseVoices(t *testing.T) {
	g := newTestGraph(t)
	if err := g.ApplyChordMode("Dom7"); err != nil {
		t.Fatalf("ApplyChordMode() error = %v", err)
	}
	first, _ := g.Voice(2)
	if err := g.ApplyChordMode("Minor"); err != nil {
		t.Fatalf("ApplyChordMode() error = %v", err)
	}
	second, _ := g.Voice(2)
	if first != second {
		t.Fatal("voice 2 was rebuilt instead of reused")
	}
	if got := g.Pitches(); !slices.Equal(got, []float64{0, 300, 700}) {
		t.Fatalf("Pitches() = %v, want [0 300 700]", got)
	}
}

func TestAttachDetachErrors(t *testing.T) {
	g := newTestGraph(t, WithMaxVoices(3))
	tests := []struct {
		name string
		op   func() error
	}{
		{name: "attach root twice", op: func() error { return g.Attach(0) }},
		{name: "detach root", op: func() error { return g.Detach(0) }},
		{name: "detach detached", op: func() error { return g.Detach(1) }},
		{name: "attach out of range", op: func() error { return g.Attach(3) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); !errors.Is(err, ErrGraphConfiguration) {
				t.Fatalf("error = %v, want ErrGraphConfiguration", err)
			}
		})
	}

	v, err := g.Voice(1)
	if err != nil {
		t.Fatalf("Voice(1) error = %v", err)
	}
	if err := v.Attach(); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := v.Attach(); !errors.Is(err, ErrGraphConfiguration) {
		t.Fatalf("second Attach() error = %v, want ErrGraphConfiguration", err)
	}
	if err := v.Detach(); err != nil {
		t.Fatalf("Detach() error = %v", err)
	}
	if g.AttachedCount() != 1 {
		t.Fatalf("AttachedCount() = %d, want 1", g.AttachedCount())
	}
}

func TestDryRoundTripEqualsInput(t *testing.T) {
	g := newTestGraph(t)
	in := make([]float32, 700)
	for i := range in {
		in[i] = float32(0.7 * math.Sin(float64(i)*0.05))
	}
	g.ScheduleRoot(buffer.FromSamples(buffer.Canonical, in), false)

	out := make([]float32, len(in))
	if n := g.Render(out); n != len(in) {
		t.Fatalf("Render() = %d, want %d", n, len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("sample %d = %v, want %v", i, out[i], in[i])
		}
	}

	// A one-shot source is exhausted after a single pass.
	if g.Render(out); slices.ContainsFunc(out, func(v float32) bool { return v != 0 }) {
		t.Fatal("one-shot source played twice")
	}
}

func TestRootLoopsScheduledBuffer(t *testing.T) {
	g := newTestGraph(t)
	g.ScheduleRoot(buffer.FromSamples(buffer.Canonical, []float32{0.1, 0.2, 0.3}), true)
	out := make([]float32, 7)
	g.Render(out)
	want := []float32{0.1, 0.2, 0.3, 0.1, 0.2, 0.3, 0.1}
	if !slices.Equal(out, want) {
		t.Fatalf("Render() = %v, want %v", out, want)
	}

	g.ScheduleRoot(nil, false)
	g.Render(out)
	if slices.ContainsFunc(out, func(v float32) bool { return v != 0 }) {
		t.Fatalf("Render() after clearing = %v, want silence", out)
	}
}

func TestHarmoniesSumAndClamp(t *testing.T) {
	g := newTestGraph(t, WithVolumes(1, 1))
	if err := g.ApplyChordMode("Major"); err != nil {
		t.Fatalf("ApplyChordMode() error = %v", err)
	}
	for _, v := range g.Voices() {
		v.SetPitch(0)
	}
	dc := make([]float32, 128)
	for i := range dc {
		dc[i] = 0.5
	}
	buf := buffer.FromSamples(buffer.Canonical, dc)
	g.ScheduleRoot(buf, true)
	g.ScheduleHarmonies(buf, true)

	out := make([]float32, 64)
	g.Render(out)
	for i, v := range out {
		if v != 1 {
			t.Fatalf("sample %d = %v, want 3*0.5 clamped to 1", i, v)
		}
	}
}

func TestShiftedVoiceProducesSignal(t *testing.T) {
	for _, engine := range []pitch.Engine{pitch.EngineWSOLA, pitch.EngineSpectral} {
		t.Run(string(engine), func(t *testing.T) {
			g := newTestGraph(t, WithEngine(engine), WithMaxFrames(1024))
			in := make([]float32, 4096)
			for i := range in {
				in[i] = float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/16000))
			}
			g.Root().SetPitch(700)
			g.ScheduleRoot(buffer.FromSamples(buffer.Canonical, in), true)

			out := make([]float32, 1024)
			var energy float64
			for range 4 {
				g.Render(out)
				for _, v := range out {
					if math.IsNaN(float64(v)) || v > 1 || v < -1 {
						t.Fatalf("sample %v out of range", v)
					}
					energy += float64(v) * float64(v)
				}
			}
			if energy == 0 {
				t.Fatal("shifted voice rendered silence")
			}
		})
	}
}

func TestSetVolumeClamps(t *testing.T) {
	g := newTestGraph(t)
	v := g.Root()
	for _, tc := range [][2]float64{{1.5, 1}, {-1, 0}, {0.3, 0.3}, {math.NaN(), 0}} {
		v.SetVolume(tc[0])
		if got := v.Volume(); got != tc[1] {
			t.Fatalf("SetVolume(%v) -> %v, want %v", tc[0], got, tc[1])
		}
	}
}

func TestRenderDoesNotAllocate(t *testing.T) {
	g := newTestGraph(t)
	if err := g.ApplyChordMode("Dom7"); err != nil {
		t.Fatalf("ApplyChordMode() error = %v", err)
	}
	buf := buffer.FromSamples(buffer.Canonical, make([]float32, 1024))
	g.ScheduleRoot(buf, true)
	g.ScheduleHarmonies(buf, true)
	out := make([]float32, 512)
	live := buffer.FromSamples(buffer.Canonical, make([]float32, 512))

	allocs := testing.AllocsPerRun(10, func() {
		g.Feed(live)
		g.Render(out)
	})
	if allocs != 0 {
		t.Fatalf("Render allocated %v times per run, want 0", allocs)
	}
}

func rampBuffer(from, n int) *buffer.Buffer {
	x := make([]float32, n)
	for i := range x {
		x[i] = float32(from+i) * 0.001
	}
	return buffer.FromSamples(buffer.Canonical, x)
}

func TestFeedPassesLiveInputThroughRoot(t *testing.T) {
	g := newTestGraph(t)
	g.ListenRoot()
	if !g.Root().Listening() {
		t.Fatal("root not listening after ListenRoot()")
	}

	in := rampBuffer(0, 100)
	g.Feed(in)
	out := make([]float32, 100)
	g.Render(out)
	for i, v := range in.Samples() {
		if out[i] != v {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], v)
		}
	}

	g.Render(out)
	for i, v := range out {
		if v != 0 {
			t.Fatalf("out[%d] = %v on empty input, want 0", i, v)
		}
	}
	if _, under := g.InputStats(); under != 1 {
		t.Fatalf("underruns = %d, want 1", under)
	}
}

func TestFeedDropsOldestWhenFull(t *testing.T) {
	g := newTestGraph(t, WithInputCapacity(256))
	g.ListenRoot()
	g.Feed(rampBuffer(0, 200))
	g.Feed(rampBuffer(200, 200))
	if over, _ := g.InputStats(); over != 1 {
		t.Fatalf("overruns = %d, want 1", over)
	}

	out := make([]float32, 256)
	g.Render(out)
	for i, v := range out {
		if want := float32(144+i) * 0.001; v != want {
			t.Fatalf("out[%d] = %v, want %v", i, v, want)
		}
	}
}

func TestInputCapacityBelowBlockRejected(t *testing.T) {
	if _, err := New(buffer.Canonical, WithMaxFrames(256), WithInputCapacity(100)); !errors.Is(err, ErrGraphConfiguration) {
		t.Fatalf("New() error = %v, want ErrGraphConfiguration", err)
	}
}

func TestLaterVoicesAdoptHarmonySource(t *testing.T) {
	g := newTestGraph(t)
	g.ListenHarmonies()
	if err := g.ApplyChordMode("Major"); err != nil {
		t.Fatalf("ApplyChordMode() error = %v", err)
	}
	for _, v := range g.Voices()[1:] {
		if !v.Listening() {
			t.Fatalf("voice %d not listening after chord change", v.ID())
		}
	}
	if g.Root().Listening() || g.Root().Scheduled() != nil {
		t.Fatal("root picked up the harmony source")
	}

	buf := rampBuffer(0, 64)
	g.ScheduleHarmonies(buf, true)
	if err := g.ApplyChordMode("Dom7"); err != nil {
		t.Fatalf("ApplyChordMode() error = %v", err)
	}
	for _, v := range g.Voices()[1:] {
		if v.Scheduled() != buf || v.Listening() {
			t.Fatalf("voice %d scheduled=%p listening=%v, want loaded buffer", v.ID(), v.Scheduled(), v.Listening())
		}
	}

	g.ScheduleHarmonies(nil, false)
	for _, v := range g.Voices()[1:] {
		if v.Scheduled() != nil || v.Listening() {
			t.Fatalf("voice %d still has a source after ScheduleHarmonies(nil)", v.ID())
		}
	}
}

func TestLiveVoiceKeepsIntervalAtSmallBlocks(t *testing.T) {
	const block = 160
	for _, engine := range []pitch.Engine{pitch.EngineWSOLA, pitch.EngineSpectral} {
		t.Run(string(engine), func(t *testing.T) {
			g := newTestGraph(t, WithEngine(engine), WithMaxFrames(block))
			g.Root().SetPitch(700)
			g.ListenRoot()

			in := make([]float32, 60*block)
			for i := range in {
				in[i] = float32(0.5 * math.Sin(2*math.Pi*220*float64(i)/16000))
			}
			out := make([]float64, 0, len(in))
			chunk := make([]float32, block)
			for off := 0; off < len(in); off += block {
				g.Feed(buffer.FromSamples(buffer.Canonical, in[off:off+block]))
				g.Render(chunk)
				for _, v := range chunk {
					out = append(out, float64(v))
				}
			}

			want := 220 * pitch.CentsToRatio(700)
			got := testutil.EstimateFrequency(out[len(out)/2:], 16000, 200, 500)
			if math.Abs(got-want) > want*0.02 {
				t.Fatalf("frequency = %.1f Hz, want %.1f Hz", got, want)
			}
		})
	}
}
