package convert

import (
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
)

func stereo(rate float64) buffer.Format {
	return buffer.Format{SampleRate: rate, Channels: 2, SampleFormat: buffer.Float32, Interleaved: true}
}

func TestNewRejectsUnsupportedFormats(t *testing.T) {
	quad := buffer.Format{SampleRate: 16000, Channels: 4, SampleFormat: buffer.Float32, Interleaved: true}
	tests := []struct {
		name     string
		from, to buffer.Format
	}{
		{name: "int16 input", from: buffer.Format{SampleRate: 48000, Channels: 1}, to: buffer.Canonical},
		{name: "planar stereo", from: buffer.Format{SampleRate: 48000, Channels: 2, SampleFormat: buffer.Float32}, to: buffer.Canonical},
		{name: "stereo to quad", from: stereo(16000), to: quad},
		{name: "zero rate output", from: buffer.Canonical, to: buffer.Format{Channels: 1, SampleFormat: buffer.Float32}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.from, tt.to); !errors.Is(err, buffer.ErrFormat) {
				t.Fatalf("New() error = %v, want ErrFormat", err)
			}
		})
	}
}

func TestIdentityIsExact(t *testing.T) {
	c, err := New(buffer.Canonical, buffer.Canonical)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := buffer.FromSamples(buffer.Canonical, []float32{0.1, -0.2, 0.3, 1, -1})
	dst := buffer.New(buffer.Canonical, 8)
	if err := c.Process(dst, src); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if dst.Frames() != src.Frames() {
		t.Fatalf("Frames() = %d, want %d", dst.Frames(), src.Frames())
	}
	for i, v := range dst.Samples() {
		if v != src.Samples()[i] {
			t.Fatalf("sample %d = %v, want %v", i, v, src.Samples()[i])
		}
	}
}

func TestDownmixAverages(t *testing.T) {
	c, err := New(stereo(16000), buffer.Canonical)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := buffer.FromSamples(stereo(16000), []float32{1, 0, 0.5, 0.5, -1, 1})
	dst := buffer.New(buffer.Canonical, 4)
	if err := c.Process(dst, src); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	want := []float32{0.5, 0.5, 0}
	for i, v := range dst.Samples() {
		if v != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestDuplicateMono(t *testing.T) {
	c, err := New(buffer.Canonical, stereo(16000))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := buffer.FromSamples(buffer.Canonical, []float32{0.25, -0.75})
	dst := buffer.New(stereo(16000), 2)
	if err := c.Process(dst, src); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	want := []float32{0.25, 0.25, -0.75, -0.75}
	for i, v := range dst.Samples() {
		if v != want[i] {
			t.Fatalf("sample %d = %v, want %v", i, v, want[i])
		}
	}
}

func TestResampleStereo48kToCanonical(t *testing.T) {
	from := stereo(48000)
	c, err := New(from, buffer.Canonical, WithMaxInputFrames(480))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	in := make([]float32, 480*2)
	dst := buffer.New(buffer.Canonical, buffer.ConvertedCapacity(480, from, buffer.Canonical))
	var tail []float32
	for block := range 10 {
		for f := range 480 {
			v := float32(0.5 * math.Sin(2*math.Pi*440*float64(block*480+f)/48000))
			in[2*f], in[2*f+1] = v, v
		}
		if err := c.Process(dst, buffer.FromSamples(from, in)); err != nil {
			t.Fatalf("block %d: Process() error = %v", block, err)
		}
		if dst.Frames() != 160 {
			t.Fatalf("block %d: Frames() = %d, want 160", block, dst.Frames())
		}
		tail = append(tail[:0], dst.Samples()...)
	}

	var peak float32
	for _, v := range tail {
		peak = max(peak, float32(math.Abs(float64(v))))
	}
	if peak < 0.45 || peak > 0.55 {
		t.Fatalf("steady-state peak = %v, want ~0.5", peak)
	}
}

func TestConvertPullStatuses(t *testing.T) {
	c, err := New(buffer.Canonical, buffer.Canonical)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	dst := buffer.New(buffer.Canonical, 4)

	st, err := c.Convert(dst, nil)
	if st != NoDataNow || err != nil {
		t.Fatalf("Convert(nil pull) = (%v, %v), want (no-data-now, nil)", st, err)
	}

	st, _ = c.Convert(dst, func() (*buffer.Buffer, Status) { return nil, EndOfStream })
	if st != EndOfStream {
		t.Fatalf("Convert() status = %v, want end-of-stream", st)
	}

	calls := 0
	pull := func() (*buffer.Buffer, Status) {
		calls++
		return buffer.FromSamples(buffer.Canonical, []float32{1, 2}), HaveData
	}
	st, err = c.Convert(dst, pull)
	if st != HaveData || err != nil || dst.Frames() != 2 {
		t.Fatalf("Convert() = (%v, %v) frames %d, want (have-data, nil) frames 2", st, err, dst.Frames())
	}

	c.Feed(buffer.FromSamples(buffer.Canonical, []float32{3}))
	if !c.Pending() {
		t.Fatal("Pending() = false after Feed")
	}
	if _, err := c.Convert(dst, pull); err != nil {
		t.Fatalf("Convert() error = %v", err)
	}
	if calls != 1 {
		t.Fatalf("pull called %d times, want 1 (pending block must be used first)", calls)
	}
	if dst.Samples()[0] != 3 {
		t.Fatalf("Convert() used %v, want the fed block", dst.Samples())
	}
}

func TestConvertShortDestination(t *testing.T) {
	c, err := New(buffer.Canonical, buffer.Canonical)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = c.Process(buffer.New(buffer.Canonical, 1), buffer.FromSamples(buffer.Canonical, []float32{1, 2}))
	if !errors.Is(err, ErrShortBuffer) {
		t.Fatalf("Process() error = %v, want ErrShortBuffer", err)
	}
}

func TestConvertChannelMismatch(t *testing.T) {
	c, err := New(stereo(16000), buffer.Canonical)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	err = c.Process(buffer.New(buffer.Canonical, 4), buffer.FromSamples(buffer.Canonical, []float32{1}))
	if !errors.Is(err, buffer.ErrFormat) {
		t.Fatalf("Process() error = %v, want ErrFormat", err)
	}
}

func TestProcessResampledDoesNotAllocate(t *testing.T) {
	from := buffer.Mono(48000)
	c, err := New(from, buffer.Canonical, WithMaxInputFrames(480))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	src := buffer.FromSamples(from, make([]float32, 480))
	dst := buffer.New(buffer.Canonical, c.OutputCapacity(480))

	allocs := testing.AllocsPerRun(50, func() {
		_ = c.Process(dst, src)
	})
	if allocs != 0 {
		t.Fatalf("Process allocated %v times per run, want 0", allocs)
	}
}
