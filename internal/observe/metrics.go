// Package observe holds the OpenTelemetry metric instruments recorded by the
// harmonizer session.
//
// Instruments are created from a [metric.MeterProvider]. [DefaultMetrics]
// uses the global provider, which is a no-op until the host installs one;
// tests should call [NewMetrics] with their own provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/cwbudde/algo-harmony"

// Metrics holds all metric instruments of the engine. All fields are safe
// for concurrent use.
type Metrics struct {
	// Commands counts applied control commands. Attribute: "command".
	Commands metric.Int64Counter

	// ChordChanges counts chord mode switches. Attribute: "mode".
	ChordChanges metric.Int64Counter

	// EngineStarts counts device start attempts. Attribute: "status".
	EngineStarts metric.Int64Counter

	// Signals counts host audio signals. Attribute: "signal".
	Signals metric.Int64Counter

	// DroppedBlocks counts capture blocks dropped because the writer fell
	// behind.
	DroppedBlocks metric.Int64Counter

	// AttachedVoices tracks the number of voices mixed into the output.
	AttachedVoices metric.Int64UpDownCounter
}

// NewMetrics creates the instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Commands, err = m.Int64Counter("harmonizer.commands",
		metric.WithDescription("Control commands applied to the session."),
	); err != nil {
		return nil, err
	}
	if met.ChordChanges, err = m.Int64Counter("harmonizer.chord.changes",
		metric.WithDescription("Chord mode switches by resulting mode."),
	); err != nil {
		return nil, err
	}
	if met.EngineStarts, err = m.Int64Counter("harmonizer.engine.starts",
		metric.WithDescription("Audio device start attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.Signals, err = m.Int64Counter("harmonizer.signals",
		metric.WithDescription("Host audio signals handled by the session."),
	); err != nil {
		return nil, err
	}
	if met.DroppedBlocks, err = m.Int64Counter("harmonizer.capture.dropped",
		metric.WithDescription("Capture blocks dropped because the file writer fell behind."),
		metric.WithUnit("{block}"),
	); err != nil {
		return nil, err
	}
	if met.AttachedVoices, err = m.Int64UpDownCounter("harmonizer.voices.attached",
		metric.WithDescription("Voices currently mixed into the output."),
		metric.WithUnit("{voice}"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level instance built from
// [otel.GetMeterProvider]. It panics if instrument creation fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordCommand counts one applied command.
func (m *Metrics) RecordCommand(ctx context.Context, command string) {
	m.Commands.Add(ctx, 1, metric.WithAttributes(attribute.String("command", command)))
}

// RecordChordChange counts a switch to mode and moves the attached voice
// gauge by delta.
func (m *Metrics) RecordChordChange(ctx context.Context, mode string, delta int64) {
	m.ChordChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	if delta != 0 {
		m.AttachedVoices.Add(ctx, delta)
	}
}

// RecordEngineStart counts a start attempt.
func (m *Metrics) RecordEngineStart(ctx context.Context, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.EngineStarts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordSignal counts a host signal.
func (m *Metrics) RecordSignal(ctx context.Context, signal string) {
	m.Signals.Add(ctx, 1, metric.WithAttributes(attribute.String("signal", signal)))
}

// RecordDropped adds n dropped capture blocks.
func (m *Metrics) RecordDropped(ctx context.Context, n uint64) {
	if n > 0 {
		m.DroppedBlocks.Add(ctx, int64(n))
	}
}
