package control

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultPollInterval is the gesture polling period.
const DefaultPollInterval = 10 * time.Millisecond

// LabelSource yields the most recent classifier label. An empty label means
// no gesture.
type LabelSource interface {
	Label() string
}

// Target receives commands.
type Target interface {
	ApplyCommand(cmd Command) error
	PlayingVoice() bool
}

// LatestLabel is a LabelSource holding the last label stored. The zero value
// is ready to use.
type LatestLabel struct {
	v atomic.Pointer[string]
}

// Set stores label.
func (l *LatestLabel) Set(label string) { l.v.Store(&label) }

// Label returns the last stored label.
func (l *LatestLabel) Label() string {
	if p := l.v.Load(); p != nil {
		return *p
	}
	return ""
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithInterval sets the polling period.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithGestures replaces the default gesture bindings.
func WithGestures(m *GestureMap) PollerOption { return func(p *Poller) { p.gestures = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PollerOption { return func(p *Poller) { p.logger = l } }

// Poller reads a label every interval and applies the mapped commands.
// Repeated labels are applied again on every tick; the session commands are
// idempotent.
type Poller struct {
	src      LabelSource
	target   Target
	gestures *GestureMap
	interval time.Duration
	logger   *slog.Logger
}

// NewPoller returns a poller reading src and driving target.
func NewPoller(src LabelSource, target Target, opts ...PollerOption) *Poller {
	p := &Poller{
		src:      src,
		target:   target,
		interval: DefaultPollInterval,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.gestures == nil {
		p.gestures = DefaultGestures()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Interval returns the polling period.
func (p *Poller) Interval() time.Duration { return p.interval }

// Poll runs one tick and returns the number of commands applied.
func (p *Poller) Poll() int {
	label := p.src.Label()
	if label == GestureUnspecified || label == GestureNone {
		return 0
	}
	cmds := p.gestures.Commands(label, p.target.PlayingVoice())
	for _, cmd := range cmds {
		if err := p.target.ApplyCommand(cmd); err != nil {
			p.logger.Warn("command failed", "gesture", label, "command", cmd.String(), "err", err)
		}
	}
	return len(cmds)
}

// Run polls until ctx is cancelled and returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			p.Poll()
		}
	}
}
