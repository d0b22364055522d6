package session

import (
	"context"
	"fmt"
	"log/slog"
)

// Signal is a notification from the host audio system.
type Signal int

const (
	// RouteChange means an input or output device appeared or vanished.
	RouteChange Signal = iota
	InterruptionBegan
	InterruptionEnded
	// MediaServicesReset means the host audio services restarted and every
	// device handle is stale.
	MediaServicesReset
)

var signalNames = [...]string{
	RouteChange:        "route-change",
	InterruptionBegan:  "interrupt-begin",
	InterruptionEnded:  "interrupt-end",
	MediaServicesReset: "media-reset",
}

func (s Signal) String() string {
	if s >= 0 && int(s) < len(signalNames) {
		return signalNames[s]
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

// ParseSignal parses the String form of a signal.
func ParseSignal(name string) (Signal, error) {
	for i, n := range signalNames {
		if n == name {
			return Signal(i), nil
		}
	}
	return 0, fmt.Errorf("session: unknown signal %q", name)
}

// OnRouteChange restarts the engine if the route change stopped it.
func (s *Session) OnRouteChange() error {
	return s.CheckEngineIsRunning()
}

// OnInterruption handles the start and end of a host interruption such as
// an incoming call. When it begins, recording and playback are suspended
// and the device is stopped; the capture file stays open. When it ends,
// the engine is restarted and the suspended state resumes, appending to
// the same capture.
func (s *Session) OnInterruption(began bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	p := s.pipe.Load()
	if p == nil {
		return ErrNotSetup
	}

	if began {
		if s.interrupted == nil {
			s.interrupted = p.transport.Suspend()
		} else if err := p.transport.StopAll(); err != nil {
			s.logger.Warn("stopping transport for interruption", "err", err)
		}
		s.syncDroppedLocked(p)
		s.logger.Info("interruption began")
		return s.stopLocked()
	}

	if err := s.checkLocked(); err != nil {
		return err
	}
	if sus := s.interrupted; sus != nil {
		s.interrupted = nil
		if err := p.transport.Resume(sus); err != nil {
			s.logger.Warn("resuming transport after interruption", "err", err)
		}
	}
	s.logger.Info("interruption ended")
	return nil
}

// OnMediaServicesReset rebuilds the session.
func (s *Session) OnMediaServicesReset() error {
	return s.Reset()
}

// HandleSignal dispatches sig to its recovery method.
func (s *Session) HandleSignal(sig Signal) error {
	s.metrics.RecordSignal(context.Background(), sig.String())
	switch sig {
	case RouteChange:
		return s.OnRouteChange()
	case InterruptionBegan:
		return s.OnInterruption(true)
	case InterruptionEnded:
		return s.OnInterruption(false)
	case MediaServicesReset:
		return s.OnMediaServicesReset()
	default:
		return fmt.Errorf("session: unknown signal %s", sig)
	}
}

// SignalHandler handles host signals.
type SignalHandler interface {
	HandleSignal(sig Signal) error
}

// Signals feeds host signals from a channel into a handler.
type Signals struct {
	h      SignalHandler
	logger *slog.Logger
}

// NewSignals returns a dispatcher for h. A nil logger uses slog.Default().
func NewSignals(h SignalHandler, logger *slog.Logger) *Signals {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signals{h: h, logger: logger}
}

// Run dispatches signals until ctx is done or ch is closed. Handler errors
// are logged; recovery is retried on the next signal.
func (d *Signals) Run(ctx context.Context, ch <-chan Signal) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-ch:
			if !ok {
				return nil
			}
			if err := d.h.HandleSignal(sig); err != nil {
				d.logger.Warn("signal recovery failed", "signal", sig.String(), "err", err)
			}
		}
	}
}
