package session

import (
	"github.com/cwbudde/algo-harmony/engine/transport"
	"github.com/cwbudde/algo-harmony/stats/level"
)

// Status is a snapshot for display.
type Status struct {
	Lifecycle Lifecycle
	// AudioUnavailable is set once MaxStartFailures consecutive starts
	// failed, and cleared by the next successful start.
	AudioUnavailable bool
	StartFailures    int
	Transport        transport.State
	Mode             string
	Pitches          []float64
	Level            level.Reading
	// Dropped counts capture blocks lost because the file writer fell
	// behind.
	Dropped uint64
	// ConvertErrors counts input blocks the converter rejected.
	ConvertErrors uint64
}

// Status returns the current status.
func (s *Session) Status() Status {
	st := Status{
		Lifecycle:        s.Lifecycle(),
		AudioUnavailable: s.unavailable.Load(),
		Level:            s.meter.Reading(),
	}
	s.mu.Lock()
	st.StartFailures = s.startFailures
	s.mu.Unlock()

	if p := s.pipe.Load(); p != nil {
		st.Transport = p.transport.State()
		st.Mode = p.graph.Mode().Name
		st.Pitches = p.graph.Pitches()
		st.Dropped = p.transport.Dropped()
		st.ConvertErrors = p.convErrs.Load()
	}
	return st
}
