package graph

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// RootMode is the name of the single dry voice mode.
const RootMode = "Root"

var (
	errEmptyChordName = errors.New("graph: empty chord mode name")
	errDuplicateChord = errors.New("graph: duplicate chord mode")
	errChordRoot      = errors.New("graph: chord offsets must start with the root (0 cents)")
)

// ChordMode names a set of pitch offsets in cents. Offsets[0] is the root
// and is always 0; the remaining entries are harmony intervals.
type ChordMode struct {
	Name    string
	Offsets []float64
}

// Voices returns the number of voices the mode asks for, root included.
func (m ChordMode) Voices() int { return len(m.Offsets) }

// ChordTable maps chord mode names to their offsets. It is safe for
// concurrent use.
type ChordTable struct {
	mu    sync.RWMutex
	modes map[string]ChordMode
	names []string
}

// NewChordTable returns an empty table.
func NewChordTable() *ChordTable {
	return &ChordTable{modes: make(map[string]ChordMode)}
}

// DefaultChords returns a table with the Major, Minor, Dom7, Dim7 and Root
// modes.
func DefaultChords() *ChordTable {
	t := NewChordTable()
	t.MustRegister(ChordMode{Name: "Major", Offsets: []float64{0, 400, 700}})
	t.MustRegister(ChordMode{Name: "Minor", Offsets: []float64{0, 300, 700}})
	t.MustRegister(ChordMode{Name: "Dom7", Offsets: []float64{0, 400, 700, 1000}})
	t.MustRegister(ChordMode{Name: "Dim7", Offsets: []float64{0, 300, 600, 900}})
	t.MustRegister(ChordMode{Name: RootMode, Offsets: []float64{0}})
	return t
}

// Register adds a mode. Names must be unique and non-empty; offsets must
// start with 0.
func (t *ChordTable) Register(m ChordMode) error {
	if m.Name == "" {
		return errEmptyChordName
	}
	if len(m.Offsets) == 0 || m.Offsets[0] != 0 {
		return fmt.Errorf("%w: %s", errChordRoot, m.Name)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.modes[m.Name]; exists {
		return fmt.Errorf("%w: %s", errDuplicateChord, m.Name)
	}
	m.Offsets = slices.Clone(m.Offsets)
	t.modes[m.Name] = m
	t.names = append(t.names, m.Name)
	return nil
}

// MustRegister is like Register but panics on error.
func (t *ChordTable) MustRegister(m ChordMode) {
	if err := t.Register(m); err != nil {
		panic("chord table: " + err.Error())
	}
}

// Lookup returns the mode registered under name.
func (t *ChordTable) Lookup(name string) (ChordMode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.modes[name]
	if !ok {
		return ChordMode{}, false
	}
	m.Offsets = slices.Clone(m.Offsets)
	return m, true
}

// Names returns the registered names in registration order.
func (t *ChordTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.names)
}
