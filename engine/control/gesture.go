package control

import "sync"

// Gesture labels delivered by the hand-gesture classifier.
const (
	GestureNone        = "None"
	GesturePointingUp  = "Pointing_Up"
	GestureClosedFist  = "Closed_Fist"
	GestureThumbUp     = "Thumb_Up"
	GestureThumbDown   = "Thumb_Down"
	GestureOpenPalm    = "Open_Palm"
	GestureVictory     = "Victory"
	GestureILoveYou    = "ILoveYou"
	GestureUnspecified = ""
)

// Binding is what a gesture label does.
type Binding struct {
	Commands []Command
	// RequiresVoice restricts the binding to while the voice player is
	// playing.
	RequiresVoice bool
}

// GestureMap maps gesture labels to commands. It is safe for concurrent use.
type GestureMap struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewGestureMap returns an empty map.
func NewGestureMap() *GestureMap {
	return &GestureMap{bindings: make(map[string]Binding)}
}

// DefaultGestures returns the bindings of the gesture demo: pointing up
// records and plays, a fist stops everything, and four gestures pick a chord
// while the voice is playing.
func DefaultGestures() *GestureMap {
	m := NewGestureMap()
	m.Bind(GesturePointingUp, Binding{Commands: []Command{
		{Kind: EnsureRunning}, {Kind: StartRecording}, {Kind: PlayVoice},
	}})
	m.Bind(GestureClosedFist, Binding{Commands: []Command{{Kind: StopAll}}})
	m.BindChord(GestureThumbUp, "Major")
	m.BindChord(GestureThumbDown, "Minor")
	m.BindChord(GestureOpenPalm, "Dim7")
	m.BindChord(GestureVictory, "Dom7")
	return m
}

// Bind sets the binding for label, replacing any previous one.
func (m *GestureMap) Bind(label string, b Binding) {
	b.Commands = append([]Command(nil), b.Commands...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bindings[label] = b
}

// BindChord binds label to switching to mode and playing the harmonies,
// honoured only while the voice is playing.
func (m *GestureMap) BindChord(label, mode string) {
	m.Bind(label, Binding{
		Commands:      []Command{Chord(mode), {Kind: PlayHarmonies}},
		RequiresVoice: true,
	})
}

// Unbind removes label.
func (m *GestureMap) Unbind(label string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, label)
}

// Commands returns the commands for label given whether the voice player is
// playing. Unknown labels yield nil.
func (m *GestureMap) Commands(label string, playingVoice bool) []Command {
	m.mu.RLock()
	b, ok := m.bindings[label]
	m.mu.RUnlock()
	if !ok || (b.RequiresVoice && !playingVoice) {
		return nil
	}
	return b.Commands
}
