// Package control turns external events such as gesture labels into session
// commands and feeds them to the session at a fixed polling rate.
package control

import "fmt"

// Kind identifies a command.
type Kind int

const (
	// EnsureRunning restarts the audio device if it is not running.
	EnsureRunning Kind = iota
	StartRecording
	StopRecording
	// SetChordMode switches the harmony voices to Command.Mode.
	SetChordMode
	// StopAll stops recording and both players.
	StopAll
	PlayVoice
	StopVoice
	PlayHarmonies
	StopHarmonies
)

var kindNames = [...]string{
	EnsureRunning:  "ensure-running",
	StartRecording: "start-recording",
	StopRecording:  "stop-recording",
	SetChordMode:   "set-chord-mode",
	StopAll:        "stop-all",
	PlayVoice:      "play-voice",
	StopVoice:      "stop-voice",
	PlayHarmonies:  "play-harmonies",
	StopHarmonies:  "stop-harmonies",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Command is one request to the session.
type Command struct {
	Kind Kind
	// Mode is the chord mode name for SetChordMode.
	Mode string
}

// Chord returns a SetChordMode command for mode.
func Chord(mode string) Command { return Command{Kind: SetChordMode, Mode: mode} }

func (c Command) String() string {
	if c.Kind == SetChordMode {
		return c.Kind.String() + "(" + c.Mode + ")"
	}
	return c.Kind.String()
}

// ParseCommand parses the String form of a command, as typed on a console.
func ParseCommand(s string) (Command, error) {
	for k, name := range kindNames {
		if s == name {
			if Kind(k) == SetChordMode {
				break
			}
			return Command{Kind: Kind(k)}, nil
		}
	}
	prefix := SetChordMode.String() + "("
	if len(s) > len(prefix)+1 && s[:len(prefix)] == prefix && s[len(s)-1] == ')' {
		return Chord(s[len(prefix) : len(s)-1]), nil
	}
	return Command{}, fmt.Errorf("control: unknown command %q", s)
}
