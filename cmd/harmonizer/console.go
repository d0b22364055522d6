package main

import (
	"bufio"
	"io"
	"log/slog"
	"strings"

	"github.com/cwbudde/algo-harmony/engine/control"
	"github.com/cwbudde/algo-harmony/engine/session"
)

const consoleHelp = `harmonizer: type a gesture label and press enter.
  Pointing_Up   record and play the voice
  Closed_Fist   stop everything
  Thumb_Up, Thumb_Down, Open_Palm, Victory   Major, Minor, Dim7, Dom7 while playing
  None          no gesture
  route-change, interrupt-begin, interrupt-end, media-reset   host signals
  !<command>    apply a command, e.g. !set-chord-mode(Dom7) or !stop-all`

// console routes stdin lines to the label source, the signal dispatcher or
// the session.
type console struct {
	labels  *control.LatestLabel
	signals chan<- session.Signal
	target  control.Target
	logger  *slog.Logger
}

func newConsole(labels *control.LatestLabel, signals chan<- session.Signal, target control.Target, logger *slog.Logger) *console {
	return &console{labels: labels, signals: signals, target: target, logger: logger}
}

func (c *console) handle(line string) {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return
	case strings.HasPrefix(line, "!"):
		cmd, err := control.ParseCommand(strings.TrimSpace(line[1:]))
		if err != nil {
			c.logger.Warn("ignoring command", "err", err)
			return
		}
		if err := c.target.ApplyCommand(cmd); err != nil {
			c.logger.Warn("command failed", "command", cmd.String(), "err", err)
		}
		return
	}
	if sig, err := session.ParseSignal(line); err == nil {
		select {
		case c.signals <- sig:
		default:
			c.logger.Warn("signal queue full, dropping", "signal", sig.String())
		}
		return
	}
	c.labels.Set(line)
}

// readLines returns a channel receiving the lines of r until EOF. The
// reader goroutine exits with r, not with any context.
func readLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			ch <- sc.Text()
		}
	}()
	return ch
}
