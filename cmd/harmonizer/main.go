// Command harmonizer runs the real-time harmonizer engine.
//
// Gesture labels are read from stdin, one per line, and polled like the
// output of a hand-gesture classifier. Lines naming a host signal
// (route-change, interrupt-begin, interrupt-end, media-reset) are sent to
// the session's recovery handlers, and lines starting with '!' are applied
// as commands (for example "!set-chord-mode(Dom7)").
//
// Usage:
//
//	harmonizer [flags]
//
// Examples:
//
//	harmonizer -device oto -in voice.wav
//	printf 'Pointing_Up\n' | harmonizer -device file -in voice.wav -out out.wav
//	harmonizer -config harmonizer.yaml -load take.ogg
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/cwbudde/algo-harmony/engine/control"
	"github.com/cwbudde/algo-harmony/engine/session"
	"github.com/cwbudde/algo-harmony/internal/config"
	"github.com/cwbudde/algo-harmony/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults when empty)")
	deviceName := flag.String("device", "oto", "audio device: oto (speakers) or file")
	inPath := flag.String("in", "", "input audio file standing in for the microphone (required for -device file)")
	outPath := flag.String("out", "harmonized.wav", "output WAV file for -device file")
	loadPath := flag.String("load", "", "audio file to play instead of the live input")
	statusEvery := flag.Duration("status", 0, "log the session status at this interval (0 disables)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: harmonizer [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Reads gesture labels from stdin and renders pitch-shifted harmonies.\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "harmonizer: %v\n", err)
		return 1
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel.Slog()}))
	slog.SetDefault(logger)

	dev, err := openDevice(*deviceName, *inPath, *outPath, cfg, logger)
	if err != nil {
		logger.Error("failed to open audio device", "device", *deviceName, "err", err)
		return 1
	}

	s, err := session.New(cfg, dev, session.WithLogger(logger), session.WithMetrics(observe.DefaultMetrics()))
	if err != nil {
		logger.Error("failed to create session", "err", err)
		_ = dev.Close()
		return 1
	}
	code := serve(s, dev, cfg, *loadPath, *statusEvery, logger)
	// Closing the session closes the device and flushes the output file.
	if err := s.Close(); err != nil {
		logger.Warn("session close error", "err", err)
	}
	return code
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	cfg := config.Default()
	config.ApplyEnv(cfg)
	return cfg, config.Validate(cfg)
}

func serve(s *session.Session, dev *openedDevice, cfg *config.Config, loadPath string, statusEvery time.Duration, logger *slog.Logger) int {
	if err := s.Setup(); err != nil {
		logger.Error("session setup failed", "err", err)
		return 1
	}
	// A failed start is retried by the next recovery signal or gesture.
	if err := s.Start(); err != nil {
		logger.Warn("engine not started", "err", err)
	}
	if loadPath != "" {
		_ = s.Load(loadPath)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Fprintln(os.Stderr, consoleHelp)
	}

	var labels control.LatestLabel
	signals := make(chan session.Signal, 4)
	console := newConsole(&labels, signals, s, logger)
	lines := readLines(os.Stdin)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return control.NewPoller(&labels, s,
			control.WithInterval(cfg.Control.PollInterval),
			control.WithLogger(logger)).Run(gctx)
	})
	g.Go(func() error {
		return session.NewSignals(s, logger).Run(gctx, signals)
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case line, ok := <-lines:
				if !ok {
					// Piped labels end early; file rendering runs to the end
					// of its input.
					if dev.eof == nil {
						cancel()
					}
					return nil
				}
				console.handle(line)
			}
		}
	})
	if dev.eof != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-dev.eof:
				logger.Info("input exhausted")
				cancel()
			}
			return nil
		})
	}
	if statusEvery > 0 {
		g.Go(func() error { return logStatus(gctx, s, statusEvery, logger) })
	}

	logger.Info("harmonizer running", "device", dev.name, "poll_interval", cfg.Control.PollInterval)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("run error", "err", err)
		return 1
	}
	logger.Info("shutting down")
	return 0
}

func logStatus(ctx context.Context, s *session.Session, every time.Duration, logger *slog.Logger) error {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			st := s.Status()
			logger.Info("status",
				"state", st.Lifecycle.String(),
				"unavailable", st.AudioUnavailable,
				"mode", st.Mode,
				"pitches", st.Pitches,
				"recording", st.Transport.Recording,
				"voice", st.Transport.PlayingVoice,
				"harmonies", st.Transport.PlayingHarmonies,
				"peak_db", st.Level.PeakDB,
				"dropped", st.Dropped)
		}
	}
}
