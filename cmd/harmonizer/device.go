package main

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/algo-harmony/engine/capture"
	"github.com/cwbudde/algo-harmony/engine/device"
	"github.com/cwbudde/algo-harmony/engine/device/otodev"
	"github.com/cwbudde/algo-harmony/internal/config"
)

// openedDevice is a device plus what the command must close or watch.
type openedDevice struct {
	device.Device
	name string
	// eof is closed when a file input is exhausted; nil for live devices.
	eof  <-chan struct{}
	sink *capture.FileSink
}

// Close closes the device and flushes the output file.
func (d *openedDevice) Close() error {
	err := d.Device.Close()
	if d.sink != nil {
		err = errors.Join(err, d.sink.Close())
	}
	return err
}

func openDevice(name, in, out string, cfg *config.Config, logger *slog.Logger) (*openedDevice, error) {
	format := cfg.Format()
	var src device.Source
	blockFrames := cfg.Audio.BlockFrames
	if in != "" {
		buf, err := capture.DefaultRegistry().DecodeFile(in)
		if err != nil {
			return nil, err
		}
		// Blocks span the same duration in the input and the output.
		blockFrames = max(int(math.Round(float64(cfg.Audio.BlockFrames)*buf.Format().SampleRate/format.SampleRate)), 1)
		src = device.NewBufferSource(buf, name != "file")
		logger.Info("input file", "path", in, "format", buf.Format().String(), "seconds", buf.Duration())
	}

	switch name {
	case "oto":
		opts := []otodev.Option{
			otodev.WithOutputFormat(format),
			otodev.WithBlockFrames(blockFrames),
			otodev.WithLogger(logger),
		}
		if src != nil {
			opts = append(opts, otodev.WithSource(src))
		}
		d, err := otodev.New(opts...)
		if err != nil {
			return nil, err
		}
		return &openedDevice{Device: d, name: name}, nil

	case "file":
		if src == nil {
			return nil, errors.New("-device file needs -in")
		}
		sink, err := capture.CreateSink(capture.CreateFile, out, format)
		if err != nil {
			return nil, err
		}
		d, err := device.NewClocked(
			device.WithSource(src),
			device.WithSink(sink),
			device.WithOutputFormat(format),
			device.WithBlockFrames(blockFrames),
			device.WithLogger(logger))
		if err != nil {
			return nil, errors.Join(err, sink.Close())
		}
		logger.Info("rendering to file", "path", out)
		return &openedDevice{Device: d, name: name, eof: d.EOF(), sink: sink}, nil

	default:
		return nil, fmt.Errorf("unknown device %q (want oto or file)", name)
	}
}
