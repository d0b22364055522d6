// Package device abstracts the audio hardware the engine runs on.
//
// A Device delivers input blocks in its own Format and asks for the same
// duration of output in OutputFormat through a single callback running on
// the device's render goroutine. Start and Stop return synchronously.
package device

import (
	"errors"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
)

// ErrEngineStart reports that the device could not be started.
var ErrEngineStart = errors.New("device: engine start failed")

// Callback processes one block. in holds the captured input, out must be
// filled with interleaved output samples. It runs on the render goroutine
// and must not block.
type Callback func(in *buffer.Buffer, out []float32)

// Device is an audio input/output endpoint.
type Device interface {
	// Format returns the format of input blocks.
	Format() buffer.Format
	// OutputFormat returns the format expected in out.
	OutputFormat() buffer.Format
	// BlockFrames returns the number of input frames per callback.
	BlockFrames() int
	// Start begins calling cb. Starting a running device is a no-op.
	Start(cb Callback) error
	// Stop halts callbacks. When Stop returns no callback is in flight.
	Stop() error
	// Running reports whether callbacks are being delivered.
	Running() bool
	// Close stops the device and releases it.
	Close() error
}
