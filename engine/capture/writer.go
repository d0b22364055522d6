package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
)

const (
	DefaultQueueLength = 32
	DefaultBlockFrames = 1024
)

// File is the destination of a capture.
type File interface {
	io.WriteSeeker
	io.Closer
}

// Opener creates a capture file at path, truncating any existing one.
type Opener func(path string) (File, error)

// CreateFile is the Opener backed by the operating system.
func CreateFile(path string) (File, error) {
	return os.Create(path)
}

// WriterOption configures a Writer.
type WriterOption func(*writerConfig)

type writerConfig struct {
	queue       int
	blockFrames int
	logger      *slog.Logger
}

// WithQueueLength sets how many blocks may wait for the writer goroutine.
func WithQueueLength(n int) WriterOption {
	return func(c *writerConfig) {
		if n > 0 {
			c.queue = n
		}
	}
}

// WithBlockFrames sets the frames per queued block. Submit splits longer
// blocks.
func WithBlockFrames(n int) WriterOption {
	return func(c *writerConfig) {
		if n > 0 {
			c.blockFrames = n
		}
	}
}

// WithWriterLogger sets the logger for write failures.
func WithWriterLogger(l *slog.Logger) WriterOption {
	return func(c *writerConfig) { c.logger = l }
}

// Writer appends PCM16 blocks to a WAV file from its own goroutine.
type Writer struct {
	path   string
	format buffer.Format
	logger *slog.Logger

	sink *FileSink

	pool  *buffer.Pool
	queue chan *buffer.Buffer
	done  chan struct{}
	wg    sync.WaitGroup

	closed  atomic.Bool
	dropped atomic.Uint64

	// writer goroutine
	err error

	closeOnce sync.Once
	closeErr  error
}

// Create opens path with open and starts a Writer on it. Failures wrap
// ErrFileIO.
func Create(open Opener, path string, format buffer.Format, opts ...WriterOption) (*Writer, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if open == nil {
		open = CreateFile
	}
	f, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %w", ErrFileIO, path, err)
	}
	w, err := NewWriter(f, format, opts...)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	w.path = path
	return w, nil
}

// NewWriter starts a Writer on f. The WAV header is written immediately so
// that a capture closed without blocks is still a valid file.
func NewWriter(f File, format buffer.Format, opts ...WriterOption) (*Writer, error) {
	cfg := writerConfig{queue: DefaultQueueLength, blockFrames: DefaultBlockFrames}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	sink, err := NewFileSink(f, format, cfg.blockFrames)
	if err != nil {
		return nil, err
	}
	w := &Writer{
		format: format,
		logger: cfg.logger,
		sink:   sink,
		pool:   buffer.NewPool(format, cfg.blockFrames, cfg.queue),
		queue:  make(chan *buffer.Buffer, cfg.queue),
		done:   make(chan struct{}),
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Path returns the file path, empty for writers built on a bare File.
func (w *Writer) Path() string { return w.path }

// Format returns the format of submitted blocks.
func (w *Writer) Format() buffer.Format { return w.format }

// Dropped returns the number of blocks discarded because the queue was full.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Frames returns the number of frames written to the file so far.
func (w *Writer) Frames() uint64 { return w.sink.Frames() }

// Submit queues a copy of buf for writing. It never blocks or allocates and
// reports whether every frame was accepted. Blocks longer than the
// configured block size are split; when the queue fills up the remainder is
// dropped.
func (w *Writer) Submit(buf *buffer.Buffer) bool {
	if buf == nil || buf.Frames() == 0 || w.closed.Load() || buf.Channels() != w.format.Channels {
		return false
	}
	samples := buf.Samples()
	for len(samples) > 0 {
		b, ok := w.pool.Get()
		if !ok {
			w.dropped.Add(1)
			return false
		}
		b.SetFrameLength(0)
		n := b.Append(samples)
		samples = samples[n*buf.Channels():]
		select {
		case w.queue <- b:
		default:
			w.pool.Put(b)
			w.dropped.Add(1)
			return false
		}
	}
	return true
}

func (w *Writer) run() {
	defer w.wg.Done()
	for {
		select {
		case b := <-w.queue:
			w.write(b)
		case <-w.done:
			for {
				select {
				case b := <-w.queue:
					w.write(b)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) write(b *buffer.Buffer) {
	defer w.pool.Put(b)
	if w.err != nil {
		return
	}
	if err := w.sink.Write(b.Samples()); err != nil {
		w.err = err
		w.logger.Error("capture write failed; dropping further blocks", "path", w.path, "err", err)
	}
}

// Close flushes queued blocks, finalises the WAV header and closes the file.
// It is safe to call more than once and concurrently with Submit.
func (w *Writer) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.done)
		w.wg.Wait()

		w.closeErr = errors.Join(w.err, w.sink.Close())
	})
	return w.closeErr
}
