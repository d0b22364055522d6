package capture

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// memFile is an in-memory File. While gated, writes wait for release.
type memFile struct {
	mu     sync.Mutex
	data   []byte
	pos    int64
	closed bool

	gated   atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func newMemFile() *memFile {
	return &memFile{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (f *memFile) Write(p []byte) (int, error) {
	if f.gated.Load() {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, errors.New("write on closed file")
	}
	end := f.pos + int64(len(p))
	if end > int64(len(f.data)) {
		f.data = append(f.data, make([]byte, end-int64(len(f.data)))...)
	}
	copy(f.data[f.pos:], p)
	f.pos = end
	return len(p), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch whence {
	case io.SeekStart:
		f.pos = offset
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = int64(len(f.data)) + offset
	}
	return f.pos, nil
}

func (f *memFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *memFile) bytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.data...)
}
