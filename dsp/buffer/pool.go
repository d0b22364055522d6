package buffer

// Pool is a bounded free list of preallocated Buffers of one Format.
//
// Get and Put never allocate and never block, so both may be called from a
// render goroutine. Buffers obtained from Get must be returned with Put once
// the consumer is done with them.
type Pool struct {
	format   Format
	capacity int
	free     chan *Buffer
}

// NewPool preallocates size buffers of capacity frames each.
func NewPool(f Format, capacity, size int) *Pool {
	size = max(size, 1)
	p := &Pool{format: f, capacity: capacity, free: make(chan *Buffer, size)}
	for range size {
		p.free <- New(f, capacity)
	}
	return p
}

// Get returns a free buffer with its frame length reset to zero, or nil and
// false when the pool is exhausted.
func (p *Pool) Get() (*Buffer, bool) {
	select {
	case b := <-p.free:
		b.frames = 0
		return b, true
	default:
		return nil, false
	}
}

// Put returns b to the pool. Buffers that do not belong to the pool's shape
// are dropped.
func (p *Pool) Put(b *Buffer) {
	if b == nil || b.Capacity() != p.capacity || b.Channels() != max(p.format.Channels, 1) {
		return
	}
	select {
	case p.free <- b:
	default:
	}
}

// Available returns the number of buffers currently free.
func (p *Pool) Available() int { return len(p.free) }

// Format returns the format of the pooled buffers.
func (p *Pool) Format() Format { return p.format }
