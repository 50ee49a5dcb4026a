package engine

import (
	"bytes"
	"sync"
)

// boundedBuffer keeps at most limit bytes. Writes never fail so the child
// is never blocked on a full pipe; the excess is dropped and flagged.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
	onLimit   func()
}

func newBoundedBuffer(limit int64, onLimit func()) *boundedBuffer {
	if limit <= 0 {
		limit = defaultOutputBytes
	}
	return &boundedBuffer{limit: int(limit), onLimit: onLimit}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	remaining := b.limit - b.buf.Len()
	if remaining >= len(p) {
		b.buf.Write(p)
		b.mu.Unlock()
		return len(p), nil
	}
	if remaining > 0 {
		b.buf.Write(p[:remaining])
	}
	first := !b.truncated
	b.truncated = true
	b.mu.Unlock()

	if first && b.onLimit != nil {
		b.onLimit()
	}
	return len(p), nil
}

func (b *boundedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func (b *boundedBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
