package agent

import (
	"sync"
)

// tailBuffer keeps the last size bytes written to it. It captures agent stderr
// so a failing process can be reported without holding unbounded output.
type tailBuffer struct {
	mu   sync.Mutex
	buf  []byte
	size int
	head int
	full bool
}

func newTailBuffer(size int) *tailBuffer {
	if size <= 0 {
		size = 4 * 1024
	}
	return &tailBuffer{buf: make([]byte, size), size: size}
}

// Write implements io.Writer. Oldest bytes are overwritten once the buffer is full.
func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if n >= t.size {
		copy(t.buf, p[n-t.size:])
		t.head = 0
		t.full = true
		return n, nil
	}
	for _, b := range p {
		t.buf[t.head] = b
		t.head = (t.head + 1) % t.size
		if t.head == 0 {
			t.full = true
		}
	}
	return n, nil
}

// String returns the retained bytes in write order.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.full {
		return string(t.buf[:t.head])
	}
	return string(t.buf[t.head:]) + string(t.buf[:t.head])
}
