package arena

import "sync"

// HeapArena is a single malloc-backed arena that grows by doubling.
type HeapArena struct {
	mu   sync.Mutex
	buf  []byte
	used int64
}

// NewHeap creates a heap arena with the given initial capacity.
func NewHeap(initialCap int64) *HeapArena {
	if initialCap < 0 {
		initialCap = 0
	}
	return &HeapArena{buf: make([]byte, initialCap)}
}

func (h *HeapArena) Alloc(size, align int64) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if size < 0 {
		return 0, ErrOverflow
	}

	off, err := alignUp(h.used, align)
	if err != nil {
		return 0, err
	}
	if off > (1<<63-1)-size {
		return 0, ErrOverflow
	}
	end := off + size

	if end > int64(len(h.buf)) {
		newCap := int64(len(h.buf))
		if newCap == 0 {
			newCap = 64
		}
		for newCap < end {
			newCap *= 2
		}
		grown := make([]byte, newCap)
		copy(grown, h.buf)
		h.buf = grown
	}

	h.used = end
	return off, nil
}

func (h *HeapArena) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf
}

func (h *HeapArena) Used() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

func (h *HeapArena) SetUsed(used int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.used = used
	if used > int64(len(h.buf)) {
		grown := make([]byte, used)
		copy(grown, h.buf)
		h.buf = grown
	}
}

func (h *HeapArena) Cap() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return int64(len(h.buf))
}

func (h *HeapArena) Grow(newCap int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if newCap <= int64(len(h.buf)) {
		return nil
	}
	grown := make([]byte, newCap)
	copy(grown, h.buf)
	h.buf = grown
	return nil
}

func (h *HeapArena) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.used = 0
}

func (h *HeapArena) ResetSecure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.used = 0
}

func (h *HeapArena) Sync() error {
	return nil
}

func (h *HeapArena) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf = nil
	return nil
}
