package arena

import (
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// MmapArena is a file-backed arena mapped MAP_SHARED. Growing the arena
// truncates the backing file and remaps it; on this platform that always
// means unmap-then-remap, which invalidates every slice obtained from a
// prior Bytes() call.
type MmapArena struct {
	mu   sync.Mutex
	file *os.File
	data []byte // current mapping
	used int64
}

// OpenMmap opens (creating if necessary) a file at path and maps at least
// initialCap bytes of it. If the file already holds a larger size (reopen of
// an existing arena), that size is preserved. The bump pointer starts at 0;
// the caller (e.g. the node table) tracks its own bump pointer durably
// elsewhere and replays it with SetUsed.
func OpenMmap(path string, initialCap int64) (*MmapArena, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	size := info.Size()
	if size < initialCap {
		size = initialCap
	}
	if size == 0 {
		size = 64 << 10
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, err
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &MmapArena{file: f, data: data}, nil
}

// SetUsed restores the bump pointer after reopening an existing arena file;
// it is the node table's job to know how many bytes were in use at last
// close, since the arena itself has no record of logical boundaries.
func (m *MmapArena) SetUsed(used int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = used
}

func (m *MmapArena) Alloc(size, align int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if size < 0 {
		return 0, ErrOverflow
	}

	off, err := alignUp(m.used, align)
	if err != nil {
		return 0, err
	}
	if off > (1<<63-1)-size {
		return 0, ErrOverflow
	}
	end := off + size

	if end > int64(len(m.data)) {
		newCap := int64(len(m.data))
		if newCap == 0 {
			newCap = 64 << 10
		}
		for newCap < end {
			newCap *= 2
		}
		if err := m.growLocked(newCap); err != nil {
			return 0, err
		}
	}

	m.used = end
	return off, nil
}

// growLocked truncates the file and remaps it. Caller holds m.mu. The file
// grows before the mapping is touched, so a failed truncate (disk full)
// leaves the original mapping valid and the caller just sees a failed
// mutation.
func (m *MmapArena) growLocked(newCap int64) error {
	oldCap := int64(len(m.data))
	if err := m.file.Truncate(newCap); err != nil {
		return err
	}

	if oldCap > 0 {
		if err := unix.Munmap(m.data); err != nil {
			return err
		}
	}
	m.data = nil

	data, err := unix.Mmap(int(m.file.Fd()), 0, int(newCap), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		// Fall back to a mapping at the old size; the file only ever
		// grows, so that range is still backed. If even that fails the
		// arena stays empty and later calls error instead of touching
		// unmapped memory.
		if oldCap > 0 {
			if data, rerr := unix.Mmap(int(m.file.Fd()), 0, int(oldCap), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED); rerr == nil {
				m.data = data
			}
		}
		return err
	}
	m.data = data
	return nil
}

func (m *MmapArena) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

func (m *MmapArena) Used() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.used
}

func (m *MmapArena) Cap() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data))
}

func (m *MmapArena) Grow(newCap int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if newCap <= int64(len(m.data)) {
		return nil
	}
	return m.growLocked(newCap)
}

func (m *MmapArena) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.used = 0
}

func (m *MmapArena) ResetSecure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
	m.used = 0
}

func (m *MmapArena) Sync() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.data) == 0 {
		return nil
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

func (m *MmapArena) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data != nil {
		unix.Munmap(m.data)
		m.data = nil
	}
	return m.file.Close()
}
