package arena

import (
	"os"
	"path/filepath"
	"testing"
)

func TestHeapArena_AllocAligned(t *testing.T) {
	a := NewHeap(1024)

	off1, err := a.Alloc(3, 1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if off1 != 0 {
		t.Errorf("first offset = %d, want 0", off1)
	}

	off2, err := a.Alloc(8, 8)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if off2%8 != 0 {
		t.Errorf("offset %d not 8-aligned", off2)
	}
	if off2 < 3 {
		t.Errorf("offset %d overlaps previous allocation", off2)
	}
	if a.Used() != off2+8 {
		t.Errorf("Used() = %d, want %d", a.Used(), off2+8)
	}
}

func TestHeapArena_InvalidAlign(t *testing.T) {
	a := NewHeap(64)
	for _, align := range []int64{0, -1, 3, 6, 12} {
		if _, err := a.Alloc(8, align); err != ErrInvalidAlign {
			t.Errorf("Alloc(align=%d) err = %v, want ErrInvalidAlign", align, err)
		}
	}
}

func TestHeapArena_OverflowRejected(t *testing.T) {
	a := NewHeap(64)
	if _, err := a.Alloc(-1, 1); err != ErrOverflow {
		t.Errorf("negative size err = %v, want ErrOverflow", err)
	}

	a.Alloc(8, 1)
	if _, err := a.Alloc(1<<63-1, 8); err != ErrOverflow {
		t.Errorf("huge size err = %v, want ErrOverflow", err)
	}
}

func TestHeapArena_GrowsByDoubling(t *testing.T) {
	a := NewHeap(16)
	off, err := a.Alloc(100, 1)
	if err != nil {
		t.Fatalf("Alloc past capacity: %v", err)
	}
	if a.Cap() < 100 {
		t.Errorf("Cap() = %d, want >= 100 after growth", a.Cap())
	}

	// The grown buffer must retain earlier writes.
	copy(a.Bytes()[off:off+3], "abc")
	a.Alloc(500, 1)
	if string(a.Bytes()[off:off+3]) != "abc" {
		t.Error("growth lost previously written bytes")
	}
}

func TestHeapArena_ResetAndResetSecure(t *testing.T) {
	a := NewHeap(64)
	off, _ := a.Alloc(4, 1)
	copy(a.Bytes()[off:off+4], "data")

	a.Reset()
	if a.Used() != 0 {
		t.Errorf("Used() after Reset = %d, want 0", a.Used())
	}
	if string(a.Bytes()[off:off+4]) != "data" {
		t.Error("Reset should not zero the region")
	}

	a.Alloc(4, 1)
	a.ResetSecure()
	if a.Used() != 0 {
		t.Errorf("Used() after ResetSecure = %d, want 0", a.Used())
	}
	for i, b := range a.Bytes()[:4] {
		if b != 0 {
			t.Fatalf("byte %d = %x after ResetSecure, want 0", i, b)
		}
	}
}

func TestHeapArena_SetUsed(t *testing.T) {
	a := NewHeap(16)
	a.SetUsed(200)
	if a.Used() != 200 {
		t.Errorf("Used() = %d, want 200", a.Used())
	}
	if a.Cap() < 200 {
		t.Errorf("Cap() = %d, want >= 200 after SetUsed past capacity", a.Cap())
	}
}

func TestMmapArena_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.arena")

	a, err := OpenMmap(path, 4096)
	if err != nil {
		t.Fatalf("OpenMmap: %v", err)
	}

	off, err := a.Alloc(5, 1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	copy(a.Bytes()[off:off+5], "hello")

	if err := a.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	used := a.Used()
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen and replay the bump pointer the way the node table does.
	b, err := OpenMmap(path, 4096)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer b.Close()
	b.SetUsed(used)

	if string(b.Bytes()[off:off+5]) != "hello" {
		t.Error("bytes did not survive close/reopen")
	}
	if b.Used() != used {
		t.Errorf("Used() = %d, want %d", b.Used(), used)
	}
}

func TestMmapArena_GrowPreservesData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "grow.arena")

	a, err := OpenMmap(path, 4096)
	if err != nil {
		t.Fatalf("OpenMmap: %v", err)
	}
	defer a.Close()

	off, _ := a.Alloc(4, 1)
	copy(a.Bytes()[off:off+4], "keep")

	// Force growth well past the initial mapping.
	if _, err := a.Alloc(64<<10, 1); err != nil {
		t.Fatalf("Alloc forcing growth: %v", err)
	}

	if string(a.Bytes()[off:off+4]) != "keep" {
		t.Error("growth lost previously written bytes")
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() < 64<<10 {
		t.Errorf("backing file size = %d, want >= 64KiB after growth", info.Size())
	}
}

func TestMmapArena_FailedGrowKeepsMapping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "failgrow.arena")

	a, err := OpenMmap(path, 4096)
	if err != nil {
		t.Fatalf("OpenMmap: %v", err)
	}
	defer a.Close()

	off, err := a.Alloc(4, 1)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	copy(a.Bytes()[off:off+4], "safe")
	used := a.Used()

	// Close the backing file so the next truncate fails, standing in for
	// a full disk. Growth must fail without touching the live mapping.
	a.file.Close()

	if err := a.Grow(1 << 20); err == nil {
		t.Fatal("Grow with an unusable backing file should fail")
	}
	if _, err := a.Alloc(1<<20, 1); err == nil {
		t.Fatal("Alloc requiring growth should fail")
	}

	if got := int64(len(a.Bytes())); got != 4096 {
		t.Errorf("mapping size after failed growth = %d, want 4096", got)
	}
	if string(a.Bytes()[off:off+4]) != "safe" {
		t.Error("failed growth corrupted the existing mapping")
	}
	if a.Used() != used {
		t.Errorf("Used() after failed growth = %d, want %d", a.Used(), used)
	}

	// Small allocations within the existing capacity still work.
	if _, err := a.Alloc(8, 1); err != nil {
		t.Errorf("in-capacity Alloc after failed growth: %v", err)
	}
}

func TestMmapArena_AlignAndErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "align.arena")
	a, err := OpenMmap(path, 4096)
	if err != nil {
		t.Fatalf("OpenMmap: %v", err)
	}
	defer a.Close()

	if _, err := a.Alloc(8, 5); err != ErrInvalidAlign {
		t.Errorf("bad align err = %v, want ErrInvalidAlign", err)
	}
	if _, err := a.Alloc(-2, 1); err != ErrOverflow {
		t.Errorf("negative size err = %v, want ErrOverflow", err)
	}

	off, err := a.Alloc(16, 16)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if off%16 != 0 {
		t.Errorf("offset %d not 16-aligned", off)
	}
}
