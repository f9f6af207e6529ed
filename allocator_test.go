package coffer

import "testing"

func TestAllocatorFreshBitmapIsAllFree(t *testing.T) {
	dev := newMemDevice()
	a := NewAllocator(dev, 0, 64)

	total, free, err := a.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if total != 64 || free != 64 {
		t.Fatalf("got total=%d free=%d, want total=64 free=64", total, free)
	}
}

func TestAllocatorMarkAndQuery(t *testing.T) {
	dev := newMemDevice()
	a := NewAllocator(dev, 0, 64)

	if err := a.MarkInUse(5); err != nil {
		t.Fatalf("MarkInUse: %v", err)
	}
	inUse, err := a.IsInUse(5)
	if err != nil {
		t.Fatalf("IsInUse: %v", err)
	}
	if !inUse {
		t.Fatalf("block 5 should be in use")
	}
	if inUse, _ := a.IsInUse(4); inUse {
		t.Fatalf("block 4 should still be free")
	}

	if err := a.MarkFree(5); err != nil {
		t.Fatalf("MarkFree: %v", err)
	}
	if inUse, _ := a.IsInUse(5); inUse {
		t.Fatalf("block 5 should be free again")
	}
}

func TestAllocatorAllocateNDoesNotMark(t *testing.T) {
	dev := newMemDevice()
	a := NewAllocator(dev, 0, 16)

	ids, err := a.AllocateN(3)
	if err != nil {
		t.Fatalf("AllocateN: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("got %d ids, want 3", len(ids))
	}
	for i, id := range ids {
		if id != BlockID(i) {
			t.Fatalf("ids[%d] = %d, want %d (ascending scan)", i, id, i)
		}
		if inUse, _ := a.IsInUse(id); inUse {
			t.Fatalf("AllocateN must not mark block %d in use", id)
		}
	}

	// Scanning again without marking returns the same blocks.
	ids2, err := a.AllocateN(3)
	if err != nil {
		t.Fatalf("AllocateN (second scan): %v", err)
	}
	for i := range ids {
		if ids[i] != ids2[i] {
			t.Fatalf("second AllocateN scan diverged: %v vs %v", ids, ids2)
		}
	}
}

func TestAllocatorOutOfSpace(t *testing.T) {
	dev := newMemDevice()
	a := NewAllocator(dev, 0, 4)
	for b := BlockID(0); b < 4; b++ {
		if err := a.MarkInUse(b); err != nil {
			t.Fatalf("MarkInUse(%d): %v", b, err)
		}
	}
	if _, err := a.AllocateN(1); err != ErrOutOfSpace {
		t.Fatalf("AllocateN on a full bitmap: got %v, want ErrOutOfSpace", err)
	}
}

func TestAllocatorSparseBitmapReadsAsFree(t *testing.T) {
	dev := newMemDevice()
	a := NewAllocator(dev, 128, 800) // bitmap region never written to the backing buffer
	inUse, err := a.IsInUse(700)
	if err != nil {
		t.Fatalf("IsInUse on sparse bitmap: %v", err)
	}
	if inUse {
		t.Fatalf("an untouched sparse bitmap region must read as free")
	}
}
