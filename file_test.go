package coffer

import (
	"bytes"
	"io"
	"testing"
)

func newTestFile(t *testing.T, dev BlockDevice, alloc *Allocator, mode OpenMode) *File {
	t.Helper()
	return NewFile(dev, alloc, testDataAreaOrigin, testBlockSize, mode)
}

func TestFileGrowsAcrossMultipleBlocks(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 64)
	f := newTestFile(t, dev, alloc, OpenMode{Access: ReadWrite, Append: ModeAppend, Truncate: ModeKeep})

	capacity := int(f.blockDataCapacity())
	payload := bytes.Repeat([]byte{'a'}, capacity*3+7)
	n, err := f.Write(payload)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write returned %d, want %d", n, len(payload))
	}
	if f.Size() != int64(len(payload)) {
		t.Fatalf("Size() = %d, want %d", f.Size(), len(payload))
	}
	if f.BlockCount() != 4 {
		t.Fatalf("BlockCount() = %d, want 4", f.BlockCount())
	}
}

func TestFileWriteReadRoundTripReopened(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 64)
	f := newTestFile(t, dev, alloc, OpenMode{Access: ReadWrite, Append: ModeAppend, Truncate: ModeKeep})

	capacity := int(f.blockDataCapacity())
	payload := bytes.Repeat([]byte{'b'}, capacity*2+13)
	if _, err := f.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}
	start, err := f.StartBlock()
	if err != nil {
		t.Fatalf("StartBlock: %v", err)
	}

	reopened, err := OpenFile(dev, alloc, testDataAreaOrigin, testBlockSize, start, OpenMode{Access: ReadOnly, Append: ModeOverwrite, Truncate: ModeKeep})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if reopened.Size() != int64(len(payload)) {
		t.Fatalf("reopened Size() = %d, want %d", reopened.Size(), len(payload))
	}
	got := make([]byte, len(payload))
	if _, err := io.ReadFull(reopened, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("round trip content mismatch")
	}
}

func TestFileOverwriteInPlaceDoesNotGrow(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 64)
	f := newTestFile(t, dev, alloc, OpenMode{Access: ReadWrite, Append: ModeAppend, Truncate: ModeKeep})
	if _, err := f.Write([]byte("0123456789")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if _, err := f.Seek(2, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	f.mode.Append = ModeOverwrite
	if _, err := f.Write([]byte("XY")); err != nil {
		t.Fatalf("overwrite Write: %v", err)
	}
	if f.Size() != 10 {
		t.Fatalf("Size() = %d, want 10 (overwrite within bounds must not grow)", f.Size())
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	got := make([]byte, 10)
	if _, err := io.ReadFull(f, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != "01XY456789" {
		t.Fatalf("got %q, want %q", got, "01XY456789")
	}
}

func TestFileOverwritePastEndPromotesToAppend(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 64)
	f := newTestFile(t, dev, alloc, OpenMode{Access: ReadWrite, Append: ModeAppend, Truncate: ModeKeep})
	capacity := int(f.blockDataCapacity())

	if _, err := f.Write(bytes.Repeat([]byte{'a'}, capacity)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.mode.Append = ModeOverwrite
	if _, err := f.Seek(int64(capacity), io.SeekStart); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if _, err := f.Write([]byte("tail")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if f.Size() != int64(capacity+4) {
		t.Fatalf("Size() = %d, want %d", f.Size(), capacity+4)
	}
	if f.BlockCount() != 2 {
		t.Fatalf("BlockCount() = %d, want 2", f.BlockCount())
	}
}

func TestFileSeekFromEndAndCurrent(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 64)
	f := newTestFile(t, dev, alloc, OpenMode{Access: ReadWrite, Append: ModeAppend, Truncate: ModeKeep})
	if _, err := f.Write([]byte("abcdefghij")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	pos, err := f.Seek(-3, io.SeekEnd)
	if err != nil {
		t.Fatalf("Seek from end: %v", err)
	}
	if pos != 7 {
		t.Fatalf("Seek(-3, End) = %d, want 7", pos)
	}
	b := make([]byte, 3)
	if _, err := io.ReadFull(f, b); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(b) != "hij" {
		t.Fatalf("got %q, want hij", b)
	}

	pos, err = f.Seek(-2, io.SeekCurrent)
	if err != nil {
		t.Fatalf("Seek from current: %v", err)
	}
	if pos != 8 {
		t.Fatalf("Seek(-2, Current) = %d, want 8", pos)
	}
}

func TestFileTruncateShrinksAndFreesBlocks(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 64)
	f := newTestFile(t, dev, alloc, OpenMode{Access: ReadWrite, Append: ModeAppend, Truncate: ModeKeep})
	capacity := int(f.blockDataCapacity())

	if _, err := f.Write(bytes.Repeat([]byte{'z'}, capacity*3)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if f.BlockCount() != 3 {
		t.Fatalf("BlockCount() = %d, want 3", f.BlockCount())
	}

	newSize := int64(capacity + 5)
	if err := f.Truncate(newSize); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if f.Size() != newSize {
		t.Fatalf("Size() = %d, want %d", f.Size(), newSize)
	}
	if f.BlockCount() != 2 {
		t.Fatalf("BlockCount() = %d, want 2 after truncate", f.BlockCount())
	}

	total, free, err := alloc.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if free != total-2 {
		t.Fatalf("expected exactly the 2 surviving blocks marked in use, got free=%d total=%d", free, total)
	}
}

func TestFileUnlinkFreesEveryBlock(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 64)
	f := newTestFile(t, dev, alloc, OpenMode{Access: ReadWrite, Append: ModeAppend, Truncate: ModeKeep})
	capacity := int(f.blockDataCapacity())
	if _, err := f.Write(bytes.Repeat([]byte{'q'}, capacity*2+1)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := f.Unlink(); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	total, free, err := alloc.Stat()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if free != total {
		t.Fatalf("expected every block free after Unlink, got free=%d total=%d", free, total)
	}
	if f.Size() != 0 || f.BlockCount() != 0 {
		t.Fatalf("File state not reset after Unlink: size=%d blocks=%d", f.Size(), f.BlockCount())
	}
}

func TestFileReadOnlyRejectsWrite(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 64)
	f := newTestFile(t, dev, alloc, OpenMode{Access: ReadOnly, Append: ModeAppend, Truncate: ModeKeep})
	if _, err := f.Write([]byte("x")); err != ErrNotWritable {
		t.Fatalf("Write on read-only file: got %v, want ErrNotWritable", err)
	}
}

func TestFileWriteOnlyRejectsRead(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 64)
	f := newTestFile(t, dev, alloc, OpenMode{Access: WriteOnly, Append: ModeAppend, Truncate: ModeKeep})
	if _, err := f.Read(make([]byte, 1)); err != ErrNotReadable {
		t.Fatalf("Read on write-only file: got %v, want ErrNotReadable", err)
	}
}
