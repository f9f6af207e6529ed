package coffer

import (
	"errors"
	"io"
)

// BlockID indexes a block within a container's data area, starting at 0.
type BlockID uint64

// Allocator is a bitmap-backed block allocator: one bit per block, set
// means in-use. It never caches the bitmap in memory, so every query and
// mutation is a single-byte read or write against the underlying
// BlockDevice at the bitmap's offset.
//
// AllocateN only scans for free blocks; it never marks them in-use. The
// caller sets the bit with MarkInUse (File does so as soon as it allocates
// a block). Callers that allocate and then decide not to use a block leave
// no trace in the bitmap at all.
//
// A bitmap byte that has never been written reads back as io.EOF, which
// this type treats as all-free, matching a sparsely created container
// image.
type Allocator struct {
	dev         BlockDevice
	bitmapOff   int64
	totalBlocks uint64
}

// NewAllocator binds an Allocator to the bitmap at bitmapOff, covering
// totalBlocks blocks.
func NewAllocator(dev BlockDevice, bitmapOff int64, totalBlocks uint64) *Allocator {
	return &Allocator{dev: dev, bitmapOff: bitmapOff, totalBlocks: totalBlocks}
}

func (a *Allocator) readByte(j uint64) (byte, error) {
	buf := make([]byte, 1)
	_, err := a.dev.ReadAt(buf, a.bitmapOff+int64(j))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, NewIOError("read bitmap byte", a.bitmapOff+int64(j), err)
	}
	return buf[0], nil
}

func (a *Allocator) writeByte(j uint64, v byte) error {
	if _, err := a.dev.WriteAt([]byte{v}, a.bitmapOff+int64(j)); err != nil {
		return NewIOError("write bitmap byte", a.bitmapOff+int64(j), err)
	}
	return nil
}

// IsInUse reports whether block b's bit is set.
func (a *Allocator) IsInUse(b BlockID) (bool, error) {
	if uint64(b) >= a.totalBlocks {
		return false, &ValidationError{Field: "block", Value: uint64(b), Message: "out of range"}
	}
	j, i := uint64(b)/8, uint64(b)%8
	byt, err := a.readByte(j)
	if err != nil {
		return false, err
	}
	return byt&(1<<i) != 0, nil
}

func (a *Allocator) setBit(b BlockID, v bool) error {
	j, i := uint64(b)/8, uint64(b)%8
	byt, err := a.readByte(j)
	if err != nil {
		return err
	}
	if v {
		byt |= 1 << i
	} else {
		byt &^= 1 << i
	}
	return a.writeByte(j, byt)
}

// MarkInUse sets block b's bit.
func (a *Allocator) MarkInUse(b BlockID) error { return a.setBit(b, true) }

// MarkFree clears block b's bit.
func (a *Allocator) MarkFree(b BlockID) error { return a.setBit(b, false) }

// AllocateN scans ascending from block 0 and returns the first n blocks
// whose bits are clear, without setting any of them. It returns
// ErrOutOfSpace if fewer than n free blocks exist.
func (a *Allocator) AllocateN(n int) ([]BlockID, error) {
	if n <= 0 {
		return nil, nil
	}
	result := make([]BlockID, 0, n)
	for b := uint64(0); b < a.totalBlocks && len(result) < n; b++ {
		inUse, err := a.IsInUse(BlockID(b))
		if err != nil {
			return nil, err
		}
		if !inUse {
			result = append(result, BlockID(b))
		}
	}
	if len(result) < n {
		return nil, ErrOutOfSpace
	}
	return result, nil
}

// Stat returns the total block count and the number currently free.
func (a *Allocator) Stat() (total, free uint64, err error) {
	total = a.totalBlocks
	for b := uint64(0); b < a.totalBlocks; b++ {
		inUse, e := a.IsInUse(BlockID(b))
		if e != nil {
			return 0, 0, e
		}
		if !inUse {
			free++
		}
	}
	return total, free, nil
}
