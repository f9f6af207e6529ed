package coffer

import (
	"fmt"
	"io"
)

// File is a byte stream backed by a chain of FileBlocks. A freshly
// constructed File with NewFile owns no block at all; the first block is
// allocated lazily, either by the first Write or by a call to StartBlock
// that forces realization (the same forcing a directory entry needs when it
// links a brand new, still-empty file into its parent).
//
// Growth policy mirrors the on-disk chain's append/overwrite distinction:
// in Append mode, every byte written grows the file by that many bytes
// regardless of cursor position; in Overwrite mode, a write only grows the
// file once the cursor runs off the end of the final, already-full block,
// at which point the file is permanently promoted to Append for the rest
// of its writable lifetime.
type File struct {
	dev            BlockDevice
	alloc          *Allocator
	dataAreaOrigin int64
	blockSize      uint32

	hasStart   bool
	startBlock BlockID

	working    *FileBlock
	blockIndex int64
	blockCount int64

	pos  int64
	size int64

	mode OpenMode

	sizeCallback func(int64)
}

// NewFile constructs a File with no blocks allocated yet.
func NewFile(dev BlockDevice, alloc *Allocator, dataAreaOrigin int64, blockSize uint32, mode OpenMode) *File {
	return &File{dev: dev, alloc: alloc, dataAreaOrigin: dataAreaOrigin, blockSize: blockSize, mode: mode}
}

// OpenFile opens the chain rooted at startBlock. In Truncate mode the
// entire existing chain is unlinked and the File returned as if freshly
// created. In Append mode the cursor starts at end-of-file; otherwise it
// starts at the beginning of the first block.
func OpenFile(dev BlockDevice, alloc *Allocator, dataAreaOrigin int64, blockSize uint32, startBlock BlockID, mode OpenMode) (*File, error) {
	f := &File{dev: dev, alloc: alloc, dataAreaOrigin: dataAreaOrigin, blockSize: blockSize, startBlock: startBlock, hasStart: true, mode: mode}
	if err := f.enumerateBlocks(); err != nil {
		return nil, err
	}
	if mode.Truncate == ModeTruncate {
		if err := f.Unlink(); err != nil {
			return nil, err
		}
		return f, nil
	}
	fb, err := OpenFileBlock(dev, alloc, dataAreaOrigin, blockSize, startBlock)
	if err != nil {
		return nil, err
	}
	f.working = fb
	f.blockIndex = 0
	if mode.Append == ModeAppend {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *File) enumerateBlocks() error {
	idx := f.startBlock
	var count, total int64
	for {
		fb, err := OpenFileBlock(f.dev, f.alloc, f.dataAreaOrigin, f.blockSize, idx)
		if err != nil {
			return err
		}
		total += int64(fb.Size())
		count++
		if fb.IsTerminator() {
			break
		}
		idx = fb.Next()
	}
	f.blockCount = count
	f.size = total
	return nil
}

func (f *File) blockDataCapacity() uint32 { return f.blockSize - FileBlockMeta }

func (f *File) blockAt(n int64) (*FileBlock, error) {
	idx := f.startBlock
	for i := int64(0); i < n; i++ {
		fb, err := OpenFileBlock(f.dev, f.alloc, f.dataAreaOrigin, f.blockSize, idx)
		if err != nil {
			return nil, err
		}
		idx = fb.Next()
	}
	return OpenFileBlock(f.dev, f.alloc, f.dataAreaOrigin, f.blockSize, idx)
}

// StartBlock returns the index of this file's first block, allocating one
// if the file has never been written to.
func (f *File) StartBlock() (BlockID, error) {
	if !f.hasStart {
		if err := f.ensureWorkingBlock(); err != nil {
			return 0, err
		}
	}
	return f.startBlock, nil
}

// Size returns the cached total of bytesWritten across the chain.
func (f *File) Size() int64 { return f.size }

// Tell returns the current logical read/write position.
func (f *File) Tell() int64 { return f.pos }

// BlockCount returns the number of blocks currently in the chain.
func (f *File) BlockCount() int64 { return f.blockCount }

// SetSizeCallback registers a function invoked on Flush with the file's
// current logical size; ContentFolder entries do not use this (they track
// size independently) but it mirrors the hook other File-backed structures
// may want for keeping external bookkeeping in sync.
func (f *File) SetSizeCallback(cb func(int64)) { f.sizeCallback = cb }

func (f *File) allocateNewWorkingBlock() error {
	ids, err := f.alloc.AllocateN(1)
	if err != nil {
		return err
	}
	a := ids[0]
	nb := NewFileBlock(f.dev, f.alloc, f.dataAreaOrigin, f.blockSize, a)
	if err := nb.MarkInUse(); err != nil {
		return err
	}
	// Persist the self-loop trailer now, so a zero-filled or stale trailer
	// left on disk is never followed as a chain link.
	if err := nb.SetNext(a); err != nil {
		return err
	}
	if f.working != nil {
		if err := f.working.SetNext(a); err != nil {
			return err
		}
	}
	if !f.hasStart {
		f.startBlock = a
		f.hasStart = true
	}
	f.working = nb
	f.blockCount++
	f.blockIndex = f.blockCount - 1
	return nil
}

// ensureWorkingBlock implements the working-block maintenance algorithm: if
// there is room left in the current block, do nothing; otherwise decide
// whether to follow an existing successor in the chain (Overwrite mode,
// still short of the file's logical end) or allocate a new one (Append
// mode, or Overwrite promoted to Append because the cursor has reached the
// logical end of the file).
func (f *File) ensureWorkingBlock() error {
	if f.working == nil {
		return f.allocateNewWorkingBlock()
	}
	if f.working.Tell() < f.blockDataCapacity() {
		return nil
	}
	if f.pos >= f.size {
		f.mode.Append = ModeAppend
	}
	if f.mode.Append == ModeOverwrite {
		nf, err := OpenFileBlock(f.dev, f.alloc, f.dataAreaOrigin, f.blockSize, f.working.Next())
		if err != nil {
			return err
		}
		f.working = nf
		f.blockIndex++
		return nil
	}
	return f.allocateNewWorkingBlock()
}

// Read implements io.Reader over the block chain, following successor
// links as each block's live content is exhausted. It returns fewer bytes
// than requested, with a nil error, once the chain ends.
func (f *File) Read(p []byte) (int, error) {
	if !f.mode.readable() {
		return 0, ErrNotReadable
	}
	readSoFar := 0
	for readSoFar < len(p) {
		if f.working == nil {
			break
		}
		if f.working.Tell() == f.working.Size() && !f.working.IsTerminator() && f.blockIndex+1 < f.blockCount {
			nf, err := OpenFileBlock(f.dev, f.alloc, f.dataAreaOrigin, f.blockSize, f.working.Next())
			if err != nil {
				return readSoFar, err
			}
			f.working = nf
			f.blockIndex++
			continue
		}
		n, err := f.working.Read(p[readSoFar:])
		if err != nil {
			return readSoFar, err
		}
		readSoFar += n
		f.pos += int64(n)
		if n == 0 {
			break
		}
	}
	if readSoFar == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return readSoFar, nil
}

// Write implements io.Writer over the block chain, allocating or following
// successor blocks as needed via ensureWorkingBlock.
func (f *File) Write(p []byte) (int, error) {
	if !f.mode.writable() {
		return 0, ErrNotWritable
	}
	written := 0
	for written < len(p) {
		if err := f.ensureWorkingBlock(); err != nil {
			return written, err
		}
		room := int(f.blockDataCapacity()) - int(f.working.Tell())
		n := len(p) - written
		if n > room {
			n = room
		}
		if n == 0 {
			return written, NewCorruptionError("file chain", "working block reports no room after maintenance")
		}
		wn, err := f.working.Write(p[written : written+n])
		if err != nil {
			return written, err
		}
		written += wn
		f.pos += int64(wn)
		if f.mode.Append == ModeAppend {
			f.size += int64(wn)
		}
	}
	return written, nil
}

func seekFromBeg(off, capacity int64) (block, pos int64) {
	if off <= capacity {
		return 0, off
	}
	l := off % capacity
	block = off / capacity
	if l == 0 {
		return block - 1, capacity
	}
	return block, l
}

func absInt64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// Seek repositions the file's cursor, following whence per io.Seeker.
// Seeking past the end of the chain returns -1 with a nil error, as does
// seeking to a negative absolute position.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	capacity := int64(f.blockDataCapacity())
	var targetBlock, blockPos int64

	switch whence {
	case io.SeekStart:
		if offset < 0 {
			return -1, nil
		}
		targetBlock, blockPos = seekFromBeg(offset, capacity)
	case io.SeekEnd:
		if f.blockCount == 0 {
			return -1, NewCorruptionError("file chain", "seek from end on a file with no blocks")
		}
		lastBlock, err := f.blockAt(f.blockCount - 1)
		if err != nil {
			return -1, err
		}
		tb, bp := seekFromBeg(absInt64(offset), capacity)
		targetBlock = (f.blockCount - 1) - tb
		blockPos = int64(lastBlock.Size()) - bp
		if blockPos < 0 {
			blockPos += capacity
			targetBlock--
		}
	case io.SeekCurrent:
		addition := offset + int64(f.working.Tell())
		abs := absInt64(addition)
		l := abs % capacity
		delta := (abs - l) / capacity
		if addition >= 0 {
			targetBlock = f.blockIndex + delta
			blockPos = l
		} else {
			targetBlock = f.blockIndex - (delta + 1)
			blockPos = capacity - l
		}
	default:
		return -1, &ValidationError{Field: "whence", Value: whence, Message: "unsupported seek origin"}
	}

	if targetBlock < 0 || targetBlock >= f.blockCount {
		return -1, nil
	}

	fb, err := f.blockAt(targetBlock)
	if err != nil {
		return -1, err
	}
	fb.SeekTo(uint32(blockPos))
	f.working = fb
	f.blockIndex = targetBlock

	switch whence {
	case io.SeekCurrent:
		f.pos += offset
	case io.SeekEnd:
		f.pos = f.size + offset
	case io.SeekStart:
		f.pos = offset
	}
	return f.pos, nil
}

// Truncate resizes the file to newSize, freeing every block beyond the one
// that contains the new end and resetting that block's trailer to
// terminate the chain there. Orphaned trailing blocks have their bitmap
// bits cleared; see the design notes for why this package departs from
// the reference implementation's behavior here.
func (f *File) Truncate(newSize int64) error {
	if newSize < 0 {
		return &ValidationError{Field: "newSize", Value: newSize, Message: "must be non-negative"}
	}
	capacity := int64(f.blockDataCapacity())
	q, r := newSize/capacity, newSize%capacity
	var lastBlockIdx int64
	var lastSize uint32
	if r == 0 && newSize >= capacity && newSize > 0 {
		lastBlockIdx = q - 1
		lastSize = uint32(capacity)
	} else {
		lastBlockIdx = q
		lastSize = uint32(r)
	}

	if !f.hasStart {
		if newSize == 0 {
			return nil
		}
		return &ValidationError{Field: "newSize", Value: newSize, Message: "cannot grow a file with no blocks via truncate"}
	}

	idx := f.startBlock
	var lastBlock *FileBlock
	for i := int64(0); ; i++ {
		fb, err := OpenFileBlock(f.dev, f.alloc, f.dataAreaOrigin, f.blockSize, idx)
		if err != nil {
			return err
		}
		if i == lastBlockIdx {
			lastBlock = fb
		}
		next := fb.Next()
		isTerm := fb.IsTerminator()
		if i > lastBlockIdx {
			if err := fb.Unlink(); err != nil {
				return err
			}
		}
		if isTerm {
			break
		}
		idx = next
	}

	if lastBlock == nil {
		return NewCorruptionError("file chain", "truncate target block not found within recorded chain length")
	}
	if err := lastBlock.SetSize(lastSize); err != nil {
		return err
	}
	if err := lastBlock.SetNext(lastBlock.Index()); err != nil {
		return err
	}

	f.blockCount = lastBlockIdx + 1
	f.size = newSize
	f.working = lastBlock
	f.blockIndex = lastBlockIdx
	if f.pos > newSize {
		f.pos = newSize
	}
	return nil
}

// Flush persists any pending bookkeeping. FileBlock writes are already
// synchronous, so this only fires the optional size callback.
func (f *File) Flush() error {
	if f.sizeCallback != nil {
		f.sizeCallback(f.size)
	}
	return nil
}

// Unlink frees every block in the chain and resets the File to its
// never-written state.
func (f *File) Unlink() error {
	if !f.hasStart {
		return nil
	}
	idx := f.startBlock
	for {
		fb, err := OpenFileBlock(f.dev, f.alloc, f.dataAreaOrigin, f.blockSize, idx)
		if err != nil {
			return err
		}
		next := fb.Next()
		term := fb.IsTerminator()
		if err := fb.Unlink(); err != nil {
			return err
		}
		if term {
			break
		}
		idx = next
	}
	f.size = 0
	f.blockCount = 0
	f.blockIndex = 0
	f.working = nil
	f.hasStart = false
	return nil
}

func (f *File) String() string {
	return fmt.Sprintf("File{start=%d blocks=%d size=%d pos=%d}", f.startBlock, f.blockCount, f.size, f.pos)
}
