package coffer

import (
	"encoding/binary"
	"errors"
	"io"
)

// FileBlockMeta is the size in bytes of the per-block trailer: a 4-byte
// bytes-written count followed by an 8-byte next-block index.
const FileBlockMeta = 12

// FileBlock is one fixed-size block in a file's chain: a data region
// followed by a trailer. The trailer's next field self-loops (next ==
// index) when the block terminates its chain. A trailer that lies past the
// end of the device reads back through the sparse-image convention as
// bytesWritten == 0, next == its own index — the state of a freshly
// allocated, empty block. A trailer inside the written part of the device
// is read as stored, so File writes a new block's trailer when it
// allocates the block.
type FileBlock struct {
	dev            BlockDevice
	alloc          *Allocator
	index          BlockID
	dataAreaOrigin int64
	blockSize      uint32

	bytesWritten uint32
	next         BlockID
	cursor       uint32
}

// OpenFileBlock loads an existing block's trailer from disk.
func OpenFileBlock(dev BlockDevice, alloc *Allocator, dataAreaOrigin int64, blockSize uint32, index BlockID) (*FileBlock, error) {
	fb := &FileBlock{dev: dev, alloc: alloc, index: index, dataAreaOrigin: dataAreaOrigin, blockSize: blockSize, next: index}
	if err := fb.readTrailer(); err != nil {
		return nil, err
	}
	return fb, nil
}

// NewFileBlock wraps a freshly allocated, unwritten block index: a
// zero-length data region terminating the chain at itself.
func NewFileBlock(dev BlockDevice, alloc *Allocator, dataAreaOrigin int64, blockSize uint32, index BlockID) *FileBlock {
	return &FileBlock{dev: dev, alloc: alloc, index: index, dataAreaOrigin: dataAreaOrigin, blockSize: blockSize, next: index}
}

func (fb *FileBlock) offset() int64 { return fb.dataAreaOrigin + int64(fb.index)*int64(fb.blockSize) }

func (fb *FileBlock) dataCapacity() uint32 { return fb.blockSize - FileBlockMeta }

func (fb *FileBlock) trailerOffset() int64 { return fb.offset() + int64(fb.dataCapacity()) }

func (fb *FileBlock) readTrailer() error {
	buf := make([]byte, FileBlockMeta)
	_, err := fb.dev.ReadAt(buf, fb.trailerOffset())
	if err != nil {
		if errors.Is(err, io.EOF) {
			fb.bytesWritten = 0
			fb.next = fb.index
			return nil
		}
		return NewIOError("read block trailer", fb.trailerOffset(), err)
	}
	fb.bytesWritten = binary.LittleEndian.Uint32(buf[0:4])
	fb.next = BlockID(binary.LittleEndian.Uint64(buf[4:12]))
	return nil
}

func (fb *FileBlock) writeTrailer() error {
	buf := make([]byte, FileBlockMeta)
	binary.LittleEndian.PutUint32(buf[0:4], fb.bytesWritten)
	binary.LittleEndian.PutUint64(buf[4:12], uint64(fb.next))
	if _, err := fb.dev.WriteAt(buf, fb.trailerOffset()); err != nil {
		return NewIOError("write block trailer", fb.trailerOffset(), err)
	}
	return nil
}

// Index returns this block's index within the data area.
func (fb *FileBlock) Index() BlockID { return fb.index }

// Next returns the index this block's trailer points to.
func (fb *FileBlock) Next() BlockID { return fb.next }

// SetNext links this block to the next block in its chain and persists
// the trailer immediately.
func (fb *FileBlock) SetNext(next BlockID) error {
	fb.next = next
	return fb.writeTrailer()
}

// IsTerminator reports whether this block self-loops, i.e. ends its chain.
func (fb *FileBlock) IsTerminator() bool { return fb.next == fb.index }

// Size returns the number of live bytes recorded in this block's trailer.
func (fb *FileBlock) Size() uint32 { return fb.bytesWritten }

// SetSize overwrites the bytes-written field directly, used by Truncate to
// shrink a block's logical content without touching its bytes.
func (fb *FileBlock) SetSize(n uint32) error {
	fb.bytesWritten = n
	return fb.writeTrailer()
}

// Tell returns the current read/write cursor within the data region.
func (fb *FileBlock) Tell() uint32 { return fb.cursor }

// SeekTo repositions the cursor within the data region without touching disk.
func (fb *FileBlock) SeekTo(pos uint32) { fb.cursor = pos }

// MarkInUse sets this block's bitmap bit.
func (fb *FileBlock) MarkInUse() error { return fb.alloc.MarkInUse(fb.index) }

// Unlink clears this block's bitmap bit, returning it to the free pool.
func (fb *FileBlock) Unlink() error { return fb.alloc.MarkFree(fb.index) }

// Read copies up to len(p) bytes from the cursor, bounded by the live
// region [0, bytesWritten). It never advances past bytesWritten, so it
// returns (0, nil) once the block's live content is exhausted; the caller
// (File) decides whether to follow the chain or stop.
func (fb *FileBlock) Read(p []byte) (int, error) {
	available := int(fb.bytesWritten) - int(fb.cursor)
	if available <= 0 {
		return 0, nil
	}
	n := len(p)
	if n > available {
		n = available
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := fb.dev.ReadAt(p[:n], fb.offset()+int64(fb.cursor)); err != nil && !errors.Is(err, io.EOF) {
		return 0, NewIOError("read block data", fb.offset()+int64(fb.cursor), err)
	}
	fb.cursor += uint32(n)
	return n, nil
}

// Write copies up to len(p) bytes to the cursor, bounded by the block's
// data capacity, growing bytesWritten as needed and persisting the
// trailer on every call.
func (fb *FileBlock) Write(p []byte) (int, error) {
	room := int(fb.dataCapacity()) - int(fb.cursor)
	if room <= 0 {
		return 0, nil
	}
	n := len(p)
	if n > room {
		n = room
	}
	if n == 0 {
		return 0, nil
	}
	if _, err := fb.dev.WriteAt(p[:n], fb.offset()+int64(fb.cursor)); err != nil {
		return 0, NewIOError("write block data", fb.offset()+int64(fb.cursor), err)
	}
	fb.cursor += uint32(n)
	if fb.cursor > fb.bytesWritten {
		fb.bytesWritten = fb.cursor
	}
	if err := fb.writeTrailer(); err != nil {
		return n, err
	}
	return n, nil
}
