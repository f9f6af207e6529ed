package coffer

import (
	"bytes"
	"crypto/sha256"
)

// FormatOptions describes a container image to be built from scratch.
type FormatOptions struct {
	// TotalBlocks is the number of blocks the data area will hold.
	TotalBlocks uint64
	// BlockSize is the size in bytes of each block, trailer included.
	// Zero selects DefaultBlockSize.
	BlockSize uint32
	// Password is hashed with SHA-256 and stored for later verification;
	// it is never used directly as a key by this package.
	Password []byte
	// Cipher records which page cipher the caller's BlockDevice is using,
	// purely as metadata; this package does not perform encryption.
	Cipher CipherID
	// Rounds records a KDF round count, purely as metadata.
	Rounds byte
	// Sparse skips eagerly zero-filling the data area. A sparse image
	// relies on the BlockDevice's own EOF-is-zero convention for every
	// region (bitmap, trailers, data) that has never been written.
	Sparse bool
}

func (o FormatOptions) validate() error {
	if o.TotalBlocks == 0 {
		return &ValidationError{Field: "TotalBlocks", Message: "must be greater than zero"}
	}
	bs := o.BlockSize
	if bs == 0 {
		bs = DefaultBlockSize
	}
	return ValidateBlockSize(bs)
}

// Format writes a fresh superblock, allocation bitmap, and root directory
// into dev, mirroring the structure an existing container is later opened
// against with Open. The root compound folder always occupies block 0.
func Format(dev BlockDevice, opts FormatOptions) error {
	if err := opts.validate(); err != nil {
		return err
	}
	blockSize := opts.BlockSize
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}

	sb := &Superblock{
		dev: dev, Rounds: opts.Rounds, Cipher: opts.Cipher, Version: CurrentVersion,
		BlockSize: blockSize, TotalBlocks: opts.TotalBlocks,
		passHash: sha256.Sum256(opts.Password),
	}

	header := new(bytes.Buffer)
	if _, err := sb.WriteTo(header); err != nil {
		return NewIOError("encode superblock header", 0, err)
	}
	if _, err := dev.WriteAt(header.Bytes(), 0); err != nil {
		return NewIOError("write superblock header", 0, err)
	}

	bitmapSize := (opts.TotalBlocks + 7) / 8
	bitmapZeros := make([]byte, bitmapSize)
	if _, err := dev.WriteAt(bitmapZeros, bitmapOffset); err != nil {
		return NewIOError("write allocation bitmap", bitmapOffset, err)
	}

	fileCountOff := bitmapOffset + int64(bitmapSize)
	if _, err := dev.WriteAt(make([]byte, FileCountFieldSize), fileCountOff); err != nil {
		return NewIOError("write file count", fileCountOff, err)
	}

	dataAreaStart := fileCountOff + FileCountFieldSize
	if !opts.Sparse {
		if err := zeroFillDataArea(dev, dataAreaStart, opts.TotalBlocks, blockSize); err != nil {
			return err
		}
	}

	sb.bitmapSize, sb.fileCountOff, sb.dataAreaStart = int64(bitmapSize), fileCountOff, dataAreaStart
	alloc := sb.NewAllocator()

	if _, err := NewCompoundFolder(dev, alloc, dataAreaStart, blockSize, "root", DefaultCompoundThreshold); err != nil {
		return err
	}
	return dev.Sync()
}

func zeroFillDataArea(dev BlockDevice, dataAreaStart int64, totalBlocks uint64, blockSize uint32) error {
	zero := make([]byte, blockSize)
	for b := uint64(0); b < totalBlocks; b++ {
		off := dataAreaStart + int64(b)*int64(blockSize)
		if _, err := dev.WriteAt(zero, off); err != nil {
			return NewIOError("zero-fill data area", off, err)
		}
	}
	return nil
}
