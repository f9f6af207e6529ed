package coffer

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// On-disk superblock layout, byte for byte:
//
//	[0:32)   four 8-byte IVs, opaque to this package (owned by the BlockDevice)
//	[32:33)  KDF rounds (opaque to this package; recorded for the caller's reference)
//	[33:34)  cipher id
//	[34:38)  block size, uint32 little-endian
//	[38:39)  format version (20 = current: block size field above is authoritative;
//	         below 20: block size is implicitly 4096 regardless of the field)
//	[39:40)  cipher id, duplicated
//	[40:72)  SHA-256 of the container password
//	[72:80)  total block count, uint64 little-endian
//	[80:80+ceil(N/8))  allocation bitmap, one bit per block
//	thereafter, 8 bytes: file count (informational only, never authoritative)
//	thereafter: the data area, BlockSize-byte blocks indexed from 0
const (
	ivRegionSize       = 32
	roundsFieldSize    = 1
	cipherFieldSize    = 1
	blockSizeFieldSize = 4
	versionFieldSize   = 1
	passHashBytes      = sha256.Size

	CurrentVersion     = 20
	DefaultBlockSize   = 4096
	LegacyBlockSize    = 4096
	FileCountFieldSize = 8
	BlockCountFieldSize = 8

	cipherFieldOffset    = ivRegionSize + roundsFieldSize
	blockSizeFieldOffset = cipherFieldOffset + cipherFieldSize
	versionFieldOffset   = blockSizeFieldOffset + blockSizeFieldSize
	dupCipherFieldOffset = versionFieldOffset + versionFieldSize
	passHashOffset       = dupCipherFieldOffset + cipherFieldSize
	blockCountOffset     = passHashOffset + passHashBytes
	bitmapOffset         = blockCountOffset + BlockCountFieldSize
)

// Superblock is the parsed header of a coffer container: enough to locate
// the bitmap, the file-count field, and the origin of the data area.
type Superblock struct {
	dev BlockDevice

	Rounds   byte
	Cipher   CipherID
	Version  uint8
	BlockSize uint32

	TotalBlocks uint64

	passHash [passHashBytes]byte

	bitmapSize    int64
	fileCountOff  int64
	dataAreaStart int64
}

// WriteTo encodes the superblock header in the teacher's bytes.Buffer +
// encoding/binary idiom (see chunk_format.go) and writes it to w. The
// result is always exactly bitmapOffset bytes: the header has no reserved
// growth room, unlike a chunk index, because its layout is fixed.
func (sb *Superblock) WriteTo(w io.Writer) (int64, error) {
	buf := new(bytes.Buffer)

	// The IV region is opaque to this package; reserved and zero-filled
	// here for the BlockDevice layer to own.
	buf.Write(make([]byte, ivRegionSize))

	if err := binary.Write(buf, binary.LittleEndian, sb.Rounds); err != nil {
		return 0, fmt.Errorf("failed to write KDF rounds: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, byte(sb.Cipher)); err != nil {
		return 0, fmt.Errorf("failed to write cipher id: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, sb.BlockSize); err != nil {
		return 0, fmt.Errorf("failed to write block size: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, sb.Version); err != nil {
		return 0, fmt.Errorf("failed to write format version: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, byte(sb.Cipher)); err != nil {
		return 0, fmt.Errorf("failed to write duplicate cipher id: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, sb.passHash); err != nil {
		return 0, fmt.Errorf("failed to write password hash: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, sb.TotalBlocks); err != nil {
		return 0, fmt.Errorf("failed to write total block count: %w", err)
	}

	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// ReadFrom decodes a superblock header written by WriteTo.
func (sb *Superblock) ReadFrom(r io.Reader) (int64, error) {
	var total int64

	ivRegion := make([]byte, ivRegionSize)
	n, err := io.ReadFull(r, ivRegion)
	total += int64(n)
	if err != nil {
		return total, fmt.Errorf("failed to read IV region: %w", err)
	}

	if err := binary.Read(r, binary.LittleEndian, &sb.Rounds); err != nil {
		return total, fmt.Errorf("failed to read KDF rounds: %w", err)
	}
	total += roundsFieldSize

	var cipher byte
	if err := binary.Read(r, binary.LittleEndian, &cipher); err != nil {
		return total, fmt.Errorf("failed to read cipher id: %w", err)
	}
	sb.Cipher = CipherID(cipher)
	total += cipherFieldSize

	if err := binary.Read(r, binary.LittleEndian, &sb.BlockSize); err != nil {
		return total, fmt.Errorf("failed to read block size: %w", err)
	}
	total += blockSizeFieldSize

	if err := binary.Read(r, binary.LittleEndian, &sb.Version); err != nil {
		return total, fmt.Errorf("failed to read format version: %w", err)
	}
	total += versionFieldSize

	var dupCipher byte
	if err := binary.Read(r, binary.LittleEndian, &dupCipher); err != nil {
		return total, fmt.Errorf("failed to read duplicate cipher id: %w", err)
	}
	total += cipherFieldSize

	if err := binary.Read(r, binary.LittleEndian, &sb.passHash); err != nil {
		return total, fmt.Errorf("failed to read password hash: %w", err)
	}
	total += passHashBytes

	if err := binary.Read(r, binary.LittleEndian, &sb.TotalBlocks); err != nil {
		return total, fmt.Errorf("failed to read total block count: %w", err)
	}
	total += BlockCountFieldSize

	if sb.Version < CurrentVersion {
		sb.BlockSize = LegacyBlockSize
	}
	return total, nil
}

// OpenSuperblock reads and validates the header of an existing container,
// verifying password against the stored SHA-256 hash.
func OpenSuperblock(dev BlockDevice, password []byte) (*Superblock, error) {
	raw := make([]byte, bitmapOffset)
	if _, err := dev.ReadAt(raw, 0); err != nil {
		return nil, NewIOError("read superblock", 0, err)
	}

	sb := &Superblock{dev: dev}
	if _, err := sb.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, NewIOError("decode superblock", 0, err)
	}

	gotHash := sha256.Sum256(password)
	if !bytes.Equal(sb.passHash[:], gotHash[:]) {
		return nil, &AuthenticationError{Reason: "password hash mismatch"}
	}

	sb.bitmapSize = int64((sb.TotalBlocks + 7) / 8)
	sb.fileCountOff = bitmapOffset + sb.bitmapSize
	sb.dataAreaStart = sb.fileCountOff + FileCountFieldSize
	return sb, nil
}

// BitmapOffset returns the byte offset of the allocation bitmap.
func (sb *Superblock) BitmapOffset() int64 { return bitmapOffset }

// DataAreaOrigin returns the byte offset of block 0.
func (sb *Superblock) DataAreaOrigin() int64 { return sb.dataAreaStart }

// BlockOffset returns the byte offset of the given data block.
func (sb *Superblock) BlockOffset(b BlockID) int64 {
	return sb.dataAreaStart + int64(b)*int64(sb.BlockSize)
}

// FileCount reads the informational file-count field. It is never treated
// as authoritative by this package; ContentFolder entry counts are.
func (sb *Superblock) FileCount() (uint64, error) {
	buf := make([]byte, FileCountFieldSize)
	if _, err := sb.dev.ReadAt(buf, sb.fileCountOff); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil
		}
		return 0, NewIOError("read file count", sb.fileCountOff, err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// SetFileCount overwrites the informational file-count field.
func (sb *Superblock) SetFileCount(n uint64) error {
	buf := make([]byte, FileCountFieldSize)
	binary.LittleEndian.PutUint64(buf, n)
	if _, err := sb.dev.WriteAt(buf, sb.fileCountOff); err != nil {
		return NewIOError("write file count", sb.fileCountOff, err)
	}
	return nil
}

// NewAllocator returns an Allocator bound to this superblock's bitmap.
func (sb *Superblock) NewAllocator() *Allocator {
	return NewAllocator(sb.dev, bitmapOffset, sb.TotalBlocks)
}
