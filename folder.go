package coffer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// MaxNameLength bounds an entry name, including the implicit NUL
// terminator reserved within each fixed-width slot.
const MaxNameLength = 255

const (
	folderHeaderSize = 8
	slotFlagSize     = 1
	slotBlockSize    = 8
	slotWidth        = slotFlagSize + MaxNameLength + slotBlockSize

	slotFlagInUse  byte = 1 << 0
	slotFlagIsFile byte = 1 << 1
)

func slotOffset(n uint64) int64 { return folderHeaderSize + int64(n)*slotWidth }

func encodeSlot(inUse, isFile bool, name string, block BlockID) []byte {
	buf := make([]byte, slotWidth)
	var flags byte
	if inUse {
		flags |= slotFlagInUse
	}
	if isFile {
		flags |= slotFlagIsFile
	}
	buf[0] = flags
	copy(buf[1:1+MaxNameLength], name)
	binary.LittleEndian.PutUint64(buf[1+MaxNameLength:], uint64(block))
	return buf
}

func decodeSlotFlags(buf []byte) (inUse, isFile bool) {
	return buf[0]&slotFlagInUse != 0, buf[0]&slotFlagIsFile != 0
}

func decodeSlotName(buf []byte) string {
	nameBytes := buf[1 : 1+MaxNameLength]
	n := bytes.IndexByte(nameBytes, 0)
	if n < 0 {
		n = len(nameBytes)
	}
	return string(nameBytes[:n])
}

func decodeSlotBlock(buf []byte) BlockID {
	return BlockID(binary.LittleEndian.Uint64(buf[1+MaxNameLength:]))
}

func validateEntryName(name string) error {
	if name == "" {
		return &ValidationError{Field: "name", Message: "entry name cannot be empty"}
	}
	if len(name) > MaxNameLength-1 {
		return &ValidationError{Field: "name", Value: len(name), Message: fmt.Sprintf("entry name too long, max %d bytes", MaxNameLength-1)}
	}
	if strings.ContainsRune(name, '/') {
		return &ValidationError{Field: "name", Message: "entry name cannot contain '/'"}
	}
	if name[0] == reservedNamePrefixByte {
		return &ValidationError{Field: "name", Message: "entry name cannot start with a reserved byte"}
	}
	return nil
}

type cachedEntry struct {
	slot uint64
	info EntryInfo
}

// ContentFolder is a directory encoded as the body of a File: an 8-byte
// entry-count header followed by a packed array of fixed-width slots, each
// holding an in-use/is-file flag byte, a NUL-terminated name, and the
// entry's first block index. Removed entries are tombstoned in place
// (flags bit 0 cleared) rather than compacted; entryCount counts slots
// ever written, live or dead, and is never decremented.
//
// A single in-memory flag short-circuits the tombstone scan that AddFile
// and AddFolder perform to find a reusable slot: once a full scan finds no
// tombstones, the folder stops scanning on every subsequent add until a
// remove creates one again.
//
// ContentFolder does not keep a long-lived body File across calls: each
// access to the body opens a fresh one rooted at startBlock. A File's
// Overwrite-to-Append promotion in ensureWorkingBlock is permanent for that
// File's lifetime (see file.go), so a single cached body would latch into
// Append mode on its first block-boundary crossing and never again follow
// an existing successor link - corrupting any later write that reuses a
// tombstone slot earlier in the chain. Reopening per access recomputes
// size and block count from the real chain every time, so the promotion
// decision is always made from accurate state.
type ContentFolder struct {
	dev            BlockDevice
	alloc          *Allocator
	dataAreaOrigin int64
	blockSize      uint32

	name       string
	startBlock BlockID

	entryCount uint64
	deadCount  uint64

	cache             map[string]*cachedEntry
	skipTombstoneScan bool
}

func (cf *ContentFolder) openBody() (*File, error) {
	mode := OpenMode{Access: ReadWrite, Append: ModeOverwrite, Truncate: ModeKeep}
	return OpenFile(cf.dev, cf.alloc, cf.dataAreaOrigin, cf.blockSize, cf.startBlock, mode)
}

// NewContentFolder creates a new, empty folder body: a single block
// holding just the zeroed entry-count header.
func NewContentFolder(dev BlockDevice, alloc *Allocator, dataAreaOrigin int64, blockSize uint32, name string) (*ContentFolder, error) {
	mode := OpenMode{Access: ReadWrite, Append: ModeOverwrite, Truncate: ModeKeep}
	body := NewFile(dev, alloc, dataAreaOrigin, blockSize, mode)
	if _, err := body.Write(make([]byte, folderHeaderSize)); err != nil {
		return nil, err
	}
	if err := body.Flush(); err != nil {
		return nil, err
	}
	start, err := body.StartBlock()
	if err != nil {
		return nil, err
	}
	return &ContentFolder{
		dev: dev, alloc: alloc, dataAreaOrigin: dataAreaOrigin, blockSize: blockSize,
		name: name, startBlock: start, cache: make(map[string]*cachedEntry),
	}, nil
}

// OpenContentFolder opens an existing folder body rooted at startBlock.
func OpenContentFolder(dev BlockDevice, alloc *Allocator, dataAreaOrigin int64, blockSize uint32, startBlock BlockID, name string) (*ContentFolder, error) {
	cf := &ContentFolder{
		dev: dev, alloc: alloc, dataAreaOrigin: dataAreaOrigin, blockSize: blockSize,
		name: name, startBlock: startBlock, cache: make(map[string]*cachedEntry),
	}
	if err := cf.loadHeader(); err != nil {
		return nil, err
	}
	return cf, nil
}

func (cf *ContentFolder) loadHeader() error {
	ec, err := cf.readEntryCount()
	if err != nil {
		return err
	}
	cf.entryCount = ec
	var dead uint64
	for i := uint64(0); i < cf.entryCount; i++ {
		buf, err := cf.readSlotRaw(i)
		if err != nil {
			return err
		}
		inUse, _ := decodeSlotFlags(buf)
		if !inUse {
			dead++
		}
	}
	cf.deadCount = dead
	return nil
}

func (cf *ContentFolder) readEntryCount() (uint64, error) {
	body, err := cf.openBody()
	if err != nil {
		return 0, err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	buf := make([]byte, folderHeaderSize)
	if _, err := io.ReadFull(body, buf); err != nil && err != io.EOF {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func (cf *ContentFolder) writeEntryCount(n uint64) error {
	body, err := cf.openBody()
	if err != nil {
		return err
	}
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return err
	}
	buf := make([]byte, folderHeaderSize)
	binary.LittleEndian.PutUint64(buf, n)
	if _, err := body.Write(buf); err != nil {
		return err
	}
	return body.Flush()
}

func (cf *ContentFolder) readSlotRaw(n uint64) ([]byte, error) {
	body, err := cf.openBody()
	if err != nil {
		return nil, err
	}
	if _, err := body.Seek(slotOffset(n), io.SeekStart); err != nil {
		return nil, err
	}
	buf := make([]byte, slotWidth)
	if _, err := io.ReadFull(body, buf); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}

// Name returns the folder's own name as recorded by its parent.
func (cf *ContentFolder) Name() string { return cf.name }

// StartBlockIndex returns the block index where this folder's body begins.
func (cf *ContentFolder) StartBlockIndex() BlockID { return cf.startBlock }

// AliveEntryCount returns the number of live (non-tombstoned) entries.
func (cf *ContentFolder) AliveEntryCount() uint64 { return cf.entryCount - cf.deadCount }

// TotalEntryCount returns the number of slots ever written, live or dead.
func (cf *ContentFolder) TotalEntryCount() uint64 { return cf.entryCount }

func (cf *ContentFolder) lookup(name string) (*cachedEntry, bool, error) {
	if e, ok := cf.cache[name]; ok {
		return e, true, nil
	}
	for i := uint64(0); i < cf.entryCount; i++ {
		buf, err := cf.readSlotRaw(i)
		if err != nil {
			return nil, false, err
		}
		inUse, isFile := decodeSlotFlags(buf)
		if !inUse {
			continue
		}
		if decodeSlotName(buf) != name {
			continue
		}
		t := EntryTypeFolder
		if isFile {
			t = EntryTypeFile
		}
		e := &cachedEntry{slot: i, info: EntryInfo{Name: name, Type: t, FirstBlock: uint64(decodeSlotBlock(buf))}}
		cf.cache[name] = e
		return e, true, nil
	}
	return nil, false, nil
}

// findSlotForNewEntry returns the slot index a new entry should occupy: a
// reused tombstone if the scan (run at most once per dry spell) finds one,
// otherwise the next never-used slot at the end.
func (cf *ContentFolder) findSlotForNewEntry() (slot uint64, reuse bool, err error) {
	if !cf.skipTombstoneScan {
		for i := uint64(0); i < cf.entryCount; i++ {
			buf, err := cf.readSlotRaw(i)
			if err != nil {
				return 0, false, err
			}
			inUse, _ := decodeSlotFlags(buf)
			if !inUse {
				return i, true, nil
			}
		}
		cf.skipTombstoneScan = true
	}
	return cf.entryCount, false, nil
}

func (cf *ContentFolder) commitNewEntry(name string, isFile bool, block BlockID) error {
	slot, reuse, err := cf.findSlotForNewEntry()
	if err != nil {
		return err
	}
	buf := encodeSlot(true, isFile, name, block)
	body, err := cf.openBody()
	if err != nil {
		return err
	}
	if _, err := body.Seek(slotOffset(slot), io.SeekStart); err != nil {
		return err
	}
	if _, err := body.Write(buf); err != nil {
		return err
	}
	if err := body.Flush(); err != nil {
		return err
	}
	if reuse {
		cf.deadCount--
	} else {
		cf.entryCount++
		if err := cf.writeEntryCount(cf.entryCount); err != nil {
			return err
		}
	}
	t := EntryTypeFolder
	if isFile {
		t = EntryTypeFile
	}
	cf.cache[name] = &cachedEntry{slot: slot, info: EntryInfo{Name: name, Type: t, FirstBlock: uint64(block)}}
	return nil
}

func (cf *ContentFolder) tombstone(slot uint64, name string) error {
	body, err := cf.openBody()
	if err != nil {
		return err
	}
	if _, err := body.Seek(slotOffset(slot), io.SeekStart); err != nil {
		return err
	}
	if _, err := body.Write([]byte{0}); err != nil {
		return err
	}
	if err := body.Flush(); err != nil {
		return err
	}
	cf.skipTombstoneScan = false
	cf.deadCount++
	delete(cf.cache, name)
	return nil
}

// AddFile creates a new, empty file entry named name. It returns
// ErrAlreadyExists if a live entry with that name exists.
func (cf *ContentFolder) AddFile(name string) error {
	if err := validateEntryName(name); err != nil {
		return err
	}
	if _, found, err := cf.lookup(name); err != nil {
		return err
	} else if found {
		return ErrAlreadyExists
	}
	entry := NewFile(cf.dev, cf.alloc, cf.dataAreaOrigin, cf.blockSize, OpenMode{Access: ReadWrite, Append: ModeAppend, Truncate: ModeKeep})
	start, err := entry.StartBlock()
	if err != nil {
		return err
	}
	return cf.commitNewEntry(name, true, start)
}

// AddFolder creates a new, empty subfolder entry named name and returns it
// opened and ready to use.
func (cf *ContentFolder) AddFolder(name string) (*ContentFolder, error) {
	if err := validateEntryName(name); err != nil {
		return nil, err
	}
	if _, found, err := cf.lookup(name); err != nil {
		return nil, err
	} else if found {
		return nil, ErrAlreadyExists
	}
	sub, err := NewContentFolder(cf.dev, cf.alloc, cf.dataAreaOrigin, cf.blockSize, name)
	if err != nil {
		return nil, err
	}
	if err := cf.commitNewEntry(name, false, sub.startBlock); err != nil {
		return nil, err
	}
	return sub, nil
}

// GetFile opens the named file entry with the given mode. It returns
// ErrNotFound if no live file entry exists with that name.
func (cf *ContentFolder) GetFile(name string, mode OpenMode) (*File, error) {
	e, found, err := cf.lookup(name)
	if err != nil {
		return nil, err
	}
	if !found || e.info.Type != EntryTypeFile {
		return nil, ErrNotFound
	}
	return OpenFile(cf.dev, cf.alloc, cf.dataAreaOrigin, cf.blockSize, BlockID(e.info.FirstBlock), mode)
}

// GetFolder opens the named subfolder entry.
func (cf *ContentFolder) GetFolder(name string) (*ContentFolder, error) {
	e, found, err := cf.lookup(name)
	if err != nil {
		return nil, err
	}
	if !found || e.info.Type != EntryTypeFolder {
		return nil, ErrNotFound
	}
	return OpenContentFolder(cf.dev, cf.alloc, cf.dataAreaOrigin, cf.blockSize, BlockID(e.info.FirstBlock), name)
}

func (cf *ContentFolder) fileSize(block BlockID) (int64, error) {
	f, err := OpenFile(cf.dev, cf.alloc, cf.dataAreaOrigin, cf.blockSize, block, OpenMode{Access: ReadOnly, Append: ModeOverwrite, Truncate: ModeKeep})
	if err != nil {
		return 0, err
	}
	return f.Size(), nil
}

// List returns every live entry, in slot order, with file entries'
// current size populated.
func (cf *ContentFolder) List() ([]EntryInfo, error) {
	var out []EntryInfo
	for i := uint64(0); i < cf.entryCount; i++ {
		buf, err := cf.readSlotRaw(i)
		if err != nil {
			return nil, err
		}
		inUse, isFile := decodeSlotFlags(buf)
		if !inUse {
			continue
		}
		name := decodeSlotName(buf)
		block := decodeSlotBlock(buf)
		info := EntryInfo{Name: name, FirstBlock: uint64(block)}
		if isFile {
			info.Type = EntryTypeFile
			size, err := cf.fileSize(block)
			if err != nil {
				return nil, err
			}
			info.Size = uint64(size)
		} else {
			info.Type = EntryTypeFolder
		}
		out = append(out, info)
	}
	return out, nil
}

// RemoveFile unlinks the named file's block chain and tombstones its slot.
func (cf *ContentFolder) RemoveFile(name string) error {
	e, found, err := cf.lookup(name)
	if err != nil {
		return err
	}
	if !found || e.info.Type != EntryTypeFile {
		return ErrNotFound
	}
	f, err := OpenFile(cf.dev, cf.alloc, cf.dataAreaOrigin, cf.blockSize, BlockID(e.info.FirstBlock), OpenMode{Access: ReadWrite, Append: ModeAppend, Truncate: ModeKeep})
	if err != nil {
		return err
	}
	if err := f.Unlink(); err != nil {
		return err
	}
	return cf.tombstone(e.slot, name)
}

// RemoveFolder removes the named subfolder. If it has live entries and
// recursive is false, it returns ErrNotEmpty; otherwise every descendant
// is removed first.
func (cf *ContentFolder) RemoveFolder(name string, recursive bool) error {
	e, found, err := cf.lookup(name)
	if err != nil {
		return err
	}
	if !found || e.info.Type != EntryTypeFolder {
		return ErrNotFound
	}
	sub, err := OpenContentFolder(cf.dev, cf.alloc, cf.dataAreaOrigin, cf.blockSize, BlockID(e.info.FirstBlock), name)
	if err != nil {
		return err
	}
	entries, err := sub.List()
	if err != nil {
		return err
	}
	if len(entries) > 0 && !recursive {
		return ErrNotEmpty
	}
	for _, info := range entries {
		if info.Type == EntryTypeFile {
			if err := sub.RemoveFile(info.Name); err != nil {
				return err
			}
		} else if err := sub.RemoveFolder(info.Name, true); err != nil {
			return err
		}
	}
	if err := sub.unlinkBody(); err != nil {
		return err
	}
	return cf.tombstone(e.slot, name)
}

func (cf *ContentFolder) unlinkBody() error {
	body, err := cf.openBody()
	if err != nil {
		return err
	}
	return body.Unlink()
}

// RenameEntry renames a live entry in place, rewriting only its name
// field.
func (cf *ContentFolder) RenameEntry(oldName, newName string) error {
	if err := validateEntryName(newName); err != nil {
		return err
	}
	e, found, err := cf.lookup(oldName)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if _, already, err := cf.lookup(newName); err != nil {
		return err
	} else if already {
		return ErrAlreadyExists
	}
	nameBuf := make([]byte, MaxNameLength)
	copy(nameBuf, newName)
	body, err := cf.openBody()
	if err != nil {
		return err
	}
	if _, err := body.Seek(slotOffset(e.slot)+slotFlagSize, io.SeekStart); err != nil {
		return err
	}
	if _, err := body.Write(nameBuf); err != nil {
		return err
	}
	if err := body.Flush(); err != nil {
		return err
	}
	delete(cf.cache, oldName)
	e.info.Name = newName
	cf.cache[newName] = e
	return nil
}
