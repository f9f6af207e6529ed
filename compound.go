package coffer

import "strings"

// DefaultCompoundThreshold is the number of live entries a single shard of
// a CompoundFolder holds before a new shard is spilled.
const DefaultCompoundThreshold = 512

// reservedNamePrefixByte leads every name CompoundFolder reserves for its
// own bookkeeping. It is not a NUL: decodeSlotName terminates a name at its
// first NUL byte, so a name starting with NUL would decode back as "" and
// could never be found again by lookup. 0x01 round-trips through
// encodeSlot/decodeSlotName intact, and validateEntryName rejects it from
// user-supplied names so the namespace stays exclusively reserved.
const reservedNamePrefixByte = 0x01

// shardEntryPrefix marks the reserved namespace CompoundFolder uses inside
// its primary shard to record additional shards.
const shardEntryPrefix = "\x01coffer.shard."

func shardName(i int) string {
	b := make([]byte, 0, len(shardEntryPrefix)+4)
	b = append(b, shardEntryPrefix...)
	b = appendInt(b, i)
	return string(b)
}

func appendInt(b []byte, n int) []byte {
	if n == 0 {
		return append(b, '0')
	}
	var digits [20]byte
	i := len(digits)
	for n > 0 {
		i--
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	return append(b, digits[i:]...)
}

// CompoundFolder fans a logical directory out across multiple physical
// ContentFolder shards once a single shard's live entry count would exceed
// threshold. The first shard is the folder's own body; additional shards
// are themselves ordinary subfolders of that first shard, recorded under
// reserved names that List never surfaces. This keeps the sharding policy
// entirely out of the block/file/folder format: a CompoundFolder is just a
// caller composing ContentFolders, not a new on-disk structure.
type CompoundFolder struct {
	dev            BlockDevice
	alloc          *Allocator
	dataAreaOrigin int64
	blockSize      uint32

	name      string
	threshold int

	leaves    []*ContentFolder
	nameIndex map[string]int
}

// NewCompoundFolder creates a new compound folder with a single shard.
// threshold <= 0 selects DefaultCompoundThreshold.
func NewCompoundFolder(dev BlockDevice, alloc *Allocator, dataAreaOrigin int64, blockSize uint32, name string, threshold int) (*CompoundFolder, error) {
	if threshold <= 0 {
		threshold = DefaultCompoundThreshold
	}
	leaf0, err := NewContentFolder(dev, alloc, dataAreaOrigin, blockSize, name)
	if err != nil {
		return nil, err
	}
	return &CompoundFolder{
		dev: dev, alloc: alloc, dataAreaOrigin: dataAreaOrigin, blockSize: blockSize,
		name: name, threshold: threshold,
		leaves: []*ContentFolder{leaf0}, nameIndex: make(map[string]int),
	}, nil
}

// OpenCompoundFolder opens an existing compound folder rooted at
// startBlock, following its reserved shard entries to discover every leaf.
func OpenCompoundFolder(dev BlockDevice, alloc *Allocator, dataAreaOrigin int64, blockSize uint32, startBlock BlockID, name string, threshold int) (*CompoundFolder, error) {
	if threshold <= 0 {
		threshold = DefaultCompoundThreshold
	}
	leaf0, err := OpenContentFolder(dev, alloc, dataAreaOrigin, blockSize, startBlock, name)
	if err != nil {
		return nil, err
	}
	cf := &CompoundFolder{
		dev: dev, alloc: alloc, dataAreaOrigin: dataAreaOrigin, blockSize: blockSize,
		name: name, threshold: threshold,
		leaves: []*ContentFolder{leaf0}, nameIndex: make(map[string]int),
	}
	for i := 1; ; i++ {
		sub, err := leaf0.GetFolder(shardName(i))
		if err != nil {
			if IsNotFound(err) {
				break
			}
			return nil, err
		}
		cf.leaves = append(cf.leaves, sub)
	}
	return cf, nil
}

// Name returns the compound folder's own name, as recorded by its parent.
func (cf *CompoundFolder) Name() string { return cf.name }

// StartBlockIndex returns the block index of the primary shard, which is
// what a parent folder records as this entry's first block.
func (cf *CompoundFolder) StartBlockIndex() BlockID { return cf.leaves[0].StartBlockIndex() }

func (cf *CompoundFolder) locate(name string) (leaf *ContentFolder, found bool, err error) {
	if i, ok := cf.nameIndex[name]; ok {
		return cf.leaves[i], true, nil
	}
	for i, l := range cf.leaves {
		if _, ok, err := l.lookup(name); err != nil {
			return nil, false, err
		} else if ok {
			cf.nameIndex[name] = i
			return l, true, nil
		}
	}
	return nil, false, nil
}

// chooseLeafForInsert picks the leaf a new entry should land in: the leaf
// under threshold with the most reusable tombstones (so a later AddFile
// reuses a slot instead of growing the shard's body), falling back to the
// least-loaded under-threshold leaf when no leaf has a tombstone to offer.
// Only when every leaf is at or over threshold does it spill a new shard.
func (cf *CompoundFolder) chooseLeafForInsert() (*ContentFolder, error) {
	var best *ContentFolder
	var bestTombstones, bestAlive uint64
	for _, leaf := range cf.leaves {
		alive := leaf.AliveEntryCount()
		if alive >= uint64(cf.threshold) {
			continue
		}
		tombstones := leaf.TotalEntryCount() - alive
		if best == nil || tombstones > bestTombstones || (tombstones == bestTombstones && alive < bestAlive) {
			best, bestTombstones, bestAlive = leaf, tombstones, alive
		}
	}
	if best != nil {
		return best, nil
	}
	idx := len(cf.leaves)
	// The shard entry is committed directly: ContentFolder.AddFolder runs
	// validateEntryName, which rejects the reserved prefix.
	sub, err := NewContentFolder(cf.dev, cf.alloc, cf.dataAreaOrigin, cf.blockSize, shardName(idx))
	if err != nil {
		return nil, err
	}
	if err := cf.leaves[0].commitNewEntry(shardName(idx), false, sub.StartBlockIndex()); err != nil {
		return nil, err
	}
	cf.leaves = append(cf.leaves, sub)
	return sub, nil
}

// AddFile creates a new, empty file entry in the shard chooseLeafForInsert
// selects, spilling a new shard if every existing one is at capacity.
func (cf *CompoundFolder) AddFile(name string) error {
	if err := validateEntryName(name); err != nil {
		return err
	}
	if _, found, err := cf.locate(name); err != nil {
		return err
	} else if found {
		return ErrAlreadyExists
	}
	leaf, err := cf.chooseLeafForInsert()
	if err != nil {
		return err
	}
	if err := leaf.AddFile(name); err != nil {
		return err
	}
	cf.nameIndex[name] = cf.leafIndex(leaf)
	return nil
}

// AddFolder creates a new subfolder entry the same way AddFile does.
func (cf *CompoundFolder) AddFolder(name string) (*ContentFolder, error) {
	if err := validateEntryName(name); err != nil {
		return nil, err
	}
	if _, found, err := cf.locate(name); err != nil {
		return nil, err
	} else if found {
		return nil, ErrAlreadyExists
	}
	leaf, err := cf.chooseLeafForInsert()
	if err != nil {
		return nil, err
	}
	sub, err := leaf.AddFolder(name)
	if err != nil {
		return nil, err
	}
	cf.nameIndex[name] = cf.leafIndex(leaf)
	return sub, nil
}

func (cf *CompoundFolder) leafIndex(leaf *ContentFolder) int {
	for i, l := range cf.leaves {
		if l == leaf {
			return i
		}
	}
	return -1
}

// GetFile opens the named file entry, searching every shard.
func (cf *CompoundFolder) GetFile(name string, mode OpenMode) (*File, error) {
	leaf, found, err := cf.locate(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return leaf.GetFile(name, mode)
}

// GetFolder opens the named subfolder entry, searching every shard.
func (cf *CompoundFolder) GetFolder(name string) (*ContentFolder, error) {
	leaf, found, err := cf.locate(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return leaf.GetFolder(name)
}

// RemoveFile removes the named file entry from whichever shard holds it.
func (cf *CompoundFolder) RemoveFile(name string) error {
	leaf, found, err := cf.locate(name)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if err := leaf.RemoveFile(name); err != nil {
		return err
	}
	delete(cf.nameIndex, name)
	return nil
}

// RemoveFolder removes the named subfolder entry from whichever shard
// holds it.
func (cf *CompoundFolder) RemoveFolder(name string, recursive bool) error {
	leaf, found, err := cf.locate(name)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if err := leaf.RemoveFolder(name, recursive); err != nil {
		return err
	}
	delete(cf.nameIndex, name)
	return nil
}

// RenameEntry renames a live entry in place. Renaming across shards is not
// needed since a shard is chosen only at creation time and rename never
// moves an entry.
func (cf *CompoundFolder) RenameEntry(oldName, newName string) error {
	leaf, found, err := cf.locate(oldName)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	if _, already, err := cf.locate(newName); err != nil {
		return err
	} else if already {
		return ErrAlreadyExists
	}
	if err := leaf.RenameEntry(oldName, newName); err != nil {
		return err
	}
	idx := cf.leafIndex(leaf)
	delete(cf.nameIndex, oldName)
	cf.nameIndex[newName] = idx
	return nil
}

// List aggregates the live entries of every shard, filtering out the
// reserved shard-linkage entries.
func (cf *CompoundFolder) List() ([]EntryInfo, error) {
	var all []EntryInfo
	for _, leaf := range cf.leaves {
		entries, err := leaf.List()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if strings.HasPrefix(e.Name, shardEntryPrefix) {
				continue
			}
			all = append(all, e)
		}
	}
	return all, nil
}

// ShardCount returns the number of physical ContentFolder shards currently
// backing this compound folder.
func (cf *CompoundFolder) ShardCount() int { return len(cf.leaves) }
