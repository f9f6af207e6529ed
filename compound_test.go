package coffer

import (
	"fmt"
	"testing"
)

func TestCompoundFolderSpillsNewShardAtThreshold(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 1<<20)
	cf, err := NewCompoundFolder(dev, alloc, testDataAreaOrigin, testBlockSize, "root", 3)
	if err != nil {
		t.Fatalf("NewCompoundFolder: %v", err)
	}

	for i := 0; i < 7; i++ {
		name := fmt.Sprintf("file-%d", i)
		if err := cf.AddFile(name); err != nil {
			t.Fatalf("AddFile(%s): %v", name, err)
		}
	}

	if cf.ShardCount() < 3 {
		t.Fatalf("ShardCount() = %d, want at least 3 shards for 7 entries at threshold 3", cf.ShardCount())
	}

	entries, err := cf.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 7 {
		t.Fatalf("List() returned %d entries, want 7", len(entries))
	}
	for _, e := range entries {
		if len(e.Name) >= len(shardEntryPrefix) && e.Name[:len(shardEntryPrefix)] == shardEntryPrefix {
			t.Fatalf("List() leaked an internal shard-linkage entry: %s", e.Name)
		}
	}
}

func TestCompoundFolderAddGetRemoveAcrossShards(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 1<<20)
	cf, err := NewCompoundFolder(dev, alloc, testDataAreaOrigin, testBlockSize, "root", 2)
	if err != nil {
		t.Fatalf("NewCompoundFolder: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := cf.AddFile(fmt.Sprintf("f%d", i)); err != nil {
			t.Fatalf("AddFile: %v", err)
		}
	}
	if _, err := cf.GetFile("f3", ModeReadOnlyMode); err != nil {
		t.Fatalf("GetFile(f3): %v", err)
	}
	if err := cf.RemoveFile("f3"); err != nil {
		t.Fatalf("RemoveFile(f3): %v", err)
	}
	if _, err := cf.GetFile("f3", ModeReadOnlyMode); err != ErrNotFound {
		t.Fatalf("GetFile(f3) after removal: got %v, want ErrNotFound", err)
	}
	if err := cf.AddFile("f3"); err != nil {
		t.Fatalf("re-AddFile(f3) after removal: %v", err)
	}
}

func TestCompoundFolderRejectsDuplicateAcrossShards(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 1<<20)
	cf, err := NewCompoundFolder(dev, alloc, testDataAreaOrigin, testBlockSize, "root", 1)
	if err != nil {
		t.Fatalf("NewCompoundFolder: %v", err)
	}
	if err := cf.AddFile("shared"); err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := cf.AddFile("other"); err != nil { // forces a second shard
		t.Fatalf("AddFile(other): %v", err)
	}
	if err := cf.AddFile("shared"); err != ErrAlreadyExists {
		t.Fatalf("AddFile duplicate across shards: got %v, want ErrAlreadyExists", err)
	}
}

func TestCompoundFolderChooseLeafPrefersMostTombstones(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 1<<20)
	cf, err := NewCompoundFolder(dev, alloc, testDataAreaOrigin, testBlockSize, "root", 3)
	if err != nil {
		t.Fatalf("NewCompoundFolder: %v", err)
	}
	for _, name := range []string{"a", "b", "c", "d"} {
		if err := cf.AddFile(name); err != nil {
			t.Fatalf("AddFile(%s): %v", name, err)
		}
	}
	if cf.ShardCount() != 2 {
		t.Fatalf("ShardCount() = %d, want 2 after spilling at threshold 3", cf.ShardCount())
	}

	for _, name := range []string{"a", "b"} {
		if err := cf.RemoveFile(name); err != nil {
			t.Fatalf("RemoveFile(%s): %v", name, err)
		}
	}
	leaf0, leaf1 := cf.leaves[0], cf.leaves[1]
	if leaf0.TotalEntryCount()-leaf0.AliveEntryCount() != 2 {
		t.Fatalf("leaf0 tombstones = %d, want 2", leaf0.TotalEntryCount()-leaf0.AliveEntryCount())
	}
	if leaf1.TotalEntryCount()-leaf1.AliveEntryCount() != 0 {
		t.Fatalf("leaf1 tombstones = %d, want 0", leaf1.TotalEntryCount()-leaf1.AliveEntryCount())
	}

	if err := cf.AddFile("e"); err != nil {
		t.Fatalf("AddFile(e): %v", err)
	}
	// leaf0 holds a, b, c and the shard-1 linkage entry: 4 slots.
	if leaf0.TotalEntryCount() != 4 {
		t.Fatalf("leaf0.TotalEntryCount() = %d after insert, want 4 unchanged (reused a tombstone)", leaf0.TotalEntryCount())
	}
	if leaf1.TotalEntryCount() != 1 {
		t.Fatalf("leaf1.TotalEntryCount() = %d after insert, want 1 unchanged", leaf1.TotalEntryCount())
	}
}

func TestCompoundFolderPersistsAcrossReopen(t *testing.T) {
	dev := newMemDevice()
	alloc := NewAllocator(dev, 0, 1<<20)
	cf, err := NewCompoundFolder(dev, alloc, testDataAreaOrigin, testBlockSize, "root", 2)
	if err != nil {
		t.Fatalf("NewCompoundFolder: %v", err)
	}
	for i := 0; i < 6; i++ {
		if err := cf.AddFile(fmt.Sprintf("g%d", i)); err != nil {
			t.Fatalf("AddFile: %v", err)
		}
	}
	start := cf.StartBlockIndex()

	reopened, err := OpenCompoundFolder(dev, alloc, testDataAreaOrigin, testBlockSize, start, "root", 2)
	if err != nil {
		t.Fatalf("OpenCompoundFolder: %v", err)
	}
	if reopened.ShardCount() != cf.ShardCount() {
		t.Fatalf("ShardCount() after reopen = %d, want %d", reopened.ShardCount(), cf.ShardCount())
	}
	entries, err := reopened.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 6 {
		t.Fatalf("List() after reopen returned %d entries, want 6", len(entries))
	}
}
