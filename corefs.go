package coffer

import (
	"strings"
	"sync"
)

// CoreFS is the facade over a single open container: it resolves slash
// paths against a tree of CompoundFolders, serializes every mutating
// operation behind one mutex, and caches the folders and the single most
// recently opened file along a path so repeated operations against the
// same directory don't re-walk the tree from the root every time.
//
// The serialization is coarse on purpose: the block/file/folder layers
// below are not safe for concurrent mutation of overlapping state, and the
// container format's speculative allocation (see Allocator) assumes a
// single writer. CoreFS is that writer.
type CoreFS struct {
	mu sync.Mutex

	dev BlockDevice
	sb  *Superblock
	alloc *Allocator

	root *CompoundFolder

	folderCache map[string]*CompoundFolder

	cachedPath string
	cachedFile *File
}

// Open opens an existing container. password is checked against the
// superblock's stored hash before anything else is read.
func Open(dev BlockDevice, password []byte) (*CoreFS, error) {
	sb, err := OpenSuperblock(dev, password)
	if err != nil {
		return nil, err
	}
	alloc := sb.NewAllocator()
	root, err := OpenCompoundFolder(dev, alloc, sb.DataAreaOrigin(), sb.BlockSize, 0, "root", DefaultCompoundThreshold)
	if err != nil {
		return nil, err
	}
	return &CoreFS{
		dev: dev, sb: sb, alloc: alloc, root: root,
		folderCache: map[string]*CompoundFolder{"/": root},
	}, nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func parentAndLeaf(path string) (parent string, leaf string, err error) {
	if err := ValidatePath(path); err != nil {
		return "", "", err
	}
	parts := splitPath(path)
	if len(parts) == 0 {
		return "/", "", nil
	}
	leaf = parts[len(parts)-1]
	parent = "/" + strings.Join(parts[:len(parts)-1], "/")
	return parent, leaf, nil
}

func joinPath(parent, leaf string) string {
	if parent == "/" {
		return "/" + leaf
	}
	return parent + "/" + leaf
}

// resolveFolder returns the cached folder for path if there is one;
// otherwise it walks path from the root down to the named folder,
// populating folderCache along the way.
func (fs *CoreFS) resolveFolder(path string) (*CompoundFolder, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if cf, ok := fs.folderCache[path]; ok {
		return cf, nil
	}
	parts := splitPath(path)
	cur := fs.root
	curPath := "/"
	for _, part := range parts {
		cf, found, err := cur.lookupCompound(fs.dev, fs.alloc, fs.sb, part)
		if err != nil {
			return nil, err
		}
		if !found {
			return nil, ErrNotFound
		}
		curPath = joinPath(curPath, part)
		fs.folderCache[curPath] = cf
		cur = cf
	}
	return cur, nil
}

// lookupCompound opens the named subfolder of cf as a CompoundFolder: it
// first tries cf's own entries, and if the match is a folder, re-opens its
// start block as a CompoundFolder so nested directories shard the same way
// the root does.
func (cf *CompoundFolder) lookupCompound(dev BlockDevice, alloc *Allocator, sb *Superblock, name string) (*CompoundFolder, bool, error) {
	leaf, found, err := cf.locate(name)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	e, _, err := leaf.lookup(name)
	if err != nil {
		return nil, false, err
	}
	if e.info.Type != EntryTypeFolder {
		return nil, false, ErrNotADirectory
	}
	sub, err := OpenCompoundFolder(dev, alloc, sb.DataAreaOrigin(), sb.BlockSize, BlockID(e.info.FirstBlock), name, DefaultCompoundThreshold)
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}

func (fs *CoreFS) invalidateFolderCache(prefix string) {
	for p := range fs.folderCache {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			if p != "/" {
				delete(fs.folderCache, p)
			}
		}
	}
}

func (fs *CoreFS) resetCachedFile(path string) {
	if fs.cachedPath == path {
		fs.cachedPath = ""
		fs.cachedFile = nil
	}
}

// Mkdir creates a new, empty folder at path. The parent must already
// exist.
func (fs *CoreFS) Mkdir(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parentPath, leaf, err := parentAndLeaf(path)
	if err != nil {
		return err
	}
	if leaf == "" {
		return &ValidationError{Field: "path", Value: path, Message: "cannot create the root"}
	}
	parent, err := fs.resolveFolder(parentPath)
	if err != nil {
		return err
	}
	_, err = parent.AddFolder(leaf)
	return err
}

// AddFile creates a new, empty file at path. The parent must already
// exist.
func (fs *CoreFS) AddFile(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parentPath, leaf, err := parentAndLeaf(path)
	if err != nil {
		return err
	}
	if leaf == "" {
		return &ValidationError{Field: "path", Value: path, Message: "cannot create the root"}
	}
	parent, err := fs.resolveFolder(parentPath)
	if err != nil {
		return err
	}
	return parent.AddFile(leaf)
}

// OpenFile opens the file at path with mode, creating it first if mode
// requests write access and the file does not yet exist.
func (fs *CoreFS) OpenFile(path string, mode OpenMode) (*File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if fs.cachedPath == path && fs.cachedFile != nil {
		return fs.cachedFile, nil
	}
	parentPath, leaf, err := parentAndLeaf(path)
	if err != nil {
		return nil, err
	}
	if leaf == "" {
		return nil, &ValidationError{Field: "path", Value: path, Message: "not a file"}
	}
	parent, err := fs.resolveFolder(parentPath)
	if err != nil {
		return nil, err
	}
	f, err := parent.GetFile(leaf, mode)
	if err != nil {
		if IsNotFound(err) && mode.writable() {
			if err := parent.AddFile(leaf); err != nil {
				return nil, err
			}
			f, err = parent.GetFile(leaf, mode)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, err
		}
	}
	fs.cachedPath = path
	fs.cachedFile = f
	return f, nil
}

// TruncateFile resizes the file at path to size bytes.
func (fs *CoreFS) TruncateFile(path string, size int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parentPath, leaf, err := parentAndLeaf(path)
	if err != nil {
		return err
	}
	parent, err := fs.resolveFolder(parentPath)
	if err != nil {
		return err
	}
	f, err := parent.GetFile(leaf, OpenMode{Access: ReadWrite, Append: ModeOverwrite, Truncate: ModeKeep})
	if err != nil {
		return err
	}
	return f.Truncate(size)
}

// RemoveFile deletes the file at path.
func (fs *CoreFS) RemoveFile(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.resetCachedFile(path)
	parentPath, leaf, err := parentAndLeaf(path)
	if err != nil {
		return err
	}
	parent, err := fs.resolveFolder(parentPath)
	if err != nil {
		return err
	}
	return parent.RemoveFile(leaf)
}

// RemoveFolder deletes the folder at path, recursively if recursive is
// true, or only if it is empty otherwise.
func (fs *CoreFS) RemoveFolder(path string, recursive bool) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parentPath, leaf, err := parentAndLeaf(path)
	if err != nil {
		return err
	}
	if leaf == "" {
		return &ValidationError{Field: "path", Value: path, Message: "cannot remove the root"}
	}
	parent, err := fs.resolveFolder(parentPath)
	if err != nil {
		return err
	}
	if err := parent.RemoveFolder(leaf, recursive); err != nil {
		return err
	}
	fs.invalidateFolderCache(path)
	return nil
}

// RenameEntry renames a file or folder entry within the same parent
// folder.
func (fs *CoreFS) RenameEntry(path, newName string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parentPath, leaf, err := parentAndLeaf(path)
	if err != nil {
		return err
	}
	parent, err := fs.resolveFolder(parentPath)
	if err != nil {
		return err
	}
	if err := parent.RenameEntry(leaf, newName); err != nil {
		return err
	}
	oldFull := joinPath(parentPath, leaf)
	fs.invalidateFolderCache(oldFull)
	fs.resetCachedFile(oldFull)
	return nil
}

// List returns the live entries of the folder at path.
func (fs *CoreFS) List(path string) ([]EntryInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	cf, err := fs.resolveFolder(path)
	if err != nil {
		return nil, err
	}
	return cf.List()
}

// FolderExists reports whether path names a live folder.
func (fs *CoreFS) FolderExists(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	_, err := fs.resolveFolder(path)
	return err == nil
}

// FileExists reports whether path names a live file.
func (fs *CoreFS) FileExists(path string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	parentPath, leaf, err := parentAndLeaf(path)
	if err != nil {
		return false
	}
	parent, err := fs.resolveFolder(parentPath)
	if err != nil {
		return false
	}
	entries, err := parent.List()
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.Name == leaf && e.Type == EntryTypeFile {
			return true
		}
	}
	return false
}

// Statfs reports allocator-level capacity for the open container.
func (fs *CoreFS) Statfs() (StatfsInfo, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	total, free, err := fs.alloc.Stat()
	if err != nil {
		return StatfsInfo{}, err
	}
	fc, err := fs.sb.FileCount()
	if err != nil {
		return StatfsInfo{}, err
	}
	return StatfsInfo{BlockSize: fs.sb.BlockSize, TotalBlocks: total, FreeBlocks: free, FileCount: fc}, nil
}

// BlockSize returns the container's fixed block size.
func (fs *CoreFS) BlockSize() uint32 { return fs.sb.BlockSize }
