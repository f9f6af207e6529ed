package coffer

// ValidateOffset rejects negative offsets before they reach a BlockDevice.
func ValidateOffset(offset int64) error {
	if offset < 0 {
		return &ValidationError{Field: "offset", Value: offset, Message: "must be non-negative"}
	}
	return nil
}

// ValidateBlockSize rejects a block size too small to hold a trailer.
func ValidateBlockSize(blockSize uint32) error {
	if blockSize <= FileBlockMeta {
		return &ValidationError{Field: "blockSize", Value: blockSize, Message: "must exceed the block trailer size"}
	}
	return nil
}

// ValidatePath rejects paths that cannot be resolved: empty, or missing
// the leading slash every path in this package is rooted with.
func ValidatePath(path string) error {
	if path == "" {
		return &ValidationError{Field: "path", Message: "must not be empty"}
	}
	if path[0] != '/' {
		return &ValidationError{Field: "path", Value: path, Message: "must be absolute"}
	}
	return nil
}

// Close syncs the underlying BlockDevice. It does not close the device
// itself; callers that opened a *cofferdevice.Device are responsible for
// its own Close.
func (fs *CoreFS) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.dev.Sync()
}
