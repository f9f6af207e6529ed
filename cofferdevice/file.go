package cofferdevice

import "os"

// FileBacking adapts an *os.File to the Backing interface Device needs.
type FileBacking struct {
	f *os.File
}

// NewFileBacking wraps f. The caller remains responsible for closing f.
func NewFileBacking(f *os.File) *FileBacking {
	return &FileBacking{f: f}
}

func (b *FileBacking) ReadAt(p []byte, off int64) (int, error) {
	return b.f.ReadAt(p, off)
}

func (b *FileBacking) WriteAt(p []byte, off int64) (int, error) {
	return b.f.WriteAt(p, off)
}

func (b *FileBacking) Size() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *FileBacking) Sync() error {
	return b.f.Sync()
}

// OpenFile opens path, creating it with perm if it does not exist, and
// wraps it in a FileBacking.
func OpenFile(path string, perm os.FileMode) (*FileBacking, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, perm)
	if err != nil {
		return nil, err
	}
	return NewFileBacking(f), nil
}

// Close closes the underlying *os.File.
func (b *FileBacking) Close() error {
	return b.f.Close()
}

// Create creates a new encrypted container file at path and returns a
// Device backed by it, built from cfg.
func Create(path string, cfg Config) (*Device, error) {
	backing, err := OpenFile(path, 0o600)
	if err != nil {
		return nil, err
	}
	dev, err := CreateBacking(backing, cfg)
	if err != nil {
		backing.Close()
		return nil, err
	}
	return dev, nil
}

// Open opens an existing encrypted container file at path, using
// cfg.Password to derive the page-encryption key.
func Open(path string, cfg Config) (*Device, error) {
	backing, err := OpenFile(path, 0o600)
	if err != nil {
		return nil, err
	}
	dev, err := OpenBacking(backing, cfg)
	if err != nil {
		backing.Close()
		return nil, err
	}
	return dev, nil
}
