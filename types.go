package coffer

// AccessMode controls whether a File permits reads, writes, or both.
type AccessMode uint8

const (
	ReadOnly AccessMode = iota
	WriteOnly
	ReadWrite
)

// AppendDisposition controls how writes position themselves relative to
// the file's existing content: Overwrite lets a write land anywhere the
// cursor has been seeked to, growing the file only if the write crosses
// the previous end; Append always grows the file by exactly what is
// written, regardless of where the cursor sits.
type AppendDisposition uint8

const (
	ModeOverwrite AppendDisposition = iota
	ModeAppend
)

// TruncateDisposition controls whether opening an existing file discards
// its current content.
type TruncateDisposition uint8

const (
	ModeKeep TruncateDisposition = iota
	ModeTruncate
)

// OpenMode bundles the three independent axes a File open call needs.
type OpenMode struct {
	Access   AccessMode
	Append   AppendDisposition
	Truncate TruncateDisposition
}

func (m OpenMode) readable() bool { return m.Access == ReadOnly || m.Access == ReadWrite }
func (m OpenMode) writable() bool { return m.Access == WriteOnly || m.Access == ReadWrite }

// Common open-mode presets, named the way callers most often reach for them.
var (
	ModeCreateWriteOnly = OpenMode{Access: WriteOnly, Append: ModeOverwrite, Truncate: ModeTruncate}
	ModeAppendWriteOnly = OpenMode{Access: WriteOnly, Append: ModeAppend, Truncate: ModeKeep}
	ModeReadOnlyMode    = OpenMode{Access: ReadOnly, Append: ModeOverwrite, Truncate: ModeKeep}
	ModeReadWriteMode   = OpenMode{Access: ReadWrite, Append: ModeOverwrite, Truncate: ModeKeep}
)

// EntryType distinguishes a folder's live entries.
type EntryType uint8

const (
	EntryTypeFile EntryType = iota
	EntryTypeFolder
)

func (t EntryType) String() string {
	if t == EntryTypeFolder {
		return "folder"
	}
	return "file"
}

// EntryInfo describes one live entry as read from a ContentFolder or
// CompoundFolder listing.
type EntryInfo struct {
	Name       string
	Type       EntryType
	Size       uint64
	FirstBlock uint64
}

// StatfsInfo reports allocator-level capacity, as returned by CoreFS.Statfs.
type StatfsInfo struct {
	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	FileCount   uint64
}

// CipherID identifies the page cipher recorded in a container's superblock.
// The mapping is part of the on-disk format and must not be renumbered.
type CipherID uint8

const (
	CipherNone CipherID = 0
	CipherAES256GCM CipherID = 1
	CipherChaCha20Poly1305 CipherID = 2
)

func (c CipherID) String() string {
	switch c {
	case CipherAES256GCM:
		return "aes-256-gcm"
	case CipherChaCha20Poly1305:
		return "chacha20-poly1305"
	default:
		return "none"
	}
}
