// Package coffer implements the on-disk storage engine for an encrypted,
// single-file virtual filesystem: a bitmap-backed block allocator, a
// linked-block file primitive, and a directory encoding built on top of it.
//
// # Overview
//
// A coffer container is a single host file whose data area is carved into
// fixed-size blocks. Files are chains of blocks linked by a trailer on each
// block; directories are themselves files whose bytes hold a packed array of
// fixed-width entry records. Everything below the block layer — the actual
// symmetric cipher, password hashing, and key derivation — is treated as an
// external collaborator through the BlockDevice interface; package
// cofferdevice supplies a concrete, working implementation of that
// collaborator built on AES-256-GCM, ChaCha20-Poly1305, Argon2id and PBKDF2.
//
// # Basic usage
//
//	dev, err := cofferdevice.Open("vault.coffer", cofferdevice.Config{
//	    Password: []byte("correct horse battery staple"),
//	    Cipher:   coffer.CipherChaCha20Poly1305,
//	})
//	fs, err := coffer.Open(dev, []byte("correct horse battery staple"))
//	f, err := fs.OpenFile("/notes.txt", coffer.ModeCreateWriteOnly)
//	f.Write([]byte("hello, vault"))
//	f.Flush()
//
// # Concurrency
//
// A CoreFS serializes all mutating operations behind a single mutex, as
// described by the container format's single-writer design. Two File or
// ContentFolder values opened directly (bypassing CoreFS) are not safe for
// concurrent use against overlapping block ranges; callers composing their
// own tree on top of the block/file/folder primitives must provide their
// own serialization, exactly as CoreFS does.
package coffer
