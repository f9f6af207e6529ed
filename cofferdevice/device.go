package cofferdevice

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/coffer-fs/coffer"
)

// Backing is the minimal contract a Device needs from its underlying
// storage: byte-addressable random access, a size, and a durability
// barrier. *os.File satisfies it once wrapped in FileBacking.
type Backing interface {
	io.ReaderAt
	io.WriterAt
	Size() (int64, error)
	Sync() error
}

const (
	magicValue       = "CFRD"
	headerVersion    = 1
	verifierPlain    = "coffer-device-ok"
	fixedNonceSize   = 12 // both AES-256-GCM and ChaCha20-Poly1305 use 12-byte nonces
	fixedAEADOverhead = 16
)

// header is the fixed-size cleartext region stored at the front of the
// backing store, ahead of every encrypted page. Its layout never depends on
// PageSize so a device can be opened before any page is decoded.
type header struct {
	kdf             KDF
	cipher          coffer.CipherID
	argon2          Argon2idParams
	pbkdf2          PBKDF2Params
	salt            []byte
	verifierNonce   []byte
	verifierSealed  []byte
	pageSize        uint32
}

const headerFixedSize = 4 + 1 + 1 + 1 + 4 + 4 + 1 + 4 + 4 // magic,version,kdf,cipher,argon2mem,argon2iter,argon2par,pbkdf2iter,pageSize
const headerSize = headerFixedSize + saltSize + fixedNonceSize + (len(verifierPlain) + fixedAEADOverhead)

func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], magicValue)
	buf[4] = headerVersion
	buf[5] = byte(h.kdf)
	buf[6] = byte(h.cipher)
	binary.LittleEndian.PutUint32(buf[7:11], h.argon2.Memory)
	binary.LittleEndian.PutUint32(buf[11:15], h.argon2.Iterations)
	buf[15] = h.argon2.Parallelism
	binary.LittleEndian.PutUint32(buf[16:20], uint32(h.pbkdf2.Iterations))
	binary.LittleEndian.PutUint32(buf[20:24], h.pageSize)
	off := headerFixedSize
	copy(buf[off:off+saltSize], h.salt)
	off += saltSize
	copy(buf[off:off+fixedNonceSize], h.verifierNonce)
	off += fixedNonceSize
	copy(buf[off:], h.verifierSealed)
	return buf
}

func decodeHeader(buf []byte) (*header, error) {
	if len(buf) != headerSize {
		return nil, fmt.Errorf("cofferdevice: short header: got %d bytes, want %d", len(buf), headerSize)
	}
	if string(buf[0:4]) != magicValue {
		return nil, coffer.NewCorruptionError("cofferdevice.header", "bad magic")
	}
	if buf[4] != headerVersion {
		return nil, coffer.NewCorruptionError("cofferdevice.header", "unsupported header version")
	}
	h := &header{
		kdf:    KDF(buf[5]),
		cipher: coffer.CipherID(buf[6]),
	}
	h.argon2.Memory = binary.LittleEndian.Uint32(buf[7:11])
	h.argon2.Iterations = binary.LittleEndian.Uint32(buf[11:15])
	h.argon2.Parallelism = buf[15]
	h.pbkdf2.Iterations = int(binary.LittleEndian.Uint32(buf[16:20]))
	h.pageSize = binary.LittleEndian.Uint32(buf[20:24])
	off := headerFixedSize
	h.salt = append([]byte(nil), buf[off:off+saltSize]...)
	off += saltSize
	h.verifierNonce = append([]byte(nil), buf[off:off+fixedNonceSize]...)
	off += fixedNonceSize
	h.verifierSealed = append([]byte(nil), buf[off:]...)
	return h, nil
}

// Config selects the cryptographic parameters for a new container.
type Config struct {
	Password []byte
	Cipher   coffer.CipherID
	KDF      KDF
	Argon2   Argon2idParams
	PBKDF2   PBKDF2Params
	PageSize int // logical page size exposed via BlockDevice; defaults to 4096
}

func (c Config) pageSize() int {
	if c.PageSize <= 0 {
		return 4096
	}
	return c.PageSize
}

// Device implements coffer.BlockDevice over an encrypted backing store.
// Every logical PageSize-byte page is stored physically as a random
// nonce followed by an AEAD-sealed ciphertext; the page index is bound into
// the ciphertext as additional authenticated data so pages cannot be
// reordered or swapped undetected. A page that was never physically
// written decodes as all-zero plaintext, mirroring the sparse-container
// convention used throughout the coffer package.
type Device struct {
	backing  Backing
	engine   CipherEngine
	pageSize int
	physPage int
}

var _ coffer.BlockDevice = (*Device)(nil)

// CreateBacking initializes a fresh encrypted container on backing and
// returns a Device ready for use. backing must be empty; CreateBacking does
// not truncate or verify that.
func CreateBacking(backing Backing, cfg Config) (*Device, error) {
	if len(cfg.Password) == 0 {
		return nil, &coffer.ValidationError{Field: "Password", Message: "must not be empty"}
	}
	salt, err := generateSalt()
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(cfg.KDF, cfg.Password, salt, cfg.Argon2, cfg.PBKDF2)
	if err != nil {
		return nil, err
	}
	engine, err := NewCipherEngine(cfg.Cipher, key)
	if err != nil {
		return nil, err
	}
	nonce, err := GenerateNonce(engine.NonceSize())
	if err != nil {
		return nil, err
	}
	sealed := engine.Seal(nonce, nil, []byte(verifierPlain))

	h := &header{
		kdf:            cfg.KDF,
		cipher:         cfg.Cipher,
		argon2:         cfg.Argon2.withDefaults(),
		pbkdf2:         cfg.PBKDF2.withDefaults(),
		salt:           salt,
		verifierNonce:  nonce,
		verifierSealed: sealed,
		pageSize:       uint32(cfg.pageSize()),
	}
	if _, err := backing.WriteAt(h.encode(), 0); err != nil {
		return nil, coffer.NewIOError("write header", 0, err)
	}
	if err := backing.Sync(); err != nil {
		return nil, coffer.NewIOError("sync", 0, err)
	}

	return &Device{
		backing:  backing,
		engine:   engine,
		pageSize: cfg.pageSize(),
		physPage: fixedNonceSize + cfg.pageSize() + engine.Overhead(),
	}, nil
}

// OpenBacking reads the header from an existing encrypted container,
// derives the page-encryption key from cfg.Password, and verifies it
// against the stored verifier before returning a usable Device.
func OpenBacking(backing Backing, cfg Config) (*Device, error) {
	raw := make([]byte, headerSize)
	if _, err := io.ReadFull(io.NewSectionReader(backing, 0, int64(headerSize)), raw); err != nil {
		return nil, coffer.NewIOError("read header", 0, err)
	}
	h, err := decodeHeader(raw)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(h.kdf, cfg.Password, h.salt, h.argon2, h.pbkdf2)
	if err != nil {
		return nil, err
	}
	engine, err := NewCipherEngine(h.cipher, key)
	if err != nil {
		return nil, err
	}
	if _, err := engine.Open(h.verifierNonce, nil, h.verifierSealed); err != nil {
		return nil, &coffer.AuthenticationError{Reason: "password does not match container"}
	}

	return &Device{
		backing:  backing,
		engine:   engine,
		pageSize: int(h.pageSize),
		physPage: fixedNonceSize + int(h.pageSize) + engine.Overhead(),
	}, nil
}

func pageAAD(page uint64) []byte {
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, page)
	return aad
}

func (d *Device) physOffset(page uint64) int64 {
	return int64(headerSize) + int64(page)*int64(d.physPage)
}

// readPage returns the decrypted plaintext of a logical page. A page that
// has never been physically written reads back as all zeros.
func (d *Device) readPage(page uint64) ([]byte, error) {
	buf := make([]byte, d.physPage)
	n, err := d.backing.ReadAt(buf, d.physOffset(page))
	if err != nil && err != io.EOF {
		return nil, coffer.NewIOError("read page", d.physOffset(page), err)
	}
	if n == 0 {
		return make([]byte, d.pageSize), nil
	}
	if n < d.physPage {
		// A partially-written page trailer region: treat the unwritten tail
		// as zero ciphertext bytes, same sparse convention as a whole
		// never-written page, rather than as corruption - a container
		// grown with Sparse formatting legitimately ends mid-page.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
	}
	nonce := buf[:fixedNonceSize]
	ciphertext := buf[fixedNonceSize:]
	if isAllZero(nonce) && isAllZero(ciphertext) {
		return make([]byte, d.pageSize), nil
	}
	plaintext, err := d.engine.Open(nonce, pageAAD(page), ciphertext)
	if err != nil {
		return nil, err
	}
	return plaintext, nil
}

func (d *Device) writePage(page uint64, plaintext []byte) error {
	nonce, err := GenerateNonce(d.engine.NonceSize())
	if err != nil {
		return err
	}
	ciphertext := d.engine.Seal(nonce, pageAAD(page), plaintext)
	buf := make([]byte, d.physPage)
	copy(buf, nonce)
	copy(buf[fixedNonceSize:], ciphertext)
	if _, err := d.backing.WriteAt(buf, d.physOffset(page)); err != nil {
		return coffer.NewIOError("write page", d.physOffset(page), err)
	}
	return nil
}

// ReadAt implements coffer.BlockDevice.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if err := coffer.ValidateOffset(off); err != nil {
		return 0, err
	}
	total := 0
	for total < len(p) {
		abs := off + int64(total)
		page := uint64(abs / int64(d.pageSize))
		inPage := int(abs % int64(d.pageSize))
		plaintext, err := d.readPage(page)
		if err != nil {
			return total, err
		}
		n := copy(p[total:], plaintext[inPage:])
		total += n
	}
	return total, nil
}

// WriteAt implements coffer.BlockDevice.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	if err := coffer.ValidateOffset(off); err != nil {
		return 0, err
	}
	total := 0
	for total < len(p) {
		abs := off + int64(total)
		page := uint64(abs / int64(d.pageSize))
		inPage := int(abs % int64(d.pageSize))
		toWrite := d.pageSize - inPage
		if toWrite > len(p)-total {
			toWrite = len(p) - total
		}

		var plaintext []byte
		if inPage == 0 && toWrite == d.pageSize {
			plaintext = make([]byte, d.pageSize)
		} else {
			existing, err := d.readPage(page)
			if err != nil {
				return total, err
			}
			plaintext = existing
		}
		copy(plaintext[inPage:inPage+toWrite], p[total:total+toWrite])
		if err := d.writePage(page, plaintext); err != nil {
			return total, err
		}
		total += toWrite
	}
	return total, nil
}

// Size implements coffer.BlockDevice. It reports the logical size of the
// container: the number of pages physically present, times PageSize. A
// partial trailing page counts as a whole page.
func (d *Device) Size() (int64, error) {
	physSize, err := d.backing.Size()
	if err != nil {
		return 0, coffer.NewIOError("size", 0, err)
	}
	dataSize := physSize - int64(headerSize)
	if dataSize < 0 {
		return 0, nil
	}
	pages := dataSize / int64(d.physPage)
	if dataSize%int64(d.physPage) != 0 {
		pages++
	}
	return pages * int64(d.pageSize), nil
}

// Sync implements coffer.BlockDevice.
func (d *Device) Sync() error {
	return d.backing.Sync()
}

// Close syncs and, if the backing supports it, closes the underlying
// resource. Devices built over a Backing that does not implement io.Closer
// (such as an in-memory one) simply sync.
func (d *Device) Close() error {
	if err := d.backing.Sync(); err != nil {
		return err
	}
	if c, ok := d.backing.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// PageSize returns the logical page size negotiated at Create/Open time.
// coffer.FormatOptions.BlockSize should normally match it so every coffer
// block maps onto whole encrypted pages.
func (d *Device) PageSize() int {
	return d.pageSize
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
