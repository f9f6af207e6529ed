// Command cofferfmt creates a fresh encrypted coffer container file on disk.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/coffer-fs/coffer"
	"github.com/coffer-fs/coffer/cofferdevice"
)

func main() {
	var (
		path       = flag.String("path", "", "path to the container file to create")
		blocks     = flag.Uint64("blocks", 1<<16, "number of blocks in the container's data area")
		pageSize   = flag.Int("page-size", 4096, "page size, in bytes, of the encrypted device (should match -block-size)")
		blockSize  = flag.Uint("block-size", 4096, "coffer block size, in bytes")
		cipherName = flag.String("cipher", "aes-256-gcm", "page cipher: aes-256-gcm or chacha20-poly1305")
		sparse     = flag.Bool("sparse", true, "skip eagerly zero-filling the data area")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("session", uuid.New().String())

	if *path == "" {
		log.Error("missing required flag", "flag", "-path")
		os.Exit(2)
	}

	cipherID, err := parseCipher(*cipherName)
	if err != nil {
		log.Error("invalid cipher", "err", err)
		os.Exit(2)
	}

	password, err := readPassword()
	if err != nil {
		log.Error("could not read password", "err", err)
		os.Exit(1)
	}

	volumeID := uuid.New()
	log.Info("creating container", "path", *path, "blocks", *blocks, "cipher", *cipherName, "volume_id", volumeID.String())

	dev, err := cofferdevice.Create(*path, cofferdevice.Config{
		Password: password,
		Cipher:   cipherID,
		KDF:      cofferdevice.KDFArgon2id,
		PageSize: *pageSize,
	})
	if err != nil {
		log.Error("create encrypted device", "err", err)
		os.Exit(1)
	}
	defer dev.Close()

	opts := coffer.FormatOptions{
		TotalBlocks: *blocks,
		BlockSize:   uint32(*blockSize),
		Password:    password,
		Cipher:      cipherID,
		Sparse:      *sparse,
	}
	if err := coffer.Format(dev, opts); err != nil {
		log.Error("format container", "err", err)
		os.Exit(1)
	}

	log.Info("container ready", "path", *path, "volume_id", volumeID.String())
}

func parseCipher(name string) (coffer.CipherID, error) {
	switch name {
	case "aes-256-gcm":
		return coffer.CipherAES256GCM, nil
	case "chacha20-poly1305":
		return coffer.CipherChaCha20Poly1305, nil
	default:
		return coffer.CipherNone, fmt.Errorf("unknown cipher %q", name)
	}
}

func readPassword() ([]byte, error) {
	if pw := os.Getenv("COFFER_PASSWORD"); pw != "" {
		return []byte(pw), nil
	}
	fmt.Fprint(os.Stderr, "container password: ")
	var pw string
	if _, err := fmt.Scanln(&pw); err != nil {
		return nil, err
	}
	if pw == "" {
		return nil, fmt.Errorf("password must not be empty")
	}
	return []byte(pw), nil
}
