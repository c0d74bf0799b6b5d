package storage

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// saltFile holds the random salt next to the Badger files. Losing it
	// makes an encrypted store unreadable.
	saltFile = "vertexdb.salt"

	saltLen          = 16
	encryptionKeyLen = 32 // AES-256
	pbkdf2Iterations = 210_000
)

// deriveEncryptionKey turns a passphrase into a Badger encryption key with
// PBKDF2-HMAC-SHA256. The salt is created on first use and reused on every
// later open of the same directory.
func deriveEncryptionKey(passphrase, dir string, inMemory bool) ([]byte, error) {
	if inMemory {
		return nil, errors.New("badger: encryption requires a data directory")
	}
	salt, err := loadOrCreateSalt(dir)
	if err != nil {
		return nil, err
	}
	return pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, encryptionKeyLen, sha256.New), nil
}

func loadOrCreateSalt(dir string) ([]byte, error) {
	path := filepath.Join(dir, saltFile)
	salt, err := os.ReadFile(path)
	if err == nil {
		if len(salt) != saltLen {
			return nil, fmt.Errorf("badger: corrupt salt file %s", path)
		}
		return salt, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, wrapIO("read salt", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wrapIO("create data dir", err)
	}
	salt = make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("badger: generate salt: %w", err)
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, wrapIO("write salt", err)
	}
	return salt, nil
}
