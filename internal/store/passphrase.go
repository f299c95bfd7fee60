package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	passphraseFile = "preferences.key"
	passphraseSize = 32
)

// newPassphrase returns a random SQLCipher key.
func newPassphrase() ([]byte, error) {
	key := make([]byte, passphraseSize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate store key: %w", err)
	}
	return key, nil
}

// loadPassphrase reads the key stored next to the database in dataDir,
// creating it on first use. The file is published with a hard link, so when
// the CLI and the daemon race on a fresh data dir both end up with the
// winner's key.
func loadPassphrase(dataDir string) ([]byte, error) {
	path := filepath.Join(dataDir, passphraseFile)
	key, err := readPassphrase(path)
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		return key, err
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	key, err = newPassphrase()
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(dataDir, passphraseFile+".*")
	if err != nil {
		return nil, fmt.Errorf("failed to write store key: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(hex.EncodeToString(key)); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("failed to write store key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("failed to write store key: %w", err)
	}

	if err := os.Link(tmp.Name(), path); err != nil {
		if errors.Is(err, os.ErrExist) {
			return readPassphrase(path)
		}
		return nil, fmt.Errorf("failed to publish store key: %w", err)
	}
	return key, nil
}

func readPassphrase(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("store key %s is corrupt: %w", path, err)
	}
	if len(key) != passphraseSize {
		return nil, fmt.Errorf("store key %s has %d bytes, want %d", path, len(key), passphraseSize)
	}
	return key, nil
}
