package store

import (
	"fmt"
	"path/filepath"

	"github.com/nomor/memclear/internal/domain"
)

// Kind selects a PreferencesStore backend.
type Kind string

const (
	KindEncrypted Kind = "encrypted"
	KindFile      Kind = "file"
)

// Open creates the configured store under dataDir.
func Open(kind Kind, dataDir string) (domain.PreferencesStore, error) {
	switch kind {
	case KindEncrypted, "":
		key, err := loadPassphrase(dataDir)
		if err != nil {
			return nil, err
		}
		return NewEncryptedStore(dataDir, key)
	case KindFile:
		return NewFileStore(filepath.Join(dataDir, "preferences.json"))
	default:
		return nil, fmt.Errorf("unknown store kind: %s", kind)
	}
}
