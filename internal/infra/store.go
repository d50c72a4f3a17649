package infra

import (
	"fmt"

	"github.com/eliteGoblin/focusd/usagemon/internal/domain"
)

// Storage backends accepted by OpenStore.
const (
	StorageSQLCipher = "sqlcipher"
	StorageBolt      = "bolt"
)

// OpenStore opens the configured backend in dataDir. The SQLCipher key is
// created on first use.
func OpenStore(storageType, dataDir string) (domain.Store, error) {
	switch storageType {
	case StorageSQLCipher, "":
		key, err := EnsureKey(NewFileKeyProvider(dataDir))
		if err != nil {
			return nil, fmt.Errorf("load store key: %w", err)
		}
		return NewEncryptedStore(dataDir, key)
	case StorageBolt:
		return NewBoltStore(dataDir)
	default:
		return nil, fmt.Errorf("unknown storage type %q", storageType)
	}
}
