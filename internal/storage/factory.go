package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tessera/internal/common"
	"github.com/ternarybob/tessera/internal/interfaces"
	"github.com/ternarybob/tessera/internal/storage/badger"
	"github.com/ternarybob/tessera/internal/storage/memory"
)

// NewStorageManager creates a storage manager for the configured
// backend. Scheduler semantics do not depend on the backend choice.
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	switch config.Storage.Backend {
	case "", "memory":
		return memory.NewManager(logger), nil
	case "badger":
		return badger.NewManager(logger, &config.Storage.Badger)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", config.Storage.Backend)
	}
}
