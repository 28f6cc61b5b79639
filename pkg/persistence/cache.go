package persistence

import (
	"context"
	"fmt"
)

// LocalCache is the per-process durable store holding one serialized document per room id.
type LocalCache interface {
	// Load returns the stored state for roomID and whether any was found.
	Load(ctx context.Context, roomID string) ([]byte, bool, error)
	Store(ctx context.Context, roomID string, state []byte) error
	Delete(ctx context.Context, roomID string) error
	Rooms(ctx context.Context) ([]string, error)
	Close() error
}

// OpenCache opens the cache driver named by driver ("sqlite" or "bolt") at path.
func OpenCache(driver, path string) (LocalCache, error) {
	switch driver {
	case "sqlite", "":
		return OpenSQLite(path)
	case "bolt":
		return OpenBolt(path)
	}
	return nil, fmt.Errorf("unknown cache driver %q", driver)
}
