package persistence

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var roomsBucket = []byte("rooms")

type BoltCache struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltCache, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roomsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &BoltCache{db: db}, nil
}

func (c *BoltCache) Load(_ context.Context, roomID string) ([]byte, bool, error) {
	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(roomsBucket).Get([]byte(roomID)); v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read room: %w", err)
	}
	return out, out != nil, nil
}

func (c *BoltCache) Store(_ context.Context, roomID string, state []byte) error {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(roomsBucket).Put([]byte(roomID), state)
	}); err != nil {
		return fmt.Errorf("failed to store room: %w", err)
	}
	return nil
}

func (c *BoltCache) Delete(_ context.Context, roomID string) error {
	if err := c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(roomsBucket).Delete([]byte(roomID))
	}); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

func (c *BoltCache) Rooms(_ context.Context) ([]string, error) {
	var out []string
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(roomsBucket).ForEach(func(k, _ []byte) error {
			out = append(out, string(k))
			return nil
		})
	})
	return out, err
}

func (c *BoltCache) Close() error {
	return c.db.Close()
}
