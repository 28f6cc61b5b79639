package persistence

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SQLiteCache struct {
	database *sql.DB
}

func OpenSQLite(path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	c := &SQLiteCache{database: db}
	if err := c.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteCache) init() error {
	if _, err := c.database.Exec(
		`CREATE TABLE IF NOT EXISTS rooms (
		id text not null primary key,
		content text not null,
		updated_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create rooms table: %w", err)
	}
	slog.Debug("Ensured local cache tables exist")
	return nil
}

func (c *SQLiteCache) Load(ctx context.Context, roomID string) ([]byte, bool, error) {
	var rawContent string
	if err := c.database.QueryRowContext(ctx, `SELECT content FROM rooms WHERE id = ?`, roomID).Scan(&rawContent); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to query: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(rawContent)
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode: %w", err)
	}
	return raw, true, nil
}

func (c *SQLiteCache) Store(ctx context.Context, roomID string, state []byte) error {
	newContent := base64.StdEncoding.EncodeToString(state)
	if _, err := c.database.ExecContext(
		ctx,
		`INSERT INTO rooms (id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at
		WHERE rooms.content != excluded.content`,
		roomID, newContent, time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to store room: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, roomID string) error {
	if _, err := c.database.ExecContext(ctx, `DELETE FROM rooms WHERE id = ?`, roomID); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

func (c *SQLiteCache) Rooms(ctx context.Context) ([]string, error) {
	res, err := c.database.QueryContext(ctx, `SELECT id FROM rooms ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(res)
	var out []string
	for res.Next() {
		var id string
		if err := res.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, id)
	}
	return out, res.Err()
}

func (c *SQLiteCache) Close() error {
	return c.database.Close()
}
