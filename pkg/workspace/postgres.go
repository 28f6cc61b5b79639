package workspace

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/astromechza/menuroom/pkg/errs"
)

type PostgresStore struct {
	pool *pgxpool.Pool
	ids  *IDs
}

// OpenPostgres connects to databaseURL and ensures the workspaces table exists.
func OpenPostgres(ctx context.Context, databaseURL string, ids *IDs) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s := &PostgresStore{pool: pool, ids: ids}
	if err := s.init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) init(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS workspaces (
		id text not null primary key,
		name text not null,
		description text not null default '',
		data jsonb not null default '{}',
		menu_count integer not null default 0,
		created_at timestamptz not null default now(),
		updated_at timestamptz not null default now()
	)`); err != nil {
		return fmt.Errorf("failed to create workspaces table: %w", err)
	}
	slog.Info("Ensured workspaces table exists")
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) CreateWorkspace(ctx context.Context, meta Meta) (Workspace, error) {
	if err := meta.Validate(); err != nil {
		return Workspace{}, err
	}
	w := Workspace{ID: s.ids.Next(), Name: meta.Name, Description: meta.Description, Data: []byte("{}")}
	if err := s.pool.QueryRow(
		ctx,
		`INSERT INTO workspaces (id, name, description) VALUES ($1, $2, $3) RETURNING created_at, updated_at`,
		w.ID, w.Name, w.Description,
	).Scan(&w.CreatedAt, &w.UpdatedAt); err != nil {
		return Workspace{}, fmt.Errorf("failed to insert workspace: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) UpdateWorkspace(ctx context.Context, id string, u Update) error {
	if err := u.Validate(); err != nil {
		return err
	}
	data := u.Data
	if len(data) == 0 {
		data = nil
	}
	tag, err := s.pool.Exec(
		ctx,
		`UPDATE workspaces SET name = $2, description = $3, data = COALESCE($4::jsonb, data), menu_count = $5, updated_at = now() WHERE id = $1`,
		id, u.Name, u.Description, data, u.MenuCount,
	)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workspace %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	w := Workspace{ID: id}
	var data []byte
	if err := s.pool.QueryRow(
		ctx,
		`SELECT name, description, data, menu_count, created_at, updated_at FROM workspaces WHERE id = $1`,
		id,
	).Scan(&w.Name, &w.Description, &data, &w.MenuCount, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Workspace{}, fmt.Errorf("workspace %s: %w", id, errs.ErrNotFound)
		}
		return Workspace{}, fmt.Errorf("failed to query workspace: %w", err)
	}
	w.Data = data
	return w, nil
}
