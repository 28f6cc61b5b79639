// Package workspace is the remote snapshot store: named workspaces holding the serialized
// tabs, configs and metadata of a room.
package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"

	"github.com/astromechza/menuroom/pkg/errs"
)

type Meta struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Workspace struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data,omitempty"`
	MenuCount   int             `json:"menuCount"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type Update struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Data        json.RawMessage `json:"data"`
	MenuCount   int             `json:"menuCount"`
}

type Store interface {
	CreateWorkspace(ctx context.Context, meta Meta) (Workspace, error)
	UpdateWorkspace(ctx context.Context, id string, u Update) error
	GetWorkspace(ctx context.Context, id string) (Workspace, error)
}

func (m Meta) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return errs.Invalid("name", "must not be empty")
	}
	return nil
}

func (u Update) Validate() error {
	if strings.TrimSpace(u.Name) == "" {
		return errs.Invalid("name", "must not be empty")
	}
	if len(u.Data) > 0 && !json.Valid(u.Data) {
		return errs.Invalid("data", "must be valid json")
	}
	if u.MenuCount < 0 {
		return errs.Invalid("menuCount", "must not be negative")
	}
	return nil
}

// IDs generates workspace ids. They are time ordered and unique across server nodes.
type IDs struct {
	node *snowflake.Node
}

func NewIDs(nodeID int64) (*IDs, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create id node: %w", err)
	}
	return &IDs{node: node}, nil
}

func (i *IDs) Next() string {
	return i.node.Generate().String()
}
