// Package directory is the room registry: which rooms exist, who hosts them, their capacity and
// password, and whether the host is still alive.
package directory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/astromechza/menuroom/pkg/errs"
)

type Status string

const (
	StatusDraft     Status = "Draft"
	StatusPublished Status = "Published"
	StatusDisbanded Status = "Disbanded"
)

type RoomRecord struct {
	RoomID        string    `json:"roomId"`
	RoomName      string    `json:"roomName"`
	HostID        string    `json:"hostId"`
	HostName      string    `json:"hostName"`
	HasPassword   bool      `json:"hasPassword"`
	Capacity      int       `json:"capacity"`
	CurrentUsers  int       `json:"currentUsers"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	LastHeartbeat time.Time `json:"lastHeartbeat"`
	// HostToken is only returned to the caller that registered the room.
	HostToken string `json:"hostToken,omitempty"`
}

// CreateRequest registers a room, or re-registers it when HostToken matches the existing record.
type CreateRequest struct {
	RoomID    string `json:"roomId"`
	RoomName  string `json:"roomName"`
	Password  string `json:"password,omitempty"`
	Capacity  int    `json:"capacity"`
	HostID    string `json:"hostId"`
	HostName  string `json:"hostName"`
	Status    Status `json:"status,omitempty"`
	HostToken string `json:"hostToken,omitempty"`
}

type Directory interface {
	CreateRoom(ctx context.Context, req CreateRequest) (RoomRecord, error)
	GetRoom(ctx context.Context, roomID string) (RoomRecord, error)
	JoinRoom(ctx context.Context, roomID, password, peerID string) error
	SendHeartbeat(ctx context.Context, roomID, hostToken string) error
	DeleteRoom(ctx context.Context, roomID, hostToken string) error
	ListRooms(ctx context.Context, keyword string) ([]RoomRecord, error)
}

func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.RoomID) == "" {
		return errs.Invalid("roomId", "must not be empty")
	}
	if strings.TrimSpace(r.RoomName) == "" {
		return errs.Invalid("roomName", "must not be empty")
	}
	if r.HostID == "" {
		return errs.Invalid("hostId", "must not be empty")
	}
	if r.Capacity < 1 {
		return errs.Invalid("capacity", "must be at least 1")
	}
	switch r.Status {
	case "", StatusDraft, StatusPublished:
	default:
		return errs.Invalid("status", "must be Draft or Published")
	}
	return nil
}

// entry is the stored form of a room shared by the backends.
type entry struct {
	Record       RoomRecord `json:"record"`
	PasswordHash []byte     `json:"passwordHash,omitempty"`
	HostToken    string     `json:"hostToken"`
}

// upsert applies req to existing (nil when the room is new) and returns the entry to store.
func upsert(existing *entry, req CreateRequest, now time.Time) (*entry, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	status := req.Status
	if status == "" {
		status = StatusDraft
	}
	var hash []byte
	if req.Password != "" {
		var err error
		if hash, err = bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost); err != nil {
			return nil, err
		}
	}
	if existing == nil {
		return &entry{
			Record: RoomRecord{
				RoomID:        req.RoomID,
				RoomName:      req.RoomName,
				HostID:        req.HostID,
				HostName:      req.HostName,
				HasPassword:   hash != nil,
				Capacity:      req.Capacity,
				CurrentUsers:  1,
				Status:        status,
				CreatedAt:     now,
				LastHeartbeat: now,
			},
			PasswordHash: hash,
			HostToken:    uuid.NewString(),
		}, nil
	}
	if req.HostToken == "" || req.HostToken != existing.HostToken {
		return nil, errs.ErrUnauthorized
	}
	next := *existing
	next.Record.RoomName = req.RoomName
	next.Record.HostName = req.HostName
	next.Record.Capacity = req.Capacity
	next.Record.Status = status
	next.Record.HasPassword = hash != nil
	next.Record.LastHeartbeat = now
	next.PasswordHash = hash
	return &next, nil
}

func checkPassword(e *entry, password string) error {
	if e.PasswordHash == nil {
		return nil
	}
	if password == "" {
		return errs.Invalid("password", "must not be empty")
	}
	if bcrypt.CompareHashAndPassword(e.PasswordHash, []byte(password)) != nil {
		return errs.ErrUnauthorized
	}
	return nil
}

func checkToken(e *entry, token string) error {
	if token == "" || token != e.HostToken {
		return errs.ErrUnauthorized
	}
	return nil
}

func matches(r RoomRecord, keyword string) bool {
	if keyword == "" {
		return true
	}
	k := strings.ToLower(keyword)
	return strings.Contains(strings.ToLower(r.RoomName), k) || strings.Contains(strings.ToLower(r.RoomID), k)
}

// withToken returns the record as shown to the host.
func (e *entry) withToken() RoomRecord {
	r := e.Record
	r.HostToken = e.HostToken
	return r
}
