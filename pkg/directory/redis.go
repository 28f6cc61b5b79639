package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/astromechza/menuroom/pkg/errs"
)

// RedisStore keeps each room as a JSON entry whose TTL is the liveness window; a heartbeat
// rewrites the entry and pushes the expiry forward.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

// DialRedis connects using a redis:// URL and checks the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

const redisIndexKey = "menuroom:rooms"

func roomKey(roomID string) string {
	return "menuroom:room:" + roomID
}

func membersKey(roomID string) string {
	return "menuroom:room:" + roomID + ":members"
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, getter stringGetter, roomID string) (*entry, error) {
	raw, err := getter.Get(ctx, roomKey(roomID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("failed to decode room %s: %w", roomID, err)
	}
	return &e, nil
}

func (s *RedisStore) CreateRoom(ctx context.Context, req CreateRequest) (RoomRecord, error) {
	var out RoomRecord
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		existing, err := s.load(ctx, tx, req.RoomID)
		if err != nil {
			return err
		}
		next, err := upsert(existing, req, s.now())
		if err != nil {
			return err
		}
		if existing == nil {
			next.Record.CurrentUsers = 1
		} else {
			n, err := tx.SCard(ctx, membersKey(req.RoomID)).Result()
			if err != nil {
				return err
			}
			next.Record.CurrentUsers = int(n)
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, roomKey(req.RoomID), raw, s.ttl)
			if existing == nil {
				pipe.Del(ctx, membersKey(req.RoomID))
				pipe.SAdd(ctx, membersKey(req.RoomID), req.HostID)
			}
			pipe.Expire(ctx, membersKey(req.RoomID), s.ttl)
			pipe.SAdd(ctx, redisIndexKey, req.RoomID)
			return nil
		})
		out = next.withToken()
		return err
	}, roomKey(req.RoomID))
	return out, err
}

func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (RoomRecord, error) {
	e, err := s.load(ctx, s.client, roomID)
	if err != nil {
		return RoomRecord{}, err
	}
	if e == nil {
		return RoomRecord{}, fmt.Errorf("room %s: %w", roomID, errs.ErrNotFound)
	}
	return e.Record, nil
}

func (s *RedisStore) JoinRoom(ctx context.Context, roomID, password, peerID string) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		e, err := s.load(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("room %s: %w", roomID, errs.ErrNotFound)
		}
		if err := checkPassword(e, password); err != nil {
			return err
		}
		if peerID == "" {
			return nil
		}
		member, err := tx.SIsMember(ctx, membersKey(roomID), peerID).Result()
		if err != nil {
			return err
		}
		n, err := tx.SCard(ctx, membersKey(roomID)).Result()
		if err != nil {
			return err
		}
		if !member && int(n) >= e.Record.Capacity {
			return errs.ErrRoomFull
		}
		if !member {
			n++
		}
		e.Record.CurrentUsers = int(n)
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.SAdd(ctx, membersKey(roomID), peerID)
			pipe.Set(ctx, roomKey(roomID), raw, redis.KeepTTL)
			return nil
		})
		return err
	}, roomKey(roomID), membersKey(roomID))
}

func (s *RedisStore) SendHeartbeat(ctx context.Context, roomID, hostToken string) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		e, err := s.load(ctx, tx, roomID)
		if err != nil {
			return err
		}
		if e == nil {
			return fmt.Errorf("room %s: %w", roomID, errs.ErrNotFound)
		}
		if err := checkToken(e, hostToken); err != nil {
			return err
		}
		e.Record.LastHeartbeat = s.now()
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, roomKey(roomID), raw, s.ttl)
			pipe.Expire(ctx, membersKey(roomID), s.ttl)
			return nil
		})
		return err
	}, roomKey(roomID))
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID, hostToken string) error {
	e, err := s.load(ctx, s.client, roomID)
	if err != nil {
		return err
	}
	if e == nil {
		return fmt.Errorf("room %s: %w", roomID, errs.ErrNotFound)
	}
	if err := checkToken(e, hostToken); err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(roomID), membersKey(roomID))
		pipe.SRem(ctx, redisIndexKey, roomID)
		return nil
	})
	return err
}

// ListRooms walks the index set and prunes ids whose entry has expired.
func (s *RedisStore) ListRooms(ctx context.Context, keyword string) ([]RoomRecord, error) {
	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]RoomRecord, 0, len(ids))
	for _, id := range ids {
		e, err := s.load(ctx, s.client, id)
		if err != nil {
			return nil, err
		}
		if e == nil {
			if err := s.client.SRem(ctx, redisIndexKey, id).Err(); err != nil {
				slog.WarnContext(ctx, "failed to prune expired room from index", "room", id, "err", err)
			}
			continue
		}
		if matches(e.Record, keyword) {
			out = append(out, e.Record)
		}
	}
	sortRooms(out)
	return out, nil
}
