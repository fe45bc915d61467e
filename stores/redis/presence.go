// Package redis provides a shared presence store so several broker
// instances see the same active sessions.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"collab-server/core"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// PresenceStore keeps one sorted set per resource scored by last-seen
// milliseconds, plus a hash holding the session rows.
type PresenceStore struct {
	client *redis.Client
	prefix string
	// keyTTL bounds how long an idle resource's keys survive.
	keyTTL time.Duration
	now    func() time.Time
}

// NewPresenceStore connects to redisURL and verifies the connection.
func NewPresenceStore(redisURL string, keyTTL time.Duration) (*PresenceStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewPresenceStoreWithClient(client, keyTTL), nil
}

func NewPresenceStoreWithClient(client *redis.Client, keyTTL time.Duration) *PresenceStore {
	return &PresenceStore{
		client: client,
		prefix: "presence:",
		keyTTL: keyTTL,
		now:    time.Now,
	}
}

func (s *PresenceStore) indexKey(key core.ResourceKey) string {
	return s.prefix + string(key.Kind) + ":" + key.ID
}

func (s *PresenceStore) rowsKey(key core.ResourceKey) string {
	return s.indexKey(key) + ":sessions"
}

type row struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"user_name"`
	WorkspaceID string    `json:"workspace_id"`
	JoinedAt    time.Time `json:"joined_at"`
	LastSeenAt  time.Time `json:"last_seen"`
}

func (s *PresenceStore) Upsert(ctx context.Context, session core.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session id is required")
	}
	data, err := json.Marshal(row{
		UserID:      session.User.ID,
		DisplayName: session.User.DisplayName,
		WorkspaceID: session.WorkspaceID,
		JoinedAt:    session.JoinedAt,
		LastSeenAt:  session.LastSeenAt,
	})
	if err != nil {
		return fmt.Errorf("marshal presence: %w", err)
	}

	index, rows := s.indexKey(session.Key), s.rowsKey(session.Key)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, index, redis.Z{Score: float64(session.LastSeenAt.UnixMilli()), Member: session.ID})
		pipe.HSet(ctx, rows, session.ID, data)
		if s.keyTTL > 0 {
			pipe.Expire(ctx, index, s.keyTTL)
			pipe.Expire(ctx, rows, s.keyTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save presence: %w", err)
	}
	return nil
}

func (s *PresenceStore) Remove(ctx context.Context, key core.ResourceKey, sessionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.indexKey(key), sessionID)
		pipe.HDel(ctx, s.rowsKey(key), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove presence: %w", err)
	}
	return nil
}

// ListActive reads entries scored within ttl; stale members are left for key expiry.
func (s *PresenceStore) ListActive(ctx context.Context, key core.ResourceKey, ttl time.Duration) ([]core.PresenceEntry, error) {
	cutoff := s.now().Add(-ttl).UnixMilli()
	ids, err := s.client.ZRevRangeByScore(ctx, s.indexKey(key), &redis.ZRangeBy{
		Min: strconv.FormatInt(cutoff, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	entries := make([]core.PresenceEntry, 0, len(ids))
	if len(ids) == 0 {
		return entries, nil
	}

	values, err := s.client.HMGet(ctx, s.rowsKey(key), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("read presence rows: %w", err)
	}
	for i, value := range values {
		raw, ok := value.(string)
		if !ok {
			// Removed between the two reads.
			continue
		}
		var r row
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			logrus.WithError(err).WithField("session_id", ids[i]).Warn("Skipping unreadable presence row")
			continue
		}
		entries = append(entries, core.PresenceEntry{
			UserID:      r.UserID,
			DisplayName: r.DisplayName,
			SessionID:   ids[i],
			LastSeenAt:  r.LastSeenAt,
		})
	}
	return entries, nil
}

func (s *PresenceStore) Close() error {
	return s.client.Close()
}

func (s *PresenceStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
