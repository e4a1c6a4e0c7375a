package cacheredis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"accesscontrol/internal/revsync"

	"github.com/redis/go-redis/v9"
)

const DefaultKey = "accesscontrol:revsync:snapshot"

// Store keeps the revocation cache snapshot under a single Redis key so
// several cache processes on one host can share a warm start.
type Store struct {
	client *redis.Client
	key    string
}

func NewStore(client *redis.Client, key string) (*Store, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		key = DefaultKey
	}
	return &Store{client: client, key: key}, nil
}

var _ revsync.Persister = (*Store)(nil)

func (s *Store) Load(ctx context.Context) (revsync.Snapshot, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return revsync.Snapshot{}, false, nil
	}
	if err != nil {
		return revsync.Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap revsync.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return revsync.Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}

func (s *Store) Save(ctx context.Context, snap revsync.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}
