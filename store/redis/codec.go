package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// Entities are stored as msgpack blobs of local model structs. The
// models carry IDs as plain strings so every field round-trips through
// msgpack's reflection-based codec.

func encode(v any) ([]byte, error) {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: encode: %w", err)
	}
	return data, nil
}

func decode(data []byte, v any) error {
	if err := msgpack.Unmarshal(data, v); err != nil {
		return fmt.Errorf("automation/redis: decode: %w", err)
	}
	return nil
}

// getBlob reads and decodes a stored entity. Returns notFound when the
// key does not exist.
func (s *Store) getBlob(ctx context.Context, key string, v any, notFound error) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return notFound
		}
		return fmt.Errorf("automation/redis: get %s: %w", key, err)
	}
	return decode(data, v)
}

// setBlob encodes and stores an entity with no expiry.
func (s *Store) setBlob(ctx context.Context, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("automation/redis: set %s: %w", key, err)
	}
	return nil
}

// sleepCtx sleeps for the given duration, or returns early if the
// context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
