// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package settings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the hash holding settings when none is configured.
const DefaultRedisKey = "tabrecord:settings"

// RedisStore keeps settings in one Redis hash, each field holding the
// JSON encoding of its value so types survive the round trip.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore returns a store using the hash at key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Get(ctx context.Context, keys []string) (map[string]any, error) {
	if len(keys) == 0 {
		return map[string]any{}, nil
	}
	fields, err := s.client.HMGet(ctx, s.key, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading settings hash %s: %w", s.key, err)
	}
	values := make(map[string]any, len(keys))
	for i, field := range fields {
		encoded, ok := field.(string)
		if !ok {
			// Missing fields come back as nil.
			continue
		}
		var value any
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			return nil, fmt.Errorf("decoding setting %s: %w", keys[i], err)
		}
		values[keys[i]] = value
	}
	return values, nil
}

func (s *RedisStore) Set(ctx context.Context, values map[string]any) error {
	if len(values) == 0 {
		return nil
	}
	fields := make(map[string]any, len(values))
	for key, value := range values {
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encoding setting %s: %w", key, err)
		}
		fields[key] = string(encoded)
	}
	if err := s.client.HSet(ctx, s.key, fields).Err(); err != nil {
		return fmt.Errorf("writing settings hash %s: %w", s.key, err)
	}
	return nil
}
