package tokenstore

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "shelflife:credential:default"

// RedisStore keeps the credential in Redis so several client processes share one session.
type RedisStore struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisStore builds a Redis-backed credential store. A zero ttl keeps the key until cleared.
func NewRedisStore(addr, password, key string, ttl time.Duration) *RedisStore {
	key = strings.TrimSpace(key)
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		key: key,
		ttl: ttl,
	}
}

func (s *RedisStore) Get() (Credential, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	val, err := s.client.Get(ctx, s.key).Result()
	if err == redis.Nil {
		return Credential{}, false, nil
	}
	if err != nil {
		return Credential{}, false, err
	}
	var cred Credential
	if err := json.Unmarshal([]byte(val), &cred); err != nil {
		return Credential{}, false, err
	}
	if cred.Empty() {
		return Credential{}, false, nil
	}
	return cred, true, nil
}

func (s *RedisStore) Set(c Credential) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.client.Set(ctx, s.key, data, s.ttl).Err()
}

func (s *RedisStore) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.client.Del(ctx, s.key).Err(); err != nil && err != redis.Nil {
		return err
	}
	return nil
}

// Close releases the Redis connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
