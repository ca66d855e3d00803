package state

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// casScript swaps KEYS[1] from ARGV[1] to ARGV[2]. A missing key counts as "0".
var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then cur = "0" end
if cur ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[1], ARGV[2])
return 1
`)

// RedisStore keeps alert flags in redis so that several evaluator
// processes share one view of each patient
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects and pings before returning
func DialRedis(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return NewRedisStore(client, prefix), nil
}

func (s *RedisStore) key(patientID string) string {
	return s.prefix + patientID
}

func (s *RedisStore) Get(ctx context.Context, patientID string) (bool, error) {
	val, err := s.client.Get(ctx, s.key(patientID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get alert state for %s: %w", patientID, err)
	}
	return val == "1", nil
}

func (s *RedisStore) CompareAndSwap(ctx context.Context, patientID string, old, new bool) (bool, error) {
	n, err := casScript.Run(ctx, s.client, []string{s.key(patientID)}, flag(old), flag(new)).Int()
	if err != nil {
		return false, fmt.Errorf("failed to swap alert state for %s: %w", patientID, err)
	}
	return n == 1, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
