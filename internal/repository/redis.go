package repository

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trendy-design/llmchat-sub004/internal/ledger"
)

//go:embed charge.lua
var chargeLuaScript string

var chargeScript = redis.NewScript(chargeLuaScript)

// Compile-time check: RedisStore runs charges atomically.
var _ ledger.AtomicStore = (*RedisStore)(nil)

// RedisStore keeps credit balances in Redis. Charges run as a single Lua
// script, so the daily reset and the conditional decrement cannot interleave
// with other requests for the same account.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{client: rdb}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ledger.ErrKeyNotFound
		}
		return "", fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set stores value without expiration; balances are superseded on the next day's first access.
func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Charge(ctx context.Context, args ledger.ChargeArgs) (ledger.ChargeOutcome, error) {
	keys := []string{args.BalanceKey, args.RefillKey}
	if args.IdemKey != "" {
		keys = append(keys, args.IdemKey)
	}
	result, err := chargeScript.Run(ctx, s.client, keys,
		args.Today, args.Allowance, args.Cost, idemTTLSeconds(args.IdemTTL),
	).Result()
	if err != nil {
		return ledger.ChargeOutcome{}, fmt.Errorf("error executing charge script: %w", err)
	}

	resArray, ok := result.([]interface{})
	if !ok || len(resArray) < 3 {
		return ledger.ChargeOutcome{}, errors.New("unexpected response format from Redis")
	}
	status, ok1 := resArray[0].(int64)
	balance, ok2 := resArray[1].(int64)
	reset, ok3 := resArray[2].(int64)
	if !ok1 || !ok2 || !ok3 {
		return ledger.ChargeOutcome{}, fmt.Errorf("unexpected charge script reply %v", resArray)
	}

	out := ledger.ChargeOutcome{Remaining: balance, Reset: reset == 1}
	switch status {
	case 1:
		out.Allowed = true
	case 0:
	case 2:
		out.Allowed = true
		out.Replayed = true
	default:
		return ledger.ChargeOutcome{}, fmt.Errorf("unknown status from Lua: %d", status)
	}
	return out, nil
}

// idemTTLSeconds rounds up so a key never expires before the day it guards ends.
func idemTTLSeconds(ttl time.Duration) int64 {
	secs := int64((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
