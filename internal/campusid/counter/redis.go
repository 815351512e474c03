package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	failurePrefix   = "campusid:fail:"
	lockPrefix      = "campusid:lock:"
	occupancyPrefix = "campusid:occ:"
)

// ARGV: score, member, prune bound, ttl ms, then one lower bound per window.
var failureScript = redis.NewScript(`
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[3])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
local out = {}
for i = 5, #ARGV do
  out[#out + 1] = redis.call("ZCOUNT", KEYS[1], ARGV[i], ARGV[1])
end
return out
`)

var tryEnterScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if cur >= tonumber(ARGV[1]) then
  return {cur, 0}
end
cur = redis.call("INCR", KEYS[1])
return {cur, 1}
`)

var leaveScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if cur <= 0 then
  redis.call("SET", KEYS[1], 0)
  return 0
end
return redis.call("DECR", KEYS[1])
`)

// ARGV: now ms, until ms, ttl ms. A held value at or before now is stale
// and is replaced in the same step.
var acquireScript = redis.NewScript(`
local cur = tonumber(redis.call("GET", KEYS[1]) or "0")
if cur > tonumber(ARGV[1]) then
  return {cur, 0}
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return {tonumber(ARGV[2]), 1}
`)

// RedisFailures keeps one sorted set per key, scored by unix ms.
type RedisFailures struct {
	Client *redis.Client
}

func NewRedisFailures(client *redis.Client) *RedisFailures {
	return &RedisFailures{Client: client}
}

func (r *RedisFailures) Add(ctx context.Context, key string, at time.Time, windows ...time.Duration) ([]int, error) {
	nowMs := at.UTC().UnixMilli()
	maxMs := maxWindow(windows).Milliseconds()
	ttlMs := maxMs
	if ttlMs <= 0 {
		ttlMs = 1
	}

	args := []any{
		nowMs,
		strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString(),
		"(" + strconv.FormatInt(nowMs-maxMs, 10),
		ttlMs,
	}
	for _, w := range windows {
		args = append(args, nowMs-w.Milliseconds())
	}

	res, err := failureScript.Run(ctx, r.Client, []string{failurePrefix + key}, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("counter: add failure: %w", err)
	}
	if len(res) != len(windows) {
		return nil, fmt.Errorf("counter: add failure: got %d counts for %d windows", len(res), len(windows))
	}
	counts := make([]int, len(res))
	for i, n := range res {
		counts[i] = int(n)
	}
	return counts, nil
}

func (r *RedisFailures) Count(ctx context.Context, key string, now time.Time, window time.Duration) (int, error) {
	nowMs := now.UTC().UnixMilli()
	n, err := r.Client.ZCount(ctx, failurePrefix+key,
		strconv.FormatInt(nowMs-window.Milliseconds(), 10),
		strconv.FormatInt(nowMs, 10),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("counter: count failures: %w", err)
	}
	return int(n), nil
}

func (r *RedisFailures) Reset(ctx context.Context, key string) error {
	if err := r.Client.Del(ctx, failurePrefix+key).Err(); err != nil {
		return fmt.Errorf("counter: reset failures: %w", err)
	}
	return nil
}

// RedisLocks stores the lock expiry (unix ms) as the value and lets Redis
// expire the key with it.
type RedisLocks struct {
	Client *redis.Client
}

func NewRedisLocks(client *redis.Client) *RedisLocks {
	return &RedisLocks{Client: client}
}

// Acquire sets the marker unless a live one exists, atomically, so only
// one caller per episode sees created=true.
func (r *RedisLocks) Acquire(ctx context.Context, key string, now time.Time, ttl time.Duration) (time.Time, bool, error) {
	until := now.Add(ttl).UTC()
	ttlMs := ttl.Milliseconds()
	if ttlMs <= 0 {
		ttlMs = 1
	}
	res, err := acquireScript.Run(ctx, r.Client, []string{lockPrefix + key},
		now.UTC().UnixMilli(), until.UnixMilli(), ttlMs,
	).Int64Slice()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("counter: acquire lock: %w", err)
	}
	if len(res) < 2 {
		return time.Time{}, false, fmt.Errorf("counter: acquire lock: unexpected reply %v", res)
	}
	return time.UnixMilli(res[0]).UTC(), res[1] == 1, nil
}

func (r *RedisLocks) Get(ctx context.Context, key string, now time.Time) (time.Time, bool, error) {
	ms, err := r.Client.Get(ctx, lockPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("counter: get lock: %w", err)
	}
	until := time.UnixMilli(ms).UTC()
	if !until.After(now) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

// RedisOccupancy keeps one integer per facility. TryEnter and Leave run as
// scripts so check and update are one step.
type RedisOccupancy struct {
	Client *redis.Client
}

func NewRedisOccupancy(client *redis.Client) *RedisOccupancy {
	return &RedisOccupancy{Client: client}
}

func (r *RedisOccupancy) TryEnter(ctx context.Context, facilityID string, capacity int) (int, bool, error) {
	res, err := tryEnterScript.Run(ctx, r.Client, []string{occupancyPrefix + facilityID}, capacity).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("counter: try enter: %w", err)
	}
	if len(res) < 2 {
		return 0, false, fmt.Errorf("counter: try enter: unexpected reply %v", res)
	}
	return int(res[0]), res[1] == 1, nil
}

func (r *RedisOccupancy) Enter(ctx context.Context, facilityID string) (int, error) {
	n, err := r.Client.Incr(ctx, occupancyPrefix+facilityID).Result()
	if err != nil {
		return 0, fmt.Errorf("counter: enter: %w", err)
	}
	return int(n), nil
}

func (r *RedisOccupancy) Leave(ctx context.Context, facilityID string) (int, error) {
	n, err := leaveScript.Run(ctx, r.Client, []string{occupancyPrefix + facilityID}).Int64()
	if err != nil {
		return 0, fmt.Errorf("counter: leave: %w", err)
	}
	return int(n), nil
}

func (r *RedisOccupancy) Current(ctx context.Context, facilityID string) (int, error) {
	n, err := r.Client.Get(ctx, occupancyPrefix+facilityID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter: current: %w", err)
	}
	return n, nil
}
