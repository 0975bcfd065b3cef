package limits

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// dailyVolumeScript performs the same rollover InMemory.rolloverLocked does
// under a mutex, but atomically inside Redis so multiple chainguard
// processes sharing one Redis instance agree on a single daily_volume.
//
// KEYS[1] = volume key
// ARGV[1] = current time (ns)
// ARGV[2] = window (ns)
// ARGV[3] = amount to add (0 for a pure read)
var dailyVolumeScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local amount = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "volume", "last_reset")
local volume = tonumber(state[1])
local last_reset = tonumber(state[2])

if not volume or not last_reset then
    volume = 0
    last_reset = now
end

if now - last_reset >= window then
    volume = 0
    last_reset = now
end

volume = volume + amount

redis.call("HMSET", key, "volume", volume, "last_reset", last_reset)
return volume
`)

// RedisVolumeTracker implements VolumeTracker against a shared Redis
// instance, for deployments that run more than one dispatcher process
// against the same policy state.
type RedisVolumeTracker struct {
	client *redis.Client
	key    string
}

func NewRedisVolumeTracker(client *redis.Client, key string) *RedisVolumeTracker {
	return &RedisVolumeTracker{client: client, key: key}
}

func (r *RedisVolumeTracker) DailyVolume(now uint64) uint64 {
	v, err := r.run(context.Background(), now, 0)
	if err != nil {
		// Fail closed: an unreachable limiter store must not silently
		// report zero volume, which would bypass DailyLimit entirely.
		// Callers that need the error itself should call
		// DailyVolumeContext instead.
		return ^uint64(0)
	}
	return v
}

func (r *RedisVolumeTracker) AddExecuted(amount uint64, now uint64) {
	_, _ = r.run(context.Background(), now, amount)
}

// DailyVolumeContext is the context-aware, error-returning form the
// dispatcher should prefer; DailyVolume exists only to satisfy the
// VolumeTracker interface for callers that cannot propagate an error.
func (r *RedisVolumeTracker) DailyVolumeContext(ctx context.Context, now uint64) (uint64, error) {
	return r.run(ctx, now, 0)
}

func (r *RedisVolumeTracker) run(ctx context.Context, now, amount uint64) (uint64, error) {
	res, err := dailyVolumeScript.Run(ctx, r.client, []string{r.key}, now, DayWindowNS, amount).Result()
	if err != nil {
		return 0, fmt.Errorf("limits: redis volume script: %w", err)
	}
	switch v := res.(type) {
	case int64:
		return uint64(v), nil
	default:
		return 0, fmt.Errorf("limits: unexpected redis script result type %T", res)
	}
}

// RedisCooldownTracker implements CooldownTracker with a plain key-value
// timestamp per (caller, action_type); no Lua script is needed since a
// single SET/GET pair is already atomic.
type RedisCooldownTracker struct {
	client *redis.Client
	prefix string
}

func NewRedisCooldownTracker(client *redis.Client, prefix string) *RedisCooldownTracker {
	return &RedisCooldownTracker{client: client, prefix: prefix}
}

func (r *RedisCooldownTracker) key(caller, actionType string) string {
	return fmt.Sprintf("%s:cooldown:%s:%s", r.prefix, caller, actionType)
}

func (r *RedisCooldownTracker) LastSuccess(caller, actionType string) (uint64, bool) {
	ctx := context.Background()
	val, err := r.client.Get(ctx, r.key(caller, actionType)).Uint64()
	if err != nil {
		return 0, false
	}
	return val, true
}

func (r *RedisCooldownTracker) RecordSuccess(caller, actionType string, now uint64) {
	ctx := context.Background()
	r.client.Set(ctx, r.key(caller, actionType), now, 0)
}
