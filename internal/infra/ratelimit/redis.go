package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "accesscontrol:ratelimit:"
	// Counters outlive their window briefly to absorb replica clock skew.
	redisExpiryGrace = 5 * time.Second
)

// KEYS[1] is the counter for one window; ARGV[1] is its expiry in unix ms.
var redisIncrScript = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[1])
end
return n
`)

// Redis counts requests in wall-clock aligned windows shared by every
// registryd replica. Each window gets its own counter key.
type Redis struct {
	client *redis.Client
	policy Policy
	now    func() time.Time
}

func NewRedis(client *redis.Client, policy Policy, now func() time.Time) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, policy: policy, now: now}, nil
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	if r.policy.Limit <= 0 {
		return r.policy.unlimited(), nil
	}
	start, end := r.policy.window(r.now())
	count, err := redisIncrScript.Run(ctx, r.client,
		[]string{windowKey(key, start)},
		end.Add(redisExpiryGrace).UnixMilli(),
	).Int64()
	if err != nil {
		return Decision{}, err
	}
	return r.policy.decide(count, end), nil
}

func windowKey(key string, start time.Time) string {
	return redisKeyPrefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}
