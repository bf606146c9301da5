package admission

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

// admitScript trims the sorted set to the window, then adds the member when there is
// room. Running it as one script keeps the check-and-record atomic across replicas.
//
// KEYS[1] window key
// ARGV[1] now (ms), ARGV[2] window (ms), ARGV[3] limit, ARGV[4] member
// returns {allowed, count, retry_after_ms}
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. (now - window))
local count = redis.call('ZCARD', KEYS[1])
if count < limit then
  redis.call('ZADD', KEYS[1], now, ARGV[4])
  redis.call('PEXPIRE', KEYS[1], window)
  return {1, count + 1, 0}
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local retry = 0
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
  if retry < 0 then retry = 0 end
end
return {0, count, retry}
`)

// RedisStore keeps the sliding log of each class in a Redis sorted set.
// Key count is fixed at one per class; entries expire with the window.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	policy Policy

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewRedisStore builds a store on top of an existing client.
func NewRedisStore(client redis.UniversalClient, policy Policy, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("admission: redis client is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	prefix = strings.Trim(prefix, ":")
	if prefix == "" {
		prefix = "gatekeeper:admission"
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		policy:  policy,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}, nil
}

func (s *RedisStore) key(class Class) string {
	return s.prefix + ":" + string(class)
}

func (s *RedisStore) member(now time.Time) string {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), s.entropy).String()
}

// Take implements Store.
func (s *RedisStore) Take(ctx context.Context, class Class, now time.Time) (Decision, error) {
	limit, ok := s.policy.Limits[class]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownClass, class)
	}

	res, err := admitScript.Run(ctx, s.client,
		[]string{s.key(class)},
		now.UnixMilli(),
		s.policy.Window.Milliseconds(),
		limit,
		s.member(now),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("admission: redis take %s: %w", class, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("admission: unexpected script reply %v", res)
	}

	if res[0] == 1 {
		return Decision{
			Allowed:   true,
			Class:     class,
			Limit:     limit,
			Remaining: limit - int(res[1]),
		}, nil
	}
	return Decision{
		Allowed:    false,
		Reason:     ReasonRateLimited,
		Class:      class,
		Limit:      limit,
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// Reset drops the window of one class.
func (s *RedisStore) Reset(ctx context.Context, class Class) error {
	return s.client.Del(ctx, s.key(class)).Err()
}
