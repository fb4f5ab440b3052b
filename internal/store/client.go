package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds connection settings for the shared store.
type Config struct {
	URL            string
	ConnectTimeout time.Duration
	RetryAttempts  int
	RetryInterval  time.Duration
	PoolSize       int
	MinIdleConns   int
}

// Client wraps the shared Redis connection and exposes the atomic
// primitives the queue, registry, rate limiter and retry lane are built
// on. Its lifecycle is owned by the process bootstrap and the value is
// passed into each component's constructor; there is no package-level
// singleton.
type Client struct {
	rdb *redis.Client
}

// setHashTTL writes hash fields and the key TTL in one round trip.
// ARGV[1] is the TTL in milliseconds, the rest are field/value pairs.
var setHashTTL = redis.NewScript(`
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

// updateHashTTL merges fields into an existing hash and refreshes its TTL.
// Returns 0 without writing when the key is missing or expired.
var updateHashTTL = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], unpack(ARGV, 2))
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return 1
`)

// incrWindow increments a fixed-window counter, arming the window expiry
// on the first increment. Returns the count and the remaining window in ms.
var incrWindow = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {count, ttl}
`)

// popDue removes and returns lane members scored at or below the cutoff.
var popDue = redis.NewScript(`
local items = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
if #items > 0 then
  redis.call('ZREM', KEYS[1], unpack(items))
end
return items
`)

// Connect establishes the shared store connection, retrying a bounded
// number of times before giving up. Previously enqueued data survives
// reconnects: everything lives server-side in Redis.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, errors.Join(ErrFailedToParseConnString, err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	for i := 0; i < cfg.RetryAttempts; i++ {
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err == nil {
			return &Client{rdb: rdb}, nil
		}
		_ = rdb.Close()

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, ErrNotReady
}

// Redis exposes the underlying client for collaborators that speak Redis
// directly, such as the pub/sub broker.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

func (c *Client) Healthcheck(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// PushHead inserts at the head of a list (the next-served end).
func (c *Client) PushHead(ctx context.Context, key string, value []byte) error {
	return c.rdb.LPush(ctx, key, value).Err()
}

// PushTail inserts at the tail of a list.
func (c *Client) PushTail(ctx context.Context, key string, value []byte) error {
	return c.rdb.RPush(ctx, key, value).Err()
}

// PopHead removes the head of a list. A timeout of zero returns
// immediately; a positive timeout suspends the caller until an item
// arrives or the timeout elapses. ErrEmpty signals the idle case.
func (c *Client) PopHead(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		res, err := c.rdb.BLPop(ctx, timeout, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, ErrEmpty
		}
		if err != nil {
			return nil, err
		}
		// BLPOP returns the key name followed by the value.
		return []byte(res[1]), nil
	}

	res, err := c.rdb.LPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	return []byte(res), nil
}

func (c *Client) ListLen(ctx context.Context, key string) (int64, error) {
	return c.rdb.LLen(ctx, key).Result()
}

// SetHashWithTTL creates or replaces a hash and its TTL atomically.
func (c *Client) SetHashWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) error {
	args := flattenFields(ttl, fields)
	return setHashTTL.Run(ctx, c.rdb, []string{key}, args...).Err()
}

// UpdateHashWithTTL merges fields into an existing hash and refreshes its
// TTL atomically. Returns false when the hash is missing or expired.
func (c *Client) UpdateHashWithTTL(ctx context.Context, key string, fields map[string]string, ttl time.Duration) (bool, error) {
	args := flattenFields(ttl, fields)
	n, err := updateHashTTL.Run(ctx, c.rdb, []string{key}, args...).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetHash returns all fields of a hash; an empty map means not found.
func (c *Client) GetHash(ctx context.Context, key string) (map[string]string, error) {
	return c.rdb.HGetAll(ctx, key).Result()
}

func (c *Client) Delete(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return c.rdb.Del(ctx, keys...).Result()
}

// ScanKeys iterates the keyspace for keys matching the pattern. Used by
// the retention sweep and stats aggregation only; never on the hot path.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

// IncrWindow atomically increments a fixed-window counter, arming the
// window expiry on first use, and returns the count plus time remaining
// in the window.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := incrWindow.Run(ctx, c.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, err
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("unexpected incr window reply: %v", res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

// AddToLane adds a member to a score-ordered lane.
func (c *Client) AddToLane(ctx context.Context, key string, score float64, member []byte) error {
	return c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

// PopDue atomically removes and returns up to limit lane members whose
// score is at or below max.
func (c *Client) PopDue(ctx context.Context, key string, max float64, limit int64) ([][]byte, error) {
	res, err := popDue.Run(ctx, c.rdb, []string{key}, max, limit).StringSlice()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(res))
	for _, s := range res {
		out = append(out, []byte(s))
	}
	return out, nil
}

func flattenFields(ttl time.Duration, fields map[string]string) []interface{} {
	args := make([]interface{}, 0, 1+2*len(fields))
	args = append(args, ttl.Milliseconds())
	for k, v := range fields {
		args = append(args, k, v)
	}
	return args
}
