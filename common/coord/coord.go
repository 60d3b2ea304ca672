// Package coord wraps the coordination store (Redis) behind a degraded-safe
// facade: every operation reports (value, ok) and a transport failure yields
// ok=false instead of an error, so the dispatch path can fall back to safe
// defaults when the store is unreachable.
package coord

import (
	"context"
	"time"

	"github.com/Laisky/errors/v2"
	"github.com/Laisky/zap"
	"github.com/go-redis/redis/v8"

	"github.com/Laisky/llm-gateway/common/logger"
	"github.com/Laisky/llm-gateway/common/metrics"
)

// Client is a degraded-safe coordination store handle. A nil receiver or a
// nil inner connection behaves as a permanently unreachable store.
type Client struct {
	rdb *redis.Client
}

// Store is the process-wide coordination store client. It stays nil when no
// store is configured, which keeps the gateway in priority-only scheduling.
var Store = &Client{}

// Init connects the process-wide client using a redis:// connection string.
func Init(connString string) error {
	if connString == "" {
		logger.Logger.Info("coordination store not configured, scheduling runs in priority-only mode")
		return nil
	}

	opt, err := redis.ParseURL(connString)
	if err != nil {
		return errors.Wrap(err, "parse redis connection string")
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	if opt.PoolSize == 0 {
		opt.PoolSize = 10
	}
	opt.MinIdleConns = 2

	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return errors.Wrap(err, "ping coordination store")
	}

	Store = &Client{rdb: client}
	logger.Logger.Info("coordination store connected")
	return nil
}

// NewClient wraps an existing redis client; used by tests with miniredis.
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Available reports whether a store connection is configured.
func (c *Client) Available() bool {
	return c != nil && c.rdb != nil
}

// Ping reports live reachability.
func (c *Client) Ping(ctx context.Context) bool {
	if !c.Available() {
		return false
	}
	return c.rdb.Ping(ctx).Err() == nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	if !c.Available() {
		return nil
	}
	return c.rdb.Close()
}

// observe records command metrics and logs transport failures once per call.
func (c *Client) observe(start time.Time, command string, err error) bool {
	ok := err == nil || errors.Is(err, redis.Nil)
	metrics.GlobalRecorder.RecordRedisCommand(start, command, ok)
	if !ok {
		metrics.GlobalRecorder.UpdateCoordinationAvailable(false)
		logger.Logger.Warn("coordination store operation failed",
			zap.String("command", command), zap.Error(err))
	} else {
		metrics.GlobalRecorder.UpdateCoordinationAvailable(true)
	}
	return ok
}

// Get returns the string value at key. ok=false means unknown: either the
// key is absent or the store is unreachable; callers must treat both the same.
func (c *Client) Get(ctx context.Context, key string) (string, bool) {
	if !c.Available() {
		return "", false
	}
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Result()
	c.observe(start, "get", err)
	if err != nil {
		return "", false
	}
	return val, true
}

// Set stores value at key with a TTL (0 keeps the key forever).
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !c.Available() {
		return false
	}
	start := time.Now()
	err := c.rdb.Set(ctx, key, value, ttl).Err()
	return c.observe(start, "set", err) && err == nil
}

// SetNX performs an atomic conditional put. claimed reports whether this call
// created the key; ok reports whether the answer is authoritative.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (claimed bool, ok bool) {
	if !c.Available() {
		return false, false
	}
	start := time.Now()
	claimed, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if !c.observe(start, "setnx", err) {
		return false, false
	}
	return claimed, true
}

// Del removes keys.
func (c *Client) Del(ctx context.Context, keys ...string) bool {
	if !c.Available() || len(keys) == 0 {
		return false
	}
	start := time.Now()
	err := c.rdb.Del(ctx, keys...).Err()
	return c.observe(start, "del", err) && err == nil
}

// Expire refreshes the TTL of key.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if !c.Available() {
		return false
	}
	start := time.Now()
	err := c.rdb.Expire(ctx, key, ttl).Err()
	return c.observe(start, "expire", err) && err == nil
}

// TTL returns the remaining lifetime of key; ok=false when unknown.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, bool) {
	if !c.Available() {
		return 0, false
	}
	start := time.Now()
	ttl, err := c.rdb.TTL(ctx, key).Result()
	if !c.observe(start, "ttl", err) || err != nil {
		return 0, false
	}
	return ttl, true
}

// Incr increments the integer at key and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, bool) {
	if !c.Available() {
		return 0, false
	}
	start := time.Now()
	val, err := c.rdb.Incr(ctx, key).Result()
	if !c.observe(start, "incr", err) || err != nil {
		return 0, false
	}
	return val, true
}

// ZAdd inserts or updates member with score in the sorted set at key.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) bool {
	if !c.Available() {
		return false
	}
	start := time.Now()
	err := c.rdb.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err()
	return c.observe(start, "zadd", err) && err == nil
}

// ZScore returns the score of member; ok=false when the member is absent or
// the store is unreachable.
func (c *Client) ZScore(ctx context.Context, key, member string) (float64, bool) {
	if !c.Available() {
		return 0, false
	}
	start := time.Now()
	score, err := c.rdb.ZScore(ctx, key, member).Result()
	if !c.observe(start, "zscore", err) || err != nil {
		return 0, false
	}
	return score, true
}

// ZCard returns the cardinality of the sorted set at key.
func (c *Client) ZCard(ctx context.Context, key string) (int64, bool) {
	if !c.Available() {
		return 0, false
	}
	start := time.Now()
	n, err := c.rdb.ZCard(ctx, key).Result()
	if !c.observe(start, "zcard", err) || err != nil {
		return 0, false
	}
	return n, true
}

// ZRemRangeByScore removes members scored within [min, max].
func (c *Client) ZRemRangeByScore(ctx context.Context, key, min, max string) bool {
	if !c.Available() {
		return false
	}
	start := time.Now()
	err := c.rdb.ZRemRangeByScore(ctx, key, min, max).Err()
	return c.observe(start, "zremrangebyscore", err) && err == nil
}

// ZRangeWithScores returns all members of the sorted set with their scores.
func (c *Client) ZRangeWithScores(ctx context.Context, key string) ([]redis.Z, bool) {
	if !c.Available() {
		return nil, false
	}
	start := time.Now()
	members, err := c.rdb.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if !c.observe(start, "zrangebyscore", err) || err != nil {
		return nil, false
	}
	return members, true
}

// Eval runs a prepared script. A nil script reply is a valid answer and is
// returned as (nil, true); ok=false signals only transport failure.
func (c *Client) Eval(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, bool) {
	if !c.Available() {
		return nil, false
	}
	start := time.Now()
	val, err := script.Run(ctx, c.rdb, keys, args...).Result()
	if errors.Is(err, redis.Nil) {
		c.observe(start, "eval", err)
		return nil, true
	}
	if !c.observe(start, "eval", err) {
		return nil, false
	}
	return val, true
}

// Pipelined executes fn against a pipeline and returns the queued commands.
// redis.Nil from individual commands is not a transport failure.
func (c *Client) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, bool) {
	if !c.Available() {
		return nil, false
	}
	start := time.Now()
	pipe := c.rdb.Pipeline()
	if err := fn(pipe); err != nil {
		c.observe(start, "pipeline", err)
		return nil, false
	}
	cmds, err := pipe.Exec(ctx)
	ok := c.observe(start, "pipeline", err)
	if !ok {
		return nil, false
	}
	return cmds, true
}

// LoadScript primes a script into the server cache. Pipelined EVALSHA has
// no NOSCRIPT fallback, so scripts run inside pipelines must be loaded up
// front.
func (c *Client) LoadScript(ctx context.Context, script *redis.Script) bool {
	if !c.Available() {
		return false
	}
	start := time.Now()
	err := script.Load(ctx, c.rdb).Err()
	return c.observe(start, "script_load", err) && err == nil
}

// Publish broadcasts a message on channel; used for config invalidation.
func (c *Client) Publish(ctx context.Context, channel, message string) bool {
	if !c.Available() {
		return false
	}
	start := time.Now()
	err := c.rdb.Publish(ctx, channel, message).Err()
	return c.observe(start, "publish", err) && err == nil
}

// Subscribe delivers messages from channel until cancel is called. ok=false
// when the store is not configured.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan string, func(), bool) {
	if !c.Available() {
		return nil, nil, false
	}
	sub := c.rdb.Subscribe(ctx, channel)
	out := make(chan string, 16)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	cancel := func() { _ = sub.Close() }
	return out, cancel, true
}
