package coord

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClient(rdb), mr
}

func TestClientDegradedWhenUnconfigured(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var nilClient *Client
	_, ok := nilClient.Get(ctx, "any")
	require.False(t, ok)

	empty := &Client{}
	require.False(t, empty.Available())
	_, ok = empty.Get(ctx, "any")
	require.False(t, ok)
	require.False(t, empty.Set(ctx, "k", "v", time.Minute))
	_, ok = empty.ZScore(ctx, "z", "m")
	require.False(t, ok)
}

func TestClientKeyValueRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, mr := newTestClient(t)

	require.True(t, c.Set(ctx, "k", "v", time.Minute))
	val, ok := c.Get(ctx, "k")
	require.True(t, ok)
	require.Equal(t, "v", val)

	ttl, ok := c.TTL(ctx, "k")
	require.True(t, ok)
	require.Greater(t, ttl, 50*time.Second)

	_, ok = c.Get(ctx, "missing")
	require.False(t, ok)

	require.True(t, c.Del(ctx, "k"))
	_, ok = c.Get(ctx, "k")
	require.False(t, ok)

	mr.FastForward(2 * time.Minute)
}

func TestClientSetNXClaimsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newTestClient(t)

	claimed, ok := c.SetNX(ctx, "claim", "a", time.Minute)
	require.True(t, ok)
	require.True(t, claimed)

	claimed, ok = c.SetNX(ctx, "claim", "b", time.Minute)
	require.True(t, ok)
	require.False(t, claimed)

	val, ok := c.Get(ctx, "claim")
	require.True(t, ok)
	require.Equal(t, "a", val)
}

func TestClientSortedSetOps(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newTestClient(t)

	require.True(t, c.ZAdd(ctx, "z", 1, "old"))
	require.True(t, c.ZAdd(ctx, "z", 9, "new"))

	score, ok := c.ZScore(ctx, "z", "old")
	require.True(t, ok)
	require.Equal(t, float64(1), score)

	n, ok := c.ZCard(ctx, "z")
	require.True(t, ok)
	require.Equal(t, int64(2), n)

	require.True(t, c.ZRemRangeByScore(ctx, "z", "-inf", "5"))
	n, ok = c.ZCard(ctx, "z")
	require.True(t, ok)
	require.Equal(t, int64(1), n)

	members, ok := c.ZRangeWithScores(ctx, "z")
	require.True(t, ok)
	require.Len(t, members, 1)
	require.Equal(t, "new", members[0].Member)
}

func TestClientEvalDistinguishesNilReply(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, _ := newTestClient(t)

	script := redis.NewScript(`return redis.call("GET", KEYS[1])`)
	val, ok := c.Eval(ctx, script, []string{"absent"})
	require.True(t, ok)
	require.Nil(t, val)

	require.True(t, c.Set(ctx, "present", "x", 0))
	val, ok = c.Eval(ctx, script, []string{"present"})
	require.True(t, ok)
	require.Equal(t, "x", val)
}

func TestClientUnreachableStoreReturnsNotOK(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c, mr := newTestClient(t)

	mr.Close()

	_, ok := c.Get(ctx, "k")
	require.False(t, ok)
	require.False(t, c.Set(ctx, "k", "v", 0))
	_, ok = c.ZCard(ctx, "z")
	require.False(t, ok)
	_, ok = c.Eval(ctx, redis.NewScript(`return 1`), []string{"k"})
	require.False(t, ok)
}
