package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name string `json:"name"`
}

func TestJSONFetchCachesLoaderResult(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewJSON(client, "test", time.Minute)
	ctx := context.Background()

	calls := 0
	loader := func(context.Context) (any, error) {
		calls++
		return payload{Name: "acme"}, nil
	}

	var got payload
	require.NoError(t, c.Fetch(ctx, c.Key("a"), &got, loader))
	require.NoError(t, c.Fetch(ctx, c.Key("a"), &got, loader))
	require.Equal(t, "acme", got.Name)
	require.Equal(t, 1, calls)
	require.True(t, mr.Exists("test:a"))

	mr.FastForward(2 * time.Minute)
	require.NoError(t, c.Fetch(ctx, c.Key("a"), &got, loader))
	require.Equal(t, 2, calls)

	require.NoError(t, c.Invalidate(ctx, c.Key("a")))
	require.False(t, mr.Exists("test:a"))
}

func TestJSONFetchWithoutRedis(t *testing.T) {
	var c *JSON
	var got payload
	require.NoError(t, c.Fetch(context.Background(), c.Key("a"), &got, func(context.Context) (any, error) {
		return payload{Name: "solo"}, nil
	}))
	require.Equal(t, "solo", got.Name)

	boom := errors.New("boom")
	err := c.Fetch(context.Background(), "k", &got, func(context.Context) (any, error) { return nil, boom })
	require.ErrorIs(t, err, boom)
}

func TestJSONFetchFallsBackWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewJSON(client, "test", time.Minute)
	mr.Close()

	var got payload
	require.NoError(t, c.Fetch(context.Background(), "test:b", &got, func(context.Context) (any, error) {
		return payload{Name: "db"}, nil
	}))
	require.Equal(t, "db", got.Name)
}
