package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisFromClient(client)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestGetMissingKey(t *testing.T) {
	s, _ := newTestStore(t)

	val, found, err := s.Get(context.Background(), "dns:example.com:state")
	require.NoError(t, err)
	require.False(t, found)
	require.Empty(t, val)
}

func TestSetGetDelete(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "dns:example.com:ips", "1.2.3.4,5.6.7.8"))

	val, found, err := s.Get(ctx, "dns:example.com:ips")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "1.2.3.4,5.6.7.8", val)

	require.NoError(t, s.Delete(ctx, "dns:example.com:ips"))
	_, found, err = s.Get(ctx, "dns:example.com:ips")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSetTTLExpires(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetTTL(ctx, "global:dns_changes:100", "[]", time.Hour))
	require.Equal(t, time.Hour, mr.TTL("global:dns_changes:100"))

	mr.FastForward(time.Hour + time.Second)
	_, found, err := s.Get(ctx, "global:dns_changes:100")
	require.NoError(t, err)
	require.False(t, found)
}

func TestKeysPattern(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "dns:a.example.com:state", "resolved"))
	require.NoError(t, s.Set(ctx, "dns:a.example.com:ips", "1.1.1.1"))
	require.NoError(t, s.Set(ctx, "dns:b.example.com:state", "resolved"))
	require.NoError(t, s.Set(ctx, "notify:a.example.com:last", "123"))

	keys, err := s.Keys(ctx, "dns:a.example.com:*")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"dns:a.example.com:state", "dns:a.example.com:ips"}, keys)
}

func TestKeyLiterals(t *testing.T) {
	require.Equal(t, "dns:example.com:state", DomainStateKey("example.com"))
	require.Equal(t, "dns:example.com:ips", DomainIPsKey("example.com"))
	require.Equal(t, "dns:example.com:serial", DomainSerialKey("example.com"))
	require.Equal(t, "notify:example.com:last", LastNotifiedKey("example.com"))
	require.Equal(t, "notify:example.com:recent_ips", RecentIPsKey("example.com"))

	// Bucket index is floor(ms / 300000).
	at := time.UnixMilli(1700000000000)
	require.Equal(t, "global:dns_changes:5666666", GlobalChangesKey(at))
}
