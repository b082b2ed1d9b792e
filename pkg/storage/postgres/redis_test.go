package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coachplan/pkg/plans"
	"github.com/platinummonkey/coachplan/pkg/storage"
)

func setupEntitlementCache(t *testing.T) (*EntitlementCache, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := storage.DefaultConfig()
	cfg.RedisURL = "redis://" + mr.Addr()

	client, err := NewRedisClient(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewEntitlementCache(client, time.Minute), mr
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.RedisURL = "not-a-url"

	_, err := NewRedisClient(context.Background(), cfg)
	assert.Error(t, err)
}

func TestEntitlementCache_RoundTrip(t *testing.T) {
	cache, mr := setupEntitlementCache(t)
	ctx := context.Background()

	got, err := cache.Get(ctx, "acct")
	require.NoError(t, err)
	assert.Nil(t, got)

	ent := &plans.Entitlement{
		AccountID:       "acct",
		Plan:            plans.Plan{ID: plans.PlanBasic, Name: "Basic", Price: 2900, MaxStudents: plans.Int64(4), Features: []string{"a"}, Active: true},
		Status:          plans.AccountStatusActive,
		SubscriptionRef: plans.String("sub_1"),
		Source:          plans.SourceAccount,
	}
	require.NoError(t, cache.Set(ctx, ent))

	assert.True(t, mr.Exists("entitlement:acct"))
	assert.Equal(t, time.Minute, mr.TTL("entitlement:acct"))

	got, err = cache.Get(ctx, "acct")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(4), *got.Plan.MaxStudents)
	assert.Equal(t, "sub_1", *got.SubscriptionRef)
	assert.Equal(t, plans.SourceAccount, got.Source)
}

func TestEntitlementCache_Invalidate(t *testing.T) {
	cache, mr := setupEntitlementCache(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, cache.Set(ctx, &plans.Entitlement{AccountID: id}))
	}

	require.NoError(t, cache.Invalidate(ctx, "a", "b"))
	require.NoError(t, cache.Invalidate(ctx))

	assert.False(t, mr.Exists("entitlement:a"))
	assert.False(t, mr.Exists("entitlement:b"))
	assert.True(t, mr.Exists("entitlement:c"))
}

func TestEntitlementCache_CorruptEntryIsMiss(t *testing.T) {
	cache, mr := setupEntitlementCache(t)
	require.NoError(t, mr.Set("entitlement:acct", "{not json"))

	got, err := cache.Get(context.Background(), "acct")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, mr.Exists("entitlement:acct"))
}

func TestEntitlementCache_Unavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	cache := NewEntitlementCache(client, time.Minute)
	_, err = cache.Get(context.Background(), "acct")
	assert.Error(t, err)
	assert.Error(t, cache.Set(context.Background(), &plans.Entitlement{AccountID: "acct"}))
	assert.Error(t, cache.Invalidate(context.Background(), "acct"))
}
