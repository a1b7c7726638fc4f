package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, nil, 0, zap.NewNop(), false)
	ctx := context.Background()

	cache.Set(ctx, "approvals:pending:master", []int{1}, time.Minute)
	var dest []int
	assert.False(t, cache.Get(ctx, "approvals:pending:master", &dest))
	assert.NoError(t, cache.Invalidate(ctx, PendingCachePattern))
	assert.NoError(t, cache.BumpGeneration(ctx, PendingGenerationKey))
	_, ok := cache.Generation(ctx, PendingGenerationKey)
	assert.False(t, ok)
	assert.Empty(t, repo.counters)
	assert.Zero(t, repo.getCalls)
	assert.Zero(t, repo.setCalls)
	assert.Empty(t, repo.deletes)
}

func TestCacheServiceNilReceiver(t *testing.T) {
	var cache *CacheService
	assert.False(t, cache.Enabled())
	assert.False(t, cache.Get(context.Background(), "k", nil))
	cache.Set(context.Background(), "k", 1, 0)
	assert.NoError(t, cache.Invalidate(context.Background(), "k*"))
}

func TestCacheServiceRecordsLookups(t *testing.T) {
	repo := newMemoryCacheRepo()
	metrics := NewMetricsService()
	cache := NewCacheService(repo, metrics, time.Minute, zap.NewNop(), true)
	ctx := context.Background()

	var dest []int
	assert.False(t, cache.Get(ctx, "approvals:pending:region:JKT", &dest))
	cache.Set(ctx, "approvals:pending:region:JKT", []int{1}, 0)
	assert.True(t, cache.Get(ctx, "approvals:pending:region:JKT", &dest))

	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.CacheHits)
	assert.Equal(t, uint64(1), snapshot.CacheMisses)
	assert.InDelta(t, 0.5, snapshot.CacheHitRatio, 0.0001)
}

func TestCacheServiceGenerationCounter(t *testing.T) {
	repo := newMemoryCacheRepo()
	cache := NewCacheService(repo, NewMetricsService(), time.Minute, zap.NewNop(), true)
	ctx := context.Background()

	generation, ok := cache.Generation(ctx, PendingGenerationKey)
	assert.True(t, ok)
	assert.Zero(t, generation)

	assert.NoError(t, cache.BumpGeneration(ctx, PendingGenerationKey))
	assert.NoError(t, cache.BumpGeneration(ctx, PendingGenerationKey))
	generation, ok = cache.Generation(ctx, PendingGenerationKey)
	assert.True(t, ok)
	assert.Equal(t, int64(2), generation)

	repo.getErr = errors.New("redis down")
	_, ok = cache.Generation(ctx, PendingGenerationKey)
	assert.False(t, ok)
}

func TestCacheNamespace(t *testing.T) {
	assert.Equal(t, "approvals:pending", cacheNamespace("approvals:pending:region:JKT"))
	assert.Equal(t, "approvals:pending", cacheNamespace(PendingCachePattern))
	assert.Equal(t, "plain", cacheNamespace("plain"))
	assert.Equal(t, "approvals:generation", cacheNamespace(PendingGenerationKey))
}
