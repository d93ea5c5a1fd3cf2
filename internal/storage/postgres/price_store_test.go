package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/domain"
)

func TestPriceStore_InsertBulkSkipsDuplicates(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceStore(pool)
	ctx := context.Background()

	points := []*domain.PricePoint{
		{AssetID: "bitcoin", Timestamp: 100, PriceUSD: 10, VolumeUSD: 1},
		{AssetID: "bitcoin", Timestamp: 200, PriceUSD: 20, PriceAlt: ptr(140.0)},
	}
	n, err := store.InsertBulk(ctx, points)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// Re-inserting an overlapping window keeps the original rows.
	n, err = store.InsertBulk(ctx, []*domain.PricePoint{
		{AssetID: "bitcoin", Timestamp: 200, PriceUSD: 99},
		{AssetID: "bitcoin", Timestamp: 300, PriceUSD: 30},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.GetByTimeRange(ctx, "bitcoin", 0, 1000)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 20.0, got[1].PriceUSD)
	require.NotNil(t, got[1].PriceAlt)
	assert.Equal(t, 140.0, *got[1].PriceAlt)
	assert.Nil(t, got[0].PriceAlt)
}

func TestPriceStore_BucketAverages(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceStore(pool)
	ctx := context.Background()

	_, err := store.InsertBulk(ctx, []*domain.PricePoint{
		{AssetID: "bitcoin", Timestamp: 10, PriceUSD: 10},
		{AssetID: "bitcoin", Timestamp: 40, PriceUSD: 30},
		{AssetID: "bitcoin", Timestamp: 50, PriceUSD: 12},
		{AssetID: "bitcoin", Timestamp: 99, PriceUSD: 14},
		{AssetID: "ethereum", Timestamp: 50, PriceUSD: 1000},
	})
	require.NoError(t, err)

	buckets, err := store.BucketAverages(ctx, "bitcoin", 0, 50)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, int64(0), buckets[0].Bucket)
	assert.InDelta(t, 20.0, buckets[0].AvgPrice, 1e-9)
	assert.Equal(t, int64(1), buckets[1].Bucket)
	assert.InDelta(t, 13.0, buckets[1].AvgPrice, 1e-9)

	// since is exclusive
	buckets, err = store.BucketAverages(ctx, "bitcoin", 40, 50)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, int64(1), buckets[0].Bucket)
}

func TestPriceStore_LatestTimestamp(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceStore(pool)
	ctx := context.Background()

	ts, err := store.LatestTimestamp(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, int64(0), ts)

	_, err = store.InsertBulk(ctx, []*domain.PricePoint{
		{AssetID: "bitcoin", Timestamp: 100, PriceUSD: 10},
		{AssetID: "bitcoin", Timestamp: 300, PriceUSD: 10},
	})
	require.NoError(t, err)

	ts, err = store.LatestTimestamp(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, int64(300), ts)
}
