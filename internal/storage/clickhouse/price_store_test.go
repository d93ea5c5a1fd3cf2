package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/domain"
)

func TestPriceStore_InsertBulkSkipsDuplicates(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceStore(conn)
	ctx := context.Background()

	n, err := store.InsertBulk(ctx, []*domain.PricePoint{
		{AssetID: "bitcoin", Timestamp: 100, PriceUSD: 10},
		{AssetID: "bitcoin", Timestamp: 200, PriceUSD: 20, PriceAlt: ptr(140.0)},
		{AssetID: "bitcoin", Timestamp: 200, PriceUSD: 21},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = store.InsertBulk(ctx, []*domain.PricePoint{
		{AssetID: "bitcoin", Timestamp: 200, PriceUSD: 99},
		{AssetID: "bitcoin", Timestamp: 300, PriceUSD: 30},
		{AssetID: "ethereum", Timestamp: 200, PriceUSD: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.GetByTimeRange(ctx, "bitcoin", 0, 1000)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 20.0, got[1].PriceUSD)
	require.NotNil(t, got[1].PriceAlt)
	assert.Equal(t, 140.0, *got[1].PriceAlt)
}

func TestPriceStore_BucketAverages(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewPriceStore(conn)
	ctx := context.Background()

	_, err := store.InsertBulk(ctx, []*domain.PricePoint{
		{AssetID: "bitcoin", Timestamp: 10, PriceUSD: 10},
		{AssetID: "bitcoin", Timestamp: 40, PriceUSD: 30},
		{AssetID: "bitcoin", Timestamp: 50, PriceUSD: 12},
		{AssetID: "bitcoin", Timestamp: 99, PriceUSD: 14},
	})
	require.NoError(t, err)

	buckets, err := store.BucketAverages(ctx, "bitcoin", 0, 50)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, domain.BucketPrice{Bucket: 0, AvgPrice: 20}, buckets[0])
	assert.Equal(t, domain.BucketPrice{Bucket: 1, AvgPrice: 13}, buckets[1])

	latest, err := store.LatestTimestamp(ctx, "bitcoin")
	require.NoError(t, err)
	assert.Equal(t, int64(99), latest)

	latest, err = store.LatestTimestamp(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), latest)
}
