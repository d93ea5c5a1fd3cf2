package catalog

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/storage/memory"
)

func TestCatalog_ReplaceAssetsKeepsRate(t *testing.T) {
	c := New("CNY")
	c.SetRate("CNY", 6.3, 100)

	snap := c.ReplaceAssets([]domain.Asset{{ID: "bitcoin", PriceUSD: 10}}, 200)

	assert.Equal(t, uint64(2), snap.Version)
	assert.Equal(t, 6.3, snap.Rate())
	assert.Equal(t, "CNY", snap.Currency)
	a, ok := snap.Asset("bitcoin")
	require.True(t, ok)
	assert.Equal(t, 10.0, a.PriceUSD)
}

func TestCatalog_PublishedSnapshotIsImmutable(t *testing.T) {
	c := New("")
	first := c.ReplaceAssets([]domain.Asset{{ID: "bitcoin", PriceUSD: 10}}, 1)
	c.ReplaceAssets([]domain.Asset{{ID: "bitcoin", PriceUSD: 20}}, 2)

	a, _ := first.Asset("bitcoin")
	assert.Equal(t, 10.0, a.PriceUSD)
	assert.Equal(t, uint64(1), first.Version)

	a, _ = c.Snapshot().Asset("bitcoin")
	assert.Equal(t, 20.0, a.PriceUSD)
}

func TestCatalog_UpdateNilKeepsSnapshot(t *testing.T) {
	c := New("")
	before := c.Snapshot()

	after := c.Update(func(prev *domain.Snapshot) *domain.Snapshot { return nil })

	assert.Same(t, before, after)
	assert.Equal(t, uint64(0), c.Snapshot().Version)
}

func TestCatalog_SaveLoad(t *testing.T) {
	ctx := context.Background()
	cache := memory.NewCacheStore()

	src := New("CNY")
	src.SetRate("CNY", 6.5, 10)
	src.ReplaceAssets([]domain.Asset{{ID: "bitcoin", Symbol: "BTC", PriceUSD: 100}}, 20)
	require.NoError(t, src.Save(ctx, cache))

	dst := New("CNY")
	ok, err := dst.Load(ctx, cache)
	require.NoError(t, err)
	require.True(t, ok)

	snap := dst.Snapshot()
	assert.Equal(t, 6.5, snap.Rate())
	assert.Equal(t, int64(20), snap.FetchedAt)
	a, found := snap.Asset("bitcoin")
	require.True(t, found)
	assert.Equal(t, "BTC", a.Symbol)

	// A cache written for another currency keeps assets but not the rate.
	other := New("EUR")
	_, err = other.Load(ctx, cache)
	require.NoError(t, err)
	assert.Equal(t, "EUR", other.Snapshot().Currency)
	assert.Equal(t, 1.0, other.Snapshot().Rate())
	_, found = other.Snapshot().Asset("bitcoin")
	assert.True(t, found)
}

func TestCatalog_LoadMissing(t *testing.T) {
	ok, err := New("").Load(context.Background(), memory.NewCacheStore())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCatalog_ConcurrentReadersAndWriters(t *testing.T) {
	c := New("")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			c.ReplaceAssets([]domain.Asset{{ID: "bitcoin", PriceUSD: float64(i)}}, int64(i))
		}(i)
		go func() {
			defer wg.Done()
			snap := c.Snapshot()
			_, _ = snap.Asset("bitcoin")
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(8), c.Snapshot().Version)
}
