package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/catalog"
	"portfolio-tracker/internal/holdings"
	"portfolio-tracker/internal/valuation"
)

func TestStoreConfig_Validate(t *testing.T) {
	assert.NoError(t, StoreConfig{UseMemory: true}.Validate())
	assert.NoError(t, StoreConfig{PostgresDSN: "postgres://x"}.Validate())
	assert.Error(t, StoreConfig{}.Validate())
	assert.Error(t, StoreConfig{PostgresDSN: "postgres://x", PriceStore: PriceStoreClickhouse}.Validate())
	assert.NoError(t, StoreConfig{PostgresDSN: "postgres://x", ClickhouseDSN: "clickhouse://y", PriceStore: PriceStoreClickhouse}.Validate())
	assert.Error(t, StoreConfig{PostgresDSN: "postgres://x", PriceStore: "sqlite"}.Validate())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("PT_TEST_DURATION", "3s")
	t.Setenv("PT_TEST_INT", "42")
	t.Setenv("PT_TEST_FLOAT", "0.25")
	t.Setenv("PT_TEST_BOOL", "true")
	t.Setenv("PT_TEST_BAD", "nope")

	assert.Equal(t, 3*time.Second, EnvDuration("PT_TEST_DURATION", time.Second))
	assert.Equal(t, time.Second, EnvDuration("PT_TEST_BAD", time.Second))
	assert.Equal(t, 42, EnvInt("PT_TEST_INT", 1))
	assert.Equal(t, 0.25, EnvFloat("PT_TEST_FLOAT", 1))
	assert.True(t, EnvBool("PT_TEST_BOOL", false))
	assert.Equal(t, "fallback", Env("PT_TEST_UNSET", "fallback"))
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PT_TEST_FROM_FILE=loaded\nPT_TEST_PRESET=file\n"), 0o600))
	t.Setenv("PT_TEST_PRESET", "env")
	t.Cleanup(func() { os.Unsetenv("PT_TEST_FROM_FILE") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("PT_TEST_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("PT_TEST_PRESET"))
}

// upstream serves ticker, history and FX endpoints for one asset.
func upstream(t *testing.T, sampleAt int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ticker", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":"bitcoin","name":"Bitcoin","symbol":"BTC","rank":"1",
			"price_usd":"100","price_btc":"1.0","price_cny":"700","last_updated":"1500000000"}]`)
	})
	mux.HandleFunc("/history/bitcoin/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"price_usd":[[%d,40]],"price_cny":[[%d,280]]}`, sampleAt*1000, sampleAt*1000)
	})
	mux.HandleFunc("/fx", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"base":"USD","rates":{"CNY":"7"}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestIngestionEndToEnd(t *testing.T) {
	ctx := context.Background()
	logger := zerolog.Nop()

	now := time.Now().Unix()
	srv := upstream(t, now-3600)

	stores, err := OpenStores(ctx, StoreConfig{UseMemory: true}, logger)
	require.NoError(t, err)
	defer stores.Close()

	cat := catalog.New("CNY")
	in := NewIngestion(IngestionConfig{
		Feed: FeedConfig{
			TickerURL:  srv.URL + "/ticker",
			HistoryURL: srv.URL + "/history/{id}/{from}/{to}/",
			FXURL:      srv.URL + "/fx",
			Currency:   "CNY",
			Timeout:    5 * time.Second,
		},
		RequestInterval: time.Millisecond,
	}, stores, cat, &logger)

	_, err = in.Catalog.Refresh(ctx)
	require.NoError(t, err)
	rate, err := in.FX.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7.0, rate)

	res, err := in.Scheduler.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", res.AssetID)
	assert.Equal(t, 1, res.Inserted)

	svc := holdings.NewService(stores.Holdings)
	_, err = svc.Add(ctx, "alice", "bitcoin", now-7200, 2)
	require.NoError(t, err)

	engine := valuation.NewEngine(valuation.Options{
		Prices:   stores.Prices,
		Holdings: svc,
		Catalog:  cat,
		Now:      func() time.Time { return time.Unix(now, 0) },
	})

	balance, err := engine.CurrentBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "CNY", balance.Currency)
	assert.InDelta(t, 1400.0, balance.Value, 1e-9) // 2 * 100 USD * 7

	series, err := engine.Series(ctx, "alice", "")
	require.NoError(t, err)
	require.NotEmpty(t, series.Points)
	assert.InDelta(t, 560.0, series.Points[len(series.Points)-1].Value, 1e-9) // 2 * 40 USD * 7

	// A fresh process restores the catalog from the cache.
	restored := catalog.New("CNY")
	WarmStart(ctx, restored, stores, logger)
	snap := restored.Snapshot()
	assert.Len(t, snap.Assets, 1)
	assert.Equal(t, 7.0, snap.Rate())
}
