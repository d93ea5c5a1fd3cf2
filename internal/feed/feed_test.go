package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/domain"
)

func serve(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTickerClient_FetchTickerSnapshot(t *testing.T) {
	srv := serve(t, http.StatusOK, `[
		{"id":"bitcoin","name":"Bitcoin","symbol":"BTC","rank":"1","price_usd":"6400.5",
		 "price_btc":"1.0","24h_volume_usd":"1000","market_cap_usd":"2000",
		 "available_supply":"16000000","total_supply":"16000000","max_supply":"21000000",
		 "last_updated":"1512345678","price_cny":"42000.25"},
		{"id":"ethereum","name":"Ethereum","symbol":"ETH","rank":2,"price_usd":300,
		 "max_supply":null,"last_updated":"","price_cny":"oops"},
		{"name":"no id"},
		"garbage"
	]`)

	client := NewTickerClient(NewClient(), srv.URL, "CNY")
	assets, err := client.FetchTickerSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, assets, 2)

	btc := assets[0]
	assert.Equal(t, "bitcoin", btc.ID)
	assert.Equal(t, 1, btc.Rank)
	assert.Equal(t, 6400.5, btc.PriceUSD)
	assert.Equal(t, int64(1512345678), btc.MetadataUpdated)
	require.NotNil(t, btc.MaxSupply)
	assert.Equal(t, 21000000.0, *btc.MaxSupply)
	require.NotNil(t, btc.PriceAlt)
	assert.Equal(t, 42000.25, *btc.PriceAlt)

	eth := assets[1]
	assert.Equal(t, 2, eth.Rank)
	assert.Equal(t, 300.0, eth.PriceUSD)
	assert.Nil(t, eth.MaxSupply)
	assert.Nil(t, eth.PriceAlt)
	assert.Equal(t, int64(0), eth.MetadataUpdated)
}

func TestTickerClient_Malformed(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"error":"not an array"}`)

	_, err := NewTickerClient(NewClient(), srv.URL, "").FetchTickerSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindMalformed))
}

func TestTickerClient_Empty(t *testing.T) {
	srv := serve(t, http.StatusOK, `[]`)

	_, err := NewTickerClient(NewClient(), srv.URL, "").FetchTickerSnapshot(context.Background())
	assert.True(t, domain.IsKind(err, domain.KindEmpty))
}

func TestHistoryClient_FetchPriceHistory(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{
			"price_usd":[[1000000,10.5],[2000000,"11"],[3000000,null],["x",1],[4000000]],
			"volume_usd":[[1000000,500]],
			"price_btc":[[1000000,0.001],[2000000,0.002]],
			"price_cny":[[2000000,70]]
		}`))
	}))
	defer srv.Close()

	client := NewHistoryClient(NewClient(), srv.URL+"/currencies/{id}/{from}/{to}/", "CNY")
	points, err := client.FetchPriceHistory(context.Background(), "bitcoin", 100, 5000)
	require.NoError(t, err)

	assert.Equal(t, "/currencies/bitcoin/100000/5000000/", gotPath)
	require.Len(t, points, 2)

	assert.Equal(t, int64(1000), points[0].Timestamp)
	assert.Equal(t, 10.5, points[0].PriceUSD)
	assert.Equal(t, 500.0, points[0].VolumeUSD)
	assert.Nil(t, points[0].PriceAlt)

	// Missing volume is stored as 0.
	assert.Equal(t, int64(2000), points[1].Timestamp)
	assert.Equal(t, 11.0, points[1].PriceUSD)
	assert.Equal(t, 0.0, points[1].VolumeUSD)
	assert.Equal(t, 0.002, points[1].PriceBTC)
	require.NotNil(t, points[1].PriceAlt)
	assert.Equal(t, 70.0, *points[1].PriceAlt)
}

func TestHistoryClient_MissingPriceSeries(t *testing.T) {
	srv := serve(t, http.StatusOK, `{"volume_usd":[[1000,1]]}`)

	_, err := NewHistoryClient(NewClient(), srv.URL, "").FetchPriceHistory(context.Background(), "bitcoin", 0, 10)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindMalformed))

	var e *domain.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "bitcoin", e.AssetID)
}

func TestClient_TransientStatuses(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable} {
		srv := serve(t, status, `oops`)

		_, err := NewHistoryClient(NewClient(), srv.URL, "").FetchPriceHistory(context.Background(), "bitcoin", 0, 10)
		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindTransient), "status %d", status)
	}
}

func TestClient_ClientErrorStatusesAreMalformed(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		client := NewClient(WithMaxRetries(2), WithRetryDelay(time.Millisecond))
		_, err := NewHistoryClient(client, srv.URL, "").FetchPriceHistory(context.Background(), "unknown-coin", 0, 10)
		srv.Close()

		require.Error(t, err)
		assert.True(t, domain.IsKind(err, domain.KindMalformed), "status %d", status)
		assert.Equal(t, int32(1), calls.Load(), "status %d is not retried", status)
	}
}

func TestClient_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"rates":{"CNY":6.3}}`))
	}))
	defer srv.Close()

	client := NewClient(WithMaxRetries(2), WithRetryDelay(time.Millisecond))
	rate, err := NewFXClient(client, srv.URL, "cny").FetchRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6.3, rate)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(WithTimeout(20 * time.Millisecond))
	_, err := NewTickerClient(client, srv.URL, "").FetchTickerSnapshot(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTransient))
}

func TestFXClient_InvalidRates(t *testing.T) {
	for _, body := range []string{
		`{"rates":{"CNY":0}}`,
		`{"rates":{"CNY":"-1"}}`,
		`{"rates":{"EUR":0.9}}`,
		`{"rates":{"CNY":"NaN"}}`,
	} {
		srv := serve(t, http.StatusOK, body)

		_, err := NewFXClient(NewClient(), srv.URL, "CNY").FetchRate(context.Background())
		require.Error(t, err, body)
		assert.True(t, domain.IsKind(err, domain.KindMalformed), body)
	}
}

func TestFXClient_USDIsIdentity(t *testing.T) {
	rate, err := NewFXClient(NewClient(), "http://unused.invalid", "USD").FetchRate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)
}
