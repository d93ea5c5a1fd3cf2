package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"portfolio-tracker/internal/catalog"
	"portfolio-tracker/internal/domain"
	"portfolio-tracker/internal/holdings"
	"portfolio-tracker/internal/ingestion"
	"portfolio-tracker/internal/storage"
	"portfolio-tracker/internal/storage/memory"
	"portfolio-tracker/internal/valuation"
)

const testNow = 11_000

type testEnv struct {
	server  *Server
	prices  *memory.PriceStore
	assets  *memory.AssetStore
	catalog *catalog.Catalog
}

type fixedStatus struct{}

func (fixedStatus) Status() ingestion.Status {
	return ingestion.Status{QueueSize: 3, Refreshes: 7}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		prices:  memory.NewPriceStore(),
		assets:  memory.NewAssetStore(),
		catalog: catalog.New("USD"),
	}
	svc := holdings.NewService(memory.NewHoldingStore())
	engine := valuation.NewEngine(valuation.Options{
		Prices:   env.prices,
		Holdings: svc,
		Catalog:  env.catalog,
		Now:      func() time.Time { return time.Unix(testNow, 0) },
	})

	env.server = New(Config{
		Logger:    zerolog.Nop(),
		Holdings:  svc,
		Valuation: engine,
		Assets:    env.assets,
		Catalog:   env.catalog,
		Scheduler: fixedStatus{},
	})
	return env
}

func (env *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthAndStatus(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	env.catalog.ReplaceAssets([]domain.Asset{{ID: "bitcoin", PriceUSD: 100}}, 5)
	rec = env.do(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	st := decode[statusResponse](t, rec)
	assert.Equal(t, uint64(1), st.Catalog.Version)
	assert.Equal(t, 1, st.Catalog.Assets)
	assert.Equal(t, 1.0, st.Catalog.FXRate)
	require.NotNil(t, st.Scheduler)
	assert.Equal(t, 3, st.Scheduler.QueueSize)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventsCRUD(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/users/alice/events", map[string]any{
		"asset_id": "bitcoin", "timestamp": 1_000, "amount": 1.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.HoldingEvent](t, rec)
	assert.Equal(t, "alice", created.UserID)
	assert.NotEqual(t, uuid.Nil, created.EventID)

	rec = env.do(t, http.MethodPut, "/api/users/alice/events/"+created.EventID.String(), map[string]any{
		"timestamp": 2_000, "amount": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(2_000), decode[domain.HoldingEvent](t, rec).Timestamp)

	rec = env.do(t, http.MethodGet, "/api/users/alice/events?asset=bitcoin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]domain.HoldingEvent](t, rec)
	require.Len(t, events, 1)
	assert.Equal(t, 3.0, events[0].Amount)

	// other users cannot touch the event
	rec = env.do(t, http.MethodDelete, "/api/users/bob/events/"+created.EventID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/users/alice/events/"+created.EventID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users/alice/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestEvents_Validation(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"missing amount", http.MethodPost, "/api/users/alice/events", map[string]any{"asset_id": "bitcoin", "timestamp": 1}},
		{"negative amount", http.MethodPost, "/api/users/alice/events", map[string]any{"asset_id": "bitcoin", "timestamp": 1, "amount": -1}},
		{"missing asset", http.MethodPost, "/api/users/alice/events", map[string]any{"timestamp": 1, "amount": 1}},
		{"unknown field", http.MethodPost, "/api/users/alice/events", map[string]any{"asset_id": "bitcoin", "timestamp": 1, "amount": 1, "extra": true}},
		{"malformed id", http.MethodPut, "/api/users/alice/events/not-a-uuid", map[string]any{"timestamp": 1, "amount": 1}},
		{"malformed id delete", http.MethodDelete, "/api/users/alice/events/not-a-uuid", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.path, tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	rec := env.do(t, http.MethodPut, "/api/users/alice/events/"+uuid.NewString(), map[string]any{"timestamp": 1, "amount": 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValuationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.catalog.ReplaceAssets([]domain.Asset{{ID: "bitcoin", Symbol: "BTC", PriceUSD: 50}}, 5)
	_, err := env.prices.InsertBulk(ctx, []*domain.PricePoint{{AssetID: "bitcoin", Timestamp: 1_000, PriceUSD: 40}})
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/users/alice/events", map[string]any{
		"asset_id": "bitcoin", "timestamp": 1_000, "amount": 0.5,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = env.do(t, http.MethodPost, "/api/users/alice/events", map[string]any{
		"asset_id": "delisted", "timestamp": 1_000, "amount": 2,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/users/alice/valuation?asset=bitcoin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	series := decode[valuation.Series](t, rec)
	assert.Equal(t, int64(100), series.BucketSize)
	require.Len(t, series.Points, 100)
	assert.InDelta(t, 20.0, series.Points[0].Value, 1e-9)

	rec = env.do(t, http.MethodGet, "/api/users/alice/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decode[valuation.Balance](t, rec)
	assert.InDelta(t, 25.0, balance.Value, 1e-9)
	assert.Equal(t, []string{"delisted"}, balance.Missing)

	rec = env.do(t, http.MethodGet, "/api/users/alice/holdings", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[
		{"asset_id":"bitcoin","symbol":"BTC","amount":0.5,"price_usd":50,"value":25},
		{"asset_id":"delisted","symbol":"","amount":2,"price_usd":null,"value":null}
	]`, rec.Body.String())
}

func TestAssetEndpoints(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.catalog.ReplaceAssets([]domain.Asset{
		{ID: "ethereum", Rank: 2},
		{ID: "bitcoin", Rank: 1},
	}, 5)
	require.NoError(t, env.assets.UpsertBulk(ctx, []*domain.Asset{{ID: "bitcoin", Rank: 1, Symbol: "BTC"}}))

	rec := env.do(t, http.MethodGet, "/api/assets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assets := decode[[]domain.Asset](t, rec)
	require.Len(t, assets, 2)
	assert.Equal(t, "bitcoin", assets[0].ID)

	rec = env.do(t, http.MethodGet, "/api/assets/bitcoin", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "BTC", decode[domain.Asset](t, rec).Symbol)

	rec = env.do(t, http.MethodGet, "/api/assets/dogecoin", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type failingValuator struct{}

func (failingValuator) Series(context.Context, string, string) (*valuation.Series, error) {
	return nil, storage.Wrap("bucket averages", errors.New("connection refused"))
}

func (failingValuator) CurrentBalance(context.Context, string) (*valuation.Balance, error) {
	return nil, storage.Wrap("list holding events", errors.New("connection refused"))
}

func (failingValuator) CurrentHoldings(context.Context, string) ([]domain.HoldingValue, error) {
	return nil, errors.New("boom")
}

func TestStorageFailuresAreOpaque(t *testing.T) {
	env := newTestEnv(t)
	env.server.valuation = failingValuator{}

	for _, path := range []string{
		"/api/users/alice/valuation",
		"/api/users/alice/balance",
		"/api/users/alice/holdings",
	} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusInternalServerError, rec.Code, path)
		assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
	}
}
