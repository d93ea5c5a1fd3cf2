package feed

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"portfolio-tracker/internal/domain"
)

// HistoryClient fetches per-asset price history.
//
// The URL template accepts {id}, {from} and {to} placeholders; from and to are
// substituted in milliseconds. The endpoint returns parallel series of
// [timestamp_ms, value] pairs:
//
//	{"price_usd":[[1512345600000,6400.1]],"volume_usd":[[1512345600000,1.2e9]],
//	 "price_btc":[[1512345600000,1.0]],"price_cny":[[1512345600000,42000]]}
//
// Only price_usd is required. Missing volume or btc samples are stored as 0 and a
// missing alternate price as null. Individual malformed samples are skipped.
type HistoryClient struct {
	client    *Client
	template  string
	altSeries string
}

// NewHistoryClient creates a HistoryClient for the given URL template.
func NewHistoryClient(client *Client, template, currency string) *HistoryClient {
	h := &HistoryClient{client: client, template: template}
	if currency != "" && !strings.EqualFold(currency, domain.DefaultCurrency) {
		h.altSeries = "price_" + strings.ToLower(currency)
	}
	return h
}

// FetchPriceHistory fetches samples of assetID between from and to (unix seconds).
// Returned points are sorted by timestamp and unique per timestamp; window
// filtering is left to the caller.
func (h *HistoryClient) FetchPriceHistory(ctx context.Context, assetID string, from, to int64) ([]domain.PricePoint, error) {
	const op = "fetch history"

	u := strings.NewReplacer(
		"{id}", url.PathEscape(assetID),
		"{from}", strconv.FormatInt(from*1000, 10),
		"{to}", strconv.FormatInt(to*1000, 10),
	).Replace(h.template)

	var series map[string]json.RawMessage
	if err := h.client.getJSON(ctx, "history", u, &series); err != nil {
		var e *domain.Error
		if errors.As(err, &e) {
			return nil, e.WithAsset(assetID)
		}
		return nil, err
	}

	rawPrices, ok := series["price_usd"]
	if !ok {
		return nil, domain.Errorf(domain.KindMalformed, op, "missing price_usd series").WithAsset(assetID)
	}
	prices, err := decodeSeries(rawPrices)
	if err != nil {
		return nil, domain.Errorf(domain.KindMalformed, op, "decode price_usd: %w", err).WithAsset(assetID)
	}

	volumes := optionalSeries(series, "volume_usd")
	btc := optionalSeries(series, "price_btc")
	var alt map[int64]float64
	if h.altSeries != "" {
		alt = optionalSeries(series, h.altSeries)
	}

	points := make([]domain.PricePoint, 0, len(prices))
	for ts, price := range prices {
		p := domain.PricePoint{
			AssetID:   assetID,
			Timestamp: ts,
			PriceUSD:  price,
			VolumeUSD: volumes[ts],
			PriceBTC:  btc[ts],
		}
		if v, ok := alt[ts]; ok {
			p.PriceAlt = &v
		}
		points = append(points, p)
	}

	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp < points[j].Timestamp
	})
	return points, nil
}

// decodeSeries decodes [[ts_ms, value], ...] into seconds -> value.
// Samples that are not a pair of numbers are skipped; the last duplicate wins.
func decodeSeries(raw json.RawMessage) (map[int64]float64, error) {
	var samples []json.RawMessage
	if err := json.Unmarshal(raw, &samples); err != nil {
		return nil, err
	}

	out := make(map[int64]float64, len(samples))
	for _, s := range samples {
		var pair []number
		if err := json.Unmarshal(s, &pair); err != nil || len(pair) < 2 {
			continue
		}
		ms, ok := pair[0].Int()
		if !ok {
			continue
		}
		v, ok := pair[1].Float()
		if !ok {
			continue
		}
		out[ms/1000] = v
	}
	return out, nil
}

// optionalSeries decodes a series that may be absent or malformed.
func optionalSeries(series map[string]json.RawMessage, name string) map[int64]float64 {
	raw, ok := series[name]
	if !ok {
		return nil
	}
	out, err := decodeSeries(raw)
	if err != nil {
		return nil
	}
	return out
}
