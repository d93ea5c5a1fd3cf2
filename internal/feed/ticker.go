package feed

import (
	"context"
	"encoding/json"
	"strings"

	"portfolio-tracker/internal/domain"
)

// TickerClient fetches the full catalog snapshot from a ticker endpoint.
//
// The endpoint returns a JSON array of objects with string-encoded numbers:
//
//	[{"id":"bitcoin","name":"Bitcoin","symbol":"BTC","rank":"1","price_usd":"6400.1",
//	  "price_btc":"1.0","24h_volume_usd":"...","market_cap_usd":"...",
//	  "available_supply":"...","total_supply":"...","max_supply":null,
//	  "last_updated":"1512345678","price_cny":"42000.5"}]
type TickerClient struct {
	client   *Client
	url      string
	altField string // e.g. "price_cny"; empty when the alternate currency is USD
}

// NewTickerClient creates a TickerClient. currency selects the alternate price
// field (price_<currency>); pass "" or "USD" to skip it.
func NewTickerClient(client *Client, url, currency string) *TickerClient {
	t := &TickerClient{client: client, url: url}
	if currency != "" && !strings.EqualFold(currency, domain.DefaultCurrency) {
		t.altField = "price_" + strings.ToLower(currency)
	}
	return t
}

type tickerEntry struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	Rank            number `json:"rank"`
	PriceUSD        number `json:"price_usd"`
	PriceBTC        number `json:"price_btc"`
	Volume24hUSD    number `json:"24h_volume_usd"`
	MarketCapUSD    number `json:"market_cap_usd"`
	AvailableSupply number `json:"available_supply"`
	TotalSupply     number `json:"total_supply"`
	MaxSupply       number `json:"max_supply"`
	LastUpdated     number `json:"last_updated"`
}

// FetchTickerSnapshot fetches all assets. Entries without an id are skipped.
// A payload that is not a JSON array is KindMalformed; an array with no usable
// entries is KindEmpty.
func (t *TickerClient) FetchTickerSnapshot(ctx context.Context) ([]domain.Asset, error) {
	const op = "fetch ticker"

	var raw []json.RawMessage
	if err := t.client.getJSON(ctx, "ticker", t.url, &raw); err != nil {
		return nil, err
	}

	assets := make([]domain.Asset, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		a, ok := t.decodeEntry(item)
		if !ok {
			continue
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		seen[a.ID] = struct{}{}
		assets = append(assets, a)
	}

	if len(assets) == 0 {
		return nil, domain.Errorf(domain.KindEmpty, op, "no usable entries in %d items", len(raw))
	}
	return assets, nil
}

func (t *TickerClient) decodeEntry(item json.RawMessage) (domain.Asset, bool) {
	var e tickerEntry
	if err := json.Unmarshal(item, &e); err != nil || e.ID == "" {
		return domain.Asset{}, false
	}

	a := domain.Asset{
		ID:              e.ID,
		Name:            e.Name,
		Symbol:          e.Symbol,
		PriceUSD:        e.PriceUSD.FloatOr(0),
		PriceBTC:        e.PriceBTC.FloatOr(0),
		Volume24hUSD:    e.Volume24hUSD.FloatOr(0),
		MarketCapUSD:    e.MarketCapUSD.FloatOr(0),
		AvailableSupply: e.AvailableSupply.FloatOr(0),
		TotalSupply:     e.TotalSupply.FloatOr(0),
		MaxSupply:       e.MaxSupply.FloatPtr(),
	}
	if rank, ok := e.Rank.Int(); ok {
		a.Rank = int(rank)
	}
	if ts, ok := e.LastUpdated.Int(); ok {
		a.MetadataUpdated = ts
	}

	if t.altField != "" {
		var fields map[string]number
		if err := json.Unmarshal(item, &fields); err == nil {
			if n, ok := fields[t.altField]; ok {
				a.PriceAlt = n.FloatPtr()
			}
		}
	}

	return a, true
}
