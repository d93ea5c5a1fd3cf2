package feed

import (
	"context"
	"strings"

	"portfolio-tracker/internal/domain"
)

// FXClient fetches the USD to target currency conversion rate.
//
// The endpoint returns {"base":"USD","rates":{"CNY":"6.3"}}; the rate may be a
// number or a string.
type FXClient struct {
	client   *Client
	url      string
	currency string
}

// NewFXClient creates an FXClient for the given target currency.
func NewFXClient(client *Client, url, currency string) *FXClient {
	return &FXClient{client: client, url: url, currency: strings.ToUpper(currency)}
}

// Currency returns the target currency code.
func (f *FXClient) Currency() string {
	return f.currency
}

type fxResponse struct {
	Rates map[string]number `json:"rates"`
}

// FetchRate returns the USD to target rate. The rate must be finite and > 0.
func (f *FXClient) FetchRate(ctx context.Context) (float64, error) {
	const op = "fetch fx"

	if f.currency == "" || f.currency == domain.DefaultCurrency {
		return 1, nil
	}

	var resp fxResponse
	if err := f.client.getJSON(ctx, "fx", f.url, &resp); err != nil {
		return 0, err
	}

	n, ok := resp.Rates[f.currency]
	if !ok {
		return 0, domain.Errorf(domain.KindMalformed, op, "rate for %s missing", f.currency)
	}
	rate, ok := n.Float()
	if !ok || rate <= 0 {
		return 0, domain.Errorf(domain.KindMalformed, op, "invalid rate for %s", f.currency)
	}
	return rate, nil
}
