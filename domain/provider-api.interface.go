package domain

import "context"

// ProviderSyncAPI fetches a full depth snapshot. Errors wrap ErrTransient
// or ErrMalformedData.
type ProviderSyncAPI interface {
	OrderBookSnapshot(ctx context.Context, symbol *MarketSymbol, limit int) (*OrderBookSnapshot, error)
}

// ProviderStreamAPI subscribes to the diff depth stream of one symbol.
// The stream ends on disconnect and Err tells why.
type ProviderStreamAPI interface {
	DepthDiffStream(ctx context.Context, symbol *MarketSymbol) (*Subscription[*OrderBookUpdate], error)
}
