package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/spooky-finn/go-orderbook-sync/domain"
	"go.uber.org/zap"
)

const maxSnapshotBodySize = 16 << 20

// BinanceSyncAPI fetches depth snapshots over the REST API.
type BinanceSyncAPI struct {
	endpoint  string
	depthPath string
	client    *http.Client
	logger    *zap.Logger
}

type depthResponse struct {
	LastUpdateId int64               `json:"lastUpdateId"`
	Bids         []domain.PriceLevel `json:"bids"`
	Asks         []domain.PriceLevel `json:"asks"`
}

func NewBinanceSyncAPI(endpoints Endpoints, client *http.Client, logger *zap.Logger) *BinanceSyncAPI {
	if client == nil {
		client = http.DefaultClient
	}
	return &BinanceSyncAPI{
		endpoint:  endpoints.RestURL,
		depthPath: endpoints.DepthPath,
		client:    client,
		logger:    logger.Named("binance-sync-api"),
	}
}

func (api *BinanceSyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	query := url.Values{}
	query.Set("symbol", symbol.Exchange())
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api.endpoint+api.depthPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build depth request: %w", err)
	}

	res, err := api.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: get order book snapshot: %v", domain.ErrTransient, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxSnapshotBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", domain.ErrTransient, err)
	}

	switch {
	case res.StatusCode == http.StatusOK:
	case isRetryableStatus(res.StatusCode):
		return nil, fmt.Errorf("%w: depth request failed with status %d: %s", domain.ErrTransient, res.StatusCode, body)
	default:
		return nil, fmt.Errorf("%w: depth request failed with status %d: %s", domain.ErrMalformedData, res.StatusCode, body)
	}

	var response depthResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("%w: unmarshal depth response: %v", domain.ErrMalformedData, err)
	}
	if response.LastUpdateId <= 0 {
		return nil, fmt.Errorf("%w: depth response without lastUpdateId", domain.ErrMalformedData)
	}

	api.logger.Debug("order book snapshot fetched",
		zap.String("symbol", symbol.String()),
		zap.Int64("lastUpdateId", response.LastUpdateId),
		zap.Int("bids", len(response.Bids)),
		zap.Int("asks", len(response.Asks)),
	)

	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateId: response.LastUpdateId,
		Bids:         response.Bids,
		Asks:         response.Asks,
	}, nil
}

// 418 and 429 are rate limit bans, they lift after a while.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusTeapot || code >= http.StatusInternalServerError
}
