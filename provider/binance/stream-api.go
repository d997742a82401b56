package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spooky-finn/go-orderbook-sync/domain"
	"go.uber.org/zap"
)

const depthUpdateEvent = "depthUpdate"

type BinanceStreamAPI struct {
	streamClient *BinanceStreamClient
	// Update speed suffix of the depth topic, e.g. "100ms". Empty uses the default.
	updateSpeed string
	logger      *zap.Logger
}

type DethUpdateSubscribtion = domain.Subscription[*domain.OrderBookUpdate]

// DepthUpdateData is the payload of the diff depth stream. Spot events have
// no "pu", futures events carry it.
type DepthUpdateData struct {
	Event             string              `json:"e"`
	EventTime         int64               `json:"E"`
	TransactionTime   int64               `json:"T"`
	Symbol            string              `json:"s"`
	FirstUpdateId     int64               `json:"U"`
	FinalUpdateId     int64               `json:"u"`
	PrevFinalUpdateId *int64              `json:"pu"`
	Bids              []domain.PriceLevel `json:"b"`
	Asks              []domain.PriceLevel `json:"a"`
}

func NewBinanceStreamAPI(client *BinanceStreamClient, updateSpeed string, logger *zap.Logger) *BinanceStreamAPI {
	return &BinanceStreamAPI{
		streamClient: client,
		updateSpeed:  updateSpeed,
		logger:       logger.Named("binance-stream-api"),
	}
}

func (bs *BinanceStreamAPI) DepthDiffStream(ctx context.Context, symbol *domain.MarketSymbol) (*DethUpdateSubscribtion, error) {
	topic := DepthTopic(symbol, bs.updateSpeed)
	raw, err := bs.streamClient.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}

	s := domain.NewSubscription[*domain.OrderBookUpdate](topic, 0, raw.Unsubscribe)

	go func() {
		var closeErr error
		defer func() { s.Close(closeErr) }()

		for msg := range raw.Stream() {
			update, err := decodeDepthUpdate(msg, symbol)
			if err != nil {
				bs.logger.Error("failed to decode depth update",
					zap.String("topic", topic),
					zap.ByteString("msg", msg),
					zap.Error(err),
				)
				closeErr = err
				raw.Unsubscribe()
				return
			}

			if !s.Send(update) {
				return
			}
		}

		closeErr = raw.Err()
	}()

	return s, nil
}

func DepthTopic(symbol *domain.MarketSymbol, updateSpeed string) string {
	topic := fmt.Sprintf("%s@depth", symbol.Join(""))
	if updateSpeed != "" {
		topic += "@" + updateSpeed
	}
	return topic
}

func decodeDepthUpdate(msg []byte, symbol *domain.MarketSymbol) (*domain.OrderBookUpdate, error) {
	var data DepthUpdateData
	if err := json.Unmarshal(msg, &data); err != nil {
		return nil, fmt.Errorf("%w: unmarshal depth update: %v", domain.ErrMalformedData, err)
	}

	switch {
	case data.Event != depthUpdateEvent:
		return nil, fmt.Errorf("%w: unexpected event %q", domain.ErrMalformedData, data.Event)
	case !strings.EqualFold(data.Symbol, symbol.Exchange()):
		return nil, fmt.Errorf("%w: update for %q on %s stream", domain.ErrMalformedData, data.Symbol, symbol)
	case data.FirstUpdateId <= 0 || data.FinalUpdateId < data.FirstUpdateId:
		return nil, fmt.Errorf("%w: invalid update range [%d..%d]", domain.ErrMalformedData, data.FirstUpdateId, data.FinalUpdateId)
	}

	update := domain.NewOrderBookUpdate(data.Bids, data.Asks, data.FirstUpdateId, data.FinalUpdateId, symbol)
	update.PrevFinalUpdateID = data.PrevFinalUpdateId
	update.EventTime = time.UnixMilli(data.EventTime)
	return update, nil
}
