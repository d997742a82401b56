package broadcaster

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"go.uber.org/zap"
)

type Publisher interface {
	PublishJSON(ctx context.Context, key string, v interface{}) error
	Close() error
}

type BookSource interface {
	Symbols() []*domain.MarketSymbol
	Get(symbol *domain.MarketSymbol) (*domain.OrderbookMaintainer, error)
}

type Config struct {
	Interval    time.Duration
	BucketWidth decimal.Decimal
	Depth       int
}

// Message is the aggregated book plus the bucket changes since the previous
// broadcast of the same symbol.
type Message struct {
	*domain.AggregatedOrderBook
	Changes *domain.AggregatedOrderBookDiff `json:"changes"`
}

// Broadcaster periodically publishes the aggregated view of every synced book.
type Broadcaster struct {
	source    BookSource
	publisher Publisher
	config    Config
	logger    *zap.Logger

	// last full aggregation per symbol, only touched by broadcastOnce
	previous map[string]*domain.AggregatedOrderBook
}

func New(source BookSource, publisher Publisher, config Config, logger *zap.Logger) *Broadcaster {
	if config.Interval <= 0 {
		config.Interval = time.Second
	}
	return &Broadcaster{
		source:    source,
		publisher: publisher,
		config:    config,
		logger:    logger.With(zap.String("component", "broadcaster")),
		previous:  make(map[string]*domain.AggregatedOrderBook),
	}
}

func (b *Broadcaster) Start(ctx context.Context) {
	b.logger.Info("started", zap.Duration("interval", b.config.Interval))

	go func() {
		ticker := time.NewTicker(b.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				b.broadcastOnce(ctx)
			}
		}
	}()
}

func (b *Broadcaster) broadcastOnce(ctx context.Context) int {
	published := 0
	previous := make(map[string]*domain.AggregatedOrderBook, len(b.previous))
	defer func() { b.previous = previous }()

	for _, symbol := range b.source.Symbols() {
		key := symbol.String()
		maintainer, err := b.source.Get(symbol)
		if err != nil {
			continue
		}
		// an unsynced book starts a new baseline once it is synced again
		book, state := maintainer.CurrentBook()
		if state != domain.SyncState_Synced || book == nil {
			continue
		}

		aggregated, err := domain.Aggregate(book, b.config.BucketWidth)
		if err != nil {
			b.logger.Error("aggregate failed", zap.String("symbol", key), zap.Error(err))
			continue
		}
		changes, err := aggregated.Diff(b.previous[key])
		if err != nil {
			changes, _ = aggregated.Diff(nil)
		}
		previous[key] = aggregated

		msg := Message{
			AggregatedOrderBook: aggregated.Top(b.config.Depth),
			Changes:             changes.Top(b.config.Depth),
		}
		if err := b.publisher.PublishJSON(ctx, key, msg); err != nil {
			b.logger.Warn("publish failed", zap.String("symbol", key), zap.Error(err))
			continue
		}
		published++
	}
	return published
}

func (b *Broadcaster) Close() error {
	return b.publisher.Close()
}
