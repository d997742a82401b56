package broadcaster

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/spooky-finn/go-orderbook-sync/domain/domaintest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type message struct {
	key   string
	value []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []message
	err      error
	closed   bool
}

func (p *fakePublisher) PublishJSON(ctx context.Context, key string, v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	value, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.messages = append(p.messages, message{key: key, value: value})
	return nil
}

func (p *fakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakePublisher) published() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.messages...)
}

func syncedStorage(t *testing.T) (*domain.OrderBookStorage, *domain.MarketSymbol) {
	t.Helper()
	storage, symbol, _ := syncedStorageWithStream(t)
	return storage, symbol
}

func syncedStorageWithStream(t *testing.T) (*domain.OrderBookStorage, *domain.MarketSymbol, *domaintest.StreamAPI) {
	t.Helper()

	symbol, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)

	syncAPI := domaintest.NewSyncAPI(domaintest.Snapshot(100,
		[][]string{{"100.5", "1"}, {"100.1", "2"}, {"99.9", "3"}},
		[][]string{{"101.2", "1"}, {"101.9", "4"}},
	))
	config := domain.DefaultMaintainerConfig()
	config.FirstUpdateWait = time.Millisecond

	stream := domaintest.NewStreamAPI()
	maintainer := domain.NewOrderBookMaintainer(symbol, stream, syncAPI, domain.NewDepthUpdateValidator(), config)
	maintainer.Start(context.Background())
	t.Cleanup(maintainer.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, maintainer.WaitSynced(ctx))

	storage := domain.NewOrderBookStorage()
	storage.Add(symbol, maintainer)
	return storage, symbol, stream
}

func TestBroadcaster_PublishesAggregatedBook(t *testing.T) {
	storage, symbol := syncedStorage(t)
	publisher := &fakePublisher{}

	b := New(storage, publisher, Config{BucketWidth: decimal.NewFromInt(1), Depth: 1}, zap.NewNop())
	assert.Equal(t, 1, b.broadcastOnce(context.Background()))

	messages := publisher.published()
	require.Len(t, messages, 1)
	assert.Equal(t, symbol.String(), messages[0].key)

	var got struct {
		Symbol       string `json:"symbol"`
		LastUpdateID int64  `json:"lastUpdateId"`
		Bids         []struct {
			Price    string `json:"price"`
			Quantity string `json:"quantity"`
		} `json:"bids"`
		Asks []struct {
			Price    string `json:"price"`
			Quantity string `json:"quantity"`
		} `json:"asks"`
	}
	require.NoError(t, json.Unmarshal(messages[0].value, &got))
	assert.Equal(t, "btc_usdt", got.Symbol)
	assert.Equal(t, int64(100), got.LastUpdateID)
	require.Len(t, got.Bids, 1)
	assert.Equal(t, "100", got.Bids[0].Price)
	assert.Equal(t, "3", got.Bids[0].Quantity)
	require.Len(t, got.Asks, 1)
	assert.Equal(t, "102", got.Asks[0].Price)
	assert.Equal(t, "5", got.Asks[0].Quantity)
}

func TestBroadcaster_PublishesBucketChanges(t *testing.T) {
	storage, symbol, stream := syncedStorageWithStream(t)
	publisher := &fakePublisher{}

	b := New(storage, publisher, Config{BucketWidth: decimal.NewFromInt(1)}, zap.NewNop())
	require.Equal(t, 1, b.broadcastOnce(context.Background()))

	// bid 100.5 grows by 2, ask 101.9 is removed
	sub, ok := stream.Subscription(symbol)
	require.True(t, ok)
	require.True(t, sub.Send(domain.NewOrderBookUpdate(
		domaintest.Levels([][]string{{"100.5", "3"}}),
		domaintest.Levels([][]string{{"101.9", "0"}}),
		101, 101, symbol,
	)))
	maintainer, err := storage.Get(symbol)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		book, _ := maintainer.CurrentBook()
		return book != nil && book.LastUpdateID == 101
	}, 2*time.Second, time.Millisecond)

	require.Equal(t, 1, b.broadcastOnce(context.Background()))
	messages := publisher.published()
	require.Len(t, messages, 2)

	type change struct {
		Price      string `json:"price"`
		Quantity   string `json:"quantity"`
		Difference string `json:"difference"`
	}
	var first, second struct {
		LastUpdateID int64 `json:"lastUpdateId"`
		Changes      struct {
			FromLastUpdateID int64    `json:"fromLastUpdateId"`
			Bids             []change `json:"bids"`
			Asks             []change `json:"asks"`
		} `json:"changes"`
	}
	require.NoError(t, json.Unmarshal(messages[0].value, &first))
	require.NoError(t, json.Unmarshal(messages[1].value, &second))

	assert.Equal(t, []change{{"100", "3", "0"}, {"99", "3", "0"}}, first.Changes.Bids)

	assert.Equal(t, int64(101), second.LastUpdateID)
	assert.Equal(t, int64(100), second.Changes.FromLastUpdateID)
	assert.Equal(t, []change{{"100", "5", "2"}, {"99", "3", "0"}}, second.Changes.Bids)
	assert.Equal(t, []change{{"102", "1", "-4"}}, second.Changes.Asks)
}

func TestBroadcaster_SkipsUnsyncedBooks(t *testing.T) {
	symbol, err := domain.NewMarketSymbol("eth", "usdt")
	require.NoError(t, err)

	storage := domain.NewOrderBookStorage()
	storage.Add(symbol, domain.NewOrderBookMaintainer(symbol, domaintest.NewStreamAPI(), domaintest.NewSyncAPI(nil), domain.NewDepthUpdateValidator(), domain.DefaultMaintainerConfig()))

	publisher := &fakePublisher{}
	b := New(storage, publisher, Config{BucketWidth: decimal.NewFromInt(1)}, zap.NewNop())
	assert.Equal(t, 0, b.broadcastOnce(context.Background()))
	assert.Empty(t, publisher.published())
}

func TestBroadcaster_PublishErrorIsSkipped(t *testing.T) {
	storage, _ := syncedStorage(t)
	publisher := &fakePublisher{err: errors.New("broker down")}

	b := New(storage, publisher, Config{BucketWidth: decimal.NewFromInt(1)}, zap.NewNop())
	assert.Equal(t, 0, b.broadcastOnce(context.Background()))
}

func TestBroadcaster_StartTicks(t *testing.T) {
	storage, _ := syncedStorage(t)
	publisher := &fakePublisher{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := New(storage, publisher, Config{Interval: 5 * time.Millisecond, BucketWidth: decimal.NewFromInt(1)}, zap.NewNop())
	b.Start(ctx)

	assert.Eventually(t, func() bool {
		return len(publisher.published()) >= 2
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, b.Close())
	assert.True(t, publisher.closed)
}
