package domain_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type depthSubscription = domain.Subscription[*domain.OrderBookUpdate]

type fakeStreamAPI struct {
	mu         sync.Mutex
	err        error
	calls      int
	subscribed chan *depthSubscription
}

func newFakeStreamAPI() *fakeStreamAPI {
	return &fakeStreamAPI{subscribed: make(chan *depthSubscription, 16)}
}

func (f *fakeStreamAPI) DepthDiffStream(ctx context.Context, symbol *domain.MarketSymbol) (*depthSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub := domain.NewSubscription[*domain.OrderBookUpdate](symbol.Join("")+"@depth", 4096, nil)
	f.subscribed <- sub
	return sub, nil
}

func (f *fakeStreamAPI) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStreamAPI) next(t *testing.T) *depthSubscription {
	t.Helper()
	select {
	case sub := <-f.subscribed:
		return sub
	case <-time.After(2 * time.Second):
		require.FailNow(t, "no subscription")
		return nil
	}
}

type snapshotReply struct {
	snapshot *domain.OrderBookSnapshot
	err      error
}

type fakeSyncAPI struct {
	replies chan snapshotReply
}

func newFakeSyncAPI() *fakeSyncAPI {
	return &fakeSyncAPI{replies: make(chan snapshotReply, 16)}
}

func (f *fakeSyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	select {
	case reply := <-f.replies:
		return reply.snapshot, reply.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *fakeSyncAPI) reply(snapshot *domain.OrderBookSnapshot, err error) {
	f.replies <- snapshotReply{snapshot: snapshot, err: err}
}

type recorder struct {
	mu       sync.Mutex
	changes  []domain.StateChange
	outcomes map[domain.UpdateOutcome]int
}

func newRecorder() *recorder {
	return &recorder{outcomes: make(map[domain.UpdateOutcome]int)}
}

func (r *recorder) hooks() domain.MaintainerHooks {
	return domain.MaintainerHooks{
		OnStateChange: func(change domain.StateChange) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changes = append(r.changes, change)
		},
		OnUpdate: func(symbol string, outcome domain.UpdateOutcome) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.outcomes[outcome]++
		},
	}
}

func (r *recorder) count(outcome domain.UpdateOutcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[outcome]
}

func (r *recorder) entered(state domain.SyncState) (domain.StateChange, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, change := range r.changes {
		if change.To == state {
			return change, true
		}
	}
	return domain.StateChange{}, false
}

func testConfig(r *recorder) domain.MaintainerConfig {
	return domain.MaintainerConfig{
		DepthLimit:      100,
		MaxBufferSize:   1000,
		MaxRetries:      3,
		MinBackoff:      time.Millisecond,
		MaxBackoff:      5 * time.Millisecond,
		FirstUpdateWait: time.Hour,
		Logger:          zap.NewNop(),
		Hooks:           r.hooks(),
	}
}

func startMaintainer(t *testing.T, stream *fakeStreamAPI, sync *fakeSyncAPI, cfg domain.MaintainerConfig) *domain.OrderbookMaintainer {
	t.Helper()
	symbol, err := domain.NewMarketSymbol("btc", "usdt")
	require.NoError(t, err)

	m := domain.NewOrderBookMaintainer(symbol, stream, sync, domain.NewDepthUpdateValidator(), cfg)
	m.Start(context.Background())
	t.Cleanup(m.Stop)
	return m
}

func waitSynced(t *testing.T, m *domain.OrderbookMaintainer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitSynced(ctx))
}

func snapshotAt(t *testing.T, id int64, bids, asks [][]string) *domain.OrderBookSnapshot {
	t.Helper()
	b, err := domain.ParsePriceLevels(bids)
	require.NoError(t, err)
	a, err := domain.ParsePriceLevels(asks)
	require.NoError(t, err)
	return &domain.OrderBookSnapshot{Source: domain.OrderBookSource_Provider, LastUpdateId: id, Bids: b, Asks: a}
}

func diff(t *testing.T, first, final int64, bids, asks [][]string) *domain.OrderBookUpdate {
	t.Helper()
	b, err := domain.ParsePriceLevels(bids)
	require.NoError(t, err)
	a, err := domain.ParsePriceLevels(asks)
	require.NoError(t, err)
	return domain.NewOrderBookUpdate(b, a, first, final, nil)
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOrderbookMaintainer_BufferedUpdatesAreBridged(t *testing.T) {
	r := newRecorder()
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()
	m := startMaintainer(t, stream, syncAPI, testConfig(r))

	sub := stream.next(t)
	// final ids 98, 101, 99, 105 arrive before the snapshot
	sub.Send(diff(t, 97, 98, [][]string{{"90", "1"}}, nil))
	sub.Send(diff(t, 99, 101, [][]string{{"91", "1"}}, nil))
	sub.Send(diff(t, 98, 99, [][]string{{"92", "1"}}, nil))
	sub.Send(diff(t, 102, 105, [][]string{{"93", "1"}}, nil))

	assert.Eventually(t, func() bool {
		return r.count(domain.UpdateOutcome_Buffered) >= 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.SyncState_Buffering, m.State())

	syncAPI.reply(snapshotAt(t, 100, [][]string{{"95", "1"}}, [][]string{{"100", "1"}}), nil)
	waitSynced(t, m)

	assert.Eventually(t, func() bool {
		book, _ := m.CurrentBook()
		return book != nil && book.LastUpdateID == 105
	}, time.Second, time.Millisecond)

	book, state := m.CurrentBook()
	require.NotNil(t, book)
	assert.Equal(t, domain.SyncState_Synced, state)
	assert.Equal(t, [][]string{{"95", "1"}, {"93", "1"}, {"91", "1"}}, domain.SerializePriceLevels(book.Bids.Levels(true)))
	assert.Equal(t, 2, r.count(domain.UpdateOutcome_Applied))
	assert.Equal(t, 2, r.count(domain.UpdateOutcome_Stale))
}

func TestOrderbookMaintainer_BufferedGapResyncsWithoutSyncing(t *testing.T) {
	r := newRecorder()
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()
	m := startMaintainer(t, stream, syncAPI, testConfig(r))

	sub := stream.next(t)
	// the first buffered event starts after lastUpdateId+1
	sub.Send(diff(t, 103, 105, [][]string{{"93", "1"}}, nil))
	assert.Eventually(t, func() bool {
		return r.count(domain.UpdateOutcome_Buffered) >= 1
	}, time.Second, time.Millisecond)

	syncAPI.reply(snapshotAt(t, 100, [][]string{{"95", "1"}}, [][]string{{"100", "1"}}), nil)

	assert.Eventually(t, func() bool {
		_, ok := r.entered(domain.SyncState_Resyncing)
		return ok
	}, time.Second, time.Millisecond)

	change, _ := r.entered(domain.SyncState_Resyncing)
	assert.ErrorIs(t, change.Reason, domain.ErrOrderBookUpdateIsOutOfSequence)
	_, synced := r.entered(domain.SyncState_Synced)
	assert.False(t, synced, "book must not be published before bridging")
	assert.Equal(t, 0, r.count(domain.UpdateOutcome_Applied))

	second := stream.next(t)
	assert.NotSame(t, sub, second)
	book, state := m.CurrentBook()
	assert.Nil(t, book)
	assert.NotEqual(t, domain.SyncState_Fatal, state)
}

func TestOrderbookMaintainer_GapTriggersResync(t *testing.T) {
	r := newRecorder()
	cfg := testConfig(r)
	cfg.FirstUpdateWait = 0
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()
	syncAPI.reply(snapshotAt(t, 100, [][]string{{"99", "1"}}, nil), nil)

	m := startMaintainer(t, stream, syncAPI, cfg)
	sub := stream.next(t)
	waitSynced(t, m)

	sub.Send(diff(t, 105, 110, [][]string{{"99", "5"}}, nil))

	assert.Eventually(t, func() bool {
		_, ok := r.entered(domain.SyncState_Resyncing)
		return ok
	}, time.Second, time.Millisecond)

	change, _ := r.entered(domain.SyncState_Resyncing)
	assert.ErrorIs(t, change.Reason, domain.ErrOrderBookUpdateIsOutOfSequence)
	assert.Equal(t, 0, r.count(domain.UpdateOutcome_Applied), "gap update must not be applied")
	assert.Equal(t, 1, r.count(domain.UpdateOutcome_Gap))

	// the gap forces a fresh subscription
	second := stream.next(t)
	assert.NotSame(t, sub, second)
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		assert.Fail(t, "previous subscription should be released")
	}

	book, state := m.CurrentBook()
	assert.Nil(t, book)
	assert.NotEqual(t, domain.SyncState_Synced, state)
	assert.NotEqual(t, domain.SyncState_Fatal, state)
}

func TestOrderbookMaintainer_StaleReplayIsIgnored(t *testing.T) {
	r := newRecorder()
	cfg := testConfig(r)
	cfg.FirstUpdateWait = 0
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()
	syncAPI.reply(snapshotAt(t, 100, [][]string{{"99", "1"}}, [][]string{{"101", "1"}}), nil)

	m := startMaintainer(t, stream, syncAPI, cfg)
	sub := stream.next(t)
	waitSynced(t, m)

	applied := diff(t, 101, 102, [][]string{{"99", "3"}}, [][]string{{"101", "0"}})
	sub.Send(applied)
	assert.Eventually(t, func() bool { return r.count(domain.UpdateOutcome_Applied) == 1 }, time.Second, time.Millisecond)
	before, _ := m.CurrentBook()

	sub.Send(applied)
	assert.Eventually(t, func() bool { return r.count(domain.UpdateOutcome_Stale) == 1 }, time.Second, time.Millisecond)

	after, state := m.CurrentBook()
	require.NotNil(t, after)
	assert.Equal(t, domain.SyncState_Synced, state)
	assert.Equal(t, int64(102), after.LastUpdateID)
	assert.Equal(t, before.TakeSnapshot(0), after.TakeSnapshot(0))
}

func TestOrderbookMaintainer_MalformedSnapshotIsFatal(t *testing.T) {
	r := newRecorder()
	cfg := testConfig(r)
	cfg.FirstUpdateWait = 0
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()
	syncAPI.reply(nil, fmt.Errorf("%w: unexpected body", domain.ErrMalformedData))

	m := startMaintainer(t, stream, syncAPI, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := m.WaitSynced(ctx)
	assert.ErrorIs(t, err, domain.ErrMalformedData)

	select {
	case <-m.Done():
	case <-time.After(time.Second):
		require.Fail(t, "maintainer should exit on fatal error")
	}
	book, state := m.CurrentBook()
	assert.Nil(t, book)
	assert.Equal(t, domain.SyncState_Fatal, state)
	assert.ErrorIs(t, m.Err(), domain.ErrMalformedData)
	assert.Equal(t, 1, stream.Calls())
}

func TestOrderbookMaintainer_RetryBudget(t *testing.T) {
	r := newRecorder()
	cfg := testConfig(r)
	cfg.MaxRetries = 2
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()
	stream.err = fmt.Errorf("%w: dial tcp: connection refused", domain.ErrTransient)

	m := startMaintainer(t, stream, syncAPI, cfg)

	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		require.Fail(t, "maintainer should give up")
	}
	assert.Equal(t, domain.SyncState_Fatal, m.State())
	assert.ErrorIs(t, m.Err(), domain.ErrTransient)
	assert.Equal(t, 3, stream.Calls(), "first attempt plus two retries")

	change, ok := r.entered(domain.SyncState_Fatal)
	require.True(t, ok)
	assert.ErrorIs(t, change.Reason, domain.ErrTransient)
}

func TestOrderbookMaintainer_BufferOverflowForcesResync(t *testing.T) {
	r := newRecorder()
	cfg := testConfig(r)
	cfg.MaxBufferSize = 2
	cfg.MaxRetries = 0
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()

	m := startMaintainer(t, stream, syncAPI, cfg)
	sub := stream.next(t)
	for i := int64(1); i <= 3; i++ {
		sub.Send(diff(t, i, i, nil, nil))
	}

	assert.Eventually(t, func() bool {
		_, ok := r.entered(domain.SyncState_Resyncing)
		return ok
	}, time.Second, time.Millisecond)

	change, _ := r.entered(domain.SyncState_Resyncing)
	assert.ErrorIs(t, change.Reason, domain.ErrBufferOverflow)

	// overflow does not use up the retry budget
	stream.next(t)
	assert.NotEqual(t, domain.SyncState_Fatal, m.State())
}

func TestOrderbookMaintainer_FeedDropResubscribes(t *testing.T) {
	r := newRecorder()
	cfg := testConfig(r)
	cfg.FirstUpdateWait = 0
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()
	syncAPI.reply(snapshotAt(t, 100, [][]string{{"99", "1"}}, nil), nil)

	m := startMaintainer(t, stream, syncAPI, cfg)
	sub := stream.next(t)
	waitSynced(t, m)

	sub.Close(domain.ErrFeedClosed)
	syncAPI.reply(snapshotAt(t, 200, [][]string{{"98", "2"}}, nil), nil)

	stream.next(t)
	assert.Eventually(t, func() bool {
		book, _ := m.CurrentBook()
		return book != nil && book.LastUpdateID == 200
	}, 2*time.Second, time.Millisecond)

	change, ok := r.entered(domain.SyncState_Resyncing)
	require.True(t, ok)
	assert.ErrorIs(t, change.Reason, domain.ErrFeedClosed)
}

func TestOrderbookMaintainer_NoTornReads(t *testing.T) {
	r := newRecorder()
	cfg := testConfig(r)
	cfg.FirstUpdateWait = 0
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()
	syncAPI.reply(snapshotAt(t, 0, nil, nil), nil)

	m := startMaintainer(t, stream, syncAPI, cfg)
	sub := stream.next(t)
	waitSynced(t, m)

	const updates = 2000
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}

				book, _ := m.CurrentBook()
				if book == nil {
					continue
				}
				bid, bidOk := book.Bids.Get(mustDecimal("100"))
				ask, askOk := book.Asks.Get(mustDecimal("101"))
				if bidOk != askOk {
					t.Errorf("half applied update at %d", book.LastUpdateID)
					return
				}
				if bidOk && (bid.Quantity.IsZero() || !bid.Quantity.Equal(ask.Quantity)) {
					t.Errorf("torn levels at %d: %s / %s", book.LastUpdateID, bid.Quantity, ask.Quantity)
					return
				}
			}
		}()
	}

	for i := int64(1); i <= updates; i++ {
		qty := fmt.Sprint(i)
		if i%2 == 0 {
			qty = "0"
		}
		sub.Send(diff(t, i, i, [][]string{{"100", qty}}, [][]string{{"101", qty}}))
	}

	assert.Eventually(t, func() bool {
		book, _ := m.CurrentBook()
		return book != nil && book.LastUpdateID == updates
	}, 5*time.Second, time.Millisecond)

	close(stop)
	wg.Wait()
}

func TestOrderbookMaintainer_StopReleasesSubscription(t *testing.T) {
	r := newRecorder()
	stream, syncAPI := newFakeStreamAPI(), newFakeSyncAPI()
	m := startMaintainer(t, stream, syncAPI, testConfig(r))

	sub := stream.next(t)
	sub.Send(diff(t, 1, 1, nil, nil))

	m.Stop()
	m.Stop()

	select {
	case <-sub.Done():
	default:
		assert.Fail(t, "subscription should be released on stop")
	}
	select {
	case <-m.Done():
	default:
		assert.Fail(t, "maintainer should be done")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorIs(t, m.WaitSynced(ctx), domain.ErrMaintainerStopped)
}
