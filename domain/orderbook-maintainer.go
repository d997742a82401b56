package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
	"github.com/spooky-finn/go-orderbook-sync/helpers"
	"go.uber.org/zap"
)

var ErrMaintainerStopped = errors.New("orderbook maintainer is stopped")

type MaintainerConfig struct {
	// Depth requested from the snapshot source.
	DepthLimit int
	// Max number of updates buffered while the snapshot is in flight.
	MaxBufferSize int
	// Consecutive transient failures tolerated before the maintainer gives up.
	MaxRetries int
	MinBackoff time.Duration
	MaxBackoff time.Duration
	// How long to wait for the first update before requesting the snapshot anyway.
	FirstUpdateWait time.Duration

	Logger *zap.Logger
	Hooks  MaintainerHooks
}

func DefaultMaintainerConfig() MaintainerConfig {
	return MaintainerConfig{
		DepthLimit:      1000,
		MaxBufferSize:   10000,
		MaxRetries:      5,
		MinBackoff:      500 * time.Millisecond,
		MaxBackoff:      30 * time.Second,
		FirstUpdateWait: time.Second,
		Logger:          zap.NewNop(),
	}
}

func (c MaintainerConfig) withDefaults() MaintainerConfig {
	def := DefaultMaintainerConfig()
	if c.DepthLimit <= 0 {
		c.DepthLimit = def.DepthLimit
	}
	if c.MaxBufferSize <= 0 {
		c.MaxBufferSize = def.MaxBufferSize
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = def.MaxRetries
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = def.MinBackoff
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = c.MinBackoff
	}
	if c.FirstUpdateWait < 0 {
		c.FirstUpdateWait = def.FirstUpdateWait
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	return c
}

type MaintainerStatus struct {
	Symbol         string    `json:"symbol"`
	State          SyncState `json:"state"`
	LastUpdateID   int64     `json:"lastUpdateId"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
	Err            string    `json:"error,omitempty"`
}

type snapshotResult struct {
	snapshot *OrderBookSnapshot
	err      error
}

// OrderbookMaintainer keeps the local order book of one market in sync with
// the provider: it buffers the diff stream, seeds the book from a snapshot,
// bridges the buffered updates onto it and then applies the live stream,
// resyncing on every sequence gap.
type OrderbookMaintainer struct {
	symbol               *MarketSymbol
	syncAPI              ProviderSyncAPI
	streamAPI            ProviderStreamAPI
	depthUpdateValidator IDepthUpdateValidator
	config               MaintainerConfig
	logger               *zap.Logger

	// Owned by the run goroutine.
	depthUpdateQueue deque.Deque[*OrderBookUpdate]

	mu        sync.RWMutex
	orderBook *OrderBook
	state     SyncState
	err       error
	changed   chan struct{}

	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

func NewOrderBookMaintainer(
	symbol *MarketSymbol,
	stream ProviderStreamAPI,
	syncAPI ProviderSyncAPI,
	depthUpdateValidator IDepthUpdateValidator,
	config MaintainerConfig,
) *OrderbookMaintainer {
	config = config.withDefaults()

	return &OrderbookMaintainer{
		symbol:               symbol,
		syncAPI:              syncAPI,
		streamAPI:            stream,
		depthUpdateValidator: depthUpdateValidator,
		config:               config,
		logger:               config.Logger.With(zap.String("symbol", symbol.String())),

		state:   SyncState_Uninitialized,
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (m *OrderbookMaintainer) Symbol() *MarketSymbol {
	return m.symbol
}

// Start launches the maintainer goroutine. It is a no-op after the first call.
func (m *OrderbookMaintainer) Start(ctx context.Context) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.started || m.stopped {
		return
	}
	m.started = true

	ctx, m.cancel = context.WithCancel(ctx)
	go m.run(ctx)
}

// Stop unsubscribes from the stream, drops buffered updates and waits for
// the maintainer goroutine to exit.
func (m *OrderbookMaintainer) Stop() {
	m.lifecycleMu.Lock()
	if !m.stopped {
		m.stopped = true
		if m.started {
			m.cancel()
		} else {
			close(m.done)
		}
	}
	m.lifecycleMu.Unlock()

	<-m.done
}

func (m *OrderbookMaintainer) Done() <-chan struct{} {
	return m.done
}

// CurrentBook returns a copy of the book and the sync state. The book is nil
// unless the state is Synced.
func (m *OrderbookMaintainer) CurrentBook() (*OrderBook, SyncState) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != SyncState_Synced || m.orderBook == nil {
		return nil, m.state
	}
	return m.orderBook.Clone(), m.state
}

func (m *OrderbookMaintainer) State() SyncState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Err returns the reason of the Fatal state.
func (m *OrderbookMaintainer) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

func (m *OrderbookMaintainer) Status() MaintainerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := MaintainerStatus{
		Symbol: m.symbol.String(),
		State:  m.state,
	}
	if m.orderBook != nil {
		status.LastUpdateID = m.orderBook.LastUpdateID
		status.LastUpdateTime = m.orderBook.LastUpdateTime
	}
	if m.err != nil {
		status.Err = m.err.Error()
	}
	return status
}

// WaitSynced blocks until the book is Synced, the maintainer fails or ctx is done.
func (m *OrderbookMaintainer) WaitSynced(ctx context.Context) error {
	for {
		m.mu.RLock()
		state, err, changed := m.state, m.err, m.changed
		m.mu.RUnlock()

		switch state {
		case SyncState_Synced:
			return nil
		case SyncState_Fatal:
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			if m.State() == SyncState_Synced {
				return nil
			}
			return ErrMaintainerStopped
		case <-changed:
		}
	}
}

func (m *OrderbookMaintainer) run(ctx context.Context) {
	defer close(m.done)

	retry := helpers.NewBackoff(m.config.MinBackoff, m.config.MaxBackoff)
	failures := 0

	for {
		synced, err := m.syncOnce(ctx)
		if ctx.Err() != nil {
			m.logger.Info("orderbook maintainer stopped")
			return
		}
		if err == nil {
			err = ErrFeedClosed
		}
		if synced {
			failures = 0
			retry.Reset()
		}

		if !IsRetryable(err) {
			m.fail(err)
			return
		}

		if countsAgainstRetryBudget(err) {
			failures++
			if failures > m.config.MaxRetries {
				m.fail(fmt.Errorf("gave up after %d consecutive failures: %w", failures, err))
				return
			}
		}

		delay := retry.Duration()
		m.logger.Warn("resyncing order book",
			zap.String("reason", ResyncReason(err)),
			zap.Error(err),
			zap.Int("failures", failures),
			zap.Duration("backoff", delay),
		)
		m.publish(nil, SyncState_Resyncing, err)

		if !helpers.Sleep(ctx, delay) {
			m.logger.Info("orderbook maintainer stopped")
			return
		}
	}
}

// Gaps and buffer overflows are part of normal operation and only cost a
// resync, they never exhaust the retry budget.
func countsAgainstRetryBudget(err error) bool {
	return !errors.Is(err, ErrOrderBookUpdateIsOutOfSequence) && !errors.Is(err, ErrBufferOverflow)
}

// syncOnce runs one subscribe, snapshot, apply session. It reports whether
// the book reached Synced and the error that ended the session.
func (m *OrderbookMaintainer) syncOnce(ctx context.Context) (bool, error) {
	m.publish(nil, SyncState_Buffering, nil)

	subscription, err := m.streamAPI.DepthDiffStream(ctx, m.symbol)
	if err != nil {
		return false, fmt.Errorf("subscribe to depth update stream: %w", err)
	}
	defer subscription.Unsubscribe()
	defer m.depthUpdateQueue.Clear()

	m.logger.Debug("subscribed to depth update stream", zap.String("topic", subscription.Topic))

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	snapshotCh := make(chan snapshotResult, 1)
	requested := false
	requestSnapshot := func() {
		if requested {
			return
		}
		requested = true
		go func() {
			snapshot, err := m.syncAPI.OrderBookSnapshot(fetchCtx, m.symbol, m.config.DepthLimit)
			snapshotCh <- snapshotResult{snapshot: snapshot, err: err}
		}()
	}

	firstUpdateTimer := time.NewTimer(m.config.FirstUpdateWait)
	defer firstUpdateTimer.Stop()

	var book *OrderBook
	bridged := false

	for {
		select {
		case <-ctx.Done():
			return book != nil, ctx.Err()

		case <-firstUpdateTimer.C:
			requestSnapshot()

		case res := <-snapshotCh:
			if res.err != nil {
				return false, fmt.Errorf("fetch order book snapshot: %w", res.err)
			}
			if res.snapshot == nil {
				return false, fmt.Errorf("%w: empty snapshot", ErrMalformedData)
			}

			book = NewOrderBook(m.symbol, res.snapshot)
			m.logger.Debug("snapshot received",
				zap.Int64("lastUpdateId", book.LastUpdateID),
				zap.Int("buffered", m.depthUpdateQueue.Len()),
			)
			if err := m.drainQueue(book, &bridged); err != nil {
				return false, err
			}
			m.publish(book, SyncState_Synced, nil)

		case update, ok := <-subscription.Stream():
			if !ok {
				return book != nil, streamClosedErr(subscription.Err())
			}

			if book == nil {
				if m.depthUpdateQueue.Len() >= m.config.MaxBufferSize {
					return false, fmt.Errorf("%d updates buffered before snapshot: %w", m.depthUpdateQueue.Len(), ErrBufferOverflow)
				}
				m.depthUpdateQueue.PushBack(update)
				m.config.Hooks.updated(m.symbol.String(), UpdateOutcome_Buffered)
				requestSnapshot()
				continue
			}

			if err := m.processUpdate(book, update, &bridged); err != nil {
				return true, err
			}
		}
	}
}

// drainQueue replays the buffered updates on top of a freshly seeded book.
func (m *OrderbookMaintainer) drainQueue(book *OrderBook, bridged *bool) error {
	for m.depthUpdateQueue.Len() > 0 {
		update := m.depthUpdateQueue.PopFront()
		if err := m.processUpdate(book, update, bridged); err != nil {
			return err
		}
	}
	return nil
}

func (m *OrderbookMaintainer) processUpdate(book *OrderBook, update *OrderBookUpdate, bridged *bool) error {
	var err error
	if *bridged {
		err = m.depthUpdateValidator.IsValidUpd(update, book.LastUpdateID)
	} else {
		err = m.depthUpdateValidator.IsBridgingUpd(update, book.LastUpdateID)
	}

	switch {
	case err == nil:
		m.mu.Lock()
		book.ApplyUpdate(update)
		m.mu.Unlock()

		*bridged = true
		m.config.Hooks.updated(m.symbol.String(), UpdateOutcome_Applied)
		return nil

	case m.depthUpdateValidator.IsErrOutdated(err):
		m.config.Hooks.updated(m.symbol.String(), UpdateOutcome_Stale)
		return nil

	default:
		m.config.Hooks.updated(m.symbol.String(), UpdateOutcome_Gap)
		return fmt.Errorf("update [%d..%d] after %d: %w",
			update.FirstUpdateID, update.FinalUpdateID, book.LastUpdateID, err)
	}
}

func (m *OrderbookMaintainer) fail(err error) {
	m.logger.Error("orderbook maintainer failed", zap.Error(err))
	m.publish(nil, SyncState_Fatal, err)
}

// publish swaps the visible book and state under the lock and notifies waiters.
func (m *OrderbookMaintainer) publish(book *OrderBook, state SyncState, reason error) {
	m.mu.Lock()
	from := m.state
	m.orderBook = book
	m.state = state
	if state == SyncState_Fatal {
		m.err = reason
	}
	close(m.changed)
	m.changed = make(chan struct{})
	m.mu.Unlock()

	if from == state {
		return
	}

	m.logger.Info("sync state changed",
		zap.Stringer("from", from),
		zap.Stringer("to", state),
	)
	m.config.Hooks.stateChanged(StateChange{
		Symbol: m.symbol.String(),
		From:   from,
		To:     state,
		Reason: reason,
		At:     time.Now(),
	})
}

func streamClosedErr(err error) error {
	switch {
	case err == nil:
		return ErrFeedClosed
	case errors.Is(err, ErrFeedClosed), errors.Is(err, ErrSlowConsumer), errors.Is(err, ErrMalformedData):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrFeedClosed, err)
	}
}
