package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"go.uber.org/zap"
)

var ErrUseCaseClosed = errors.New("orderbook use case is closed")

// TrackingObserver is told when the set of maintained order books changes.
type TrackingObserver interface {
	Tracked(symbol string, count int)
	Untracked(symbol string, count int)
}

type Config struct {
	Maintainer domain.MaintainerConfig
	Observer   TrackingObserver
}

type OrderBookSnapshotUseCase struct {
	streamAPI domain.ProviderStreamAPI
	syncAPI   domain.ProviderSyncAPI
	validator domain.IDepthUpdateValidator
	config    Config
	storage   *domain.OrderBookStorage
	logger    *zap.Logger

	// Serializes Track, Untrack and Reconcile.
	mu sync.Mutex
	// Maintainers started by snapshot requests. They are evicted once they
	// stop, unless Track or Reconcile claims the symbol first.
	onDemand map[string]*domain.OrderbookMaintainer
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
}

func NewOrderBookSnapshotUseCase(
	streamAPI domain.ProviderStreamAPI,
	syncAPI domain.ProviderSyncAPI,
	config Config,
) *OrderBookSnapshotUseCase {
	ctx, cancel := context.WithCancel(context.Background())

	logger := config.Maintainer.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &OrderBookSnapshotUseCase{
		streamAPI: streamAPI,
		syncAPI:   syncAPI,
		validator: domain.NewDepthUpdateValidator(),
		config:    config,
		storage:   domain.NewOrderBookStorage(),
		logger:    logger.With(zap.String("component", "orderbook-usecase")),

		onDemand: make(map[string]*domain.OrderbookMaintainer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Storage exposes the maintained order books to background jobs.
func (o *OrderBookSnapshotUseCase) Storage() *domain.OrderBookStorage {
	return o.storage
}

// Track starts maintaining the order book of symbol. Tracking an already
// maintained symbol is a no-op, unless its maintainer has stopped, in which
// case it is replaced by a fresh one.
func (o *OrderBookSnapshotUseCase) Track(symbol *domain.MarketSymbol) (*domain.OrderbookMaintainer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrUseCaseClosed
	}
	delete(o.onDemand, symbol.String())
	return o.trackLocked(symbol), nil
}

func (o *OrderBookSnapshotUseCase) trackLocked(symbol *domain.MarketSymbol) *domain.OrderbookMaintainer {
	if existing, err := o.storage.Get(symbol); err == nil {
		select {
		case <-existing.Done():
			o.logger.Info("restarting stopped order book", zap.String("symbol", symbol.String()), zap.Error(existing.Err()))
			o.storage.Remove(symbol)
		default:
			return existing
		}
	}

	maintainer := domain.NewOrderBookMaintainer(symbol, o.streamAPI, o.syncAPI, o.validator, o.config.Maintainer)
	o.storage.Add(symbol, maintainer)
	maintainer.Start(o.ctx)

	o.logger.Info("order book tracked", zap.String("symbol", symbol.String()))
	if o.config.Observer != nil {
		o.config.Observer.Tracked(symbol.String(), o.storage.OrderBookCount())
	}
	return maintainer
}

// Untrack stops the maintainer of symbol, which releases its subscription
// and its buffered updates.
func (o *OrderBookSnapshotUseCase) Untrack(symbol *domain.MarketSymbol) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.untrackLocked(symbol)
}

func (o *OrderBookSnapshotUseCase) untrackLocked(symbol *domain.MarketSymbol) error {
	maintainer, err := o.storage.Remove(symbol)
	if err != nil {
		return err
	}
	maintainer.Stop()
	delete(o.onDemand, symbol.String())

	o.logger.Info("order book untracked", zap.String("symbol", symbol.String()))
	if o.config.Observer != nil {
		o.config.Observer.Untracked(symbol.String(), o.storage.OrderBookCount())
	}
	return nil
}

func (o *OrderBookSnapshotUseCase) Tracked() []*domain.MarketSymbol {
	return o.storage.Symbols()
}

// Reconcile tracks every symbol of the list and untracks all the others.
func (o *OrderBookSnapshotUseCase) Reconcile(symbols []*domain.MarketSymbol) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrUseCaseClosed
	}

	wanted := make(map[string]struct{}, len(symbols))
	for _, symbol := range symbols {
		wanted[symbol.String()] = struct{}{}
		delete(o.onDemand, symbol.String())
		o.trackLocked(symbol)
	}

	for _, symbol := range o.storage.Symbols() {
		if _, ok := wanted[symbol.String()]; ok {
			continue
		}
		if err := o.untrackLocked(symbol); err != nil && !errors.Is(err, domain.ErrOrderBookNotFound) {
			return err
		}
	}
	return nil
}

// Close stops every maintainer. The use case can not be used afterwards.
func (o *OrderBookSnapshotUseCase) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true

	for _, symbol := range o.storage.Symbols() {
		_ = o.untrackLocked(symbol)
	}
	o.cancel()
}

// GetOrderBookSnapshot returns the snapshot of the local order book when it
// is synced. Otherwise the snapshot is fetched from the provider api and, if
// the provider knows the symbol, the order book starts being tracked in the
// background.
func (o *OrderBookSnapshotUseCase) GetOrderBookSnapshot(
	ctx context.Context, symbol *domain.MarketSymbol, limit int,
) (*domain.OrderBookSnapshot, error) {
	if book, err := o.syncedBook(symbol); err == nil {
		return book.TakeSnapshot(limit), nil
	}

	snapshot, err := o.syncAPI.OrderBookSnapshot(ctx, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("provider snapshot: %w", err)
	}
	snapshot.Source = domain.OrderBookSource_Provider

	if err := o.trackOnDemand(symbol); err != nil {
		return nil, err
	}
	o.logger.Debug("local order book is not synced, provider snapshot returned", zap.String("symbol", symbol.String()))
	return snapshot, nil
}

func (o *OrderBookSnapshotUseCase) trackOnDemand(symbol *domain.MarketSymbol) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrUseCaseClosed
	}
	if existing, err := o.storage.Get(symbol); err == nil {
		select {
		case <-existing.Done():
		default:
			return nil
		}
		if _, ok := o.onDemand[symbol.String()]; !ok {
			o.trackLocked(symbol)
			return nil
		}
	}

	maintainer := o.trackLocked(symbol)
	o.onDemand[symbol.String()] = maintainer
	go o.evictWhenStopped(symbol, maintainer)
	return nil
}

func (o *OrderBookSnapshotUseCase) evictWhenStopped(symbol *domain.MarketSymbol, maintainer *domain.OrderbookMaintainer) {
	select {
	case <-maintainer.Done():
	case <-o.ctx.Done():
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.onDemand[symbol.String()] != maintainer {
		return
	}
	o.logger.Info("evicting stopped on-demand order book", zap.String("symbol", symbol.String()), zap.Error(maintainer.Err()))
	_ = o.untrackLocked(symbol)
}

// GetAggregatedOrderBook buckets the synced local order book and keeps the
// limit best buckets per side.
func (o *OrderBookSnapshotUseCase) GetAggregatedOrderBook(
	symbol *domain.MarketSymbol, width decimal.Decimal, limit int,
) (*domain.AggregatedOrderBook, error) {
	book, err := o.syncedBook(symbol)
	if err != nil {
		return nil, err
	}

	aggregated, err := domain.Aggregate(book, width)
	if err != nil {
		return nil, err
	}
	return aggregated.Top(limit), nil
}

func (o *OrderBookSnapshotUseCase) GetImbalance(
	symbol *domain.MarketSymbol, threshold decimal.Decimal,
) (*domain.OrderBookImbalance, error) {
	book, err := o.syncedBook(symbol)
	if err != nil {
		return nil, err
	}
	return domain.Imbalance(book, threshold)
}

func (o *OrderBookSnapshotUseCase) Status(symbol *domain.MarketSymbol) (domain.MaintainerStatus, error) {
	maintainer, err := o.storage.Get(symbol)
	if err != nil {
		return domain.MaintainerStatus{}, err
	}
	return maintainer.Status(), nil
}

func (o *OrderBookSnapshotUseCase) Statuses() []domain.MaintainerStatus {
	symbols := o.storage.Symbols()

	statuses := make([]domain.MaintainerStatus, 0, len(symbols))
	for _, symbol := range symbols {
		status, err := o.Status(symbol)
		if err != nil {
			continue
		}
		statuses = append(statuses, status)
	}
	return statuses
}

func (o *OrderBookSnapshotUseCase) syncedBook(symbol *domain.MarketSymbol) (*domain.OrderBook, error) {
	maintainer, err := o.storage.Get(symbol)
	if err != nil {
		return nil, err
	}

	book, state := maintainer.CurrentBook()
	if state != domain.SyncState_Synced || book == nil {
		return nil, fmt.Errorf("%s is %s: %w", symbol.String(), state, domain.ErrOrderBookNotSynced)
	}
	return book, nil
}
