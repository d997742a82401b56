// Package domaintest provides in-memory providers for tests of code built on
// top of the order book maintainer.
package domaintest

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/domain"
)

type DepthSubscription = domain.Subscription[*domain.OrderBookUpdate]

// SyncAPI serves the same snapshot for every symbol, or Err when it is set.
type SyncAPI struct {
	mu       sync.Mutex
	Snapshot *domain.OrderBookSnapshot
	Err      error
	calls    int
}

func NewSyncAPI(snapshot *domain.OrderBookSnapshot) *SyncAPI {
	return &SyncAPI{Snapshot: snapshot}
}

func (s *SyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.Err != nil {
		return nil, s.Err
	}
	snapshot := *s.Snapshot
	snapshot.Bids = append([]domain.PriceLevel(nil), s.Snapshot.Bids...)
	snapshot.Asks = append([]domain.PriceLevel(nil), s.Snapshot.Asks...)
	if limit > 0 {
		if len(snapshot.Bids) > limit {
			snapshot.Bids = snapshot.Bids[:limit]
		}
		if len(snapshot.Asks) > limit {
			snapshot.Asks = snapshot.Asks[:limit]
		}
	}
	return &snapshot, nil
}

// SetErr changes Err while maintainers may be fetching snapshots.
func (s *SyncAPI) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Err = err
}

func (s *SyncAPI) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// StreamAPI hands out silent depth subscriptions and keeps the open ones per symbol.
type StreamAPI struct {
	mu   sync.Mutex
	Err  error
	subs map[string]*DepthSubscription
}

func NewStreamAPI() *StreamAPI {
	return &StreamAPI{subs: make(map[string]*DepthSubscription)}
}

func (s *StreamAPI) DepthDiffStream(ctx context.Context, symbol *domain.MarketSymbol) (*DepthSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}
	key := symbol.String()
	var sub *DepthSubscription
	sub = domain.NewSubscription[*domain.OrderBookUpdate](symbol.Join("")+"@depth", 1024, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.subs[key] == sub {
			delete(s.subs, key)
		}
	})
	s.subs[key] = sub
	return sub, nil
}

// Subscription returns the open subscription of the symbol, if any.
func (s *StreamAPI) Subscription(symbol *domain.MarketSymbol) (*DepthSubscription, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[symbol.String()]
	return sub, ok
}

// Snapshot builds a provider snapshot from ["price", "qty"] pairs.
func Snapshot(lastUpdateID int64, bids, asks [][]string) *domain.OrderBookSnapshot {
	return &domain.OrderBookSnapshot{
		Source:       domain.OrderBookSource_Provider,
		LastUpdateId: lastUpdateID,
		Bids:         Levels(bids),
		Asks:         Levels(asks),
	}
}

func Levels(pairs [][]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
		levels = append(levels, domain.NewPriceLevel(decimal.RequireFromString(pair[0]), decimal.RequireFromString(pair[1])))
	}
	return levels
}
