package domain

import (
	"errors"
	"sort"
	"sync"
)

var ErrOrderBookNotFound = errors.New("order book not found")

// OrderBookStorage keeps one maintainer per market.
type OrderBookStorage struct {
	mu      sync.RWMutex
	storage map[string]*OrderbookMaintainer
}

func NewOrderBookStorage() *OrderBookStorage {
	return &OrderBookStorage{
		storage: make(map[string]*OrderbookMaintainer),
	}
}

// Add stores the maintainer unless the symbol is already present.
// It returns the maintainer kept in the storage and whether it was added.
func (o *OrderBookStorage) Add(symbol *MarketSymbol, maintainer *OrderbookMaintainer) (*OrderbookMaintainer, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.storage[symbol.String()]; ok {
		return existing, false
	}
	o.storage[symbol.String()] = maintainer
	return maintainer, true
}

func (o *OrderBookStorage) Get(symbol *MarketSymbol) (*OrderbookMaintainer, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	maintainer, ok := o.storage[symbol.String()]
	if !ok {
		return nil, ErrOrderBookNotFound
	}
	return maintainer, nil
}

func (o *OrderBookStorage) Remove(symbol *MarketSymbol) (*OrderbookMaintainer, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	maintainer, ok := o.storage[symbol.String()]
	if !ok {
		return nil, ErrOrderBookNotFound
	}
	delete(o.storage, symbol.String())
	return maintainer, nil
}

func (o *OrderBookStorage) OrderBookCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.storage)
}

// Symbols returns the stored markets in lexical order.
func (o *OrderBookStorage) Symbols() []*MarketSymbol {
	o.mu.RLock()
	defer o.mu.RUnlock()

	symbols := make([]*MarketSymbol, 0, len(o.storage))
	for _, maintainer := range o.storage {
		symbols = append(symbols, maintainer.Symbol())
	}
	sort.Slice(symbols, func(i, j int) bool {
		return symbols[i].String() < symbols[j].String()
	})
	return symbols
}
