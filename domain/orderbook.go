package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderBookSource string

const (
	OrderBookSource_Provider       OrderBookSource = "Provider"
	OrderBookSource_LocalOrderBook OrderBookSource = "LocalOrderBook"
)

type OrderBookSnapshot struct {
	Source       OrderBookSource `json:"source"`
	LastUpdateId int64           `json:"lastUpdateId"`
	Bids         []PriceLevel    `json:"bids"`
	Asks         []PriceLevel    `json:"asks"`
}

// OrderBookUpdate is a single diff event of the depth stream.
// PrevFinalUpdateID is only set by feeds which supply it.
type OrderBookUpdate struct {
	Symbol            *MarketSymbol
	FirstUpdateID     int64
	FinalUpdateID     int64
	PrevFinalUpdateID *int64
	Bids              []PriceLevel
	Asks              []PriceLevel
	EventTime         time.Time
}

func NewOrderBookUpdate(bids, asks []PriceLevel, firstUpdateID, finalUpdateID int64, symbol *MarketSymbol) *OrderBookUpdate {
	return &OrderBookUpdate{
		Symbol:        symbol,
		FirstUpdateID: firstUpdateID,
		FinalUpdateID: finalUpdateID,
		Bids:          bids,
		Asks:          asks,
	}
}

// WithPrevFinalUpdateID sets the previous final update id and returns the update.
func (u *OrderBookUpdate) WithPrevFinalUpdateID(id int64) *OrderBookUpdate {
	u.PrevFinalUpdateID = &id
	return u
}

// OrderBook is not safe for concurrent use. The maintainer guards it and
// hands out clones to readers.
type OrderBook struct {
	Symbol         *MarketSymbol
	Bids           BookSide
	Asks           BookSide
	LastUpdateID   int64
	LastUpdateTime time.Time
}

func NewOrderBook(symbol *MarketSymbol, snapshot *OrderBookSnapshot) *OrderBook {
	return &OrderBook{
		Symbol:         symbol,
		Bids:           NewBookSide(snapshot.Bids),
		Asks:           NewBookSide(snapshot.Asks),
		LastUpdateID:   snapshot.LastUpdateId,
		LastUpdateTime: time.Now(),
	}
}

// ApplyUpdate applies every change of the update and moves LastUpdateID to
// the update's final id. Sequencing is checked by the caller.
func (ob *OrderBook) ApplyUpdate(update *OrderBookUpdate) {
	for _, level := range update.Bids {
		ob.Bids.Set(level)
	}
	for _, level := range update.Asks {
		ob.Asks.Set(level)
	}

	ob.LastUpdateID = update.FinalUpdateID
	ob.LastUpdateTime = time.Now()
}

func (ob *OrderBook) Clone() *OrderBook {
	return &OrderBook{
		Symbol:         ob.Symbol,
		Bids:           ob.Bids.Clone(),
		Asks:           ob.Asks.Clone(),
		LastUpdateID:   ob.LastUpdateID,
		LastUpdateTime: ob.LastUpdateTime,
	}
}

// TakeSnapshot returns both sides sorted best first and cut to limit.
// A non positive limit returns the full depth.
func (ob *OrderBook) TakeSnapshot(limit int) *OrderBookSnapshot {
	return &OrderBookSnapshot{
		Source:       OrderBookSource_LocalOrderBook,
		LastUpdateId: ob.LastUpdateID,
		Bids:         limitDepth(ob.Bids.Levels(true), limit),
		Asks:         limitDepth(ob.Asks.Levels(false), limit),
	}
}

func (ob *OrderBook) BestBid() (PriceLevel, bool) {
	return bestLevel(ob.Bids, true)
}

func (ob *OrderBook) BestAsk() (PriceLevel, bool) {
	return bestLevel(ob.Asks, false)
}

// MidPrice is the average of the best bid and the best ask.
func (ob *OrderBook) MidPrice() (decimal.Decimal, error) {
	bid, ok := ob.BestBid()
	if !ok {
		return decimal.Zero, ErrEmptyOrderBook
	}
	ask, ok := ob.BestAsk()
	if !ok {
		return decimal.Zero, ErrEmptyOrderBook
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2)), nil
}

func bestLevel(side BookSide, highest bool) (PriceLevel, bool) {
	var best PriceLevel
	found := false
	for _, level := range side {
		if !found ||
			(highest && level.Price.GreaterThan(best.Price)) ||
			(!highest && level.Price.LessThan(best.Price)) {
			best = level
			found = true
		}
	}
	return best, found
}

func limitDepth(depth []PriceLevel, limit int) []PriceLevel {
	if limit > 0 && len(depth) > limit {
		return depth[:limit]
	}

	return depth
}
