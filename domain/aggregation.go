package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

type Bucket struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
}

type AggregatedOrderBook struct {
	Symbol       string          `json:"symbol"`
	LastUpdateID int64           `json:"lastUpdateId"`
	Width        decimal.Decimal `json:"width"`
	Bids         []Bucket        `json:"bids"`
	Asks         []Bucket        `json:"asks"`
}

// Aggregate groups the book levels into price buckets of the given width.
// A bid at price p goes to floor(p/w)*w, an ask to ceil(p/w)*w, so every
// bucket price stays on the conservative side of its levels. Bids are
// sorted descending, asks ascending, empty buckets are omitted.
func Aggregate(book *OrderBook, width decimal.Decimal) (*AggregatedOrderBook, error) {
	if !width.IsPositive() {
		return nil, ErrInvalidBucketWidth
	}

	result := &AggregatedOrderBook{
		LastUpdateID: book.LastUpdateID,
		Width:        width,
		Bids:         aggregateSide(book.Bids, width, false),
		Asks:         aggregateSide(book.Asks, width, true),
	}
	if book.Symbol != nil {
		result.Symbol = book.Symbol.String()
	}
	return result, nil
}

// Top keeps the n best buckets per side. Non positive n keeps everything.
func (a *AggregatedOrderBook) Top(n int) *AggregatedOrderBook {
	if n <= 0 {
		return a
	}

	top := *a
	if len(top.Bids) > n {
		top.Bids = top.Bids[:n]
	}
	if len(top.Asks) > n {
		top.Asks = top.Asks[:n]
	}
	return &top
}

func aggregateSide(side BookSide, width decimal.Decimal, roundUp bool) []Bucket {
	totals := make(map[string]*Bucket)
	for _, level := range side {
		price := bucketPrice(level.Price, width, roundUp)
		key := priceKey(price)

		bucket, ok := totals[key]
		if !ok {
			bucket = &Bucket{Price: price, Quantity: decimal.Zero}
			totals[key] = bucket
		}
		bucket.Quantity = bucket.Quantity.Add(level.Quantity)
	}

	buckets := make([]Bucket, 0, len(totals))
	for _, bucket := range totals {
		if bucket.Quantity.IsZero() {
			continue
		}
		buckets = append(buckets, *bucket)
	}

	sort.Slice(buckets, func(i, j int) bool {
		if roundUp {
			return buckets[i].Price.LessThan(buckets[j].Price)
		}
		return buckets[i].Price.GreaterThan(buckets[j].Price)
	})
	return buckets
}

func bucketPrice(price, width decimal.Decimal, roundUp bool) decimal.Decimal {
	// Prices are positive, so the truncated quotient is the floor.
	quotient, remainder := price.QuoRem(width, 0)
	if roundUp && !remainder.IsZero() {
		quotient = quotient.Add(decimal.NewFromInt(1))
	}
	return quotient.Mul(width)
}
