package domain

import (
	"sort"

	"github.com/shopspring/decimal"
)

// BucketChange is the total of a bucket and how much it moved since the
// previous aggregation. A vanished bucket has a zero quantity.
type BucketChange struct {
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Difference decimal.Decimal `json:"difference"`
}

type AggregatedOrderBookDiff struct {
	Symbol           string          `json:"symbol"`
	FromLastUpdateID int64           `json:"fromLastUpdateId"`
	LastUpdateID     int64           `json:"lastUpdateId"`
	Width            decimal.Decimal `json:"width"`
	Bids             []BucketChange  `json:"bids"`
	Asks             []BucketChange  `json:"asks"`
}

// Diff compares the buckets with a previous aggregation of the same width.
// Without a previous aggregation every difference is zero. Buckets that only
// exist in prev are reported with a zero quantity and a negative difference.
func (a *AggregatedOrderBook) Diff(prev *AggregatedOrderBook) (*AggregatedOrderBookDiff, error) {
	diff := &AggregatedOrderBookDiff{
		Symbol:       a.Symbol,
		LastUpdateID: a.LastUpdateID,
		Width:        a.Width,
	}
	if prev == nil {
		diff.FromLastUpdateID = a.LastUpdateID
		diff.Bids = diffSide(a.Bids, a.Bids, false)
		diff.Asks = diffSide(a.Asks, a.Asks, true)
		return diff, nil
	}
	if !prev.Width.Equal(a.Width) {
		return nil, ErrBucketWidthMismatch
	}

	diff.FromLastUpdateID = prev.LastUpdateID
	diff.Bids = diffSide(a.Bids, prev.Bids, false)
	diff.Asks = diffSide(a.Asks, prev.Asks, true)
	return diff, nil
}

// Top keeps the n best prices per side. Non positive n keeps everything.
func (d *AggregatedOrderBookDiff) Top(n int) *AggregatedOrderBookDiff {
	if n <= 0 {
		return d
	}

	top := *d
	if len(top.Bids) > n {
		top.Bids = top.Bids[:n]
	}
	if len(top.Asks) > n {
		top.Asks = top.Asks[:n]
	}
	return &top
}

func diffSide(current, prev []Bucket, ascending bool) []BucketChange {
	previous := make(map[string]decimal.Decimal, len(prev))
	for _, bucket := range prev {
		previous[priceKey(bucket.Price)] = bucket.Quantity
	}

	changes := make([]BucketChange, 0, len(current))
	for _, bucket := range current {
		key := priceKey(bucket.Price)
		was, ok := previous[key]
		if !ok {
			was = decimal.Zero
		}
		delete(previous, key)
		changes = append(changes, BucketChange{
			Price:      bucket.Price,
			Quantity:   bucket.Quantity,
			Difference: bucket.Quantity.Sub(was),
		})
	}
	for _, bucket := range prev {
		if _, ok := previous[priceKey(bucket.Price)]; !ok {
			continue
		}
		changes = append(changes, BucketChange{
			Price:      bucket.Price,
			Quantity:   decimal.Zero,
			Difference: bucket.Quantity.Neg(),
		})
	}

	sort.Slice(changes, func(i, j int) bool {
		if ascending {
			return changes[i].Price.LessThan(changes[j].Price)
		}
		return changes[i].Price.GreaterThan(changes[j].Price)
	})
	return changes
}
