package domain

import "github.com/shopspring/decimal"

type OrderBookImbalance struct {
	Symbol       string          `json:"symbol"`
	LastUpdateID int64           `json:"lastUpdateId"`
	MidPrice     decimal.Decimal `json:"midPrice"`
	Threshold    decimal.Decimal `json:"threshold"`
	BidVolume    decimal.Decimal `json:"bidVolume"`
	AskVolume    decimal.Decimal `json:"askVolume"`
	Imbalance    decimal.Decimal `json:"imbalance"`
}

// Imbalance compares the resting volume close to the mid price. Bids above
// mid*(1-threshold) and asks below mid*(1+threshold) are counted, the
// imbalance is bid volume minus ask volume.
func Imbalance(book *OrderBook, threshold decimal.Decimal) (*OrderBookImbalance, error) {
	mid, err := book.MidPrice()
	if err != nil {
		return nil, err
	}

	one := decimal.NewFromInt(1)
	lower := mid.Mul(one.Sub(threshold))
	upper := mid.Mul(one.Add(threshold))

	bidVolume := decimal.Zero
	for _, level := range book.Bids {
		if level.Price.GreaterThan(lower) {
			bidVolume = bidVolume.Add(level.Quantity)
		}
	}

	askVolume := decimal.Zero
	for _, level := range book.Asks {
		if level.Price.LessThan(upper) {
			askVolume = askVolume.Add(level.Quantity)
		}
	}

	result := &OrderBookImbalance{
		LastUpdateID: book.LastUpdateID,
		MidPrice:     mid,
		Threshold:    threshold,
		BidVolume:    bidVolume,
		AskVolume:    askVolume,
		Imbalance:    bidVolume.Sub(askVolume),
	}
	if book.Symbol != nil {
		result.Symbol = book.Symbol.String()
	}
	return result, nil
}
