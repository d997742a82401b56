package domain

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// PriceLevel is a single (price, quantity) pair. Zero quantity on an update
// means the level has to be removed.
type PriceLevel struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

func NewPriceLevel(price, quantity decimal.Decimal) PriceLevel {
	return PriceLevel{Price: price, Quantity: quantity}
}

// ParsePriceLevel parses the exchange string pair into a level.
func ParsePriceLevel(price, quantity string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: price %q: %v", ErrMalformedData, price, err)
	}
	q, err := decimal.NewFromString(quantity)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("%w: quantity %q: %v", ErrMalformedData, quantity, err)
	}
	if !p.IsPositive() {
		return PriceLevel{}, fmt.Errorf("%w: non positive price %s", ErrMalformedData, price)
	}
	if q.IsNegative() {
		return PriceLevel{}, fmt.Errorf("%w: negative quantity %s", ErrMalformedData, quantity)
	}

	return PriceLevel{Price: p, Quantity: q}, nil
}

func ParsePriceLevels(depth [][]string) ([]PriceLevel, error) {
	result := make([]PriceLevel, 0, len(depth))
	for _, level := range depth {
		if len(level) < 2 {
			return nil, fmt.Errorf("%w: price level %v", ErrMalformedData, level)
		}
		l, err := ParsePriceLevel(level[0], level[1])
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}

	return result, nil
}

func SerializePriceLevels(levels []PriceLevel) [][]string {
	result := make([][]string, len(levels))
	for i, level := range levels {
		result[i] = []string{level.Price.String(), level.Quantity.String()}
	}

	return result
}

// UnmarshalJSON decodes the ["price", "qty"] array form used by the exchange.
func (l *PriceLevel) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: price level %s: %v", ErrMalformedData, data, err)
	}
	if len(raw) < 2 {
		return fmt.Errorf("%w: price level %s", ErrMalformedData, data)
	}

	level, err := ParsePriceLevel(raw[0], raw[1])
	if err != nil {
		return err
	}
	*l = level
	return nil
}

func (l PriceLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{l.Price.String(), l.Quantity.String()})
}

// BookSide holds one side of the book keyed by the canonical price string,
// so "10.300" and "10.3" address the same level.
type BookSide map[string]PriceLevel

func priceKey(price decimal.Decimal) string {
	return price.String()
}

func NewBookSide(levels []PriceLevel) BookSide {
	side := make(BookSide, len(levels))
	for _, level := range levels {
		side.Set(level)
	}
	return side
}

// Set inserts or overwrites the level, or removes it on zero quantity.
func (s BookSide) Set(level PriceLevel) {
	key := priceKey(level.Price)
	if level.Quantity.IsZero() {
		delete(s, key)
		return
	}
	s[key] = level
}

func (s BookSide) Get(price decimal.Decimal) (PriceLevel, bool) {
	level, ok := s[priceKey(price)]
	return level, ok
}

// Levels returns the side sorted by price, best first.
func (s BookSide) Levels(descending bool) []PriceLevel {
	levels := make([]PriceLevel, 0, len(s))
	for _, level := range s {
		levels = append(levels, level)
	}

	sort.Slice(levels, func(i, j int) bool {
		if descending {
			return levels[i].Price.GreaterThan(levels[j].Price)
		}
		return levels[i].Price.LessThan(levels[j].Price)
	})
	return levels
}

func (s BookSide) Clone() BookSide {
	clone := make(BookSide, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}
