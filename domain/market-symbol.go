package domain

import (
	"fmt"
	"strings"
)

type MarketSymbol struct {
	BaseAsset  string
	QuoteAsset string
}

func NewMarketSymbol(base string, quote string) (*MarketSymbol, error) {
	base = strings.ToLower(strings.TrimSpace(base))
	quote = strings.ToLower(strings.TrimSpace(quote))
	if base == "" || quote == "" {
		return nil, fmt.Errorf("base and quote must not be empty")
	}
	if base == quote {
		return nil, fmt.Errorf("base and quote must be different")
	}
	return &MarketSymbol{
		BaseAsset:  base,
		QuoteAsset: quote,
	}, nil
}

// NewMarketSymbolFromString parses the "base_quote" form.
func NewMarketSymbolFromString(s string) (*MarketSymbol, error) {
	split := strings.Split(s, "_")

	if len(split) != 2 {
		return nil, fmt.Errorf("invalid symbol string %q, expected base_quote", s)
	}

	return NewMarketSymbol(split[0], split[1])
}

// ParseMarketSymbols parses a list of "base_quote" strings, skipping duplicates.
func ParseMarketSymbols(list []string) ([]*MarketSymbol, error) {
	seen := make(map[string]struct{}, len(list))
	result := make([]*MarketSymbol, 0, len(list))
	for _, s := range list {
		symbol, err := NewMarketSymbolFromString(s)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[symbol.String()]; ok {
			continue
		}
		seen[symbol.String()] = struct{}{}
		result = append(result, symbol)
	}
	return result, nil
}

func (ms *MarketSymbol) Join(separator string) string {
	return fmt.Sprintf("%s%s%s", ms.BaseAsset, separator, ms.QuoteAsset)
}

// Exchange is the upper case concatenated form, e.g. BTCUSDT.
func (ms *MarketSymbol) Exchange() string {
	return strings.ToUpper(ms.Join(""))
}

func (ms *MarketSymbol) String() string {
	return fmt.Sprintf("%s_%s", ms.BaseAsset, ms.QuoteAsset)
}

func (ms *MarketSymbol) Equal(other *MarketSymbol) bool {
	return ms.BaseAsset == other.BaseAsset && ms.QuoteAsset == other.QuoteAsset
}
