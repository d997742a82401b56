package rpc

import (
	"fmt"

	"github.com/spooky-finn/go-orderbook-sync/domain"
)

type ValidationServiceConfig struct {
	AvailableProviders []string
	// Empty means every market is allowed.
	AllowedSymbols []*domain.MarketSymbol
}

type ValidationService struct {
	config *ValidationServiceConfig
}

func NewValidationService(config *ValidationServiceConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

// IsSupportedProvider accepts an empty provider as the default one.
func (s *ValidationService) IsSupportedProvider(provider string) bool {
	if provider == "" {
		return true
	}
	for _, p := range s.config.AvailableProviders {
		if p == provider {
			return true
		}
	}
	return false
}

func (s *ValidationService) IsAllowedSymbol(symbol *domain.MarketSymbol) bool {
	if len(s.config.AllowedSymbols) == 0 {
		return true
	}
	for _, allowed := range s.config.AllowedSymbols {
		if allowed.Equal(symbol) {
			return true
		}
	}
	return false
}

// ParseMarket parses a base_quote market and checks it against the allow list.
func (s *ValidationService) ParseMarket(market string) (*domain.MarketSymbol, error) {
	symbol, err := domain.NewMarketSymbolFromString(market)
	if err != nil {
		return nil, fmt.Errorf("invalid market symbol %q, correct market symbol should use _ as a separator", market)
	}
	if !s.IsAllowedSymbol(symbol) {
		return nil, fmt.Errorf("market %s is not served", symbol.String())
	}
	return symbol, nil
}
