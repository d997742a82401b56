package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/spooky-finn/go-orderbook-sync/provider/binance"
	"go.uber.org/zap"
)

const Binance = "binance"

type ConnectionManagerConfig struct {
	Market binance.Market
	// Override the market endpoints when set.
	RestURL           string
	StreamURL         string
	UpdateSpeed       string
	RequestTimeout    time.Duration
	StreamBufferSize  int
	StreamKeepAlive   time.Duration
}

// ConnectionManager owns the provider clients and hands out their sync and
// stream APIs by provider name.
type ConnectionManager struct {
	BinanceWS        *binance.BinanceStreamClient
	BinanceSyncAPI   *binance.BinanceSyncAPI
	BinanceStreamAPI *binance.BinanceStreamAPI
}

func NewConnectionManager(config ConnectionManagerConfig, logger *zap.Logger) (*ConnectionManager, error) {
	endpoints, err := config.Market.Endpoints()
	if err != nil {
		return nil, err
	}
	if config.RestURL != "" {
		endpoints.RestURL = config.RestURL
	}
	if config.StreamURL != "" {
		endpoints.StreamURL = config.StreamURL
	}

	binanceStreamClient := binance.NewBinanceStreamClient(binance.StreamClientConfig{
		Endpoint:   endpoints.StreamURL,
		BufferSize: config.StreamBufferSize,
		KeepAlive:  config.StreamKeepAlive,
	}, logger)
	binanceSyncAPI := binance.NewBinanceSyncAPI(endpoints, &http.Client{Timeout: config.RequestTimeout}, logger)

	logger.Info("binance provider configured",
		zap.String("market", string(config.Market)),
		zap.String("rest", endpoints.RestURL),
		zap.String("stream", endpoints.StreamURL),
	)

	return &ConnectionManager{
		BinanceWS:        binanceStreamClient,
		BinanceSyncAPI:   binanceSyncAPI,
		BinanceStreamAPI: binance.NewBinanceStreamAPI(binanceStreamClient, config.UpdateSpeed, logger),
	}, nil
}

func (cm *ConnectionManager) Providers() []string {
	return []string{Binance}
}

func (cm *ConnectionManager) StreamAPI(provider string) (domain.ProviderStreamAPI, error) {
	switch provider {
	case Binance:
		return cm.BinanceStreamAPI, nil
	}
	return nil, fmt.Errorf("unknown provider: %s", provider)
}

func (cm *ConnectionManager) SyncAPI(provider string) (domain.ProviderSyncAPI, error) {
	switch provider {
	case Binance:
		return cm.BinanceSyncAPI, nil
	}
	return nil, fmt.Errorf("unknown provider: %s", provider)
}

func (cm *ConnectionManager) Close() error {
	return cm.BinanceWS.Close()
}
