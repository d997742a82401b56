package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/spooky-finn/go-orderbook-sync/infrastructure/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// AppConfig holds the runtime configuration of the service.
type AppConfig struct {
	Env string `yaml:"env"`
	// spot or futures
	Market string `yaml:"market"`
	// Markets maintained from start, in base_quote form.
	Symbols []string `yaml:"symbols"`
	// When set, only these markets are served.
	AllowedSymbols []string `yaml:"allowedSymbols"`

	Binance     BinanceConfig     `yaml:"binance"`
	Sync        SyncConfig        `yaml:"sync"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Log         logger.Config     `yaml:"log"`
	GRPC        ServerConfig      `yaml:"grpc"`
	HTTP        ServerConfig      `yaml:"http"`
	Kafka       KafkaConfig       `yaml:"kafka"`
	Discord     DiscordConfig     `yaml:"discord"`
	HotReload   HotReloadConfig   `yaml:"hotReload"`
}

type BinanceConfig struct {
	// Override the market endpoints, used against testnets.
	RestURL          string `yaml:"restURL"`
	StreamURL        string `yaml:"streamURL"`
	UpdateSpeed      string `yaml:"updateSpeed"`
	RequestTimeoutMs int    `yaml:"requestTimeoutMs"`
	StreamBufferSize int    `yaml:"streamBufferSize"`
	// Ping interval of the stream connection, 0 disables it.
	StreamKeepAliveS int `yaml:"streamKeepAliveS"`
}

type SyncConfig struct {
	DepthLimit        int `yaml:"depthLimit"`
	MaxBufferSize     int `yaml:"maxBufferSize"`
	MaxRetries        int `yaml:"maxRetries"`
	MinBackoffMs      int `yaml:"minBackoffMs"`
	MaxBackoffMs      int `yaml:"maxBackoffMs"`
	FirstUpdateWaitMs int `yaml:"firstUpdateWaitMs"`
}

type AggregationConfig struct {
	DefaultWidth string `yaml:"defaultWidth"`
	DefaultDepth int    `yaml:"defaultDepth"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type KafkaConfig struct {
	Brokers     []string `yaml:"brokers"`
	Topic       string   `yaml:"topic"`
	IntervalMs  int      `yaml:"intervalMs"`
	BucketWidth string   `yaml:"bucketWidth"`
	Depth       int      `yaml:"depth"`
}

type DiscordConfig struct {
	WebhookURL string `yaml:"webhookURL"`
}

type HotReloadConfig struct {
	Enabled    bool `yaml:"enabled"`
	CooldownMs int  `yaml:"cooldownMs"`
}

func Default() AppConfig {
	return AppConfig{
		Env:    "dev",
		Market: "spot",
		Binance: BinanceConfig{
			UpdateSpeed:      "100ms",
			RequestTimeoutMs: 10000,
			StreamBufferSize: 4096,
			StreamKeepAliveS: 60,
		},
		Sync: SyncConfig{
			DepthLimit:        1000,
			MaxBufferSize:     10000,
			MaxRetries:        5,
			MinBackoffMs:      500,
			MaxBackoffMs:      30000,
			FirstUpdateWaitMs: 1000,
		},
		Aggregation: AggregationConfig{
			DefaultWidth: "1",
			DefaultDepth: 20,
		},
		Log:  logger.DefaultConfig(),
		GRPC: ServerConfig{Addr: ":50051"},
		HTTP: ServerConfig{Addr: ":8080"},
		Kafka: KafkaConfig{
			Topic:       "orderbook.aggregated",
			IntervalMs:  1000,
			BucketWidth: "1",
			Depth:       20,
		},
		HotReload: HotReloadConfig{
			Enabled:    true,
			CooldownMs: 1000,
		},
	}
}

var ErrEmptyConfig = errors.New("config file is empty")

// Load reads YAML config from path on top of the defaults and validates it.
func Load(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	// A file caught between truncate and write must not reset the symbols.
	if len(bytes.TrimSpace(raw)) == 0 {
		return cfg, ErrEmptyConfig
	}
	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	// unknown keys are typos or stale options, fail loudly on them
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment specific
// fields from ORDERBOOK_* env vars. A .env file in the working directory is
// loaded first if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return AppConfig{}, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("ORDERBOOK_ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("ORDERBOOK_MARKET"); v != "" {
		cfg.Market = v
	}
	if v := os.Getenv("ORDERBOOK_SYMBOLS"); v != "" {
		cfg.Symbols = splitList(v)
	}
	if v := os.Getenv("ORDERBOOK_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("ORDERBOOK_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("ORDERBOOK_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("ORDERBOOK_DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Discord.WebhookURL = v
	}
	if v := os.Getenv("ORDERBOOK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("ORDERBOOK_MAX_RETRIES"); v != "" {
		retries, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("ORDERBOOK_MAX_RETRIES: %w", err)
		}
		cfg.Sync.MaxRetries = retries
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and consistent.
func Validate(cfg AppConfig) error {
	if cfg.Market != "spot" && cfg.Market != "futures" {
		return fmt.Errorf("market must be spot or futures, got %q", cfg.Market)
	}
	if _, err := domain.ParseMarketSymbols(cfg.Symbols); err != nil {
		return fmt.Errorf("symbols: %w", err)
	}
	if _, err := domain.ParseMarketSymbols(cfg.AllowedSymbols); err != nil {
		return fmt.Errorf("allowedSymbols: %w", err)
	}
	if len(cfg.AllowedSymbols) > 0 {
		allowed := make(map[string]struct{}, len(cfg.AllowedSymbols))
		for _, s := range cfg.AllowedSymbols {
			allowed[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
		}
		for _, s := range cfg.Symbols {
			if _, ok := allowed[strings.ToLower(strings.TrimSpace(s))]; !ok {
				return fmt.Errorf("symbol %s is not in allowedSymbols", s)
			}
		}
	}
	if cfg.Sync.DepthLimit <= 0 {
		return errors.New("sync.depthLimit must be > 0")
	}
	if cfg.Sync.MaxBufferSize <= 0 {
		return errors.New("sync.maxBufferSize must be > 0")
	}
	if cfg.Sync.MaxRetries < 0 {
		return errors.New("sync.maxRetries must be >= 0")
	}
	if cfg.Sync.MinBackoffMs <= 0 || cfg.Sync.MaxBackoffMs < cfg.Sync.MinBackoffMs {
		return errors.New("sync backoff must satisfy 0 < minBackoffMs <= maxBackoffMs")
	}
	if cfg.Sync.FirstUpdateWaitMs < 0 {
		return errors.New("sync.firstUpdateWaitMs must be >= 0")
	}
	if err := positiveDecimal("aggregation.defaultWidth", cfg.Aggregation.DefaultWidth); err != nil {
		return err
	}
	if cfg.Aggregation.DefaultDepth < 0 {
		return errors.New("aggregation.defaultDepth must be >= 0")
	}
	if len(cfg.Kafka.Brokers) > 0 {
		if cfg.Kafka.Topic == "" {
			return errors.New("kafka.topic is required when brokers are set")
		}
		if cfg.Kafka.IntervalMs <= 0 {
			return errors.New("kafka.intervalMs must be > 0")
		}
		if err := positiveDecimal("kafka.bucketWidth", cfg.Kafka.BucketWidth); err != nil {
			return err
		}
	}
	if cfg.GRPC.Addr == "" && cfg.HTTP.Addr == "" {
		return errors.New("at least one of grpc.addr and http.addr is required")
	}
	return nil
}

func (cfg AppConfig) MarketSymbols() []*domain.MarketSymbol {
	symbols, _ := domain.ParseMarketSymbols(cfg.Symbols)
	return symbols
}

func (cfg AppConfig) AllowedMarketSymbols() []*domain.MarketSymbol {
	symbols, _ := domain.ParseMarketSymbols(cfg.AllowedSymbols)
	return symbols
}

func (cfg AppConfig) DefaultBucketWidth() decimal.Decimal {
	return decimal.RequireFromString(cfg.Aggregation.DefaultWidth)
}

func (cfg AppConfig) KafkaBucketWidth() decimal.Decimal {
	return decimal.RequireFromString(cfg.Kafka.BucketWidth)
}

func (cfg AppConfig) MaintainerConfig(log *zap.Logger) domain.MaintainerConfig {
	return domain.MaintainerConfig{
		DepthLimit:      cfg.Sync.DepthLimit,
		MaxBufferSize:   cfg.Sync.MaxBufferSize,
		MaxRetries:      cfg.Sync.MaxRetries,
		MinBackoff:      time.Duration(cfg.Sync.MinBackoffMs) * time.Millisecond,
		MaxBackoff:      time.Duration(cfg.Sync.MaxBackoffMs) * time.Millisecond,
		FirstUpdateWait: time.Duration(cfg.Sync.FirstUpdateWaitMs) * time.Millisecond,
		Logger:          log,
	}
}

func positiveDecimal(field, value string) error {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if !d.IsPositive() {
		return fmt.Errorf("%s must be > 0", field)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
