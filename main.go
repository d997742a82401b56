package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spooky-finn/go-orderbook-sync/config"
	"github.com/spooky-finn/go-orderbook-sync/httpapi"
	"github.com/spooky-finn/go-orderbook-sync/infrastructure/alert"
	"github.com/spooky-finn/go-orderbook-sync/infrastructure/kafka"
	"github.com/spooky-finn/go-orderbook-sync/infrastructure/logger"
	promclient "github.com/spooky-finn/go-orderbook-sync/infrastructure/prometheus"
	"github.com/spooky-finn/go-orderbook-sync/jobs/broadcaster"
	"github.com/spooky-finn/go-orderbook-sync/provider"
	"github.com/spooky-finn/go-orderbook-sync/provider/binance"
	"github.com/spooky-finn/go-orderbook-sync/rpc"
	"github.com/spooky-finn/go-orderbook-sync/usecase"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	if err := run(*cfgPath); err != nil {
		fmt.Fprintf(os.Stderr, "orderbook-sync: %v\n", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.LoadWithEnvOverrides(cfgPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connManager, err := provider.NewConnectionManager(provider.ConnectionManagerConfig{
		Market:            binance.Market(cfg.Market),
		RestURL:           cfg.Binance.RestURL,
		StreamURL:         cfg.Binance.StreamURL,
		UpdateSpeed:       cfg.Binance.UpdateSpeed,
		RequestTimeout:    time.Duration(cfg.Binance.RequestTimeoutMs) * time.Millisecond,
		StreamBufferSize:  cfg.Binance.StreamBufferSize,
		StreamKeepAlive:   time.Duration(cfg.Binance.StreamKeepAliveS) * time.Second,
	}, log)
	if err != nil {
		return err
	}
	defer connManager.Close()

	streamAPI, err := connManager.StreamAPI(provider.Binance)
	if err != nil {
		return err
	}
	syncAPI, err := connManager.SyncAPI(provider.Binance)
	if err != nil {
		return err
	}

	metrics := promclient.NewMetrics()
	hooks := metrics.Hooks()
	if cfg.Discord.WebhookURL != "" {
		alerter, err := alert.NewFatalAlerter(cfg.Discord.WebhookURL, log)
		if err != nil {
			return err
		}
		hooks = hooks.Join(alerter.Hooks())
	}

	maintainerConfig := cfg.MaintainerConfig(log)
	maintainerConfig.Hooks = hooks

	orderbooks := usecase.NewOrderBookSnapshotUseCase(streamAPI, syncAPI, usecase.Config{
		Maintainer: maintainerConfig,
		Observer:   metrics,
	})
	defer orderbooks.Close()

	if err := orderbooks.Reconcile(cfg.MarketSymbols()); err != nil {
		return err
	}
	log.Info("order books tracked", zap.String("market", cfg.Market), zap.Strings("symbols", cfg.Symbols))

	errCh := make(chan error, 2)

	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "" {
		listener, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(rpc.LoggingInterceptor(log)))
		rpc.RegisterMarketDataServiceServer(grpcServer, rpc.NewServer(
			orderbooks,
			&rpc.ValidationServiceConfig{
				AvailableProviders: connManager.Providers(),
				AllowedSymbols:     cfg.AllowedMarketSymbols(),
			},
			rpc.AggregationDefaults{Width: cfg.DefaultBucketWidth(), Depth: cfg.Aggregation.DefaultDepth},
			log,
		))

		go func() {
			log.Info("grpc server listening", zap.String("addr", cfg.GRPC.Addr))
			if err := grpcServer.Serve(listener); err != nil {
				errCh <- fmt.Errorf("grpc server: %w", err)
			}
		}()
	}

	var fiberServer *httpapi.FiberServer
	if cfg.HTTP.Addr != "" {
		fiberServer = httpapi.New(orderbooks, httpapi.Config{
			AllowedSymbols: cfg.AllowedMarketSymbols(),
			DefaultWidth:   cfg.DefaultBucketWidth(),
			DefaultDepth:   cfg.Aggregation.DefaultDepth,
			MetricsHandler: metrics.Handler(),
		}, log)

		go func() {
			log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
			if err := fiberServer.Listen(cfg.HTTP.Addr); err != nil {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		job := broadcaster.New(orderbooks.Storage(), producer, broadcaster.Config{
			Interval:    time.Duration(cfg.Kafka.IntervalMs) * time.Millisecond,
			BucketWidth: cfg.KafkaBucketWidth(),
			Depth:       cfg.Kafka.Depth,
		}, log)
		job.Start(ctx)
		defer job.Close()
	}

	if cfg.HotReload.Enabled {
		reloader, err := config.NewHotReloader(cfgPath, time.Duration(cfg.HotReload.CooldownMs)*time.Millisecond,
			func(next config.AppConfig) error {
				return orderbooks.Reconcile(next.MarketSymbols())
			}, log)
		if err != nil {
			return err
		}
		if err := reloader.Start(ctx); err != nil {
			log.Warn("config hot reload disabled", zap.Error(err))
		}
		defer reloader.Stop()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down gracefully, press Ctrl+C again to force")
	case err = <-errCh:
		log.Error("server failed, shutting down", zap.Error(err))
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if fiberServer != nil {
		if err := fiberServer.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			log.Warn("http server forced to shutdown", zap.Error(err))
		}
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	log.Info("server exiting")
	return err
}
