package httpapi

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/spooky-finn/go-orderbook-sync/usecase"
	"go.uber.org/zap"
)

type Config struct {
	AllowedSymbols []*domain.MarketSymbol
	DefaultWidth   decimal.Decimal
	DefaultDepth   int
	// Served on /metrics when set.
	MetricsHandler http.Handler
}

type FiberServer struct {
	*fiber.App

	useCase *usecase.OrderBookSnapshotUseCase
	config  Config
	logger  *zap.Logger
}

func New(useCase *usecase.OrderBookSnapshotUseCase, config Config, logger *zap.Logger) *FiberServer {
	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:          "go-orderbook-sync",
			AppName:               "go-orderbook-sync",
			DisableStartupMessage: true,
			ErrorHandler:          errorHandler,
		}),

		useCase: useCase,
		config:  config,
		logger:  logger.With(zap.String("component", "httpapi")),
	}
	server.RegisterFiberRoutes()

	return server
}

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(recover.New())

	if s.config.MetricsHandler != nil {
		s.App.Get("/metrics", adaptor.HTTPHandler(s.config.MetricsHandler))
	}

	api := s.App.Group("/api/v1")
	api.Get("/orderbooks", s.listOrderBooksHandler)
	api.Get("/orderbooks/:market", s.orderBookSnapshotHandler)
	api.Get("/orderbooks/:market/aggregated", s.aggregatedOrderBookHandler)
	api.Get("/orderbooks/:market/imbalance", s.imbalanceHandler)
	api.Get("/orderbooks/:market/status", s.statusHandler)
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
