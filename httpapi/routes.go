package httpapi

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"go.uber.org/zap"
)

var defaultImbalanceThreshold = decimal.RequireFromString("0.01")

func (s *FiberServer) listOrderBooksHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"orderbooks": s.useCase.Statuses()})
}

// GET /api/v1/orderbooks/:market?depth=N
func (s *FiberServer) orderBookSnapshotHandler(c *fiber.Ctx) error {
	symbol, err := s.market(c)
	if err != nil {
		return err
	}
	depth, err := queryInt(c, "depth", 0)
	if err != nil {
		return err
	}

	snapshot, err := s.useCase.GetOrderBookSnapshot(c.UserContext(), symbol, depth)
	if err != nil {
		return s.toFiberError(err)
	}
	return c.JSON(fiber.Map{
		"market":       symbol.String(),
		"source":       snapshot.Source,
		"lastUpdateId": snapshot.LastUpdateId,
		"bids":         snapshot.Bids,
		"asks":         snapshot.Asks,
	})
}

// GET /api/v1/orderbooks/:market/aggregated?width=W&depth=N
func (s *FiberServer) aggregatedOrderBookHandler(c *fiber.Ctx) error {
	symbol, err := s.market(c)
	if err != nil {
		return err
	}
	width, err := queryDecimal(c, "width", s.config.DefaultWidth)
	if err != nil {
		return err
	}
	depth, err := queryInt(c, "depth", s.config.DefaultDepth)
	if err != nil {
		return err
	}

	aggregated, err := s.useCase.GetAggregatedOrderBook(symbol, width, depth)
	if err != nil {
		return s.toFiberError(err)
	}
	return c.JSON(aggregated)
}

// GET /api/v1/orderbooks/:market/imbalance?threshold=T
func (s *FiberServer) imbalanceHandler(c *fiber.Ctx) error {
	symbol, err := s.market(c)
	if err != nil {
		return err
	}
	threshold, err := queryDecimal(c, "threshold", defaultImbalanceThreshold)
	if err != nil {
		return err
	}
	if threshold.IsNegative() || threshold.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fiber.NewError(fiber.StatusBadRequest, "threshold must be in [0, 1)")
	}

	imbalance, err := s.useCase.GetImbalance(symbol, threshold)
	if err != nil {
		return s.toFiberError(err)
	}
	return c.JSON(imbalance)
}

func (s *FiberServer) statusHandler(c *fiber.Ctx) error {
	symbol, err := s.market(c)
	if err != nil {
		return err
	}
	status, err := s.useCase.Status(symbol)
	if err != nil {
		return s.toFiberError(err)
	}
	return c.JSON(status)
}

func (s *FiberServer) market(c *fiber.Ctx) (*domain.MarketSymbol, error) {
	symbol, err := domain.NewMarketSymbolFromString(c.Params("market"))
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if len(s.config.AllowedSymbols) == 0 {
		return symbol, nil
	}
	for _, allowed := range s.config.AllowedSymbols {
		if allowed.Equal(symbol) {
			return symbol, nil
		}
	}
	return nil, fiber.NewError(fiber.StatusBadRequest, "market "+symbol.String()+" is not served")
}

func (s *FiberServer) toFiberError(err error) error {
	switch {
	case errors.Is(err, domain.ErrOrderBookNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrOrderBookNotSynced), errors.Is(err, domain.ErrTransient):
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrInvalidBucketWidth):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrEmptyOrderBook):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
}

func queryInt(c *fiber.Ctx, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, key+" must be a non negative integer")
	}
	return n, nil
}

func queryDecimal(c *fiber.Ctx, key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fiber.NewError(fiber.StatusBadRequest, key+" must be a decimal number")
	}
	return d, nil
}
