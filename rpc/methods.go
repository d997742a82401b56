package rpc

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// GetOrderBookSnapshot takes {"provider", "market", "maxDepth"}.
func (s *server) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	provider := stringField(in, "provider")
	if !s.validationService.IsSupportedProvider(provider) {
		return nil, status.Errorf(codes.InvalidArgument, "provider %s is not supported", provider)
	}

	marketSymbol, err := s.validationService.ParseMarket(stringField(in, "market"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	maxDepth, err := intField(in, "maxDepth")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	snapshot, err := s.orderbookSnapshotUseCase.GetOrderBookSnapshot(ctx, marketSymbol, maxDepth)
	if err != nil {
		return nil, toStatus(err)
	}

	return newStruct(map[string]interface{}{
		"market":       marketSymbol.String(),
		"source":       string(snapshot.Source),
		"lastUpdateId": snapshot.LastUpdateId,
		"bids":         levelsValue(snapshot.Bids),
		"asks":         levelsValue(snapshot.Asks),
	})
}

// GetAggregatedOrderBook takes {"market", "width", "depth"}. Width is a
// decimal string, both fall back to the configured defaults.
func (s *server) GetAggregatedOrderBook(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	marketSymbol, err := s.validationService.ParseMarket(stringField(in, "market"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	width := s.aggregation.Width
	if raw := stringField(in, "width"); raw != "" {
		if width, err = decimal.NewFromString(raw); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid width %q", raw)
		}
	}

	depth := s.aggregation.Depth
	if _, ok := in.GetFields()["depth"]; ok {
		if depth, err = intField(in, "depth"); err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
	}

	aggregated, err := s.orderbookSnapshotUseCase.GetAggregatedOrderBook(marketSymbol, width, depth)
	if err != nil {
		return nil, toStatus(err)
	}

	return newStruct(map[string]interface{}{
		"market":       aggregated.Symbol,
		"lastUpdateId": aggregated.LastUpdateID,
		"width":        aggregated.Width.String(),
		"bids":         bucketsValue(aggregated.Bids),
		"asks":         bucketsValue(aggregated.Asks),
	})
}

// GetSyncStatus takes {"market"}. Without a market every tracked book is reported.
func (s *server) GetSyncStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	market := stringField(in, "market")
	if market == "" {
		statuses := []interface{}{}
		for _, st := range s.orderbookSnapshotUseCase.Statuses() {
			statuses = append(statuses, statusValue(st))
		}
		return newStruct(map[string]interface{}{"statuses": statuses})
	}

	marketSymbol, err := s.validationService.ParseMarket(market)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	st, err := s.orderbookSnapshotUseCase.Status(marketSymbol)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(statusValue(st))
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrOrderBookNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrOrderBookNotSynced), errors.Is(err, domain.ErrTransient):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, domain.ErrInvalidBucketWidth):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrEmptyOrderBook):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
