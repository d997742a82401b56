package rpc

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-orderbook-sync/usecase"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "cryptobridge.MarketDataService"

// MarketDataServiceServer is served over plain google.protobuf.Struct
// messages, so clients need no generated code.
type MarketDataServiceServer interface {
	GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetAggregatedOrderBook(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
	GetSyncStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var MarketDataService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MarketDataServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOrderBookSnapshot", Handler: unaryHandler("GetOrderBookSnapshot", MarketDataServiceServer.GetOrderBookSnapshot)},
		{MethodName: "GetAggregatedOrderBook", Handler: unaryHandler("GetAggregatedOrderBook", MarketDataServiceServer.GetAggregatedOrderBook)},
		{MethodName: "GetSyncStatus", Handler: unaryHandler("GetSyncStatus", MarketDataServiceServer.GetSyncStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cryptobridge/market_data.proto",
}

func RegisterMarketDataServiceServer(s grpc.ServiceRegistrar, srv MarketDataServiceServer) {
	s.RegisterService(&MarketDataService_ServiceDesc, srv)
}

func unaryHandler(
	method string,
	call func(MarketDataServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error),
) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	fullMethod := "/" + serviceName + "/" + method

	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(MarketDataServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(MarketDataServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

type AggregationDefaults struct {
	Width decimal.Decimal
	Depth int
}

type server struct {
	orderbookSnapshotUseCase *usecase.OrderBookSnapshotUseCase
	validationService        *ValidationService
	aggregation              AggregationDefaults
	logger                   *zap.Logger
}

func NewServer(
	useCase *usecase.OrderBookSnapshotUseCase,
	conf *ValidationServiceConfig,
	aggregation AggregationDefaults,
	logger *zap.Logger,
) *server {
	return &server{
		orderbookSnapshotUseCase: useCase,
		validationService:        NewValidationService(conf),
		aggregation:              aggregation,
		logger:                   logger.With(zap.String("component", "rpc")),
	}
}

// LoggingInterceptor logs every failed call.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		if err != nil {
			logger.Debug("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
		}
		return resp, err
	}
}

// MarketDataClient calls the service with Struct messages.
type MarketDataClient struct {
	cc grpc.ClientConnInterface
}

func NewMarketDataClient(cc grpc.ClientConnInterface) *MarketDataClient {
	return &MarketDataClient{cc: cc}
}

func (c *MarketDataClient) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetOrderBookSnapshot", in, opts...)
}

func (c *MarketDataClient) GetAggregatedOrderBook(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetAggregatedOrderBook", in, opts...)
}

func (c *MarketDataClient) GetSyncStatus(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetSyncStatus", in, opts...)
}

func (c *MarketDataClient) invoke(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
