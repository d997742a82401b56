package rpc

import (
	"fmt"
	"math"

	"github.com/spooky-finn/go-orderbook-sync/domain"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func stringField(in *structpb.Struct, name string) string {
	return in.GetFields()[name].GetStringValue()
}

// intField reads a whole non negative number. A missing field is zero.
func intField(in *structpb.Struct, name string) (int, error) {
	value, ok := in.GetFields()[name]
	if !ok {
		return 0, nil
	}
	number, ok := value.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	n := number.NumberValue
	if n < 0 || n != math.Trunc(n) || n > math.MaxInt32 {
		return 0, fmt.Errorf("%s must be a non negative integer", name)
	}
	return int(n), nil
}

// Prices and quantities travel as strings to keep their exact decimal form.
func levelsValue(levels []domain.PriceLevel) []interface{} {
	out := make([]interface{}, 0, len(levels))
	for _, level := range levels {
		out = append(out, []interface{}{level.Price.String(), level.Quantity.String()})
	}
	return out
}

func bucketsValue(buckets []domain.Bucket) []interface{} {
	out := make([]interface{}, 0, len(buckets))
	for _, bucket := range buckets {
		out = append(out, []interface{}{bucket.Price.String(), bucket.Quantity.String()})
	}
	return out
}

func statusValue(st domain.MaintainerStatus) map[string]interface{} {
	value := map[string]interface{}{
		"market":       st.Symbol,
		"state":        st.State.String(),
		"lastUpdateId": st.LastUpdateID,
	}
	if !st.LastUpdateTime.IsZero() {
		value["lastUpdateTime"] = st.LastUpdateTime.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	if st.Err != "" {
		value["error"] = st.Err
	}
	return value
}

func newStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
