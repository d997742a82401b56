package domain_test

import (
	"testing"

	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/stretchr/testify/assert"
)

func update(first, final int64) *domain.OrderBookUpdate {
	return &domain.OrderBookUpdate{
		FirstUpdateID: first,
		FinalUpdateID: final,
		Symbol:        &domain.MarketSymbol{BaseAsset: "btc", QuoteAsset: "usdt"},
	}
}

func TestDepthUpdateValidator_IsBridgingUpd(t *testing.T) {
	v := domain.NewDepthUpdateValidator()

	tests := []struct {
		name   string
		update *domain.OrderBookUpdate
		last   int64
		want   error
	}{
		// u <= lastUpdateId
		{"Outdated", update(123, 124), 124, domain.ErrOrderBookUpdateIsOutdated},
		// U <= lastUpdateId+1 AND u >= lastUpdateId+1
		{"ExactBridge", update(123, 124), 123, nil},
		{"WideBridge", update(123, 140), 123, nil},
		{"BridgeStartsAtNext", update(124, 124), 123, nil},
		{"Gap", update(125, 136), 122, domain.ErrOrderBookUpdateIsOutOfSequence},
		{"GapBridgedByPrevFinal", update(125, 136).WithPrevFinalUpdateID(122), 122, nil},
		{"GapWithOtherPrevFinal", update(125, 136).WithPrevFinalUpdateID(120), 122, domain.ErrOrderBookUpdateIsOutOfSequence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, v.IsBridgingUpd(tt.update, tt.last))
		})
	}
}

func TestDepthUpdateValidator_IsValidUpd(t *testing.T) {
	v := domain.NewDepthUpdateValidator()

	tests := []struct {
		name   string
		update *domain.OrderBookUpdate
		last   int64
		want   error
	}{
		{"Contiguous", update(101, 105), 100, nil},
		{"ContiguousByPrevFinal", update(98, 105).WithPrevFinalUpdateID(100), 100, nil},
		{"Stale", update(95, 100), 100, domain.ErrOrderBookUpdateIsOutdated},
		// snapshot 100, event 105..110 is a gap
		{"Gap", update(105, 110), 100, domain.ErrOrderBookUpdateIsOutOfSequence},
		{"GapWithWrongPrevFinal", update(105, 110).WithPrevFinalUpdateID(104), 100, domain.ErrOrderBookUpdateIsOutOfSequence},
		// overlapping but not contiguous is not accepted once synced
		{"Overlap", update(99, 103), 100, domain.ErrOrderBookUpdateIsOutOfSequence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.IsValidUpd(tt.update, tt.last)
			assert.Equal(t, tt.want, err)
			if tt.want != nil {
				assert.Equal(t, v.IsErrOutdated(tt.want), v.IsErrOutdated(err))
				assert.Equal(t, v.IsErrOutOfSequence(tt.want), v.IsErrOutOfSequence(err))
			}
		})
	}
}
