package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/spooky-finn/go-orderbook-sync/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_SendAndClose(t *testing.T) {
	sub := domain.NewSubscription[int]("topic", 1, nil)

	assert.True(t, sub.TrySend(1))
	assert.False(t, sub.TrySend(2), "buffer is full")

	assert.Equal(t, 1, <-sub.Stream())

	closeErr := errors.New("connection reset")
	sub.Close(closeErr)
	sub.Close(nil)

	_, ok := <-sub.Stream()
	assert.False(t, ok, "stream should be closed")
	assert.Equal(t, closeErr, sub.Err(), "first close reason wins")
}

func TestSubscription_UnsubscribeReleasesBlockedSend(t *testing.T) {
	calls := 0
	sub := domain.NewSubscription[int]("topic", 0, func() { calls++ })

	sent := make(chan bool)
	go func() {
		sent <- sub.Send(1)
	}()

	sub.Unsubscribe()
	sub.Unsubscribe()

	select {
	case ok := <-sent:
		assert.False(t, ok)
	case <-time.After(time.Second):
		require.Fail(t, "Send should return after Unsubscribe")
	}
	assert.Equal(t, 1, calls, "unsubscribe callback should run once")

	select {
	case <-sub.Done():
	default:
		assert.Fail(t, "Done should be closed")
	}
}
