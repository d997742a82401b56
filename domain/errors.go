package domain

import "errors"

var (
	// Retryable failures of the snapshot source or the depth stream connection.
	ErrTransient = errors.New("transient provider error")
	// Unparseable snapshot or depth update. The maintainer does not retry it.
	ErrMalformedData = errors.New("malformed provider data")

	ErrBufferOverflow = errors.New("depth update buffer overflow")
	ErrFeedClosed     = errors.New("depth stream closed")
	ErrSlowConsumer   = errors.New("depth stream subscriber is too slow")

	ErrOrderBookNotSynced  = errors.New("order book is not synced")
	ErrInvalidBucketWidth  = errors.New("bucket width must be positive")
	ErrBucketWidthMismatch = errors.New("aggregated books have different bucket widths")
	ErrEmptyOrderBook      = errors.New("order book side is empty")
)

// IsRetryable reports whether the maintainer may retry after err.
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrMalformedData)
}

// ResyncReason maps the error that ended a sync session to a short label.
func ResyncReason(err error) string {
	switch {
	case errors.Is(err, ErrOrderBookUpdateIsOutOfSequence):
		return "gap"
	case errors.Is(err, ErrBufferOverflow):
		return "buffer_overflow"
	case errors.Is(err, ErrSlowConsumer):
		return "slow_consumer"
	case errors.Is(err, ErrFeedClosed):
		return "feed_closed"
	case errors.Is(err, ErrMalformedData):
		return "malformed"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}
