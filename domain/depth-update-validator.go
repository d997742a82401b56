package domain

import "errors"

var (
	// The update does not follow the last applied one. The book has to be resynced.
	ErrOrderBookUpdateIsOutOfSequence = errors.New("order book update is out of sequence")
	// Already reflected in the book, should just be skipped.
	ErrOrderBookUpdateIsOutdated = errors.New("order book update is outdated")
)

type IDepthUpdateValidator interface {
	// IsBridgingUpd checks the first update applied on top of a snapshot.
	// If it returns nil, the update is valid.
	IsBridgingUpd(update *OrderBookUpdate, orderBookLastUpdId int64) error
	// IsValidUpd checks every following update.
	IsValidUpd(update *OrderBookUpdate, orderBookLastUpdId int64) error
	IsErrOutOfSequence(err error) bool
	IsErrOutdated(err error) bool
}

// DepthUpdateValidator checks the U/u/pu sequence ids of the diff depth stream.
type DepthUpdateValidator struct{}

func NewDepthUpdateValidator() *DepthUpdateValidator {
	return &DepthUpdateValidator{}
}

func (v *DepthUpdateValidator) IsBridgingUpd(update *OrderBookUpdate, orderBookLastUpdId int64) error {
	// Drop any event where u is <= lastUpdateId in the snapshot
	if update.FinalUpdateID <= orderBookLastUpdId {
		return ErrOrderBookUpdateIsOutdated
	}

	// The first processed event should have U <= lastUpdateId+1 AND u >= lastUpdateId+1
	if update.FirstUpdateID <= orderBookLastUpdId+1 && update.FinalUpdateID >= orderBookLastUpdId+1 {
		return nil
	}

	if prevMatches(update, orderBookLastUpdId) {
		return nil
	}

	return ErrOrderBookUpdateIsOutOfSequence
}

func (v *DepthUpdateValidator) IsValidUpd(update *OrderBookUpdate, orderBookLastUpdId int64) error {
	// Each new event's U should be equal to the previous event's u+1,
	// or its pu should be equal to the previous event's u
	if update.FirstUpdateID == orderBookLastUpdId+1 || prevMatches(update, orderBookLastUpdId) {
		return nil
	}

	if update.FinalUpdateID <= orderBookLastUpdId {
		return ErrOrderBookUpdateIsOutdated
	}

	return ErrOrderBookUpdateIsOutOfSequence
}

func (v *DepthUpdateValidator) IsErrOutOfSequence(err error) bool {
	return errors.Is(err, ErrOrderBookUpdateIsOutOfSequence)
}

func (v *DepthUpdateValidator) IsErrOutdated(err error) bool {
	return errors.Is(err, ErrOrderBookUpdateIsOutdated)
}

func prevMatches(update *OrderBookUpdate, lastUpdateID int64) bool {
	return update.PrevFinalUpdateID != nil && *update.PrevFinalUpdateID == lastUpdateID
}
