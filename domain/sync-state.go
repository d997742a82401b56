package domain

import (
	"fmt"
	"time"
)

type SyncState int

const (
	SyncState_Uninitialized SyncState = iota
	SyncState_Buffering
	SyncState_Synced
	SyncState_Resyncing
	SyncState_Fatal
)

func (s SyncState) String() string {
	switch s {
	case SyncState_Uninitialized:
		return "Uninitialized"
	case SyncState_Buffering:
		return "Buffering"
	case SyncState_Synced:
		return "Synced"
	case SyncState_Resyncing:
		return "Resyncing"
	case SyncState_Fatal:
		return "Fatal"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SyncState) UnmarshalText(text []byte) error {
	for state := SyncState_Uninitialized; state <= SyncState_Fatal; state++ {
		if state.String() == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown sync state %q", text)
}

type StateChange struct {
	Symbol string
	From   SyncState
	To     SyncState
	// Reason is the error that caused the transition, if any.
	Reason error
	At     time.Time
}

type UpdateOutcome string

const (
	UpdateOutcome_Buffered UpdateOutcome = "buffered"
	UpdateOutcome_Applied  UpdateOutcome = "applied"
	UpdateOutcome_Stale    UpdateOutcome = "stale"
	UpdateOutcome_Gap      UpdateOutcome = "gap"
)

// MaintainerHooks are called from the maintainer goroutine, outside of its lock.
// They must not block.
type MaintainerHooks struct {
	OnStateChange func(change StateChange)
	OnUpdate      func(symbol string, outcome UpdateOutcome)
}

func (h MaintainerHooks) stateChanged(change StateChange) {
	if h.OnStateChange != nil {
		h.OnStateChange(change)
	}
}

func (h MaintainerHooks) updated(symbol string, outcome UpdateOutcome) {
	if h.OnUpdate != nil {
		h.OnUpdate(symbol, outcome)
	}
}

// Join runs both hook sets.
func (h MaintainerHooks) Join(other MaintainerHooks) MaintainerHooks {
	return MaintainerHooks{
		OnStateChange: func(change StateChange) {
			h.stateChanged(change)
			other.stateChanged(change)
		},
		OnUpdate: func(symbol string, outcome UpdateOutcome) {
			h.updated(symbol, outcome)
			other.updated(symbol, outcome)
		},
	}
}
