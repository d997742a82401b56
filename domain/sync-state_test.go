package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncState_JSON(t *testing.T) {
	raw, err := json.Marshal(MaintainerStatus{Symbol: "btc_usdt", State: SyncState_Resyncing})
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"state":"Resyncing"`)

	var status MaintainerStatus
	require.NoError(t, json.Unmarshal(raw, &status))
	assert.Equal(t, SyncState_Resyncing, status.State)

	var state SyncState
	assert.Error(t, state.UnmarshalText([]byte("Sleeping")))
	assert.Equal(t, "SyncState(9)", SyncState(9).String())
}

func TestMaintainerHooks_Join(t *testing.T) {
	var calls []string
	first := MaintainerHooks{
		OnStateChange: func(change StateChange) { calls = append(calls, "first:"+change.To.String()) },
	}
	second := MaintainerHooks{
		OnStateChange: func(change StateChange) { calls = append(calls, "second:"+change.To.String()) },
		OnUpdate:      func(symbol string, outcome UpdateOutcome) { calls = append(calls, "second:"+string(outcome)) },
	}

	joined := first.Join(second)
	joined.OnStateChange(StateChange{To: SyncState_Synced})
	joined.OnUpdate("btc_usdt", UpdateOutcome_Stale)

	assert.Equal(t, []string{"first:Synced", "second:Synced", "second:stale"}, calls)
}
