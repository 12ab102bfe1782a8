package events

import (
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestEventWithData_RoundTrip_PositionOpened(t *testing.T) {
	event := &EventWithData{
		Type:      PositionOpened,
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Module:    "workflows",
		Data: &PositionOpenedData{
			PositionID: 42,
			AccountID:  7,
			Symbol:     "BTCUSDT",
			Direction:  "long",
			Rungs:      5,
		},
	}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, PositionOpened, decoded.Type)
	data, ok := decoded.Data.(*PositionOpenedData)
	require.True(t, ok)
	assert.Equal(t, int64(42), data.PositionID)
	assert.Equal(t, "BTCUSDT", data.Symbol)
}

func TestEventWithData_RoundTrip_GenericFallback(t *testing.T) {
	event := &EventWithData{
		Type:   EventType("custom.diagnostic"),
		Module: "dispatcher",
		Data:   &GenericEventData{Type: EventType("custom.diagnostic"), Data: map[string]interface{}{"tick": float64(3)}},
	}

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded EventWithData
	require.NoError(t, json.Unmarshal(raw, &decoded))

	data, ok := decoded.Data.(*GenericEventData)
	require.True(t, ok)
	assert.Equal(t, float64(3), data.Data["tick"])
}

func TestWorkflowStepData_EventTypeByStatus(t *testing.T) {
	assert.Equal(t, WorkflowStepStarted, (&WorkflowStepData{Status: "started"}).EventType())
	assert.Equal(t, WorkflowStepFailed, (&WorkflowStepData{Status: "failed"}).EventType())
	assert.Equal(t, WorkflowStepDone, (&WorkflowStepData{Status: "completed"}).EventType())
}

func TestManager_EmitTyped_DispatchesToSubscriber(t *testing.T) {
	m := NewManager(testLogger())

	received := make(chan EventWithData, 1)
	m.Subscribe(PositionClosed, func(e EventWithData) {
		received <- e
	})

	m.EmitTyped("workflows", &PositionClosedData{PositionID: 1, Reason: "take_profit", RealizedPnL: "12.5"})

	select {
	case e := <-received:
		data, ok := e.Data.(*PositionClosedData)
		require.True(t, ok)
		assert.Equal(t, "take_profit", data.Reason)
	case <-time.After(time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestManager_Emit_OnlyCallsMatchingSubscribers(t *testing.T) {
	m := NewManager(testLogger())

	var gotA, gotB int
	m.Subscribe(DriftDetected, func(e EventWithData) { gotA++ })
	m.Subscribe(DriftCorrected, func(e EventWithData) { gotB++ })

	m.Emit(DriftDetected, "observer", map[string]interface{}{"field": "price"})

	assert.Equal(t, 1, gotA)
	assert.Equal(t, 0, gotB)
}
