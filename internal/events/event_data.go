package events

import (
	"encoding/json"
	"time"
)

// EventData is the interface that all event data types must implement.
// This allows for type-safe event data while maintaining flexibility.
type EventData interface {
	EventType() EventType
}

// PositionOpenedData contains data for PositionOpened events.
type PositionOpenedData struct {
	PositionID int64  `json:"position_id"`
	AccountID  int64  `json:"account_id"`
	Symbol     string `json:"symbol"`
	Direction  string `json:"direction"`
	Rungs      int    `json:"rungs"`
}

func (d *PositionOpenedData) EventType() EventType { return PositionOpened }

// PositionActivatedData contains data for PositionActivated events, fired
// by ActivateJob once every expected order is verified on the exchange and
// the position moves from opening to active.
type PositionActivatedData struct {
	PositionID int64  `json:"position_id"`
	WAP        string `json:"wap"`
	Quantity   string `json:"quantity"`
}

func (d *PositionActivatedData) EventType() EventType { return PositionActivated }

// PositionClosedData contains data for PositionClosed events.
type PositionClosedData struct {
	PositionID  int64  `json:"position_id"`
	Reason      string `json:"reason"` // "take_profit", "stop_loss", "manual"
	RealizedPnL string `json:"realized_pnl"`
}

func (d *PositionClosedData) EventType() EventType { return PositionClosed }

// PositionCancelledData contains data for PositionCancelled events.
type PositionCancelledData struct {
	PositionID int64  `json:"position_id"`
	Reason     string `json:"reason"`
}

func (d *PositionCancelledData) EventType() EventType { return PositionCancelled }

// OrderPlacedData contains data for OrderPlaced events.
type OrderPlacedData struct {
	PositionID int64  `json:"position_id"`
	OrderID    int64  `json:"order_id"`
	Rung       int    `json:"rung"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
}

func (d *OrderPlacedData) EventType() EventType { return OrderPlaced }

// OrderFilledData contains data for OrderFilled events.
type OrderFilledData struct {
	PositionID      int64  `json:"position_id"`
	OrderID         int64  `json:"order_id"`
	FilledQuantity  string `json:"filled_quantity"`
	FillPrice       string `json:"fill_price"`
}

func (d *OrderFilledData) EventType() EventType { return OrderFilled }

// OrderCancelledData contains data for OrderCancelled events.
type OrderCancelledData struct {
	PositionID int64  `json:"position_id"`
	OrderID    int64  `json:"order_id"`
	Reason     string `json:"reason"`
}

func (d *OrderCancelledData) EventType() EventType { return OrderCancelled }

// OrderReplacedData contains data for OrderReplaced events. No job in the
// engine emits it; the smart-replace workflow re-places missing orders
// rather than amending existing ones.
type OrderReplacedData struct {
	PositionID int64  `json:"position_id"`
	OrderID    int64  `json:"order_id"`
	OldPrice   string `json:"old_price"`
	NewPrice   string `json:"new_price"`
}

func (d *OrderReplacedData) EventType() EventType { return OrderReplaced }

// DriftDetectedData contains data for DriftDetected events, fired by the
// order observer when a live exchange value diverges from the locally held
// reference shadow column.
type DriftDetectedData struct {
	OrderID  int64  `json:"order_id"`
	Field    string `json:"field"` // "price", "quantity", "status"
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

func (d *DriftDetectedData) EventType() EventType { return DriftDetected }

// DriftCorrectedData contains data for DriftCorrected events.
type DriftCorrectedData struct {
	OrderID int64  `json:"order_id"`
	Field   string `json:"field"`
}

func (d *DriftCorrectedData) EventType() EventType { return DriftCorrected }

// WorkflowStepData contains data shared by WorkflowStepStarted/Done/Failed
// events. EventType is determined by the Status field.
type WorkflowStepData struct {
	StepID      int64  `json:"step_id"`
	Class       string `json:"class"`
	BlockUUID   string `json:"block_uuid"`
	Status      string `json:"status"` // "started", "completed", "failed"
	Error       string `json:"error,omitempty"`
}

func (d *WorkflowStepData) EventType() EventType {
	switch d.Status {
	case "started":
		return WorkflowStepStarted
	case "failed":
		return WorkflowStepFailed
	default:
		return WorkflowStepDone
	}
}

// KillSwitchToggledData contains data for KillSwitchToggled events.
type KillSwitchToggledData struct {
	AccountID int64 `json:"account_id"`
	Enabled   bool  `json:"enabled"`
}

func (d *KillSwitchToggledData) EventType() EventType { return KillSwitchToggled }

// SnapshotRefreshedData contains data for SnapshotRefreshed events.
type SnapshotRefreshedData struct {
	AccountID int64  `json:"account_id"`
	CacheKey  string `json:"cache_key"`
}

func (d *SnapshotRefreshedData) EventType() EventType { return SnapshotRefreshed }

// ErrorEventData contains data for ErrorOccurred events.
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventType() EventType { return ErrorOccurred }

// JobProgressInfo contains hierarchical progress information for a long
// running job (a dispatcher tick, a backup run, a reconciliation sweep).
type JobProgressInfo struct {
	Current  int                    `json:"current"`
	Total    int                    `json:"total"`
	Message  string                 `json:"message,omitempty"`
	Phase    string                 `json:"phase,omitempty"`
	SubPhase string                 `json:"sub_phase,omitempty"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// JobStatusData contains data for job lifecycle events.
type JobStatusData struct {
	JobID       string                 `json:"job_id"`
	JobType     string                 `json:"job_type"`
	Status      string                 `json:"status"` // "started", "progress", "completed", "failed"
	Description string                 `json:"description"`
	Progress    *JobProgressInfo       `json:"progress,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Duration    float64                `json:"duration,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

// EventType returns the event type for JobStatusData. The actual event type
// is determined by the Status field.
func (d *JobStatusData) EventType() EventType {
	switch d.Status {
	case "started":
		return JobStarted
	case "progress":
		return JobProgress
	case "completed":
		return JobCompleted
	case "failed":
		return JobFailed
	default:
		return JobStarted
	}
}

// EventWithData represents an event with typed data, as delivered to subscribers.
type EventWithData struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// MarshalJSON customizes JSON serialization for EventWithData.
func (e *EventWithData) MarshalJSON() ([]byte, error) {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if e.Data != nil {
		dataBytes, err := json.Marshal(e.Data)
		if err != nil {
			return nil, err
		}
		aux.Data = dataBytes
	}

	return json.Marshal(aux)
}

// UnmarshalJSON customizes JSON deserialization for EventWithData.
func (e *EventWithData) UnmarshalJSON(data []byte) error {
	type Alias EventWithData
	aux := &struct {
		Data json.RawMessage `json:"data"`
		*Alias
	}{
		Alias: (*Alias)(e),
	}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	if len(aux.Data) > 0 {
		var eventData EventData
		switch aux.Type {
		case PositionOpened:
			eventData = &PositionOpenedData{}
		case PositionActivated:
			eventData = &PositionActivatedData{}
		case PositionClosed:
			eventData = &PositionClosedData{}
		case PositionCancelled:
			eventData = &PositionCancelledData{}
		case OrderPlaced:
			eventData = &OrderPlacedData{}
		case OrderFilled:
			eventData = &OrderFilledData{}
		case OrderCancelled:
			eventData = &OrderCancelledData{}
		case OrderReplaced:
			eventData = &OrderReplacedData{}
		case DriftDetected:
			eventData = &DriftDetectedData{}
		case DriftCorrected:
			eventData = &DriftCorrectedData{}
		case WorkflowStepStarted, WorkflowStepDone, WorkflowStepFailed:
			eventData = &WorkflowStepData{}
		case KillSwitchToggled:
			eventData = &KillSwitchToggledData{}
		case SnapshotRefreshed:
			eventData = &SnapshotRefreshedData{}
		case ErrorOccurred:
			eventData = &ErrorEventData{}
		case JobStarted, JobProgress, JobCompleted, JobFailed:
			eventData = &JobStatusData{}
		default:
			var rawData map[string]interface{}
			if err := json.Unmarshal(aux.Data, &rawData); err != nil {
				return err
			}
			eventData = &GenericEventData{Type: aux.Type, Data: rawData}
		}

		if eventData != nil {
			if _, ok := eventData.(*GenericEventData); !ok {
				if err := json.Unmarshal(aux.Data, eventData); err != nil {
					return err
				}
			}
			e.Data = eventData
		}
	}

	return nil
}

// GenericEventData is a fallback for events that don't have a specific type.
type GenericEventData struct {
	Type EventType              `json:"-"`
	Data map[string]interface{} `json:"-"`
}

func (d *GenericEventData) EventType() EventType { return d.Type }

func (d *GenericEventData) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Data)
}

func (d *GenericEventData) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &d.Data)
}
