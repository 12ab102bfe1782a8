package workflows

import (
	"encoding/json"
	"fmt"
)

// positionArgs is the argument shape most atomic jobs decode: a bare
// position id.
type positionArgs struct {
	PositionID int64 `json:"position_id"`
}

// orderArgs addresses a single order within a position.
type orderArgs struct {
	PositionID int64 `json:"position_id"`
	OrderID    int64 `json:"order_id"`
}

// recreateArgs carries the pre-cancellation values RecreateCancelledOrder
// must restore — captured by the orchestrator before any mutating job runs,
// since CancelSingleAlgoOrder's own completing commit overwrites the order's
// reference columns to CANCELLED.
type recreateArgs struct {
	PositionID    int64  `json:"position_id"`
	OrderID       int64  `json:"order_id"`
	OriginalPrice string `json:"original_price"`
	OriginalQty   string `json:"original_qty"`
}

func decodeArgs(raw string, out interface{}) error {
	if raw == "" {
		return fmt.Errorf("workflows: empty step arguments")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("workflows: decode arguments %q: %w", raw, err)
	}
	return nil
}

func encodeArgs(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		// Every caller passes a struct of primitives; failure here means a
		// programming error, not a runtime condition.
		panic(fmt.Sprintf("workflows: encode arguments: %v", err))
	}
	return string(raw)
}

func marketClientOrderID(positionID int64) string { return fmt.Sprintf("pos-%d-market", positionID) }
func limitClientOrderID(positionID int64, rung int) string {
	return fmt.Sprintf("pos-%d-limit-%d", positionID, rung)
}
func profitClientOrderID(positionID int64) string { return fmt.Sprintf("pos-%d-tp", positionID) }
func stopLossClientOrderID(positionID int64) string { return fmt.Sprintf("pos-%d-sl", positionID) }
func closeClientOrderID(positionID int64) string { return fmt.Sprintf("pos-%d-close", positionID) }
func ladderCacheKey(positionID int64) string { return fmt.Sprintf("ladder:%d", positionID) }
