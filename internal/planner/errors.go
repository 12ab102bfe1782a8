package planner

import "fmt"

// InvalidInput is returned when planner inputs fail validation: non-positive
// prices/quantities, non-positive multipliers, or a malformed bracket list.
type InvalidInput struct {
	Field  string
	Reason string
}

func (e *InvalidInput) Error() string {
	return fmt.Sprintf("invalid planner input %q: %s", e.Field, e.Reason)
}

// NoBasisPrice is returned when neither a reference price, a mark price, nor
// a last-trade price is available to anchor a calculation.
type NoBasisPrice struct {
	Symbol string
}

func (e *NoBasisPrice) Error() string {
	return fmt.Sprintf("no basis price available for %s", e.Symbol)
}
