package exchange

// OrderStatus is the canonical order-status vocabulary every adapter
// normalizes its wire-specific statuses into.
type OrderStatus string

const (
	StatusNew             OrderStatus = "NEW"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCancelled       OrderStatus = "CANCELLED"
	StatusExpired         OrderStatus = "EXPIRED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusNotFound        OrderStatus = "NOT_FOUND"
)

// CanonicalizeStatus maps one exchange's raw wire status string to the
// canonical vocabulary. Unrecognized input maps to NOT_FOUND rather than
// panicking, so a future exchange field addition degrades gracefully
// instead of crashing a sync job.
func CanonicalizeStatus(raw string) OrderStatus {
	switch raw {
	case "New", "NEW", "Untriggered", "Triggered", "open", "live":
		return StatusNew
	case "PartiallyFilled", "PARTIALLY_FILLED", "partially_filled":
		return StatusPartiallyFilled
	case "Filled", "FILLED", "filled", "done":
		return StatusFilled
	case "Cancelled", "Canceled", "CANCELLED", "CANCELED", "cancelled", "canceled":
		return StatusCancelled
	case "Deactivated", "Expired", "EXPIRED", "expired":
		return StatusExpired
	case "Rejected", "REJECTED", "rejected":
		return StatusRejected
	case "NOT_FOUND", "":
		return StatusNotFound
	default:
		return StatusNotFound
	}
}
