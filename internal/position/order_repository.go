package position

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
)

// OrderRepository persists Order rows in the ledger database.
type OrderRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewOrderRepository builds an OrderRepository bound to the ledger
// database connection.
func NewOrderRepository(db *sql.DB, log zerolog.Logger) *OrderRepository {
	return &OrderRepository{db: db, log: log.With().Str("repo", "order").Logger()}
}

const orderColumns = `id, position_id, exchange_order_id, client_order_id, rung, kind, side, position_side,
	is_algo, price, quantity, filled_quantity, status, reference_price, reference_quantity, reference_status,
	created_at, updated_at`

func scanOrder(row interface{ Scan(...interface{}) error }) (*Order, error) {
	var o Order
	var kind, side, positionSide, status, refStatus string
	var isAlgo int
	var price, quantity, filledQty, refPrice, refQty string
	var createdAt, updatedAt string

	if err := row.Scan(&o.ID, &o.PositionID, &o.ExchangeOrderID, &o.ClientOrderID, &o.Rung, &kind, &side,
		&positionSide, &isAlgo, &price, &quantity, &filledQty, &status, &refPrice, &refQty, &refStatus,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	o.Kind = exchange.OrderType(kind)
	o.Side = exchange.Side(side)
	o.PositionSide = exchange.PositionSide(positionSide)
	o.IsAlgo = isAlgo != 0
	o.Price = decimal.RequireFromString(price)
	o.Quantity = decimal.RequireFromString(quantity)
	o.FilledQuantity = decimal.RequireFromString(filledQty)
	o.Status = exchange.OrderStatus(status)
	o.ReferenceStatus = exchange.OrderStatus(refStatus)
	if refPrice != "" {
		o.ReferencePrice = decimal.RequireFromString(refPrice)
	}
	if refQty != "" {
		o.ReferenceQuantity = decimal.RequireFromString(refQty)
	}
	o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &o, nil
}

// Get loads one order by ID.
func (r *OrderRepository) Get(id int64) (*Order, error) {
	row := r.db.QueryRow(`SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("get order %d: %w", id, err)
	}
	return o, nil
}

// ListByPosition returns every order bound to a position, ordered by rung
// then id (MARKET/PROFIT-LIMIT/STOP-MARKET carry rung=0 and sort first by
// insertion order).
func (r *OrderRepository) ListByPosition(positionID int64) ([]*Order, error) {
	rows, err := r.db.Query(`SELECT `+orderColumns+` FROM orders WHERE position_id = ? ORDER BY rung, id`, positionID)
	if err != nil {
		return nil, fmt.Errorf("list orders for position %d: %w", positionID, err)
	}
	defer rows.Close()

	var out []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Create inserts a new order row. Reference columns are left empty — the
// placing job captures them via CommitIntendedChange once the exchange
// accepts the order.
func (r *OrderRepository) Create(o *Order) (int64, error) {
	res, err := r.db.Exec(`INSERT INTO orders
		(position_id, exchange_order_id, client_order_id, rung, kind, side, position_side, is_algo,
		 price, quantity, filled_quantity, status, reference_price, reference_quantity, reference_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '', '', '')`,
		o.PositionID, o.ExchangeOrderID, o.ClientOrderID, o.Rung, string(o.Kind), string(o.Side), string(o.PositionSide),
		boolToInt(o.IsAlgo), o.Price.String(), o.Quantity.String(), o.FilledQuantity.String(), string(o.Status))
	if err != nil {
		return 0, fmt.Errorf("create order: %w", err)
	}
	return res.LastInsertId()
}

// ApplySync writes the current observed (price, quantity, filledQuantity,
// status, exchangeOrderID) from an exchange query without touching the
// reference columns — this is what makes drift visible to the next
// OrderChangeEvaluator.Evaluate call (SPEC_FULL §4.7).
func (r *OrderRepository) ApplySync(id int64, exchangeOrderID string, price, quantity, filledQuantity decimal.Decimal, status exchange.OrderStatus) error {
	_, err := r.db.Exec(`UPDATE orders SET exchange_order_id = ?, price = ?, quantity = ?, filled_quantity = ?,
		status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		exchangeOrderID, price.String(), quantity.String(), filledQuantity.String(), string(status), id)
	if err != nil {
		return fmt.Errorf("apply sync to order %d: %w", id, err)
	}
	return nil
}

// CommitIntendedChange writes price/quantity/status to BOTH the current and
// reference columns in the same statement. Every job that legitimately
// changes an order (placing it, correcting drift, WAP-recalc modifying the
// TP) must go through this, never ApplySync — otherwise the observer would
// see its own write as drift and loop (SPEC_FULL §9 "Reference-column
// idempotence trick... preserve exactly").
func (r *OrderRepository) CommitIntendedChange(id int64, price, quantity decimal.Decimal, status exchange.OrderStatus) error {
	_, err := r.db.Exec(`UPDATE orders SET price = ?, quantity = ?, status = ?,
		reference_price = ?, reference_quantity = ?, reference_status = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		price.String(), quantity.String(), string(status), price.String(), quantity.String(), string(status), id)
	if err != nil {
		return fmt.Errorf("commit intended change to order %d: %w", id, err)
	}
	return nil
}

// AlignReferenceStatus sets reference_status = status without touching
// price/quantity — used by UpdateRemainingClosingData (SPEC_FULL §4.9) to
// close out bookkeeping on every order of a closed position.
func (r *OrderRepository) AlignReferenceStatus(id int64, status exchange.OrderStatus) error {
	_, err := r.db.Exec(`UPDATE orders SET status = ?, reference_status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		string(status), string(status), id)
	if err != nil {
		return fmt.Errorf("align reference status for order %d: %w", id, err)
	}
	return nil
}
