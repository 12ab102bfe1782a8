package position

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/planner"
	"github.com/martingalian/ladder-engine/internal/utils"
)

// Repository persists Position rows in the ledger database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository builds a Repository bound to the ledger database connection.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "position").Logger()}
}

const positionColumns = `id, account_id, symbol_id, direction, status, margin, wap, quantity, leverage,
	opening_price, closing_price, take_profit_price, first_profit_price, stop_loss_price,
	profit_percentage, total_limit_orders, realized_pnl, was_waped, was_fast_traded, error_message,
	opened_at, waped_at, closed_at, created_at, updated_at`

func scanPosition(row interface{ Scan(...interface{}) error }) (*Position, error) {
	var p Position
	var direction, status string
	var margin, wap, quantity, leverage, opening, closing, tp, firstProfit, sl, profitPct, realizedPnL string
	var wasWaped, wasFastTraded int
	var openedAt, wapedAt, closedAt, createdAt, updatedAt sql.NullString

	if err := row.Scan(&p.ID, &p.AccountID, &p.SymbolID, &direction, &status, &margin, &wap, &quantity, &leverage,
		&opening, &closing, &tp, &firstProfit, &sl, &profitPct, &p.TotalLimitOrders, &realizedPnL,
		&wasWaped, &wasFastTraded, &p.ErrorMessage, &openedAt, &wapedAt, &closedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	p.Direction = planner.Direction(direction)
	p.Status = Status(status)
	p.Margin = decimal.RequireFromString(margin)
	p.WAP = decimal.RequireFromString(wap)
	p.Quantity = decimal.RequireFromString(quantity)
	p.Leverage = atoiOrZero(leverage)
	p.OpeningPrice = decimal.RequireFromString(opening)
	p.ClosingPrice = decimal.RequireFromString(closing)
	p.TakeProfitPrice = decimal.RequireFromString(tp)
	p.FirstProfitPrice = decimal.RequireFromString(firstProfit)
	p.StopLossPrice = decimal.RequireFromString(sl)
	p.ProfitPercentage = decimal.RequireFromString(profitPct)
	p.RealizedPnL = decimal.RequireFromString(realizedPnL)
	p.WasWaped = wasWaped != 0
	p.WasFastTraded = wasFastTraded != 0
	p.OpenedAt = parseNullableTime(openedAt)
	p.WapedAt = parseNullableTime(wapedAt)
	p.ClosedAt = parseNullableTime(closedAt)
	if createdAt.Valid {
		p.CreatedAt, _ = time.Parse(time.RFC3339, createdAt.String)
	}
	if updatedAt.Valid {
		p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt.String)
	}
	return &p, nil
}

func parseNullableTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func atoiOrZero(s string) int {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return int(d.IntPart())
}

// Get loads one position by ID.
func (r *Repository) Get(id int64) (*Position, error) {
	row := r.db.QueryRow(`SELECT `+positionColumns+` FROM positions WHERE id = ?`, id)
	p, err := scanPosition(row)
	if err != nil {
		return nil, fmt.Errorf("get position %d: %w", id, err)
	}
	return p, nil
}

// OpenForAccountSymbolDirection finds the single open position, if any, for
// (account, symbol, direction) — enforces invariant "at most one open
// position per (account, symbol, direction)" at the call site (the caller
// must check this returns nil before opening a new one; SQLite has no
// partial-unique-index-on-computed-predicate support across all profiles
// used here, so the guard lives in application code).
func (r *Repository) OpenForAccountSymbolDirection(accountID, symbolID int64, direction planner.Direction) (*Position, error) {
	row := r.db.QueryRow(`SELECT `+positionColumns+` FROM positions
		WHERE account_id = ? AND symbol_id = ? AND direction = ? AND status NOT IN ('closed','cancelled','failed')
		ORDER BY id DESC LIMIT 1`, accountID, symbolID, string(direction))
	p, err := scanPosition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open position for account %d symbol %d direction %s: %w", accountID, symbolID, direction, err)
	}
	return p, nil
}

// ListOpenByAccount returns every non-terminal position for an account —
// the scheduler's per-account sync source.
func (r *Repository) ListOpenByAccount(accountID int64) ([]*Position, error) {
	rows, err := r.db.Query(`SELECT `+positionColumns+` FROM positions
		WHERE account_id = ? AND status NOT IN ('closed','cancelled','failed') ORDER BY id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list open positions for account %d: %w", accountID, err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListOpen returns every non-terminal position across all accounts, newest
// first — the admin HTTP surface's "position list" operator command
// (spec.md §6 "Operator surface").
func (r *Repository) ListOpen(limit int) ([]*Position, error) {
	rows, err := r.db.Query(`SELECT `+positionColumns+` FROM positions
		WHERE status NOT IN ('closed','cancelled','failed') ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list open positions: %w", err)
	}
	defer rows.Close()

	var out []*Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Create inserts a new position at StatusNew.
func (r *Repository) Create(p *Position) (int64, error) {
	res, err := r.db.Exec(`INSERT INTO positions
		(account_id, symbol_id, direction, status, margin, wap, quantity, leverage, opening_price,
		 closing_price, take_profit_price, first_profit_price, stop_loss_price, profit_percentage,
		 total_limit_orders, realized_pnl, was_waped, was_fast_traded, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.AccountID, p.SymbolID, string(p.Direction), string(StatusNew), p.Margin.String(), p.WAP.String(),
		p.Quantity.String(), fmt.Sprintf("%d", p.Leverage), p.OpeningPrice.String(), p.ClosingPrice.String(),
		p.TakeProfitPrice.String(), p.FirstProfitPrice.String(), p.StopLossPrice.String(), p.ProfitPercentage.String(),
		p.TotalLimitOrders, p.RealizedPnL.String(), boolToInt(p.WasWaped), boolToInt(p.WasFastTraded), p.ErrorMessage)
	if err != nil {
		return 0, fmt.Errorf("create position: %w", err)
	}
	return res.LastInsertId()
}

// ErrStaleTransition is returned when Transition's optimistic-concurrency
// WHERE clause matched zero rows — another writer already moved the
// position off the expected source status.
var ErrStaleTransition = fmt.Errorf("position transition: stale source status")

// Transition moves a position from one status to another, enforcing the
// legal-edge guard and an optimistic-concurrency UPDATE ... WHERE status =
// from (SPEC_FULL §5 "Locking discipline"). extra lets callers set
// additional columns (opened_at, waped_at, closed_at) in the same
// statement; keys must be column names, values pre-formatted SQL literals'
// driver values.
func (r *Repository) Transition(id int64, from, to Status, extra map[string]interface{}) error {
	done := utils.MeasureDBQuery("position_transition", r.log)
	if !CanTransition(from, to) {
		return fmt.Errorf("position %d: illegal transition %s -> %s", id, from, to)
	}

	setClauses := "status = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')"
	args := []interface{}{string(to)}
	for col, val := range extra {
		setClauses += fmt.Sprintf(", %s = ?", col)
		args = append(args, val)
	}
	args = append(args, id, string(from))

	res, err := r.db.Exec(`UPDATE positions SET `+setClauses+` WHERE id = ? AND status = ?`, args...)
	if err != nil {
		return fmt.Errorf("transition position %d %s->%s: %w", id, from, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition position %d %s->%s: %w", id, from, to, err)
	}
	done(n)
	if n == 0 {
		return fmt.Errorf("%w: position %d expected %s, to %s", ErrStaleTransition, id, from, to)
	}
	return nil
}

// Fail force-transitions a position to failed from any non-terminal status
// and records the reason, bypassing the optimistic from-check (SPEC_FULL
// §4.6 "any -> failed").
func (r *Repository) Fail(id int64, reason string) error {
	_, err := r.db.Exec(`UPDATE positions SET status = ?, error_message = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE id = ? AND status NOT IN ('closed','cancelled','failed')`, string(StatusFailed), reason, id)
	if err != nil {
		return fmt.Errorf("fail position %d: %w", id, err)
	}
	return nil
}

// UpdateWAP persists a recalculated WAP and take-profit price together
// (SPEC_FULL §4.7 "CalculateWapAndModifyProfitOrder"); the order's own
// reference columns are updated in the same job via OrderRepository.
func (r *Repository) UpdateWAP(id int64, wap, takeProfit, quantity decimal.Decimal, wapedAt time.Time) error {
	_, err := r.db.Exec(`UPDATE positions SET wap = ?, take_profit_price = ?, quantity = ?, waped_at = ?,
		was_waped = 1, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		wap.String(), takeProfit.String(), quantity.String(), wapedAt.Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update wap for position %d: %w", id, err)
	}
	return nil
}

// SetMargin persists the margin amount committed to the position once
// VerifyNotional has sized it against the account's available balance.
func (r *Repository) SetMargin(id int64, margin decimal.Decimal) error {
	_, err := r.db.Exec(`UPDATE positions SET margin = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		margin.String(), id)
	if err != nil {
		return fmt.Errorf("set margin for position %d: %w", id, err)
	}
	return nil
}

// SetLeverage persists the leverage DetermineLeverage selected.
func (r *Repository) SetLeverage(id int64, leverage int) error {
	_, err := r.db.Exec(`UPDATE positions SET leverage = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		fmt.Sprintf("%d", leverage), id)
	if err != nil {
		return fmt.Errorf("set leverage for position %d: %w", id, err)
	}
	return nil
}

// SetOpeningData records the MARKET leg's fill: opening price, the
// cumulative filled quantity so far, and opened_at (first open only).
func (r *Repository) SetOpeningData(id int64, openingPrice, quantity decimal.Decimal, openedAt time.Time) error {
	_, err := r.db.Exec(`UPDATE positions SET opening_price = ?, quantity = ?, opened_at = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		openingPrice.String(), quantity.String(), openedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set opening data for position %d: %w", id, err)
	}
	return nil
}

// SetTakeProfit persists the PROFIT-LIMIT anchor once it lands; first_profit
// records the position's very first TP (never overwritten by later
// WAP-recalcs) for reporting.
func (r *Repository) SetTakeProfit(id int64, takeProfit decimal.Decimal, isFirst bool) error {
	if isFirst {
		_, err := r.db.Exec(`UPDATE positions SET take_profit_price = ?, first_profit_price = ?,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
			takeProfit.String(), takeProfit.String(), id)
		if err != nil {
			return fmt.Errorf("set first take profit for position %d: %w", id, err)
		}
		return nil
	}
	_, err := r.db.Exec(`UPDATE positions SET take_profit_price = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		takeProfit.String(), id)
	if err != nil {
		return fmt.Errorf("set take profit for position %d: %w", id, err)
	}
	return nil
}

// SetStopLoss persists the STOP-MARKET anchor once it lands.
func (r *Repository) SetStopLoss(id int64, stopLoss decimal.Decimal) error {
	_, err := r.db.Exec(`UPDATE positions SET stop_loss_price = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		stopLoss.String(), id)
	if err != nil {
		return fmt.Errorf("set stop loss for position %d: %w", id, err)
	}
	return nil
}

// SetClosingData records the final close bookkeeping (SPEC_FULL §4.9
// "UpdateRemainingClosingData"): closing price, realized PnL, whether the
// close happened fast enough to count as "fast traded", and closed_at.
func (r *Repository) SetClosingData(id int64, closingPrice, realizedPnL decimal.Decimal, wasFastTraded bool, closedAt time.Time) error {
	_, err := r.db.Exec(`UPDATE positions SET closing_price = ?, realized_pnl = ?, was_fast_traded = ?, closed_at = ?,
		updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		closingPrice.String(), realizedPnL.String(), boolToInt(wasFastTraded), closedAt.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set closing data for position %d: %w", id, err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
