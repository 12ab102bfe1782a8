package position

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/planner"
)

// Position is one open (or recently closed) leveraged position (SPEC_FULL
// §3). At most one open position may exist per (account, symbol,
// direction); enforced by the repository's Create query, not by this
// struct.
type Position struct {
	ID               int64
	AccountID        int64
	SymbolID         int64
	Direction        planner.Direction
	Status           Status
	Margin           decimal.Decimal
	WAP              decimal.Decimal
	Quantity         decimal.Decimal
	Leverage         int
	OpeningPrice     decimal.Decimal
	ClosingPrice     decimal.Decimal
	TakeProfitPrice  decimal.Decimal
	FirstProfitPrice decimal.Decimal
	StopLossPrice    decimal.Decimal
	ProfitPercentage decimal.Decimal
	TotalLimitOrders int
	RealizedPnL      decimal.Decimal
	WasWaped         bool
	WasFastTraded    bool
	ErrorMessage     string
	OpenedAt         *time.Time
	WapedAt          *time.Time
	ClosedAt         *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExpectedOrderCount is the order count a position must carry once active
// (invariant 3: 1 MARKET + N LIMIT + 1 PROFIT-LIMIT + 1 STOP-MARKET).
func (p *Position) ExpectedOrderCount() int {
	return 1 + p.TotalLimitOrders + 2
}

// Unrealized projects PnL at mark m (SPEC_FULL §4.2): LONG (m-wap)*qty,
// SHORT (wap-m)*qty.
func (p *Position) Unrealized(mark decimal.Decimal) decimal.Decimal {
	diff := mark.Sub(p.WAP)
	if p.Direction == planner.Short {
		diff = diff.Neg()
	}
	return diff.Mul(p.Quantity)
}
