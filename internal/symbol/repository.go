package symbol

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Repository persists ExchangeSymbol rows in the ledger database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository builds a Repository bound to the ledger database connection.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "symbol").Logger()}
}

const symbolColumns = `id, exchange, symbol, base_asset, quote_asset, parsed_trading_pair,
	tick_size, lot_step, price_precision, quantity_precision, min_notional, min_price, max_price,
	leverage_brackets, limit_quantity_multipliers, percentage_gap_long, percentage_gap_short,
	disable_on_price_spike_pct, price_spike_cooldown_hours, total_limit_orders,
	tradeable_at, mark_price, mark_price_synced_at, has_stale_price, updated_at`

func scanSymbol(row interface{ Scan(...interface{}) error }) (*Symbol, error) {
	var s Symbol
	var ignoredSymbolCol string
	var tick, lot, minNotional, minPrice, maxPrice string
	var brackets, multipliers, gapLong, gapShort, spikePct string
	var tradeableAt, markPrice, markSyncedAt, updatedAt string
	var stale int
	if err := row.Scan(&s.ID, &s.Exchange, &ignoredSymbolCol, &s.Token, &s.Quote, &s.ParsedTradingPair,
		&tick, &lot, &s.PricePrecision, &s.QuantityPrecision, &minNotional, &minPrice, &maxPrice,
		&brackets, &multipliers, &gapLong, &gapShort,
		&spikePct, &s.PriceSpikeCooldownHours, &s.TotalLimitOrders,
		&tradeableAt, &markPrice, &markSyncedAt, &stale, &updatedAt); err != nil {
		return nil, err
	}
	s.TickSize = decimal.RequireFromString(tick)
	s.LotStep = decimal.RequireFromString(lot)
	s.MinNotional = decimal.RequireFromString(minNotional)
	s.MinPrice = decimal.RequireFromString(minPrice)
	s.MaxPrice = decimal.RequireFromString(maxPrice)
	s.PercentageGapLong = decimal.RequireFromString(gapLong)
	s.PercentageGapShort = decimal.RequireFromString(gapShort)
	s.DisableOnPriceSpikePct = decimal.RequireFromString(spikePct)
	s.MarkPrice = decimal.RequireFromString(markPrice)
	s.HasStalePrice = stale != 0

	var err error
	s.LeverageBrackets, err = unmarshalBrackets(brackets)
	if err != nil {
		return nil, fmt.Errorf("unmarshal leverage brackets: %w", err)
	}
	s.LimitQuantityMultipliers, err = unmarshalMultipliers(multipliers)
	if err != nil {
		return nil, fmt.Errorf("unmarshal limit quantity multipliers: %w", err)
	}

	s.TradeableAt, _ = time.Parse(time.RFC3339, tradeableAt)
	if markSyncedAt != "" {
		s.MarkPriceSyncedAt, _ = time.Parse(time.RFC3339, markSyncedAt)
	}
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

// Get loads one symbol by ID.
func (r *Repository) Get(id int64) (*Symbol, error) {
	row := r.db.QueryRow(`SELECT `+symbolColumns+` FROM exchange_symbols WHERE id = ?`, id)
	s, err := scanSymbol(row)
	if err != nil {
		return nil, fmt.Errorf("get symbol %d: %w", id, err)
	}
	return s, nil
}

// GetByExchangeSymbol looks up a symbol by (exchange, wire symbol).
func (r *Repository) GetByExchangeSymbol(exch, wireSymbol string) (*Symbol, error) {
	row := r.db.QueryRow(`SELECT `+symbolColumns+` FROM exchange_symbols WHERE exchange = ? AND symbol = ?`, exch, wireSymbol)
	s, err := scanSymbol(row)
	if err != nil {
		return nil, fmt.Errorf("get symbol %s/%s: %w", exch, wireSymbol, err)
	}
	return s, nil
}

// UpdateMarkPrice records a freshly-synced mark price, clearing the stale
// flag.
func (r *Repository) UpdateMarkPrice(id int64, price decimal.Decimal, now time.Time) error {
	_, err := r.db.Exec(`UPDATE exchange_symbols SET mark_price = ?, mark_price_synced_at = ?, has_stale_price = 0, updated_at = ? WHERE id = ?`,
		price.String(), now.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("update mark price for symbol %d: %w", id, err)
	}
	return nil
}

// SetTradeableAt sets the pump-cooldown advisory field (SPEC_FULL §4.10).
func (r *Repository) SetTradeableAt(id int64, at time.Time) error {
	_, err := r.db.Exec(`UPDATE exchange_symbols SET tradeable_at = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("set tradeable_at for symbol %d: %w", id, err)
	}
	return nil
}

// Upsert inserts or updates a symbol row keyed by (exchange, symbol wire
// form). On conflict it refreshes the tick/lot grid, precisions, price
// bounds, min notional and leverage brackets; the other columns keep their
// stored values. No job in the engine calls it.
func (r *Repository) Upsert(s *Symbol) (int64, error) {
	brackets, err := marshalBrackets(s.LeverageBrackets)
	if err != nil {
		return 0, fmt.Errorf("marshal leverage brackets: %w", err)
	}
	multipliers, err := marshalMultipliers(s.LimitQuantityMultipliers)
	if err != nil {
		return 0, fmt.Errorf("marshal limit quantity multipliers: %w", err)
	}
	wireSymbol := s.Token + s.Quote

	res, err := r.db.Exec(`INSERT INTO exchange_symbols
		(exchange, symbol, base_asset, quote_asset, parsed_trading_pair, tick_size, lot_step,
		 price_precision, quantity_precision, min_notional, min_price, max_price,
		 leverage_brackets, limit_quantity_multipliers, percentage_gap_long, percentage_gap_short,
		 disable_on_price_spike_pct, price_spike_cooldown_hours, total_limit_orders, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, strftime('%Y-%m-%dT%H:%M:%fZ','now'))
		ON CONFLICT(exchange, symbol) DO UPDATE SET
			parsed_trading_pair = excluded.parsed_trading_pair,
			tick_size = excluded.tick_size,
			lot_step = excluded.lot_step,
			price_precision = excluded.price_precision,
			quantity_precision = excluded.quantity_precision,
			min_notional = excluded.min_notional,
			min_price = excluded.min_price,
			max_price = excluded.max_price,
			leverage_brackets = excluded.leverage_brackets,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`,
		s.Exchange, wireSymbol, s.Token, s.Quote, s.ParsedTradingPair, s.TickSize.String(), s.LotStep.String(),
		s.PricePrecision, s.QuantityPrecision, s.MinNotional.String(), s.MinPrice.String(), s.MaxPrice.String(),
		brackets, multipliers, s.PercentageGapLong.String(), s.PercentageGapShort.String(),
		s.DisableOnPriceSpikePct.String(), s.PriceSpikeCooldownHours, s.TotalLimitOrders)
	if err != nil {
		return 0, fmt.Errorf("upsert symbol %s/%s: %w", s.Exchange, wireSymbol, err)
	}
	return res.LastInsertId()
}
