package account

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
)

// Repository persists Account rows in the ledger database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository builds a Repository bound to the ledger database connection.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "account").Logger()}
}

const accountColumns = `id, name, exchange, api_key_enc, api_secret_enc, api_passphrase_enc,
	trading_quote, max_position_percentage, position_leverage_long, position_leverage_short,
	margin_mode, stop_market_initial_percentage, profit_percentage, total_limit_orders_to_notify,
	headroom_pct, max_concurrency, can_trade, kill_switch, enabled, created_at, updated_at`

func scanAccount(row interface{ Scan(...interface{}) error }) (*Account, error) {
	var a Account
	var maxPosPct, stopInitPct, profitPct, headroom, marginMode string
	var canTrade, kill, enabled int
	var createdAt, updatedAt string
	if err := row.Scan(&a.ID, &a.Name, &a.Exchange, &a.APIKeyEnc, &a.APISecretEnc, &a.APIPassphraseEnc,
		&a.TradingQuote, &maxPosPct, &a.PositionLeverageLong, &a.PositionLeverageShort,
		&marginMode, &stopInitPct, &profitPct, &a.TotalLimitOrdersToNotify,
		&headroom, &a.MaxConcurrency, &canTrade, &kill, &enabled, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	a.MaxPositionPercentage = decimal.RequireFromString(maxPosPct)
	a.StopMarketInitialPercentage = decimal.RequireFromString(stopInitPct)
	a.ProfitPercentage = decimal.RequireFromString(profitPct)
	a.HeadroomPct = decimal.RequireFromString(headroom)
	a.MarginMode = exchange.MarginMode(marginMode)
	a.CanTrade = canTrade != 0
	a.KillSwitch = kill != 0
	a.Enabled = enabled != 0
	a.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	a.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &a, nil
}

// Get loads one account by ID.
func (r *Repository) Get(id int64) (*Account, error) {
	row := r.db.QueryRow(`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("account %d: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", id, err)
	}
	return a, nil
}

// ListEnabled returns every account with enabled=1, ordered by id — the
// scheduler's per-account iteration source.
func (r *Repository) ListEnabled() ([]*Account, error) {
	rows, err := r.db.Query(`SELECT ` + accountColumns + ` FROM accounts WHERE enabled = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Tradeable returns every enabled account that is also cleared to trade
// locally (can_trade, not kill-switched). The dispatcher still consults the
// process-wide martingalian singleton on top of this.
func (r *Repository) Tradeable() ([]*Account, error) {
	all, err := r.ListEnabled()
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(all))
	for _, a := range all {
		if a.CanTrade && !a.KillSwitch {
			out = append(out, a)
		}
	}
	return out, nil
}

// SetKillSwitch flips the account's local kill-switch flag — independent
// from the process-wide martingalian singleton (KillSwitch).
func (r *Repository) SetKillSwitch(id int64, on bool) error {
	_, err := r.db.Exec(`UPDATE accounts SET kill_switch = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`, boolToInt(on), id)
	if err != nil {
		return fmt.Errorf("set kill switch for account %d: %w", id, err)
	}
	return nil
}

// Create inserts a new account row with encrypted credentials.
func (r *Repository) Create(a *Account) (int64, error) {
	res, err := r.db.Exec(`INSERT INTO accounts
		(name, exchange, api_key_enc, api_secret_enc, api_passphrase_enc, trading_quote,
		 max_position_percentage, position_leverage_long, position_leverage_short, margin_mode,
		 stop_market_initial_percentage, profit_percentage, total_limit_orders_to_notify,
		 headroom_pct, max_concurrency, can_trade, kill_switch, enabled)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Name, a.Exchange, a.APIKeyEnc, a.APISecretEnc, a.APIPassphraseEnc, a.TradingQuote,
		a.MaxPositionPercentage.String(), a.PositionLeverageLong, a.PositionLeverageShort, string(a.MarginMode),
		a.StopMarketInitialPercentage.String(), a.ProfitPercentage.String(), a.TotalLimitOrdersToNotify,
		a.HeadroomPct.String(), a.MaxConcurrency, boolToInt(a.CanTrade), boolToInt(a.KillSwitch), boolToInt(a.Enabled))
	if err != nil {
		return 0, fmt.Errorf("create account %s: %w", a.Name, err)
	}
	return res.LastInsertId()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
