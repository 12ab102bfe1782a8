// Package account models the Account entity (SPEC_FULL §3): a user's
// credentialed binding to one exchange, its tunables (leverage caps, margin
// mode, notification thresholds), and the process-wide martingalian
// kill-switch.
package account

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/martingalian/ladder-engine/internal/exchange"
)

// Account is one exchange credential binding owned exclusively by a user.
// Credentials are stored encrypted; Decrypt must be called with the
// process's credential key before building an exchange.Credentials value.
type Account struct {
	ID                          int64
	Name                        string
	Exchange                    string
	APIKeyEnc                   string
	APISecretEnc                string
	APIPassphraseEnc            string
	TradingQuote                string // canonical quote asset, e.g. "USDT"
	MaxPositionPercentage       decimal.Decimal
	PositionLeverageLong        int
	PositionLeverageShort       int
	MarginMode                  exchange.MarginMode
	StopMarketInitialPercentage decimal.Decimal
	ProfitPercentage            decimal.Decimal
	TotalLimitOrdersToNotify    int
	HeadroomPct                 decimal.Decimal
	MaxConcurrency              int
	CanTrade                    bool
	KillSwitch                  bool
	Enabled                     bool
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// Credentials decrypts the account's stored credentials into the shape the
// exchange adapter layer needs. decrypt turns one stored ciphertext into
// plaintext; decryption happens in-process, matching SPEC_FULL
// §10 "Configuration".
func (a *Account) Credentials(decrypt func(enc string) (string, error)) (exchange.Credentials, error) {
	key, err := decrypt(a.APIKeyEnc)
	if err != nil {
		return exchange.Credentials{}, err
	}
	secret, err := decrypt(a.APISecretEnc)
	if err != nil {
		return exchange.Credentials{}, err
	}
	passphrase, err := decrypt(a.APIPassphraseEnc)
	if err != nil {
		return exchange.Credentials{}, err
	}
	return exchange.Credentials{APIKey: key, APISecret: secret, Passphrase: passphrase}, nil
}

// LeverageCapFor returns the account's configured leverage cap for a
// direction, used by the planner as the requestedCap input to feasible
// leverage selection.
func (a *Account) LeverageCapFor(long bool) int {
	if long {
		return a.PositionLeverageLong
	}
	return a.PositionLeverageShort
}
