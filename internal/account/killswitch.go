package account

import (
	"database/sql"
	"fmt"
)

// KillSwitch is the martingalian singleton (SPEC_FULL §3): a process-wide,
// re-readable gate on opening new positions, backed by the single row in
// martingalian_state. Never cached longer than one scheduler tick
// (SPEC_FULL §9 "Global singleton").
type KillSwitch struct {
	db *sql.DB
}

// NewKillSwitch binds a KillSwitch to the ledger database connection.
func NewKillSwitch(db *sql.DB) *KillSwitch {
	return &KillSwitch{db: db}
}

// AllowOpeningPositions reads the current gate value. Read once per
// new-position attempt, never reused across the lifetime of a workflow.
func (k *KillSwitch) AllowOpeningPositions() (bool, error) {
	var allow int
	err := k.db.QueryRow(`SELECT allow_opening_positions FROM martingalian_state WHERE id = 1`).Scan(&allow)
	if err != nil {
		return false, fmt.Errorf("read martingalian singleton: %w", err)
	}
	return allow != 0, nil
}

// Set flips the gate.
func (k *KillSwitch) Set(allow bool) error {
	_, err := k.db.Exec(`UPDATE martingalian_state SET allow_opening_positions = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = 1`, boolToInt(allow))
	if err != nil {
		return fmt.Errorf("set martingalian singleton: %w", err)
	}
	return nil
}
