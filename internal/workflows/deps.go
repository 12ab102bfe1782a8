// Package workflows is the atomic-job library and orchestrator layer
// (SPEC_FULL §4 "H. Workflows"): one jobrun.Job implementation per atomic
// operation (place an order, cancel, sync, verify), composed through
// internal/stepengine into the named workflows the dispatcher drives —
// OpenPosition, SyncPositionOrders, the correction family, Close, Cancel,
// and SmartReplace. Jobs never subclass a base type; every job holds a
// *Deps value and reads/writes through it (SPEC_FULL §9 "composition, not
// inheritance").
package workflows

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/martingalian/ladder-engine/internal/account"
	"github.com/martingalian/ladder-engine/internal/events"
	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/position"
	"github.com/martingalian/ladder-engine/internal/snapshotcache"
	"github.com/martingalian/ladder-engine/internal/stepengine"
	"github.com/martingalian/ladder-engine/internal/symbol"
)

// Notifier delivers human-facing alerts (SPEC_FULL ambient "notify"
// concern). The concrete implementation lives in internal/notify; workflows
// only depends on this interface to avoid an upward import.
type Notifier interface {
	Alert(ctx context.Context, group, message string) error
}

// AdapterFor resolves the exchange.Adapter bound to one account's
// credentials. The dispatcher owns adapter lifecycle (one per account,
// reused across jobs); workflows only ever borrows one per call.
type AdapterFor func(accountID int64) (exchange.Adapter, error)

// Deps bundles every dependency an atomic job needs. One Deps is shared by
// every job factory the registry builds.
type Deps struct {
	Positions *position.Repository
	Orders    *position.OrderRepository
	Accounts  *account.Repository
	Symbols   *symbol.Repository
	Cache     *snapshotcache.Cache
	Steps     *stepengine.Repository
	Evaluator *position.OrderChangeEvaluator
	Adapter   AdapterFor
	Notify    Notifier
	Events    *events.Manager // nil is valid: emit is a no-op guard, not a required wire

	// Now overrides the clock for tests; nil means time.Now.
	Now func() time.Time

	Log zerolog.Logger
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// emit publishes a typed event if an events.Manager is wired; a nil Events
// field is a deliberately valid configuration (SPEC_FULL's event bus has no
// subscriber yet that's load-bearing for correctness), not a missing wire.
func (d *Deps) emit(data events.EventData) {
	if d.Events == nil {
		return
	}
	d.Events.EmitTyped("workflows", data)
}

// loaded bundles the entities most jobs need, fetched once per job run.
type loaded struct {
	Position *position.Position
	Account  *account.Account
	Symbol   *symbol.Symbol
	Adapter  exchange.Adapter
}

func (d *Deps) load(ctx context.Context, positionID int64) (*loaded, error) {
	pos, err := d.Positions.Get(positionID)
	if err != nil {
		return nil, err
	}
	acc, err := d.Accounts.Get(pos.AccountID)
	if err != nil {
		return nil, err
	}
	sym, err := d.Symbols.Get(pos.SymbolID)
	if err != nil {
		return nil, err
	}
	adapter, err := d.Adapter(acc.ID)
	if err != nil {
		return nil, err
	}
	return &loaded{Position: pos, Account: acc, Symbol: sym, Adapter: adapter}, nil
}
