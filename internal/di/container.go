// Package di wires every repository, adapter, and service into a single
// Container (SPEC_FULL §10 "Dependency injection"), mirroring the
// composition order the teacher's internal/di/services.go uses: databases
// first, then repositories, then adapters, then the planner/engine services,
// then the jobs that depend on all of the above.
package di

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/martingalian/ladder-engine/internal/account"
	"github.com/martingalian/ladder-engine/internal/backup"
	"github.com/martingalian/ladder-engine/internal/config"
	"github.com/martingalian/ladder-engine/internal/cryptoutil"
	"github.com/martingalian/ladder-engine/internal/database"
	"github.com/martingalian/ladder-engine/internal/dispatcher"
	"github.com/martingalian/ladder-engine/internal/events"
	"github.com/martingalian/ladder-engine/internal/exchange"
	"github.com/martingalian/ladder-engine/internal/exchange/binance"
	"github.com/martingalian/ladder-engine/internal/exchange/bitget"
	"github.com/martingalian/ladder-engine/internal/exchange/bybit"
	"github.com/martingalian/ladder-engine/internal/exchange/kraken"
	"github.com/martingalian/ladder-engine/internal/exchange/kucoin"
	"github.com/martingalian/ladder-engine/internal/exchange/ratelimit"
	"github.com/martingalian/ladder-engine/internal/jobrun"
	"github.com/martingalian/ladder-engine/internal/notify"
	"github.com/martingalian/ladder-engine/internal/position"
	"github.com/martingalian/ladder-engine/internal/snapshotcache"
	"github.com/martingalian/ladder-engine/internal/stepengine"
	"github.com/martingalian/ladder-engine/internal/symbol"
	"github.com/martingalian/ladder-engine/internal/workflows"
)

// Container holds every long-lived dependency the server and dispatcher
// need. Fields are exported so cmd/server/main.go and internal/server can
// reach into it without a pile of accessor methods.
type Container struct {
	Config *config.Config
	Log    zerolog.Logger

	LedgerDB *database.DB
	CacheDB  *database.DB

	Accounts    *account.Repository
	KillSwitch  *account.KillSwitch
	Symbols     *symbol.Repository
	Positions   *position.Repository
	Orders      *position.OrderRepository
	Snapshots   *snapshotcache.Cache
	Steps       *stepengine.Repository
	Evaluator   *position.OrderChangeEvaluator

	Engine     *stepengine.Engine
	Dispatcher *dispatcher.Dispatcher
	Notify     *notify.LogNotifier
	Events     *events.Manager
	Backup     *backup.Service // nil unless Config.BackupEnabled

	adapterMu sync.Mutex
	adapters  map[int64]exchange.Adapter
}

// Wire constructs a fully-populated Container in teacher composition order:
// databases, then repositories, then the adapter resolver, then the
// workflow registry, then the dispatcher. ctx is only used for the optional
// backup.Service's AWS config load.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{
		Config:   cfg,
		Log:      log,
		adapters: make(map[int64]exchange.Adapter),
	}

	if err := c.wireDatabases(); err != nil {
		return nil, err
	}
	c.wireRepositories()
	c.wireWorkflows()

	if cfg.BackupEnabled {
		if err := c.wireBackup(ctx); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func (c *Container) wireDatabases() error {
	ledger, err := database.New(database.Config{
		Path:    c.Config.DataDir + "/ledger.db",
		Profile: database.ProfileLedger,
		Name:    "ledger",
	})
	if err != nil {
		return fmt.Errorf("open ledger database: %w", err)
	}
	if err := ledger.Migrate(); err != nil {
		return fmt.Errorf("migrate ledger database: %w", err)
	}

	cache, err := database.New(database.Config{
		Path:    c.Config.DataDir + "/cache.db",
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		return fmt.Errorf("open cache database: %w", err)
	}
	if err := cache.Migrate(); err != nil {
		return fmt.Errorf("migrate cache database: %w", err)
	}

	c.LedgerDB = ledger
	c.CacheDB = cache
	return nil
}

func (c *Container) wireRepositories() {
	c.Accounts = account.NewRepository(c.LedgerDB.Conn(), c.Log)
	c.KillSwitch = account.NewKillSwitch(c.LedgerDB.Conn())
	c.Symbols = symbol.NewRepository(c.LedgerDB.Conn(), c.Log)
	c.Positions = position.NewRepository(c.LedgerDB.Conn(), c.Log)
	c.Orders = position.NewOrderRepository(c.LedgerDB.Conn(), c.Log)
	c.Snapshots = snapshotcache.New(c.CacheDB.Conn(), c.Log)
	c.Steps = stepengine.NewRepository(c.LedgerDB.Conn(), c.Log)
}

// wireWorkflows builds the atomic-job registry and the dispatcher on top of
// it. Deps.Evaluator is set after the Deps value exists because
// OrderChangeEvaluator needs an Enqueuer that itself closes over Deps — the
// same one-step-delayed wiring the teacher uses for its own observer/service
// cycles.
func (c *Container) wireWorkflows() {
	runner := jobrun.NewRunner(jobrun.DefaultRunnerConfig(), c.Log)
	c.Engine = stepengine.NewEngine(c.Steps, runner, c.Log)
	c.Notify = notify.NewLogNotifier(c.Log)
	c.Events = events.NewManager(c.Log)

	// Route every position lifecycle event into an operator alert — the
	// one standing subscriber until a real notification channel replaces
	// notify.LogNotifier.
	c.Events.Subscribe(events.PositionActivated, c.notifyOnEvent)
	c.Events.Subscribe(events.PositionClosed, c.notifyOnEvent)
	c.Events.Subscribe(events.PositionCancelled, c.notifyOnEvent)

	deps := &workflows.Deps{
		Positions: c.Positions,
		Orders:    c.Orders,
		Accounts:  c.Accounts,
		Symbols:   c.Symbols,
		Cache:     c.Snapshots,
		Steps:     c.Steps,
		Adapter:   c.adapterFor,
		Notify:    c.Notify,
		Events:    c.Events,
		Log:       c.Log,
	}

	enqueuer := workflows.NewEnqueuer(deps)
	c.Evaluator = position.NewOrderChangeEvaluator(enqueuer, c.Log)
	deps.Evaluator = c.Evaluator

	workflows.Register(c.Engine, deps)

	c.Dispatcher = dispatcher.New(dispatcher.Config{
		BlockConcurrency: c.Config.DefaultConcurrency,
	}, c.Engine, c.Steps, c.Accounts, c.Positions, c.Orders, c.Log)
}

// notifyOnEvent forwards a position lifecycle event to the operator
// notification channel as a one-line alert.
func (c *Container) notifyOnEvent(evt events.EventWithData) {
	_ = c.Notify.Alert(context.Background(), string(evt.Type), fmt.Sprintf("%s: %+v", evt.Type, evt.Data))
}

func (c *Container) wireBackup(ctx context.Context) error {
	svc, err := backup.New(ctx, backup.Config{
		Bucket:        c.Config.BackupBucket,
		CredentialKey: c.Config.CredentialKey,
		Databases: map[string]*database.DB{
			"ledger": c.LedgerDB,
			"cache":  c.CacheDB,
		},
		Log: c.Log,
	})
	if err != nil {
		return fmt.Errorf("wire backup service: %w", err)
	}
	c.Backup = svc
	return nil
}

// adapterFor resolves and memoizes one exchange.Adapter per account,
// decrypting credentials with the process credential key on first use only.
func (c *Container) adapterFor(accountID int64) (exchange.Adapter, error) {
	c.adapterMu.Lock()
	defer c.adapterMu.Unlock()

	if a, ok := c.adapters[accountID]; ok {
		return a, nil
	}

	acc, err := c.Accounts.Get(accountID)
	if err != nil {
		return nil, fmt.Errorf("adapter for account %d: %w", accountID, err)
	}
	creds, err := acc.Credentials(func(enc string) (string, error) {
		return cryptoutil.Decrypt(c.Config.CredentialKey, enc)
	})
	if err != nil {
		return nil, fmt.Errorf("decrypt credentials for account %d: %w", accountID, err)
	}

	limiter := ratelimit.New(10, 20)

	var adapter exchange.Adapter
	switch acc.Exchange {
	case "binance":
		adapter = binance.New(creds, limiter, accountID)
	case "bybit":
		adapter = bybit.New(creds, limiter, accountID)
	case "bitget":
		adapter = bitget.New(creds, limiter, accountID)
	case "kucoin":
		adapter = kucoin.New(creds, limiter, accountID)
	case "kraken":
		krakenAdapter, err := kraken.New(creds, limiter, accountID)
		if err != nil {
			return nil, fmt.Errorf("build kraken adapter for account %d: %w", accountID, err)
		}
		adapter = krakenAdapter
	default:
		return nil, fmt.Errorf("adapter for account %d: unsupported exchange %q", accountID, acc.Exchange)
	}

	c.adapters[accountID] = adapter
	return adapter, nil
}

// Close releases both database connections. Call once during shutdown,
// after the dispatcher and server have stopped.
func (c *Container) Close() error {
	var firstErr error
	if err := c.LedgerDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.CacheDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
