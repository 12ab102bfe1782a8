// Package dispatcher is the scheduler (SPEC_FULL §4/§2 component J): a
// cron-driven tick that enqueues sync workflows per active position and
// drives any correction blocks the order observer persisted, with
// per-account concurrency caps and a per-position mutex so at most one
// workflow mutates a given position at a time (SPEC_FULL §5 "Scheduling
// model"). Shaped after the teacher's internal/scheduler.Scheduler: a thin
// wrapper around robfig/cron/v3 with named jobs and Start/Stop.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/martingalian/ladder-engine/internal/account"
	"github.com/martingalian/ladder-engine/internal/position"
	"github.com/martingalian/ladder-engine/internal/stepengine"
	"github.com/martingalian/ladder-engine/internal/utils"
	"github.com/martingalian/ladder-engine/internal/workflows"
)

// Dispatcher owns the cron schedule and the per-position locking discipline
// that keeps concurrent workflows from fighting over the same position.
type Dispatcher struct {
	cron *cron.Cron

	accounts  *account.Repository
	positions *position.Repository
	orders    *position.OrderRepository
	steps     *stepengine.Repository
	engine    *stepengine.Engine

	blockConcurrency int // per-block same-index concurrency cap handed to RunBlock

	mu    sync.Mutex
	locks map[int64]*sync.Mutex // position_id -> mutex; admission control for in-flight workflows

	log zerolog.Logger
}

// Config tunes a Dispatcher.
type Config struct {
	// BlockConcurrency caps same-index parallel steps within one RunBlock
	// call; 0 lets RunBlock fall back to the group size.
	BlockConcurrency int
}

// New builds a Dispatcher. engine must already have every atomic job class
// registered (workflows.Register), normally wired by internal/di at
// startup.
func New(cfg Config, engine *stepengine.Engine, steps *stepengine.Repository,
	accounts *account.Repository, positions *position.Repository, orders *position.OrderRepository,
	log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		cron:             cron.New(cron.WithSeconds()),
		accounts:         accounts,
		positions:        positions,
		orders:           orders,
		steps:            steps,
		engine:           engine,
		blockConcurrency: cfg.BlockConcurrency,
		locks:            make(map[int64]*sync.Mutex),
		log:              log.With().Str("component", "dispatcher").Logger(),
	}
}

// Start registers the tick job — and, if schedule.SmartReplace is set, a
// second lower-frequency job that sweeps every open position for orders
// the exchange silently dropped (SPEC_FULL §4.5 "SmartReplaceOrders") —
// then starts the cron scheduler. The admin HTTP surface's "scheduler
// start/stop" operator command (SPEC_FULL §6) calls this and Stop.
func (d *Dispatcher) Start(ctx context.Context, schedule Schedule) error {
	if schedule.Sync == "" {
		return fmt.Errorf("dispatcher: sync schedule required")
	}
	if _, err := d.cron.AddFunc(schedule.Sync, func() {
		if err := d.Tick(ctx); err != nil {
			d.log.Error().Err(err).Msg("dispatcher tick failed")
		}
	}); err != nil {
		return fmt.Errorf("register dispatcher tick: %w", err)
	}

	if schedule.SmartReplace != "" {
		if _, err := d.cron.AddFunc(schedule.SmartReplace, func() {
			if err := d.SmartReplaceTick(ctx); err != nil {
				d.log.Error().Err(err).Msg("dispatcher smart-replace tick failed")
			}
		}); err != nil {
			return fmt.Errorf("register dispatcher smart-replace tick: %w", err)
		}
	}

	d.cron.Start()
	d.log.Info().Str("sync_schedule", schedule.Sync).Str("smart_replace_schedule", schedule.SmartReplace).Msg("dispatcher started")
	return nil
}

// Schedule carries the robfig/cron/v3 expressions (seconds field enabled)
// for the dispatcher's two cron jobs.
type Schedule struct {
	Sync         string
	SmartReplace string
}

// Stop drains in-flight cron invocations before returning.
func (d *Dispatcher) Stop() {
	stopCtx := d.cron.Stop()
	<-stopCtx.Done()
	d.log.Info().Msg("dispatcher stopped")
}

// Tick is one scheduler pass: sync every open position across every
// tradeable account, then drive whatever correction/SmartReplace blocks the
// observer or a prior SmartReplace sweep persisted. Exported so tests and
// the admin "run now" surface can invoke it outside the cron schedule.
func (d *Dispatcher) Tick(ctx context.Context) error {
	defer utils.OperationTimer("dispatcher_tick", d.log)()

	accounts, err := d.accounts.Tradeable()
	if err != nil {
		return fmt.Errorf("dispatcher tick: list tradeable accounts: %w", err)
	}

	for _, acct := range accounts {
		if err := d.tickAccount(ctx, acct); err != nil {
			d.log.Error().Err(err).Int64("account_id", acct.ID).Msg("account tick failed")
		}
	}

	if err := d.drivePendingBlocks(ctx); err != nil {
		d.log.Error().Err(err).Msg("drive pending blocks failed")
	}
	return nil
}

// tickAccount runs SyncPositionOrders for every open position of acct, up
// to acct.MaxConcurrency concurrent workflows (SPEC_FULL §2 "admission
// control, per-account concurrency caps").
func (d *Dispatcher) tickAccount(ctx context.Context, acct *account.Account) error {
	positions, err := d.positions.ListOpenByAccount(acct.ID)
	if err != nil {
		return fmt.Errorf("list open positions for account %d: %w", acct.ID, err)
	}

	concurrencyCap := acct.MaxConcurrency
	if concurrencyCap <= 0 {
		concurrencyCap = 1
	}
	sem := make(chan struct{}, concurrencyCap)
	var wg sync.WaitGroup

	for _, pos := range positions {
		if !pos.Status.IsOpened() {
			continue
		}
		pos := pos
		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if err := d.syncPosition(ctx, pos); err != nil {
				d.log.Error().Err(err).Int64("position_id", pos.ID).Msg("position sync failed")
			}
		}()
	}
	wg.Wait()
	return nil
}

// syncPosition runs SyncPositionOrders for one position, skipping it
// (rather than blocking) if another workflow already holds its lock — the
// per-position mutex from SPEC_FULL §5 "at-most-one concurrent workflow
// that mutates position state".
func (d *Dispatcher) syncPosition(ctx context.Context, pos *position.Position) error {
	lock, locked := d.tryLockPosition(pos.ID)
	if !locked {
		d.log.Debug().Int64("position_id", pos.ID).Msg("position busy, skipping this tick")
		return nil
	}
	defer d.unlockPosition(pos.ID, lock)

	orders, err := d.orders.ListByPosition(pos.ID)
	if err != nil {
		return err
	}
	orderIDs := make([]int64, 0, len(orders))
	for _, o := range orders {
		orderIDs = append(orderIDs, o.ID)
	}
	if len(orderIDs) == 0 {
		return nil
	}

	b := workflows.BuildSyncPositionOrdersBlock(pos.ID, orderIDs)
	if err := d.steps.CreateBlock(b.Steps()); err != nil {
		return fmt.Errorf("persist sync block for position %d: %w", pos.ID, err)
	}
	return d.engine.RunBlock(ctx, b.BlockUUID(), stepengine.RunBlockOpts{Concurrency: d.blockConcurrency})
}

// SmartReplaceTick sweeps every open position of every tradeable account
// for orders missing from the exchange's open-orders list (SPEC_FULL §4.8),
// one position at a time, with the same per-position locking discipline as
// Tick. Exported for the same reasons as Tick: tests and an
// admin "run now" surface.
func (d *Dispatcher) SmartReplaceTick(ctx context.Context) error {
	accounts, err := d.accounts.Tradeable()
	if err != nil {
		return fmt.Errorf("smart-replace tick: list tradeable accounts: %w", err)
	}
	for _, acct := range accounts {
		positions, err := d.positions.ListOpenByAccount(acct.ID)
		if err != nil {
			d.log.Error().Err(err).Int64("account_id", acct.ID).Msg("list open positions failed")
			continue
		}
		for _, pos := range positions {
			if !pos.Status.IsOpened() {
				continue
			}
			if err := d.smartReplacePosition(ctx, pos); err != nil {
				d.log.Error().Err(err).Int64("position_id", pos.ID).Msg("smart-replace failed")
			}
		}
	}
	return nil
}

func (d *Dispatcher) smartReplacePosition(ctx context.Context, pos *position.Position) error {
	lock, locked := d.tryLockPosition(pos.ID)
	if !locked {
		d.log.Debug().Int64("position_id", pos.ID).Msg("position busy, skipping smart-replace this tick")
		return nil
	}
	defer d.unlockPosition(pos.ID, lock)

	b := workflows.BuildSmartReplaceBlock(pos.ID)
	if err := d.steps.CreateBlock(b.Steps()); err != nil {
		return fmt.Errorf("persist smart-replace block for position %d: %w", pos.ID, err)
	}
	return d.engine.RunBlock(ctx, b.BlockUUID(), stepengine.RunBlockOpts{Concurrency: d.blockConcurrency})
}

// drivePendingBlocks runs every root block a correction Enqueuer or a prior
// SmartReplace sweep persisted but hasn't been driven to completion yet —
// the durable-queue half of workflows.Enqueuer (SPEC_FULL §9).
func (d *Dispatcher) drivePendingBlocks(ctx context.Context) error {
	blockUUIDs, err := d.steps.ListPendingRootBlocks(64)
	if err != nil {
		return fmt.Errorf("list pending root blocks: %w", err)
	}
	for _, blockUUID := range blockUUIDs {
		if err := d.engine.RunBlock(ctx, blockUUID, stepengine.RunBlockOpts{Concurrency: d.blockConcurrency}); err != nil {
			d.log.Error().Err(err).Str("block_uuid", blockUUID).Msg("pending block run failed")
		}
	}
	return nil
}

func (d *Dispatcher) tryLockPosition(positionID int64) (*sync.Mutex, bool) {
	d.mu.Lock()
	lock, ok := d.locks[positionID]
	if !ok {
		lock = &sync.Mutex{}
		d.locks[positionID] = lock
	}
	d.mu.Unlock()
	return lock, lock.TryLock()
}

func (d *Dispatcher) unlockPosition(positionID int64, lock *sync.Mutex) {
	lock.Unlock()
}
