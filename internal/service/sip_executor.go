package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"copyfund/internal/config"
	"copyfund/internal/metrics"
	"copyfund/internal/models"
	"copyfund/internal/repository"
)

// SIPExecutor selects due SIPs and advances each one in its own transaction.
type SIPExecutor struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Flags   *SystemSettingsService
	Config  config.SchedulerConfig

	Now          func() time.Time
	NewSignature func() string
}

type SIPRunResult struct {
	Due      int
	Executed int
	Skipped  int
	Failed   int
}

func (e *SIPExecutor) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

func (e *SIPExecutor) signature() string {
	if e.NewSignature != nil {
		return e.NewSignature()
	}
	return uuid.NewString()
}

func (e *SIPExecutor) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

func (e *SIPExecutor) itemTimeout() time.Duration {
	if e.Config.ItemTimeout > 0 {
		return e.Config.ItemTimeout
	}
	return 10 * time.Second
}

// RunOnce runs one scheduler cycle. Only a failed selection is returned;
// per-item failures are logged and counted.
func (e *SIPExecutor) RunOnce(ctx context.Context) (SIPRunResult, error) {
	var res SIPRunResult
	if e == nil || e.Repo == nil {
		return res, nil
	}
	if e.Flags != nil && !e.Flags.IsEnabled(ctx, FeatureSIPExecution, true) {
		e.logger().Debug("sip execution disabled")
		return res, nil
	}
	now := e.now()
	batch := e.Config.BatchSize
	if batch <= 0 {
		batch = 500
	}
	if batch > 5000 {
		batch = 5000
	}

	workers := e.Config.Workers
	if workers <= 0 {
		workers = 8
	}

	// Page through every due SIP by (due_at, id). Rows that fail stay due and
	// are passed over by the cursor instead of filling the next page.
	params := repository.ListDueSIPsParams{Now: now, Limit: batch}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		selectCtx, cancel := context.WithTimeout(ctx, e.itemTimeout())
		due, err := e.Repo.ListDueSIPs(selectCtx, params)
		cancel()
		if err != nil {
			return res, fmt.Errorf("select due sips: %w", err)
		}
		res.Due += len(due)
		if len(due) == 0 {
			break
		}
		e.executePage(ctx, due, now, workers, &res)
		last := due[len(due)-1]
		lastAt := last.DueAt
		params.AfterDueAt = &lastAt
		params.AfterID = last.Investment.ID
		if len(due) < batch {
			break
		}
	}
	e.Metrics.SetDueSIPs(res.Due)
	if res.Due == 0 {
		e.logger().Debug("no due sips", zap.Time("now", now))
		return res, nil
	}

	e.logger().Info("sip cycle done",
		zap.Int("due", res.Due),
		zap.Int("executed", res.Executed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (e *SIPExecutor) executePage(ctx context.Context, due []models.DueInvestment, now time.Time, workers int, res *SIPRunResult) {
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(workers)
	for _, item := range due {
		item := item
		g.Go(func() error {
			_, err := e.ExecuteOne(ctx, item, now)
			outcome := e.logOutcome(item, err)
			mu.Lock()
			switch outcome {
			case "executed":
				res.Executed++
			case "skipped":
				res.Skipped++
			default:
				res.Failed++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (e *SIPExecutor) logOutcome(item models.DueInvestment, err error) string {
	fields := []zap.Field{
		zap.Uint64("investment_id", item.Investment.ID),
		zap.Uint64("fund_id", item.Investment.FundID),
		zap.Time("due_at", item.DueAt),
	}
	switch {
	case err == nil:
		e.Metrics.SIPResult("executed")
		return "executed"
	case IsSkip(err):
		e.Metrics.SIPResult("skipped")
		e.logger().Info("sip skipped", append(fields, zap.String("reason", err.Error()))...)
		return "skipped"
	case errors.Is(err, ErrInvariant):
		e.Metrics.SIPResult("invariant")
		e.logger().Error("sip invariant violation", append(fields, zap.Error(err))...)
	case IsTransient(err):
		e.Metrics.SIPResult("transient")
		e.logger().Warn("sip execution failed, retrying next tick", append(fields, zap.Error(err))...)
	default:
		e.Metrics.SIPResult("failed")
		e.logger().Error("sip execution failed", append(fields, zap.Error(err))...)
	}
	return "failed"
}

// ExecuteOne advances one due SIP and appends its ledger row atomically.
// The row is re-read under a SKIP LOCKED lock; if another executor holds it
// or has already advanced it past item.DueAt, ErrNotDue is returned.
func (e *SIPExecutor) ExecuteOne(ctx context.Context, item models.DueInvestment, now time.Time) (*models.TradeReplication, error) {
	itemCtx, cancel := context.WithTimeout(ctx, e.itemTimeout())
	defer cancel()

	var row *models.TradeReplication
	err := e.Repo.InTx(itemCtx, func(tx repository.LedgerTx) error {
		inv, err := tx.TryLockInvestment(item.Investment.ID)
		if err != nil {
			return err
		}
		if inv == nil {
			return ErrNotDue
		}
		if !inv.IsRecurring() || inv.Status != models.InvestmentStatusActive || inv.NextExecutionAt == nil {
			return ErrNotDue
		}
		prev := inv.NextExecutionAt.UTC()
		if !prev.Equal(item.DueAt.UTC()) || prev.After(now) {
			return ErrNotDue
		}
		next, err := AdvanceSchedule(prev, now, inv.FrequencyValue())
		if err != nil {
			return fmt.Errorf("investment %d: %w", inv.ID, err)
		}

		fund, err := tx.GetFund(inv.FundID)
		if err != nil {
			return err
		}
		if fund == nil || !fund.IsActive() {
			return ErrFundInactive
		}

		executedAt := now
		if err := tx.UpdateInvestmentSchedule(inv.ID, repository.ScheduleUpdate{
			Status:             models.InvestmentStatusActive,
			NextExecutionAt:    &next,
			LastExecutedAt:     &executedAt,
			IncrementExecution: true,
		}); err != nil {
			return err
		}

		fundID := fund.ID
		row = &models.TradeReplication{
			InvestmentID:   inv.ID,
			FundID:         &fundID,
			Amount:         inv.Amount,
			Kind:           models.ReplicationKindSIPExecution,
			Status:         models.ReplicationStatusCompleted,
			Direction:      models.DirectionBuy,
			TxSignature:    e.signature(),
			IdempotencyKey: sipIdempotencyKey(inv.ID, prev),
			ExecutedAt:     executedAt,
		}
		inserted, err := tx.InsertTradeReplication(row)
		if err != nil {
			return err
		}
		if !inserted {
			// This cycle was already recorded; roll the schedule update back.
			return ErrNotDue
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.Metrics.ReplicationAppended(models.ReplicationKindSIPExecution, 1)
	return row, nil
}

// AdvanceSchedule moves a due SIP forward by one period. An on-time run
// stays on its cadence (prev + period); a run that is a full period late
// restarts from now, so missed cycles are never made up.
func AdvanceSchedule(prev, now time.Time, frequency string) (time.Time, error) {
	p, err := Period(frequency)
	if err != nil {
		return time.Time{}, err
	}
	next := prev.UTC().Add(p)
	if !next.After(now) {
		next = now.UTC().Add(p)
	}
	return next, nil
}

func sipIdempotencyKey(investmentID uint64, dueAt time.Time) string {
	return fmt.Sprintf("sip:%d:%d", investmentID, dueAt.UTC().UnixNano())
}
