package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"copyfund/internal/metrics"
	"copyfund/internal/models"
	"copyfund/internal/repository"
)

// InvestmentService owns investment lifecycle transitions. Every transition
// writes status and schedule together so an active SIP always has a
// next_execution_at and nothing else does.
type InvestmentService struct {
	Repo    repository.Repository
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	Now          func() time.Time
	NewSignature func() string
}

type CreateInvestmentInput struct {
	UserID    string
	FundID    uint64
	Kind      string
	Frequency string
	Amount    decimal.Decimal
}

func (s *InvestmentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *InvestmentService) signature() string {
	if s.NewSignature != nil {
		return s.NewSignature()
	}
	return uuid.NewString()
}

func (s *InvestmentService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

func (in CreateInvestmentInput) normalize() (CreateInvestmentInput, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.Kind = strings.ToLower(strings.TrimSpace(in.Kind))
	in.Frequency = strings.ToLower(strings.TrimSpace(in.Frequency))
	if in.UserID == "" {
		return in, fmt.Errorf("%w: user_id required", ErrInvalidInput)
	}
	if in.FundID == 0 {
		return in, fmt.Errorf("%w: fund_id required", ErrInvalidInput)
	}
	if !in.Amount.IsPositive() {
		return in, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	switch in.Kind {
	case models.InvestmentKindRecurring:
		if _, err := Period(in.Frequency); err != nil {
			return in, fmt.Errorf("%w: frequency must be daily, weekly or monthly", ErrInvalidInput)
		}
	case models.InvestmentKindOneTime:
		if in.Frequency != "" {
			return in, fmt.Errorf("%w: one-time investments have no frequency", ErrInvalidInput)
		}
	default:
		return in, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, in.Kind)
	}
	return in, nil
}

// Create opens an investment in an active fund and records the initial
// allocation in the ledger.
func (s *InvestmentService) Create(ctx context.Context, input CreateInvestmentInput) (*models.Investment, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("investment service unavailable")
	}
	in, err := input.normalize()
	if err != nil {
		return nil, err
	}
	now := s.now()

	var created *models.Investment
	err = s.Repo.InTx(ctx, func(tx repository.LedgerTx) error {
		fund, err := tx.GetFund(in.FundID)
		if err != nil {
			return err
		}
		if fund == nil {
			return fmt.Errorf("fund %d: %w", in.FundID, ErrNotFound)
		}
		if !fund.IsActive() {
			return ErrFundInactive
		}
		if fund.MinInvestment.IsPositive() && in.Amount.LessThan(fund.MinInvestment) {
			return fmt.Errorf("%w: amount below fund minimum %s", ErrInvalidInput, fund.MinInvestment.String())
		}
		if fund.MaxInvestment.IsPositive() && in.Amount.GreaterThan(fund.MaxInvestment) {
			return fmt.Errorf("%w: amount above fund maximum %s", ErrInvalidInput, fund.MaxInvestment.String())
		}

		inv := &models.Investment{
			UserID: in.UserID,
			FundID: fund.ID,
			Kind:   in.Kind,
			Status: models.InvestmentStatusActive,
			Amount: in.Amount,
		}
		if in.Kind == models.InvestmentKindRecurring {
			freq := in.Frequency
			next, err := NextExecution(now, freq)
			if err != nil {
				return err
			}
			inv.Frequency = &freq
			inv.NextExecutionAt = &next
		}
		if err := tx.CreateInvestment(inv); err != nil {
			return err
		}

		fundID := fund.ID
		if _, err := tx.InsertTradeReplication(&models.TradeReplication{
			InvestmentID:   inv.ID,
			FundID:         &fundID,
			Amount:         inv.Amount,
			Kind:           models.ReplicationKindInvestment,
			Status:         models.ReplicationStatusCompleted,
			Direction:      models.DirectionBuy,
			TxSignature:    s.signature(),
			IdempotencyKey: fmt.Sprintf("investment:%d", inv.ID),
			ExecutedAt:     now,
		}); err != nil {
			return err
		}
		created = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.Metrics.ReplicationAppended(models.ReplicationKindInvestment, 1)
	s.logger().Info("investment created",
		zap.Uint64("investment_id", created.ID),
		zap.Uint64("fund_id", created.FundID),
		zap.String("kind", created.Kind),
		zap.String("frequency", created.FrequencyValue()),
	)
	return created, nil
}

// Pause stops an active SIP and clears its schedule. Pausing a paused SIP is a no-op.
func (s *InvestmentService) Pause(ctx context.Context, id uint64) (*models.Investment, error) {
	return s.transition(ctx, id, "pause", func(inv *models.Investment, now time.Time) (*repository.ScheduleUpdate, error) {
		if !inv.IsRecurring() {
			return nil, fmt.Errorf("%w: only SIPs can be paused", ErrInvalidTransition)
		}
		switch inv.Status {
		case models.InvestmentStatusPaused:
			return nil, nil
		case models.InvestmentStatusActive:
			return &repository.ScheduleUpdate{Status: models.InvestmentStatusPaused}, nil
		default:
			return nil, fmt.Errorf("%w: cannot pause %s investment", ErrInvalidTransition, inv.Status)
		}
	})
}

// Resume reactivates a paused SIP. The next run is one period from now;
// runs missed while paused are not made up.
func (s *InvestmentService) Resume(ctx context.Context, id uint64) (*models.Investment, error) {
	return s.transition(ctx, id, "resume", func(inv *models.Investment, now time.Time) (*repository.ScheduleUpdate, error) {
		if !inv.IsRecurring() {
			return nil, fmt.Errorf("%w: only SIPs can be resumed", ErrInvalidTransition)
		}
		switch inv.Status {
		case models.InvestmentStatusActive:
			return nil, nil
		case models.InvestmentStatusPaused:
			next, err := NextExecution(now, inv.FrequencyValue())
			if err != nil {
				return nil, err
			}
			return &repository.ScheduleUpdate{Status: models.InvestmentStatusActive, NextExecutionAt: &next}, nil
		default:
			return nil, fmt.Errorf("%w: cannot resume %s investment", ErrInvalidTransition, inv.Status)
		}
	})
}

// Cancel is terminal. The schedule is cleared in the same write.
func (s *InvestmentService) Cancel(ctx context.Context, id uint64) (*models.Investment, error) {
	return s.transition(ctx, id, "cancel", func(inv *models.Investment, now time.Time) (*repository.ScheduleUpdate, error) {
		if inv.Status == models.InvestmentStatusCancelled {
			return nil, nil
		}
		return &repository.ScheduleUpdate{Status: models.InvestmentStatusCancelled}, nil
	})
}

type transitionFunc func(inv *models.Investment, now time.Time) (*repository.ScheduleUpdate, error)

// transition locks the investment (waiting for a running executor), applies
// fn and returns the updated row. A nil update from fn means no change.
func (s *InvestmentService) transition(ctx context.Context, id uint64, action string, fn transitionFunc) (*models.Investment, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("investment service unavailable")
	}
	if id == 0 {
		return nil, fmt.Errorf("%w: id required", ErrInvalidInput)
	}
	now := s.now()
	var out *models.Investment
	changed := false
	err := s.Repo.InTx(ctx, func(tx repository.LedgerTx) error {
		inv, err := tx.LockInvestment(id)
		if err != nil {
			return err
		}
		if inv == nil {
			return fmt.Errorf("investment %d: %w", id, ErrNotFound)
		}
		update, err := fn(inv, now)
		if err != nil {
			return err
		}
		if update == nil {
			out = inv
			return nil
		}
		if err := tx.UpdateInvestmentSchedule(inv.ID, *update); err != nil {
			return err
		}
		inv.Status = update.Status
		inv.NextExecutionAt = update.NextExecutionAt
		inv.UpdatedAt = now
		out = inv
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.logger().Info("investment "+action,
			zap.Uint64("investment_id", out.ID),
			zap.String("status", out.Status),
		)
	}
	return out, nil
}

func (s *InvestmentService) Get(ctx context.Context, id uint64) (*models.Investment, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("investment service unavailable")
	}
	inv, err := s.Repo.GetInvestmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		return nil, fmt.Errorf("investment %d: %w", id, ErrNotFound)
	}
	return inv, nil
}

func (s *InvestmentService) ListUpcoming(ctx context.Context, params repository.ListUpcomingSIPsParams) ([]models.Investment, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	return s.Repo.ListUpcomingSIPs(ctx, params)
}

func (s *InvestmentService) ListReplications(ctx context.Context, params repository.ListTradeReplicationsParams) ([]models.TradeReplication, int64, error) {
	if s == nil || s.Repo == nil {
		return nil, 0, nil
	}
	items, err := s.Repo.ListTradeReplications(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountTradeReplications(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}
