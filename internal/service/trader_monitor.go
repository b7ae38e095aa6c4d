package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"copyfund/internal/activity"
	"copyfund/internal/config"
	"copyfund/internal/metrics"
	"copyfund/internal/models"
	"copyfund/internal/repository"
)

// TraderMonitor polls the trader wallets of every active fund and fans each
// detected trade out to the fund's active investments.
type TraderMonitor struct {
	Repo     repository.Repository
	Detector activity.Detector
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Flags    *SystemSettingsService
	Config   config.MonitorConfig

	Now          func() time.Time
	NewSignature func() string
}

type MonitorResult struct {
	Funds       int
	Wallets     int
	Trades      int
	Rows        int
	FailedFunds int
}

type WalletResult struct {
	Trades int
	Rows   int
}

func (m *TraderMonitor) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *TraderMonitor) signature() string {
	if m.NewSignature != nil {
		return m.NewSignature()
	}
	return uuid.NewString()
}

func (m *TraderMonitor) logger() *zap.Logger {
	if m.Logger == nil {
		return zap.NewNop()
	}
	return m.Logger
}

func (m *TraderMonitor) detectorName() string {
	if m.Detector == nil {
		return "none"
	}
	return m.Detector.Name()
}

// RunOnce checks every monitorable fund. A failing fund never stops the others.
func (m *TraderMonitor) RunOnce(ctx context.Context) (MonitorResult, error) {
	var res MonitorResult
	if m == nil || m.Repo == nil || m.Detector == nil {
		return res, nil
	}
	if m.Flags != nil && !m.Flags.IsEnabled(ctx, FeatureWalletMonitor, true) {
		m.logger().Debug("wallet monitor disabled")
		return res, nil
	}

	funds, err := m.Repo.ListMonitorableFunds(ctx, m.Config.MaxFunds)
	if err != nil {
		return res, fmt.Errorf("list monitorable funds: %w", err)
	}
	res.Funds = len(funds)
	if len(funds) == 0 {
		return res, nil
	}

	workers := m.Config.Workers
	if workers <= 0 {
		workers = 4
	}
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(workers)
	for _, fund := range funds {
		fund := fund
		g.Go(func() error {
			wallets, fr, err := m.MonitorFund(ctx, fund)
			mu.Lock()
			res.Wallets += wallets
			res.Trades += fr.Trades
			res.Rows += fr.Rows
			if err != nil {
				res.FailedFunds++
			}
			mu.Unlock()
			if err != nil {
				m.logger().Warn("fund monitor failed",
					zap.Uint64("fund_id", fund.ID),
					zap.String("fund", fund.Name),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	m.logger().Info("wallet monitor cycle done",
		zap.String("detector", m.detectorName()),
		zap.Int("funds", res.Funds),
		zap.Int("wallets", res.Wallets),
		zap.Int("trades", res.Trades),
		zap.Int("rows", res.Rows),
		zap.Int("failed_funds", res.FailedFunds),
	)
	return res, nil
}

// MonitorFund checks each wallet of one fund. Wallet failures are joined and
// returned after every wallet had its turn.
func (m *TraderMonitor) MonitorFund(ctx context.Context, fund models.Fund) (int, WalletResult, error) {
	var (
		total WalletResult
		errs  []error
	)
	wallets := fund.Wallets()
	for _, wallet := range wallets {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		wr, err := m.CheckWallet(ctx, fund, wallet)
		total.Trades += wr.Trades
		total.Rows += wr.Rows
		switch {
		case err == nil:
			m.Metrics.WalletCheck(m.detectorName(), "ok")
		case IsSkip(err):
			m.Metrics.WalletCheck(m.detectorName(), "skipped")
			m.logger().Debug("wallet check skipped",
				zap.Uint64("fund_id", fund.ID),
				zap.String("wallet", wallet),
				zap.String("reason", err.Error()),
			)
		default:
			m.Metrics.WalletCheck(m.detectorName(), "error")
			errs = append(errs, fmt.Errorf("wallet %s: %w", wallet, err))
		}
	}
	return len(wallets), total, errors.Join(errs...)
}

// CheckWallet runs the detector outside any transaction, then records the
// replications and the new cursor atomically. If the cursor moved while the
// detector ran, the results are discarded and ErrCursorMoved is returned.
func (m *TraderMonitor) CheckWallet(ctx context.Context, fund models.Fund, wallet string) (WalletResult, error) {
	var out WalletResult
	timeout := m.Config.ItemTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	itemCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cursor, err := m.Repo.GetWalletCursor(itemCtx, fund.ID, wallet)
	if err != nil {
		return out, err
	}
	since := ""
	if cursor != nil {
		since = stringValue(cursor.LastSignature)
	}

	det, err := m.Detector.Detect(itemCtx, wallet, since)
	if err != nil {
		m.recordWalletError(ctx, fund.ID, wallet, err)
		return out, fmt.Errorf("detect: %w", err)
	}

	now := m.now()
	var rows int
	err = m.Repo.InTx(itemCtx, func(tx repository.LedgerTx) error {
		rows = 0
		locked, err := tx.LockWalletCursor(fund.ID, wallet)
		if err != nil {
			return err
		}
		if stringValue(locked.LastSignature) != since {
			return ErrCursorMoved
		}
		current, err := tx.GetFund(fund.ID)
		if err != nil {
			return err
		}
		if current == nil || !current.IsActive() {
			return ErrFundInactive
		}

		if len(det.Trades) > 0 {
			investments, err := tx.ListActiveInvestmentsByFund(fund.ID)
			if err != nil {
				return err
			}
			fundID := fund.ID
			for _, trade := range det.Trades {
				for _, inv := range investments {
					row := &models.TradeReplication{
						InvestmentID:    inv.ID,
						FundID:          &fundID,
						Amount:          ReplicationAmount(inv.Amount, trade.Ratio),
						Kind:            models.ReplicationKindTradeReplication,
						Status:          models.ReplicationStatusCompleted,
						Direction:       normalizeDirection(trade.Direction),
						TxSignature:     m.signature(),
						IdempotencyKey:  fmt.Sprintf("trade:%d:%s", inv.ID, trade.Signature),
						SourceWallet:    wallet,
						SourceSignature: trade.Signature,
						ExecutedAt:      now,
					}
					inserted, err := tx.InsertTradeReplication(row)
					if err != nil {
						return err
					}
					if inserted {
						rows++
					}
				}
				if !trade.At.IsZero() {
					at := trade.At.UTC()
					if locked.LastTradeAt == nil || at.After(*locked.LastTradeAt) {
						locked.LastTradeAt = &at
					}
				}
			}
		}

		if det.Cursor != "" {
			c := det.Cursor
			locked.LastSignature = &c
		}
		locked.LastCheckedAt = &now
		locked.LastError = nil
		return tx.SaveWalletCursor(locked)
	})
	if err != nil {
		return out, err
	}
	out.Trades = len(det.Trades)
	out.Rows = rows
	m.Metrics.ReplicationAppended(models.ReplicationKindTradeReplication, rows)
	if rows > 0 {
		m.logger().Info("trades replicated",
			zap.Uint64("fund_id", fund.ID),
			zap.String("wallet", wallet),
			zap.Int("trades", out.Trades),
			zap.Int("rows", rows),
		)
	}
	return out, nil
}

// recordWalletError stores the last detector error on the cursor without
// touching its signature. Best effort.
func (m *TraderMonitor) recordWalletError(ctx context.Context, fundID uint64, wallet string, cause error) {
	now := m.now()
	msg := cause.Error()
	if len(msg) > 500 {
		msg = msg[:500]
	}
	err := m.Repo.InTx(ctx, func(tx repository.LedgerTx) error {
		locked, err := tx.LockWalletCursor(fundID, wallet)
		if err != nil {
			return err
		}
		locked.LastCheckedAt = &now
		locked.LastError = &msg
		return tx.SaveWalletCursor(locked)
	})
	if err != nil {
		m.logger().Debug("save wallet error failed", zap.Uint64("fund_id", fundID), zap.String("wallet", wallet), zap.Error(err))
	}
}

// ReplicationAmount scales an investment amount by the trade ratio, clamped
// to [0, amount].
func ReplicationAmount(amount, ratio decimal.Decimal) decimal.Decimal {
	if amount.Sign() <= 0 || ratio.Sign() <= 0 {
		return decimal.Zero
	}
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		ratio = decimal.NewFromInt(1)
	}
	out := amount.Mul(ratio).Round(8)
	if out.GreaterThan(amount) {
		return amount
	}
	return out
}

func normalizeDirection(v string) string {
	if strings.EqualFold(strings.TrimSpace(v), models.DirectionSell) {
		return models.DirectionSell
	}
	return models.DirectionBuy
}

func stringValue(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
