package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"copyfund/internal/activity"
	"copyfund/internal/config"
	"copyfund/internal/metrics"
	"copyfund/internal/models"
)

// scriptedDetector returns a fixed detection per wallet and can run a hook
// while "on the network".
type scriptedDetector struct {
	byWallet map[string]activity.Detection
	errs     map[string]error
	during   func(wallet string)

	mu    sync.Mutex
	calls map[string][]string
}

func (d *scriptedDetector) Name() string { return "scripted" }

func (d *scriptedDetector) Detect(ctx context.Context, wallet, since string) (activity.Detection, error) {
	d.mu.Lock()
	if d.calls == nil {
		d.calls = map[string][]string{}
	}
	d.calls[wallet] = append(d.calls[wallet], since)
	d.mu.Unlock()
	if d.during != nil {
		d.during(wallet)
	}
	if err := d.errs[wallet]; err != nil {
		return activity.Detection{}, err
	}
	return d.byWallet[wallet], nil
}

func newMonitor(repo *memRepo, det activity.Detector, clock *testClock) *TraderMonitor {
	return &TraderMonitor{
		Repo:     repo,
		Detector: det,
		Metrics:  metrics.New(),
		Config:   config.MonitorConfig{Workers: 2, ItemTimeout: time.Second, MaxFunds: 100},
		Now:      clock.Now,
	}
}

func addInvestments(repo *memRepo, fundID uint64, amounts ...int64) []models.Investment {
	out := make([]models.Investment, 0, len(amounts))
	for i, amount := range amounts {
		out = append(out, repo.addInvestment(models.Investment{
			UserID: "user-" + string(rune('a'+i)),
			FundID: fundID,
			Kind:   models.InvestmentKindOneTime,
			Status: models.InvestmentStatusActive,
			Amount: decimal.NewFromInt(amount),
		}))
	}
	return out
}

func TestTraderMonitorReplicatesToEveryActiveInvestment(t *testing.T) {
	clock := newTestClock(t0)
	repo := newMemRepo(clock.Now)
	fund := repo.addFund(models.Fund{Name: "Momentum", TraderWallets: models.WalletsJSON("wallet-a")})
	invs := addInvestments(repo, fund.ID, 1, 2, 3)

	det := activity.NewMockDetector(1, 0.5, 42)
	mon := newMonitor(repo, det, clock)

	res, err := mon.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Funds)
	require.Equal(t, 1, res.Wallets)
	require.Equal(t, 1, res.Trades)
	require.Equal(t, 3, res.Rows)

	rows := repo.rows(models.ReplicationKindTradeReplication)
	require.Len(t, rows, 3)
	amounts := map[uint64]decimal.Decimal{}
	for _, inv := range invs {
		amounts[inv.ID] = inv.Amount
	}
	sources := map[string]struct{}{}
	for _, row := range rows {
		limit, ok := amounts[row.InvestmentID]
		require.True(t, ok)
		require.True(t, row.Amount.GreaterThanOrEqual(decimal.Zero))
		require.True(t, row.Amount.LessThanOrEqual(limit), "amount %s > %s", row.Amount, limit)
		require.Equal(t, "wallet-a", row.SourceWallet)
		require.Equal(t, models.ReplicationStatusCompleted, row.Status)
		sources[row.SourceSignature] = struct{}{}
	}
	require.Len(t, sources, 1, "all rows mirror the same trader transaction")

	cur, ok := repo.cursor(fund.ID, "wallet-a")
	require.True(t, ok)
	require.NotNil(t, cur.LastSignature)
	require.Equal(t, rows[0].SourceSignature, *cur.LastSignature)
	require.NotNil(t, cur.LastCheckedAt)
	require.Nil(t, cur.LastError)
}

func TestTraderMonitorReplayedTradeIsNotDuplicated(t *testing.T) {
	clock := newTestClock(t0)
	repo := newMemRepo(clock.Now)
	fund := repo.addFund(models.Fund{Name: "Momentum", TraderWallets: models.WalletsJSON("wallet-a")})
	addInvestments(repo, fund.ID, 10, 20)

	det := &scriptedDetector{byWallet: map[string]activity.Detection{
		"wallet-a": {
			Trades: []activity.Trade{{Wallet: "wallet-a", Signature: "sig-1", Direction: "sell", Ratio: decimal.RequireFromString("0.25"), At: t0}},
			Cursor: "sig-1",
		},
	}}
	mon := newMonitor(repo, det, clock)

	res, err := mon.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Rows)

	res, err = mon.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Rows)
	require.Equal(t, []string{"", "sig-1"}, det.calls["wallet-a"])

	rows := repo.rows(models.ReplicationKindTradeReplication)
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, models.DirectionSell, row.Direction)
	}
	require.True(t, rows[0].Amount.Equal(decimal.RequireFromString("2.5")))
	require.True(t, rows[1].Amount.Equal(decimal.NewFromInt(5)))
}

func TestTraderMonitorSkipsPausedAndCancelledInvestments(t *testing.T) {
	clock := newTestClock(t0)
	repo := newMemRepo(clock.Now)
	fund := repo.addFund(models.Fund{Name: "Momentum", TraderWallets: models.WalletsJSON("wallet-a")})
	active := addInvestments(repo, fund.ID, 10)[0]
	repo.addInvestment(models.Investment{UserID: "p", FundID: fund.ID, Kind: models.InvestmentKindRecurring, Frequency: strPtr("daily"), Status: models.InvestmentStatusPaused, Amount: decimal.NewFromInt(10)})
	repo.addInvestment(models.Investment{UserID: "c", FundID: fund.ID, Kind: models.InvestmentKindOneTime, Status: models.InvestmentStatusCancelled, Amount: decimal.NewFromInt(10)})

	mon := newMonitor(repo, activity.NewMockDetector(1, 0.1, 7), clock)
	_, err := mon.RunOnce(context.Background())
	require.NoError(t, err)

	rows := repo.rows(models.ReplicationKindTradeReplication)
	require.Len(t, rows, 1)
	require.Equal(t, active.ID, rows[0].InvestmentID)
}

func TestTraderMonitorCursorMovedDiscardsDetection(t *testing.T) {
	clock := newTestClock(t0)
	repo := newMemRepo(clock.Now)
	fund := repo.addFund(models.Fund{Name: "Momentum", TraderWallets: models.WalletsJSON("wallet-a")})
	addInvestments(repo, fund.ID, 10)

	det := &scriptedDetector{
		byWallet: map[string]activity.Detection{
			"wallet-a": {
				Trades: []activity.Trade{{Wallet: "wallet-a", Signature: "sig-9", Ratio: decimal.RequireFromString("0.1")}},
				Cursor: "sig-9",
			},
		},
		during: func(wallet string) {
			other := "sig-other"
			_ = repo.SaveWalletCursor(context.Background(), &models.WalletCursor{FundID: fund.ID, Wallet: wallet, LastSignature: &other})
		},
	}
	mon := newMonitor(repo, det, clock)

	_, err := mon.CheckWallet(context.Background(), fund, "wallet-a")
	require.ErrorIs(t, err, ErrCursorMoved)
	require.Empty(t, repo.rows(""))
	cur, _ := repo.cursor(fund.ID, "wallet-a")
	require.Equal(t, "sig-other", *cur.LastSignature)
}

func TestTraderMonitorIsolatesFailingFund(t *testing.T) {
	clock := newTestClock(t0)
	repo := newMemRepo(clock.Now)
	bad := repo.addFund(models.Fund{Name: "Broken", TraderWallets: models.WalletsJSON("wallet-bad")})
	good := repo.addFund(models.Fund{Name: "Healthy", TraderWallets: models.WalletsJSON("wallet-good")})
	addInvestments(repo, bad.ID, 10)
	addInvestments(repo, good.ID, 10, 20)

	det := &scriptedDetector{
		byWallet: map[string]activity.Detection{
			"wallet-good": {
				Trades: []activity.Trade{{Wallet: "wallet-good", Signature: "g-1", Ratio: decimal.RequireFromString("0.5")}},
				Cursor: "g-1",
			},
		},
		errs: map[string]error{"wallet-bad": errors.New("rpc unavailable")},
	}
	mon := newMonitor(repo, det, clock)

	res, err := mon.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, res.Funds)
	require.Equal(t, 1, res.FailedFunds)
	require.Equal(t, 2, res.Rows)

	for _, row := range repo.rows(models.ReplicationKindTradeReplication) {
		require.Equal(t, good.ID, *row.FundID)
	}
	cur, ok := repo.cursor(bad.ID, "wallet-bad")
	require.True(t, ok)
	require.NotNil(t, cur.LastError)
	require.Contains(t, *cur.LastError, "rpc unavailable")
	require.Nil(t, cur.LastSignature)
}

func TestTraderMonitorNoTradesAdvancesCursorOnly(t *testing.T) {
	clock := newTestClock(t0)
	repo := newMemRepo(clock.Now)
	fund := repo.addFund(models.Fund{Name: "Quiet", TraderWallets: models.WalletsJSON("wallet-q")})
	addInvestments(repo, fund.ID, 10)

	det := &scriptedDetector{byWallet: map[string]activity.Detection{"wallet-q": {Cursor: "baseline"}}}
	mon := newMonitor(repo, det, clock)
	res, err := mon.RunOnce(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, res.Rows)
	require.Empty(t, repo.rows(""))
	cur, _ := repo.cursor(fund.ID, "wallet-q")
	require.Equal(t, "baseline", *cur.LastSignature)
}

func TestReplicationAmount(t *testing.T) {
	amount := decimal.NewFromInt(100)
	require.True(t, ReplicationAmount(amount, decimal.RequireFromString("0.1")).Equal(decimal.NewFromInt(10)))
	require.True(t, ReplicationAmount(amount, decimal.RequireFromString("1.7")).Equal(amount))
	require.True(t, ReplicationAmount(amount, decimal.RequireFromString("-0.2")).IsZero())
	require.True(t, ReplicationAmount(decimal.Zero, decimal.RequireFromString("0.5")).IsZero())
}
