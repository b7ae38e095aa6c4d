package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"copyfund/internal/models"
	"copyfund/internal/repository"
)

// setupVersion is bumped when setup gains steps that existing deployments
// must run again.
const setupVersion = 1

// SetupService runs one-time setup: schema migration, default switches and
// optional demo funds. Completion is persisted, so it survives restarts and
// is shared by every replica.
type SetupService struct {
	Repo          repository.Repository
	Settings      *SystemSettingsService
	Migrate       func(ctx context.Context) error
	SeedDemoFunds bool
	Logger        *zap.Logger

	Now func() time.Time
}

type SetupResult struct {
	Status  SetupStatus
	Skipped bool
}

func (s *SetupService) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// Run is idempotent. When setup already completed at the current version it
// only migrates, unless force is set.
func (s *SetupService) Run(ctx context.Context, force bool) (SetupResult, error) {
	if s == nil || s.Repo == nil {
		return SetupResult{}, fmt.Errorf("setup service unavailable")
	}
	if s.Migrate != nil {
		if err := s.Migrate(ctx); err != nil {
			return SetupResult{}, fmt.Errorf("migrate: %w", err)
		}
	}
	current, err := s.Settings.SetupStatus(ctx)
	if err != nil {
		return SetupResult{}, fmt.Errorf("read setup status: %w", err)
	}
	if current.Completed && current.Version >= setupVersion && !force {
		return SetupResult{Status: current, Skipped: true}, nil
	}

	if err := s.Settings.EnsureDefaultSwitches(ctx); err != nil {
		return SetupResult{}, fmt.Errorf("feature switches: %w", err)
	}
	seeded := 0
	if s.SeedDemoFunds {
		seeded, err = s.seedDemoFunds(ctx)
		if err != nil {
			return SetupResult{}, fmt.Errorf("seed funds: %w", err)
		}
	}

	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	status := SetupStatus{
		Completed:   true,
		CompletedAt: now,
		SeededFunds: current.SeededFunds + seeded,
		Version:     setupVersion,
	}
	if err := s.Settings.SaveSetupStatus(ctx, status); err != nil {
		return SetupResult{}, fmt.Errorf("save setup status: %w", err)
	}
	s.logger().Info("setup completed", zap.Int("seeded_funds", seeded), zap.Int("version", setupVersion))
	return SetupResult{Status: status}, nil
}

// DemoFunds are the funds created by setup when seeding is enabled.
func DemoFunds() []models.Fund {
	return []models.Fund{
		{
			Name:             "Momentum Leaders",
			Description:      "Mirrors two high-frequency momentum traders.",
			TraderWallets:    models.WalletsJSON("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", "5Q544fKrFoe6tsEbD7S8EmxGTJYAKtTVhAW5Q5pge4j1"),
			Status:           models.FundStatusActive,
			ManagementFeeBps: 100,
			MinInvestment:    decimal.NewFromInt(10),
			MaxInvestment:    decimal.NewFromInt(100000),
		},
		{
			Name:             "Steady Accumulator",
			Description:      "Follows a single long-horizon accumulation wallet.",
			TraderWallets:    models.WalletsJSON("GThUX1Atko4tqhN2NaiTazWSeFWMuiUvfFnyJyUghFMJ"),
			Status:           models.FundStatusActive,
			ManagementFeeBps: 50,
			MinInvestment:    decimal.NewFromInt(5),
			MaxInvestment:    decimal.NewFromInt(50000),
		},
	}
}

func (s *SetupService) seedDemoFunds(ctx context.Context) (int, error) {
	seeded := 0
	for _, fund := range DemoFunds() {
		existing, err := s.Repo.GetFundByName(ctx, fund.Name)
		if err != nil {
			return seeded, err
		}
		if existing != nil {
			continue
		}
		item := fund
		if err := s.Repo.UpsertFund(ctx, &item); err != nil {
			return seeded, err
		}
		seeded++
	}
	return seeded, nil
}
