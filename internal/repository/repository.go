package repository

import (
	"context"
	"time"

	"copyfund/internal/models"
)

// Repository is the store handle shared by the scheduler jobs and the ops API.
// Jobs talk to each other only through it.
type Repository interface {
	InTx(ctx context.Context, fn func(tx LedgerTx) error) error
	Ping(ctx context.Context) error

	// Funds
	UpsertFund(ctx context.Context, item *models.Fund) error
	GetFundByID(ctx context.Context, id uint64) (*models.Fund, error)
	GetFundByName(ctx context.Context, name string) (*models.Fund, error)
	ListMonitorableFunds(ctx context.Context, limit int) ([]models.Fund, error)

	// Investments
	GetInvestmentByID(ctx context.Context, id uint64) (*models.Investment, error)
	ListDueSIPs(ctx context.Context, params ListDueSIPsParams) ([]models.DueInvestment, error)
	ListActiveInvestmentsByFund(ctx context.Context, fundID uint64) ([]models.Investment, error)
	ListUpcomingSIPs(ctx context.Context, params ListUpcomingSIPsParams) ([]models.Investment, error)

	// Ledger
	ListTradeReplications(ctx context.Context, params ListTradeReplicationsParams) ([]models.TradeReplication, error)
	CountTradeReplications(ctx context.Context, params ListTradeReplicationsParams) (int64, error)
	DeleteTradeReplicationsBefore(ctx context.Context, before time.Time, batchSize int) (int64, error)

	// Wallet cursors
	GetWalletCursor(ctx context.Context, fundID uint64, wallet string) (*models.WalletCursor, error)
	SaveWalletCursor(ctx context.Context, item *models.WalletCursor) error

	// System settings
	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
}

// LedgerTx is the set of writes that must commit together. Implementations
// bind it to one database transaction.
type LedgerTx interface {
	// TryLockInvestment row-locks an investment without waiting. It returns
	// nil when the row is missing or already locked by another transaction.
	TryLockInvestment(id uint64) (*models.Investment, error)
	// LockInvestment row-locks an investment, waiting for other holders.
	LockInvestment(id uint64) (*models.Investment, error)
	GetFund(id uint64) (*models.Fund, error)
	ListActiveInvestmentsByFund(fundID uint64) ([]models.Investment, error)
	CreateInvestment(item *models.Investment) error
	UpdateInvestmentSchedule(id uint64, update ScheduleUpdate) error
	// InsertTradeReplication appends a ledger row. A row whose idempotency
	// key already exists is skipped and reported as not inserted.
	InsertTradeReplication(item *models.TradeReplication) (bool, error)
	// LockWalletCursor returns the locked cursor row, creating it when absent.
	LockWalletCursor(fundID uint64, wallet string) (*models.WalletCursor, error)
	SaveWalletCursor(item *models.WalletCursor) error
}

// ScheduleUpdate is applied to an investment's lifecycle and schedule columns.
// NextExecutionAt is always written, so nil clears the schedule.
type ScheduleUpdate struct {
	Status             string
	NextExecutionAt    *time.Time
	LastExecutedAt     *time.Time
	IncrementExecution bool
}

// ListDueSIPsParams pages through due SIPs ordered by (next_execution_at, id).
// When AfterDueAt is set only rows strictly after (AfterDueAt, AfterID) are
// returned, so rows that stay due after a failed attempt do not hide later ones.
type ListDueSIPsParams struct {
	Now        time.Time
	Limit      int
	AfterDueAt *time.Time
	AfterID    uint64
}

type ListUpcomingSIPsParams struct {
	Limit  int
	UserID *string
	FundID *uint64
	Until  *time.Time
}

type ListTradeReplicationsParams struct {
	Limit        int
	Offset       int
	InvestmentID *uint64
	FundID       *uint64
	Kind         *string
	Since        *time.Time
	OrderBy      string
	Asc          *bool
}
