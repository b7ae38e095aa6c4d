package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvestmentKindRecurring = "recurring"
	InvestmentKindOneTime   = "one-time"
)

const (
	FrequencyDaily   = "daily"
	FrequencyWeekly  = "weekly"
	FrequencyMonthly = "monthly"
)

const (
	InvestmentStatusActive    = "active"
	InvestmentStatusPaused    = "paused"
	InvestmentStatusCancelled = "cancelled"
)

// Investment is a user's position in a fund. Recurring investments (SIPs)
// carry NextExecutionAt only while active.
type Investment struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	UserID string `gorm:"type:varchar(64);not null;index"`
	FundID uint64 `gorm:"not null;index"`

	Kind      string  `gorm:"type:varchar(20);not null;index:idx_investments_due,priority:1"`
	Frequency *string `gorm:"type:varchar(20)"`
	Status    string  `gorm:"type:varchar(20);not null;default:'active';index:idx_investments_due,priority:2"`

	Amount decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	NextExecutionAt *time.Time `gorm:"type:timestamptz;index:idx_investments_due,priority:3"`
	LastExecutedAt  *time.Time `gorm:"type:timestamptz"`
	ExecutionCount  int64      `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Investment) TableName() string {
	return "investments"
}

func (i Investment) IsRecurring() bool {
	return i.Kind == InvestmentKindRecurring
}

func (i Investment) FrequencyValue() string {
	if i.Frequency == nil {
		return ""
	}
	return *i.Frequency
}

// DueInvestment is one row of the due-SIP selection: the investment, its
// active fund, and the schedule value observed at selection time.
type DueInvestment struct {
	Investment Investment
	Fund       Fund
	DueAt      time.Time
}
