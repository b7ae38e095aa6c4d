package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReplicationKindSIPExecution     = "sip_execution"
	ReplicationKindTradeReplication = "trade_replication"
	ReplicationKindInvestment       = "investment"
	ReplicationKindTest             = "test"
)

const (
	ReplicationStatusPending   = "pending"
	ReplicationStatusCompleted = "completed"
	ReplicationStatusFailed    = "failed"
)

const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// TradeReplication is an append-only ledger row. Rows are never updated;
// only the retention sweep deletes them.
type TradeReplication struct {
	ID           uint64  `gorm:"primaryKey;autoIncrement"`
	InvestmentID uint64  `gorm:"not null;index"`
	FundID       *uint64 `gorm:"index"`

	Amount    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Kind      string          `gorm:"type:varchar(30);not null;index"`
	Status    string          `gorm:"type:varchar(20);not null;default:'completed'"`
	Direction string          `gorm:"type:varchar(10);not null;default:'buy'"`

	TxSignature    string `gorm:"type:varchar(128);not null;uniqueIndex"`
	IdempotencyKey string `gorm:"type:varchar(200);not null;uniqueIndex"`

	// Trader transaction this row mirrors; empty for SIP executions.
	SourceWallet    string `gorm:"type:varchar(64)"`
	SourceSignature string `gorm:"type:varchar(128);index"`

	ExecutedAt time.Time `gorm:"type:timestamptz;not null"`
	CreatedAt  time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (TradeReplication) TableName() string {
	return "trade_replications"
}
