package models

import "time"

// WalletCursor remembers the newest transaction seen for a fund's trader wallet.
type WalletCursor struct {
	FundID        uint64     `gorm:"primaryKey"`
	Wallet        string     `gorm:"primaryKey;type:varchar(64)"`
	LastSignature *string    `gorm:"type:varchar(128)"`
	LastCheckedAt *time.Time `gorm:"type:timestamptz"`
	LastTradeAt   *time.Time `gorm:"type:timestamptz"`
	LastError     *string    `gorm:"type:text"`
}

func (WalletCursor) TableName() string {
	return "wallet_cursors"
}
