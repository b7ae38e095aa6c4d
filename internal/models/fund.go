package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	FundStatusActive   = "active"
	FundStatusPaused   = "paused"
	FundStatusInactive = "inactive"
)

// Fund is a curated fund whose allocation mirrors one or more trader wallets.
type Fund struct {
	ID          uint64 `gorm:"primaryKey;autoIncrement"`
	Name        string `gorm:"type:varchar(120);not null;uniqueIndex"`
	Description string `gorm:"type:text"`

	// JSON array of wallet addresses.
	TraderWallets datatypes.JSON `gorm:"type:jsonb"`

	Status           string          `gorm:"type:varchar(20);not null;default:'active';index"`
	ManagementFeeBps int             `gorm:"not null;default:0"`
	MinInvestment    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	MaxInvestment    decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Fund) TableName() string {
	return "funds"
}

// Wallets decodes TraderWallets, dropping blanks and duplicates.
func (f Fund) Wallets() []string {
	if len(f.TraderWallets) == 0 {
		return nil
	}
	var raw []string
	if err := json.Unmarshal(f.TraderWallets, &raw); err != nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	seen := map[string]struct{}{}
	for _, w := range raw {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	return out
}

func (f Fund) IsActive() bool {
	return f.Status == FundStatusActive
}

// WalletsJSON encodes a wallet list for the TraderWallets column.
func WalletsJSON(wallets ...string) datatypes.JSON {
	if wallets == nil {
		wallets = []string{}
	}
	raw, _ := json.Marshal(wallets)
	return datatypes.JSON(raw)
}
