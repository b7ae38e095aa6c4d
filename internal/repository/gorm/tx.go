package gormrepository

import (
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"copyfund/internal/models"
	"copyfund/internal/repository"
)

// txStore implements repository.LedgerTx on top of a gorm transaction.
type txStore struct {
	db *gorm.DB
}

var _ repository.LedgerTx = (*txStore)(nil)

func (t *txStore) TryLockInvestment(id uint64) (*models.Investment, error) {
	var item models.Investment
	err := t.db.
		Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("id = ?", id).
		Take(&item).Error
	return firstOrNil(&item, err)
}

func (t *txStore) LockInvestment(id uint64) (*models.Investment, error) {
	var item models.Investment
	err := t.db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&item).Error
	return firstOrNil(&item, err)
}

func (t *txStore) GetFund(id uint64) (*models.Fund, error) {
	var item models.Fund
	err := t.db.
		Clauses(clause.Locking{Strength: "SHARE"}).
		Where("id = ?", id).
		Take(&item).Error
	return firstOrNil(&item, err)
}

func (t *txStore) ListActiveInvestmentsByFund(fundID uint64) ([]models.Investment, error) {
	var items []models.Investment
	if err := t.db.
		Model(&models.Investment{}).
		Where("fund_id = ?", fundID).
		Where("status = ?", models.InvestmentStatusActive).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (t *txStore) CreateInvestment(item *models.Investment) error {
	if item == nil {
		return errors.New("investment is nil")
	}
	return t.db.Create(item).Error
}

func (t *txStore) UpdateInvestmentSchedule(id uint64, update repository.ScheduleUpdate) error {
	updates := map[string]any{
		"next_execution_at": update.NextExecutionAt,
	}
	if strings.TrimSpace(update.Status) != "" {
		updates["status"] = update.Status
	}
	if update.LastExecutedAt != nil {
		updates["last_executed_at"] = *update.LastExecutedAt
	}
	if update.IncrementExecution {
		updates["execution_count"] = gorm.Expr("execution_count + 1")
	}
	res := t.db.Model(&models.Investment{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (t *txStore) InsertTradeReplication(item *models.TradeReplication) (bool, error) {
	if item == nil {
		return false, errors.New("trade replication is nil")
	}
	res := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (t *txStore) LockWalletCursor(fundID uint64, wallet string) (*models.WalletCursor, error) {
	wallet = strings.TrimSpace(wallet)
	seed := &models.WalletCursor{FundID: fundID, Wallet: wallet}
	if err := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(seed).Error; err != nil {
		return nil, err
	}
	var item models.WalletCursor
	if err := t.db.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("fund_id = ? AND wallet = ?", fundID, wallet).
		Take(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (t *txStore) SaveWalletCursor(item *models.WalletCursor) error {
	if item == nil {
		return nil
	}
	return upsertCursor(t.db, item)
}
