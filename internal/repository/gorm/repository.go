package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"copyfund/internal/models"
	"copyfund/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	if s == nil || s.db == nil {
		return errors.New("store unavailable")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&txStore{db: tx})
	})
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store unavailable")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// --- funds -------------------------------------------------------------------

func (s *Store) UpsertFund(ctx context.Context, item *models.Fund) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Name) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"description",
			"trader_wallets",
			"status",
			"management_fee_bps",
			"min_investment",
			"max_investment",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetFundByID(ctx context.Context, id uint64) (*models.Fund, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Fund
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	return firstOrNil(&item, err)
}

func (s *Store) GetFundByName(ctx context.Context, name string) (*models.Fund, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	var item models.Fund
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&item).Error
	return firstOrNil(&item, err)
}

// ListMonitorableFunds returns active funds that reference at least one trader wallet.
func (s *Store) ListMonitorableFunds(ctx context.Context, limit int) ([]models.Fund, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 1000, 10000)
	var items []models.Fund
	if err := s.db.WithContext(ctx).
		Model(&models.Fund{}).
		Where("status = ?", models.FundStatusActive).
		Where("trader_wallets IS NOT NULL").
		Where("jsonb_typeof(trader_wallets) = 'array'").
		Where("jsonb_array_length(trader_wallets) > 0").
		Order("id asc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- investments -------------------------------------------------------------

func (s *Store) GetInvestmentByID(ctx context.Context, id uint64) (*models.Investment, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Investment
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	return firstOrNil(&item, err)
}

type dueRow struct {
	models.Investment
	FundName          string
	FundStatus        string
	FundTraderWallets []byte
}

// ListDueSIPs is read-only; the executor re-checks and locks each row.
func (s *Store) ListDueSIPs(ctx context.Context, params repository.ListDueSIPsParams) ([]models.DueInvestment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit := normalizeLimit(params.Limit, 500, 5000)
	q := s.db.WithContext(ctx)
	if params.AfterDueAt != nil {
		q = q.Where("(i.next_execution_at, i.id) > (?, ?)", params.AfterDueAt.UTC(), params.AfterID)
	}
	var rows []dueRow
	if err := q.
		Table("investments AS i").
		Select(`
			i.*,
			f.name AS fund_name,
			f.status AS fund_status,
			f.trader_wallets AS fund_trader_wallets
		`).
		Joins("JOIN funds AS f ON f.id = i.fund_id").
		Where("i.kind = ?", models.InvestmentKindRecurring).
		Where("i.status = ?", models.InvestmentStatusActive).
		Where("i.next_execution_at IS NOT NULL").
		Where("i.next_execution_at <= ?", params.Now).
		Where("f.status = ?", models.FundStatusActive).
		Order("i.next_execution_at asc").
		Order("i.id asc").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.DueInvestment, 0, len(rows))
	for _, r := range rows {
		if r.NextExecutionAt == nil {
			continue
		}
		out = append(out, models.DueInvestment{
			Investment: r.Investment,
			Fund: models.Fund{
				ID:            r.FundID,
				Name:          r.FundName,
				Status:        r.FundStatus,
				TraderWallets: r.FundTraderWallets,
			},
			DueAt: r.NextExecutionAt.UTC(),
		})
	}
	return out, nil
}

func (s *Store) ListActiveInvestmentsByFund(ctx context.Context, fundID uint64) ([]models.Investment, error) {
	if s == nil || s.db == nil || fundID == 0 {
		return nil, nil
	}
	var items []models.Investment
	if err := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("fund_id = ?", fundID).
		Where("status = ?", models.InvestmentStatusActive).
		Order("id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListUpcomingSIPs(ctx context.Context, params repository.ListUpcomingSIPsParams) ([]models.Investment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("kind = ?", models.InvestmentKindRecurring).
		Where("status = ?", models.InvestmentStatusActive).
		Where("next_execution_at IS NOT NULL")
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.FundID != nil && *params.FundID > 0 {
		query = query.Where("fund_id = ?", *params.FundID)
	}
	if params.Until != nil && !params.Until.IsZero() {
		query = query.Where("next_execution_at <= ?", *params.Until)
	}
	var items []models.Investment
	if err := query.Order("next_execution_at asc").Limit(normalizeLimit(params.Limit, 50, 500)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- ledger ------------------------------------------------------------------

func (s *Store) ListTradeReplications(ctx context.Context, params repository.ListTradeReplicationsParams) ([]models.TradeReplication, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyReplicationFilters(s.db.WithContext(ctx).Model(&models.TradeReplication{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.TradeReplication
	if err := query.Limit(normalizeLimit(params.Limit, 100, 500)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTradeReplications(ctx context.Context, params repository.ListTradeReplicationsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := applyReplicationFilters(s.db.WithContext(ctx).Model(&models.TradeReplication{}), params).Count(&total).Error
	return total, err
}

// DeleteTradeReplicationsBefore removes at most batchSize rows created before the cutoff.
func (s *Store) DeleteTradeReplicationsBefore(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = 5000
	}
	ids := s.db.Model(&models.TradeReplication{}).
		Select("id").
		Where("created_at < ?", before).
		Order("id asc").
		Limit(batchSize)
	res := s.db.WithContext(ctx).
		Where("id IN (?)", ids).
		Delete(&models.TradeReplication{})
	return res.RowsAffected, res.Error
}

func applyReplicationFilters(query *gorm.DB, params repository.ListTradeReplicationsParams) *gorm.DB {
	if params.InvestmentID != nil && *params.InvestmentID > 0 {
		query = query.Where("investment_id = ?", *params.InvestmentID)
	}
	if params.FundID != nil && *params.FundID > 0 {
		query = query.Where("fund_id = ?", *params.FundID)
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

// --- wallet cursors ----------------------------------------------------------

func (s *Store) GetWalletCursor(ctx context.Context, fundID uint64, wallet string) (*models.WalletCursor, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.WalletCursor
	err := s.db.WithContext(ctx).
		Where("fund_id = ? AND wallet = ?", fundID, strings.TrimSpace(wallet)).
		First(&item).Error
	return firstOrNil(&item, err)
}

func (s *Store) SaveWalletCursor(ctx context.Context, item *models.WalletCursor) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return upsertCursor(s.db.WithContext(ctx), item)
}

func upsertCursor(db *gorm.DB, item *models.WalletCursor) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "fund_id"}, {Name: "wallet"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_signature",
			"last_checked_at",
			"last_trade_at",
			"last_error",
		}),
	}).Create(item).Error
}

// --- system settings ---------------------------------------------------------

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.Key) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "description", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.SystemSetting
	err := s.db.WithContext(ctx).Where("key = ?", key).First(&item).Error
	return firstOrNil(&item, err)
}

// --- helpers -----------------------------------------------------------------

func firstOrNil[T any](item *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback, max int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
