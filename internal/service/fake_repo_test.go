package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"copyfund/internal/models"
	"copyfund/internal/repository"
)

// memRepo is a test-only in-memory repository. Row locks follow postgres
// semantics closely enough for the executor: TryLockInvestment skips rows
// locked by another transaction, LockInvestment and LockWalletCursor wait,
// and a failed transaction undoes its writes.
type memRepo struct {
	mu   sync.Mutex
	cond *sync.Cond

	nextID      uint64
	funds       map[uint64]models.Fund
	investments map[uint64]models.Investment
	ledger      []models.TradeReplication
	cursors     map[string]models.WalletCursor
	settings    map[string]models.SystemSetting
	locks       map[string]*memTx

	clock func() time.Time

	failDueSelection error
	dueSelections    int
}

var _ repository.Repository = (*memRepo)(nil)

func newMemRepo(clock func() time.Time) *memRepo {
	r := &memRepo{
		funds:       map[uint64]models.Fund{},
		investments: map[uint64]models.Investment{},
		cursors:     map[string]models.WalletCursor{},
		settings:    map[string]models.SystemSetting{},
		locks:       map[string]*memTx{},
		clock:       clock,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func (r *memRepo) now() time.Time {
	if r.clock != nil {
		return r.clock().UTC()
	}
	return time.Now().UTC()
}

func (r *memRepo) id() uint64 {
	r.nextID++
	return r.nextID
}

func cursorKey(fundID uint64, wallet string) string {
	return fmt.Sprintf("%d/%s", fundID, wallet)
}

// --- seeding helpers ---------------------------------------------------------

func (r *memRepo) addFund(f models.Fund) models.Fund {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.ID == 0 {
		f.ID = r.id()
	}
	if f.Status == "" {
		f.Status = models.FundStatusActive
	}
	r.funds[f.ID] = f
	return f
}

func (r *memRepo) addInvestment(inv models.Investment) models.Investment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv.ID == 0 {
		inv.ID = r.id()
	}
	r.investments[inv.ID] = inv
	return inv
}

func (r *memRepo) investment(id uint64) models.Investment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.investments[id]
}

func (r *memRepo) setFundStatus(id uint64, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f := r.funds[id]
	f.Status = status
	r.funds[id] = f
}

func (r *memRepo) rows(kind string) []models.TradeReplication {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TradeReplication
	for _, row := range r.ledger {
		if kind == "" || row.Kind == kind {
			out = append(out, row)
		}
	}
	return out
}

func (r *memRepo) insertRow(row models.TradeReplication) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row.ID = r.id()
	if row.CreatedAt.IsZero() {
		row.CreatedAt = r.now()
	}
	r.ledger = append(r.ledger, row)
}

func (r *memRepo) cursor(fundID uint64, wallet string) (models.WalletCursor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[cursorKey(fundID, wallet)]
	return c, ok
}

// --- Repository --------------------------------------------------------------

func (r *memRepo) InTx(ctx context.Context, fn func(tx repository.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{r: r, ctx: ctx}
	err := fn(tx)
	r.mu.Lock()
	if err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
	}
	for _, key := range tx.held {
		if r.locks[key] == tx {
			delete(r.locks, key)
		}
	}
	r.cond.Broadcast()
	r.mu.Unlock()
	return err
}

func (r *memRepo) Ping(ctx context.Context) error { return nil }

func (r *memRepo) UpsertFund(ctx context.Context, item *models.Fund) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, f := range r.funds {
		if f.Name == item.Name {
			item.ID = id
			r.funds[id] = *item
			return nil
		}
	}
	item.ID = r.id()
	r.funds[item.ID] = *item
	return nil
}

func (r *memRepo) GetFundByID(ctx context.Context, id uint64) (*models.Fund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.funds[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (r *memRepo) GetFundByName(ctx context.Context, name string) (*models.Fund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.funds {
		if f.Name == name {
			out := f
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memRepo) ListMonitorableFunds(ctx context.Context, limit int) ([]models.Fund, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Fund
	for _, f := range r.funds {
		if f.IsActive() && len(f.Wallets()) > 0 {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) GetInvestmentByID(ctx context.Context, id uint64) (*models.Investment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.investments[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (r *memRepo) ListDueSIPs(ctx context.Context, params repository.ListDueSIPsParams) ([]models.DueInvestment, error) {
	if r.failDueSelection != nil {
		return nil, r.failDueSelection
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dueSelections++
	now, limit := params.Now, params.Limit
	var out []models.DueInvestment
	for _, inv := range r.investments {
		if inv.Kind != models.InvestmentKindRecurring || inv.Status != models.InvestmentStatusActive {
			continue
		}
		if inv.NextExecutionAt == nil || inv.NextExecutionAt.After(now) {
			continue
		}
		f, ok := r.funds[inv.FundID]
		if !ok || !f.IsActive() {
			continue
		}
		due := inv.NextExecutionAt.UTC()
		if a := params.AfterDueAt; a != nil && (due.Before(*a) || (due.Equal(*a) && inv.ID <= params.AfterID)) {
			continue
		}
		out = append(out, models.DueInvestment{Investment: inv, Fund: f, DueAt: due})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].DueAt.Before(out[j].DueAt)
		}
		return out[i].Investment.ID < out[j].Investment.ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) activeByFund(fundID uint64) []models.Investment {
	var out []models.Investment
	for _, inv := range r.investments {
		if inv.FundID == fundID && inv.Status == models.InvestmentStatusActive {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *memRepo) ListActiveInvestmentsByFund(ctx context.Context, fundID uint64) ([]models.Investment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeByFund(fundID), nil
}

func (r *memRepo) ListUpcomingSIPs(ctx context.Context, params repository.ListUpcomingSIPsParams) ([]models.Investment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Investment
	for _, inv := range r.investments {
		if inv.Kind != models.InvestmentKindRecurring || inv.Status != models.InvestmentStatusActive || inv.NextExecutionAt == nil {
			continue
		}
		if params.UserID != nil && inv.UserID != *params.UserID {
			continue
		}
		if params.FundID != nil && inv.FundID != *params.FundID {
			continue
		}
		if params.Until != nil && inv.NextExecutionAt.After(*params.Until) {
			continue
		}
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextExecutionAt.Before(*out[j].NextExecutionAt) })
	return out, nil
}

func (r *memRepo) filterRows(params repository.ListTradeReplicationsParams) []models.TradeReplication {
	var out []models.TradeReplication
	for _, row := range r.ledger {
		if params.InvestmentID != nil && row.InvestmentID != *params.InvestmentID {
			continue
		}
		if params.FundID != nil && (row.FundID == nil || *row.FundID != *params.FundID) {
			continue
		}
		if params.Kind != nil && row.Kind != *params.Kind {
			continue
		}
		if params.Since != nil && row.CreatedAt.Before(*params.Since) {
			continue
		}
		out = append(out, row)
	}
	return out
}

func (r *memRepo) ListTradeReplications(ctx context.Context, params repository.ListTradeReplicationsParams) ([]models.TradeReplication, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterRows(params), nil
}

func (r *memRepo) CountTradeReplications(ctx context.Context, params repository.ListTradeReplicationsParams) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int64(len(r.filterRows(params))), nil
}

func (r *memRepo) DeleteTradeReplicationsBefore(ctx context.Context, before time.Time, batchSize int) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var (
		kept    []models.TradeReplication
		deleted int64
	)
	for _, row := range r.ledger {
		if row.CreatedAt.Before(before) && deleted < int64(batchSize) {
			deleted++
			continue
		}
		kept = append(kept, row)
	}
	r.ledger = kept
	return deleted, nil
}

func (r *memRepo) GetWalletCursor(ctx context.Context, fundID uint64, wallet string) (*models.WalletCursor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cursors[cursorKey(fundID, wallet)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *memRepo) SaveWalletCursor(ctx context.Context, item *models.WalletCursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursors[cursorKey(item.FundID, item.Wallet)] = *item
	return nil
}

func (r *memRepo) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings[item.Key] = *item
	return nil
}

func (r *memRepo) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.settings[key]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

// --- LedgerTx ----------------------------------------------------------------

type memTx struct {
	r    *memRepo
	ctx  context.Context
	held []string
	undo []func()
}

// lock must be called with r.mu held.
func (t *memTx) lock(key string, wait bool) bool {
	for {
		owner, ok := t.r.locks[key]
		if !ok || owner == t {
			if !ok {
				t.r.locks[key] = t
				t.held = append(t.held, key)
			}
			return true
		}
		if !wait {
			return false
		}
		t.r.cond.Wait()
	}
}

func (t *memTx) TryLockInvestment(id uint64) (*models.Investment, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	inv, ok := t.r.investments[id]
	if !ok {
		return nil, nil
	}
	if !t.lock(fmt.Sprintf("inv/%d", id), false) {
		return nil, nil
	}
	inv = t.r.investments[id]
	return &inv, nil
}

func (t *memTx) LockInvestment(id uint64) (*models.Investment, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	if _, ok := t.r.investments[id]; !ok {
		return nil, nil
	}
	t.lock(fmt.Sprintf("inv/%d", id), true)
	inv, ok := t.r.investments[id]
	if !ok {
		return nil, nil
	}
	return &inv, nil
}

func (t *memTx) GetFund(id uint64) (*models.Fund, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	f, ok := t.r.funds[id]
	if !ok {
		return nil, nil
	}
	return &f, nil
}

func (t *memTx) ListActiveInvestmentsByFund(fundID uint64) ([]models.Investment, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	return t.r.activeByFund(fundID), nil
}

func (t *memTx) CreateInvestment(item *models.Investment) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	item.ID = t.r.id()
	now := t.r.now()
	item.CreatedAt, item.UpdatedAt = now, now
	t.r.investments[item.ID] = *item
	id := item.ID
	t.undo = append(t.undo, func() { delete(t.r.investments, id) })
	return nil
}

func (t *memTx) UpdateInvestmentSchedule(id uint64, update repository.ScheduleUpdate) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	prev, ok := t.r.investments[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	next := prev
	next.NextExecutionAt = update.NextExecutionAt
	if update.Status != "" {
		next.Status = update.Status
	}
	if update.LastExecutedAt != nil {
		v := *update.LastExecutedAt
		next.LastExecutedAt = &v
	}
	if update.IncrementExecution {
		next.ExecutionCount++
	}
	next.UpdatedAt = t.r.now()
	t.r.investments[id] = next
	t.undo = append(t.undo, func() { t.r.investments[id] = prev })
	return nil
}

func (t *memTx) InsertTradeReplication(item *models.TradeReplication) (bool, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	for _, row := range t.r.ledger {
		if row.IdempotencyKey == item.IdempotencyKey {
			return false, nil
		}
		if row.TxSignature == item.TxSignature {
			return false, errors.New("duplicate tx_signature")
		}
	}
	item.ID = t.r.id()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = t.r.now()
	}
	t.r.ledger = append(t.r.ledger, *item)
	id := item.ID
	t.undo = append(t.undo, func() {
		for i, row := range t.r.ledger {
			if row.ID == id {
				t.r.ledger = append(t.r.ledger[:i], t.r.ledger[i+1:]...)
				return
			}
		}
	})
	return true, nil
}

func (t *memTx) LockWalletCursor(fundID uint64, wallet string) (*models.WalletCursor, error) {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	key := cursorKey(fundID, wallet)
	t.lock("cursor/"+key, true)
	c, ok := t.r.cursors[key]
	if !ok {
		c = models.WalletCursor{FundID: fundID, Wallet: wallet}
		t.r.cursors[key] = c
		t.undo = append(t.undo, func() { delete(t.r.cursors, key) })
	}
	return &c, nil
}

func (t *memTx) SaveWalletCursor(item *models.WalletCursor) error {
	t.r.mu.Lock()
	defer t.r.mu.Unlock()
	key := cursorKey(item.FundID, item.Wallet)
	prev, existed := t.r.cursors[key]
	t.r.cursors[key] = *item
	t.undo = append(t.undo, func() {
		if existed {
			t.r.cursors[key] = prev
		} else {
			delete(t.r.cursors, key)
		}
	})
	return nil
}
