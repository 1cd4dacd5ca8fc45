package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	dbutil "github.com/promptdeck/creditledger/internal/db"
	"github.com/promptdeck/creditledger/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// categoryPriorityExpr orders grants purchased < bonus < referral in SQL,
// matching models.GrantCategory.Priority.
const categoryPriorityExpr = "CASE category WHEN 'purchased' THEN 0 WHEN 'bonus' THEN 1 WHEN 'referral' THEN 2 ELSE 3 END"

// GormStore implements Store on a GORM connection.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore { return &GormStore{db: db} }

// DB exposes the underlying connection for migrations and test fixtures.
func (s *GormStore) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Transact runs fn inside a database transaction.
func (s *GormStore) Transact(ctx context.Context, fn func(Store) error) error {
	if s == nil || s.db == nil {
		return errors.New("store: nil db")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// ListEligible returns eligible grants in deterministic burn order.
func (s *GormStore) ListEligible(ctx context.Context, ownerID uint64, now time.Time, forUpdate bool) ([]models.Grant, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: nil db")
	}

	q := s.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("owner_id = ? AND remaining > 0", ownerID).
		Where("(expires_at IS NULL OR expires_at > ?)", now.UTC()).
		Order(categoryPriorityExpr + " ASC, created_at ASC, id ASC")
	// SQLite has no SELECT ... FOR UPDATE; its single-writer lock covers the
	// transaction instead.
	if forUpdate && !dbutil.IsSQLite(s.db) {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var grants []models.Grant
	if errFind := q.Find(&grants).Error; errFind != nil {
		return nil, errFind
	}
	return grants, nil
}

// ApplyDebit decrements remaining by amount via a single conditional UPDATE.
// The WHERE guard makes the check-and-decrement atomic at the row level, so
// a concurrent debit can never drive remaining negative.
func (s *GormStore) ApplyDebit(ctx context.Context, grantID uint64, amount int64) error {
	if s == nil || s.db == nil {
		return errors.New("store: nil db")
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}

	res := s.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("id = ? AND remaining >= ?", grantID, amount).
		Updates(map[string]any{
			"remaining":  gorm.Expr("remaining - ?", amount),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var count int64
	if errCount := s.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("id = ?", grantID).
		Count(&count).Error; errCount != nil {
		return errCount
	}
	if count == 0 {
		return ErrGrantNotFound
	}
	return ErrInsufficientGrantBalance
}

// CreateGrant persists a new grant.
func (s *GormStore) CreateGrant(ctx context.Context, grant *models.Grant) error {
	if s == nil || s.db == nil {
		return errors.New("store: nil db")
	}
	if grant == nil {
		return errors.New("store: nil grant")
	}
	if grant.IssuedAmount <= 0 || grant.Remaining < 0 || grant.Remaining > grant.IssuedAmount {
		return ErrInvalidAmount
	}
	if !grant.Category.Valid() {
		return fmt.Errorf("store: invalid grant category %q", grant.Category)
	}
	return s.db.WithContext(ctx).Create(grant).Error
}

// AppendBurnEvents persists burn-event rows.
func (s *GormStore) AppendBurnEvents(ctx context.Context, events []*models.BurnEvent) error {
	if s == nil || s.db == nil {
		return errors.New("store: nil db")
	}
	if len(events) == 0 {
		return nil
	}
	for _, event := range events {
		if event == nil || event.Amount <= 0 {
			return ErrInvalidAmount
		}
	}
	return s.db.WithContext(ctx).Create(&events).Error
}

// ListBurnEvents returns burn events where the user is the payer or the
// earning creator, newest first.
func (s *GormStore) ListBurnEvents(ctx context.Context, userID uint64, limit, offset int) ([]models.BurnEvent, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var events []models.BurnEvent
	if errFind := s.db.WithContext(ctx).
		Model(&models.BurnEvent{}).
		Where("user_id = ? OR creator_id = ?", userID, userID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&events).Error; errFind != nil {
		return nil, errFind
	}
	return events, nil
}

// CountBurnEvents returns the total history size for a user.
func (s *GormStore) CountBurnEvents(ctx context.Context, userID uint64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store: nil db")
	}
	var count int64
	if errCount := s.db.WithContext(ctx).
		Model(&models.BurnEvent{}).
		Where("user_id = ? OR creator_id = ?", userID, userID).
		Count(&count).Error; errCount != nil {
		return 0, errCount
	}
	return count, nil
}

// CreateDeadLetter persists a settlement reconciliation record.
func (s *GormStore) CreateDeadLetter(ctx context.Context, letter *models.SettlementDeadLetter) error {
	if s == nil || s.db == nil {
		return errors.New("store: nil db")
	}
	if letter == nil {
		return errors.New("store: nil dead letter")
	}
	return s.db.WithContext(ctx).Create(letter).Error
}

// ListDeadLetters returns reconciliation records, oldest first.
func (s *GormStore) ListDeadLetters(ctx context.Context, unresolvedOnly bool, limit, offset int) ([]models.SettlementDeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := s.db.WithContext(ctx).
		Model(&models.SettlementDeadLetter{}).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Offset(offset)
	if unresolvedOnly {
		q = q.Where("resolved = ?", false)
	}

	var letters []models.SettlementDeadLetter
	if errFind := q.Find(&letters).Error; errFind != nil {
		return nil, errFind
	}
	return letters, nil
}

// ResolveDeadLetter marks a reconciliation record as handled.
func (s *GormStore) ResolveDeadLetter(ctx context.Context, id uint64) error {
	if s == nil || s.db == nil {
		return errors.New("store: nil db")
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&models.SettlementDeadLetter{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]any{
			"resolved":    true,
			"resolved_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDeadLetterNotFound
	}
	return nil
}

// UserTotals aggregates a user's issued, burned, and remaining credits.
func (s *GormStore) UserTotals(ctx context.Context, userID uint64) (Totals, error) {
	if s == nil || s.db == nil {
		return Totals{}, errors.New("store: nil db")
	}

	var totals Totals
	if errGrants := s.db.WithContext(ctx).
		Model(&models.Grant{}).
		Where("owner_id = ?", userID).
		Select("COALESCE(SUM(issued_amount), 0) AS issued, COALESCE(SUM(remaining), 0) AS remaining").
		Scan(&totals).Error; errGrants != nil {
		return Totals{}, errGrants
	}
	if errBurned := s.db.WithContext(ctx).
		Model(&models.BurnEvent{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&totals.Burned).Error; errBurned != nil {
		return Totals{}, errBurned
	}
	return totals, nil
}

// Ensure GormStore implements Store.
var _ Store = (*GormStore)(nil)
