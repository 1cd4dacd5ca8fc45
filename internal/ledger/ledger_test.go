package ledger

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/promptdeck/creditledger/internal/db"
	"github.com/promptdeck/creditledger/internal/models"
	"github.com/promptdeck/creditledger/internal/pricing"
	"github.com/promptdeck/creditledger/internal/store"
	"gorm.io/gorm"
)

func openTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	conn, errOpen := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if errOpen != nil {
		t.Fatalf("open sqlite: %v", errOpen)
	}
	sqlDB, errDB := conn.DB()
	if errDB != nil {
		t.Fatalf("sql db: %v", errDB)
	}
	// A fresh pool connection would see an empty in-memory database.
	sqlDB.SetMaxOpenConns(1)
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return store.NewGormStore(conn)
}

func testRegistry() *pricing.Registry {
	registry := pricing.NewRegistry()
	// base 100 + 20% markup = 120 required without a creator fee.
	registry.Register("prio-model", pricing.BucketCosts{Short: 100, Medium: 100, Long: 100})
	// base 50 + 20% markup = 60.
	registry.Register("fifo-model", pricing.BucketCosts{Short: 50, Medium: 50, Long: 50})
	registry.Register("fee-model", pricing.BucketCosts{Short: 10_000, Medium: 20_000, Long: 40_000})
	return registry
}

func newTestLedger(t *testing.T) (*Ledger, *store.GormStore) {
	t.Helper()
	gormStore := openTestStore(t)
	l := New(gormStore, testRegistry(), nil)
	return l, gormStore
}

func addGrant(t *testing.T, l *Ledger, userID uint64, amount int64, category models.GrantCategory, createdAt time.Time) *models.Grant {
	t.Helper()
	grant, errAdd := l.AddGrant(context.Background(), userID, amount, category, "test", 0)
	if errAdd != nil {
		t.Fatalf("add grant: %v", errAdd)
	}
	if !createdAt.IsZero() {
		if errUpdate := storeDB(t, l).Model(grant).Update("created_at", createdAt).Error; errUpdate != nil {
			t.Fatalf("backdate grant: %v", errUpdate)
		}
	}
	return grant
}

// storeDB digs the gorm handle out of the test ledger's store for fixtures.
func storeDB(t *testing.T, l *Ledger) *gorm.DB {
	t.Helper()
	gs, ok := l.store.(*store.GormStore)
	if !ok {
		t.Fatalf("test ledger store is %T, want *store.GormStore", l.store)
	}
	return gs.DB()
}

func reloadGrant(t *testing.T, l *Ledger, id uint64) models.Grant {
	t.Helper()
	var grant models.Grant
	if errFind := storeDB(t, l).First(&grant, id).Error; errFind != nil {
		t.Fatalf("reload grant %d: %v", id, errFind)
	}
	return grant
}

func TestBurnPriorityOrdering(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	purchased := addGrant(t, l, 1, 100, models.GrantCategoryPurchased, time.Time{})
	bonus := addGrant(t, l, 1, 50, models.GrantCategoryBonus, time.Time{})

	result, errBurn := l.Burn(ctx, ChargeRequest{UserID: 1, ModelID: "prio-model", LengthBucket: models.LengthBucketShort})
	if errBurn != nil {
		t.Fatalf("burn: %v", errBurn)
	}
	if result.Quote.Required != 120 {
		t.Fatalf("required: got %d, want 120", result.Quote.Required)
	}

	if len(result.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(result.Events))
	}
	if result.Events[0].GrantID != purchased.ID || result.Events[0].Amount != 100 {
		t.Fatalf("first slice: got %+v", result.Events[0])
	}
	if result.Events[1].GrantID != bonus.ID || result.Events[1].Amount != 20 {
		t.Fatalf("second slice: got %+v", result.Events[1])
	}

	if remaining := reloadGrant(t, l, purchased.ID).Remaining; remaining != 0 {
		t.Fatalf("purchased remaining: got %d, want 0", remaining)
	}
	if remaining := reloadGrant(t, l, bonus.ID).Remaining; remaining != 30 {
		t.Fatalf("bonus remaining: got %d, want 30", remaining)
	}
}

func TestBurnFIFOWithinCategory(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	older := addGrant(t, l, 1, 50, models.GrantCategoryBonus, t1)
	newer := addGrant(t, l, 1, 50, models.GrantCategoryBonus, t2)

	result, errBurn := l.Burn(ctx, ChargeRequest{UserID: 1, ModelID: "fifo-model", LengthBucket: models.LengthBucketShort})
	if errBurn != nil {
		t.Fatalf("burn: %v", errBurn)
	}
	if result.Quote.Required != 60 {
		t.Fatalf("required: got %d, want 60", result.Quote.Required)
	}

	if len(result.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(result.Events))
	}
	if result.Events[0].GrantID != older.ID || result.Events[0].Amount != 50 {
		t.Fatalf("first slice: got %+v", result.Events[0])
	}
	if result.Events[1].GrantID != newer.ID || result.Events[1].Amount != 10 {
		t.Fatalf("second slice: got %+v", result.Events[1])
	}
}

func TestBurnAllOrNothing(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	grant := addGrant(t, l, 1, 100, models.GrantCategoryPurchased, time.Time{})

	_, errBurn := l.Burn(ctx, ChargeRequest{UserID: 1, ModelID: "prio-model", LengthBucket: models.LengthBucketShort})
	if errBurn == nil {
		// required 120 > 100 available
		t.Fatal("expected burn to fail")
	}
	if !errors.Is(errBurn, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", errBurn)
	}

	if remaining := reloadGrant(t, l, grant.ID).Remaining; remaining != 100 {
		t.Fatalf("remaining after failed burn: got %d, want 100", remaining)
	}
	history, errHistory := l.GetHistory(ctx, 1, 10, 0)
	if errHistory != nil {
		t.Fatalf("history: %v", errHistory)
	}
	if len(history) != 0 {
		t.Fatalf("burn events after failed burn: got %d, want 0", len(history))
	}
}

func TestExpiredGrantExcluded(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	expired := addGrant(t, l, 1, 100, models.GrantCategoryPurchased, time.Time{})
	past := time.Now().UTC().Add(-time.Hour)
	if errUpdate := storeDB(t, l).Model(expired).Update("expires_at", past).Error; errUpdate != nil {
		t.Fatalf("expire grant: %v", errUpdate)
	}

	balance, errBalance := l.GetBalance(ctx, 1)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 0 {
		t.Fatalf("balance with only expired grant: got %d, want 0", balance)
	}

	_, errBurn := l.Burn(ctx, ChargeRequest{UserID: 1, ModelID: "fifo-model", LengthBucket: models.LengthBucketShort})
	if !errors.Is(errBurn, ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", errBurn)
	}
	// The grant itself is never deleted.
	if remaining := reloadGrant(t, l, expired.ID).Remaining; remaining != 100 {
		t.Fatalf("expired grant remaining: got %d, want 100", remaining)
	}
}

func TestBurnWithCreatorFeeSettles(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	addGrant(t, l, 1, 20_000, models.GrantCategoryPurchased, time.Time{})

	creatorID := uint64(7)
	result, errBurn := l.Burn(ctx, ChargeRequest{
		UserID:               1,
		ModelID:              "fee-model",
		LengthBucket:         models.LengthBucketShort,
		CreatorID:            &creatorID,
		CreatorFeePercentage: 50,
	})
	if errBurn != nil {
		t.Fatalf("burn: %v", errBurn)
	}

	// base 10000, fee 5000, markup suppressed.
	if result.Quote.CreatorFee != 5_000 || result.Quote.PlatformMarkup != 0 || result.Quote.Required != 15_000 {
		t.Fatalf("quote: got %+v", result.Quote)
	}
	if result.CreatorFeeCollected != 5_000 {
		t.Fatalf("fee collected: got %d, want 5000", result.CreatorFeeCollected)
	}
	if result.CreatorShare != 4_000 {
		t.Fatalf("creator share: got %d, want 4000", result.CreatorShare)
	}
	if result.SettlementPending {
		t.Fatal("settlement unexpectedly pending")
	}

	var creatorGrants []models.Grant
	if errFind := storeDB(t, l).Where("owner_id = ?", creatorID).Find(&creatorGrants).Error; errFind != nil {
		t.Fatalf("find creator grants: %v", errFind)
	}
	if len(creatorGrants) != 1 {
		t.Fatalf("creator grants: got %d, want 1", len(creatorGrants))
	}
	payout := creatorGrants[0]
	if payout.Category != models.GrantCategoryBonus || payout.IssuedAmount != 4_000 || payout.Remaining != 4_000 {
		t.Fatalf("payout grant: got %+v", payout)
	}
	if payout.ExpiresAt == nil || !payout.ExpiresAt.Equal(now.AddDate(0, 0, 90)) {
		t.Fatalf("payout expiry: got %v, want %v", payout.ExpiresAt, now.AddDate(0, 0, 90))
	}
	if !strings.HasPrefix(payout.SourceTag, "settlement:") {
		t.Fatalf("payout source tag: got %q", payout.SourceTag)
	}
}

func TestProportionalFeeShareAcrossSlices(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	addGrant(t, l, 1, 10_000, models.GrantCategoryPurchased, t1)
	addGrant(t, l, 1, 5_000, models.GrantCategoryBonus, t1.Add(time.Minute))

	creatorID := uint64(7)
	result, errBurn := l.Burn(ctx, ChargeRequest{
		UserID:               1,
		ModelID:              "fee-model",
		LengthBucket:         models.LengthBucketShort,
		CreatorID:            &creatorID,
		CreatorFeePercentage: 50,
	})
	if errBurn != nil {
		t.Fatalf("burn: %v", errBurn)
	}

	// required 15000 split 10000+5000; fee 5000 attributed per slice with
	// flooring: 3333 + 1666. Rounding loss stays with the platform.
	if len(result.Events) != 2 {
		t.Fatalf("events: got %d, want 2", len(result.Events))
	}
	if result.Events[0].CreatorFeeShare != 3_333 {
		t.Fatalf("slice 0 fee share: got %d, want 3333", result.Events[0].CreatorFeeShare)
	}
	if result.Events[1].CreatorFeeShare != 1_666 {
		t.Fatalf("slice 1 fee share: got %d, want 1666", result.Events[1].CreatorFeeShare)
	}
	if result.CreatorFeeCollected != 4_999 {
		t.Fatalf("fee collected: got %d, want 4999", result.CreatorFeeCollected)
	}
	if result.CreatorShare != 3_999 {
		t.Fatalf("creator share: got %d, want 3999", result.CreatorShare)
	}
}

func TestBurnUnknownModel(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	addGrant(t, l, 1, 1_000_000, models.GrantCategoryPurchased, time.Time{})

	_, errBurn := l.Burn(ctx, ChargeRequest{UserID: 1, ModelID: "no-such-model", LengthBucket: models.LengthBucketShort})
	if !errors.Is(errBurn, pricing.ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", errBurn)
	}

	totals, errTotals := l.AuditTotals(ctx, 1)
	if errTotals != nil {
		t.Fatalf("totals: %v", errTotals)
	}
	if totals.Burned != 0 {
		t.Fatalf("burned after unknown model: got %d, want 0", totals.Burned)
	}
}

func TestBreakdownZeroFilledForNewUser(t *testing.T) {
	l, _ := newTestLedger(t)

	breakdown, errBreakdown := l.GetBreakdown(context.Background(), 12345)
	if errBreakdown != nil {
		t.Fatalf("breakdown: %v", errBreakdown)
	}
	if breakdown != (Breakdown{}) {
		t.Fatalf("breakdown for new user: got %+v, want all zeros", breakdown)
	}
}

func TestConservation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	addGrant(t, l, 1, 300, models.GrantCategoryPurchased, time.Time{})
	addGrant(t, l, 1, 200, models.GrantCategoryBonus, time.Time{})
	addGrant(t, l, 1, 100, models.GrantCategoryReferral, time.Time{})

	for i := 0; i < 4; i++ {
		if _, errBurn := l.Burn(ctx, ChargeRequest{UserID: 1, ModelID: "prio-model", LengthBucket: models.LengthBucketShort}); errBurn != nil {
			t.Fatalf("burn %d: %v", i, errBurn)
		}
		totals, errTotals := l.AuditTotals(ctx, 1)
		if errTotals != nil {
			t.Fatalf("totals: %v", errTotals)
		}
		if totals.Issued-totals.Burned != totals.Remaining {
			t.Fatalf("conservation violated after burn %d: %+v", i, totals)
		}
	}

	// 600 issued, 4 burns of 120 each.
	totals, errTotals := l.AuditTotals(ctx, 1)
	if errTotals != nil {
		t.Fatalf("totals: %v", errTotals)
	}
	if totals.Burned != 480 || totals.Remaining != 120 {
		t.Fatalf("totals after 4 burns: got %+v", totals)
	}

	// A fifth burn drains to zero.
	if _, errBurn := l.Burn(ctx, ChargeRequest{UserID: 1, ModelID: "prio-model", LengthBucket: models.LengthBucketShort}); errBurn != nil {
		t.Fatalf("final burn: %v", errBurn)
	}
	balance, errBalance := l.GetBalance(ctx, 1)
	if errBalance != nil {
		t.Fatalf("balance: %v", errBalance)
	}
	if balance != 0 {
		t.Fatalf("balance after draining: got %d, want 0", balance)
	}
}

func TestHistoryPagination(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	addGrant(t, l, 1, 1_000, models.GrantCategoryPurchased, time.Time{})
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		tick := base.Add(time.Duration(i) * time.Minute)
		l.now = func() time.Time { return tick }
		if _, errBurn := l.Burn(ctx, ChargeRequest{UserID: 1, ModelID: "fifo-model", LengthBucket: models.LengthBucketShort}); errBurn != nil {
			t.Fatalf("burn %d: %v", i, errBurn)
		}
	}

	size, errSize := l.HistorySize(ctx, 1)
	if errSize != nil {
		t.Fatalf("history size: %v", errSize)
	}
	if size != 3 {
		t.Fatalf("history size: got %d, want 3", size)
	}

	page, errPage := l.GetHistory(ctx, 1, 2, 0)
	if errPage != nil {
		t.Fatalf("history page: %v", errPage)
	}
	if len(page) != 2 {
		t.Fatalf("page size: got %d, want 2", len(page))
	}
	// Newest first.
	if !page[0].CreatedAt.After(page[1].CreatedAt) {
		t.Fatalf("history not newest-first: %v then %v", page[0].CreatedAt, page[1].CreatedAt)
	}

	rest, errRest := l.GetHistory(ctx, 1, 2, 2)
	if errRest != nil {
		t.Fatalf("history rest: %v", errRest)
	}
	if len(rest) != 1 {
		t.Fatalf("rest size: got %d, want 1", len(rest))
	}
}

func TestConcurrentBurnsNoDoubleSpend(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	addGrant(t, l, 1, 100, models.GrantCategoryPurchased, time.Time{})

	// Two simultaneous burns of 60 each (fifo-model requires 60) against a
	// single grant of 100: exactly one may succeed.
	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = l.Burn(ctx, ChargeRequest{UserID: 1, ModelID: "fifo-model", LengthBucket: models.LengthBucketShort})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, errBurn := range results {
		switch {
		case errBurn == nil:
			succeeded++
		case errors.Is(errBurn, ErrInsufficientCredits), errors.Is(errBurn, ErrLedgerContention):
		default:
			t.Fatalf("unexpected burn error: %v", errBurn)
		}
	}
	if succeeded != 1 {
		t.Fatalf("successful burns: got %d, want exactly 1", succeeded)
	}

	totals, errTotals := l.AuditTotals(ctx, 1)
	if errTotals != nil {
		t.Fatalf("totals: %v", errTotals)
	}
	if totals.Burned != 60 || totals.Remaining != 40 {
		t.Fatalf("totals after concurrent burns: got %+v", totals)
	}
}
