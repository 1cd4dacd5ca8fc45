package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/promptdeck/creditledger/internal/cache"
	"github.com/promptdeck/creditledger/internal/models"
	"github.com/promptdeck/creditledger/internal/pricing"
	"github.com/promptdeck/creditledger/internal/store"
	log "github.com/sirupsen/logrus"
)

// maxBurnAttempts bounds whole-transaction retries under contention.
const maxBurnAttempts = 3

// ChargeRequest describes one charge against a user's credit buckets.
type ChargeRequest struct {
	UserID       uint64              // Paying user.
	ModelID      string              // Model to price the charge against.
	LengthBucket models.LengthBucket // Prompt-length bucket.

	CreatorID            *uint64 // Creator charging a fee, if any.
	CreatorFeePercentage int     // Fee percentage of the base cost, 0-100.
}

// BurnResult reports a committed charge.
type BurnResult struct {
	Quote  pricing.Quote      // Price decomposition that was charged.
	Events []models.BurnEvent // Burn-event rows written, in debit order.

	CreatorFeeCollected int64 // Sum of per-slice creator-fee shares.
	CreatorShare        int64 // Amount granted (or dead-lettered) to the creator.
	SettlementPending   bool  // Set when the payout went to the dead-letter table.
}

// Breakdown is a user's eligible balance grouped by grant category. All
// three fields are always populated, zero-filled when a category is absent.
type Breakdown struct {
	Purchased int64 `json:"purchased"`
	Bonus     int64 `json:"bonus"`
	Referral  int64 `json:"referral"`
}

// Total returns the summed eligible balance.
func (b Breakdown) Total() int64 {
	return b.Purchased + b.Bonus + b.Referral
}

// Ledger is the credit consumption engine. It owns no storage or pricing
// state itself; both are injected so tests can supply fakes.
type Ledger struct {
	store   store.Store
	pricing *pricing.Registry
	cache   *cache.Cache

	// now is swappable for tests.
	now func() time.Time
}

// New constructs a Ledger. snapshots may be nil to disable read caching.
func New(st store.Store, registry *pricing.Registry, snapshots *cache.Cache) *Ledger {
	return &Ledger{
		store:   st,
		pricing: registry,
		cache:   snapshots,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Burn charges a user for one model invocation: it prices the request,
// drains eligible grants in priority order inside a single transaction, and
// settles any creator fee after the debit commits. On failure nothing is
// debited and no burn events exist.
func (l *Ledger) Burn(ctx context.Context, req ChargeRequest) (*BurnResult, error) {
	if l == nil || l.store == nil || l.pricing == nil {
		return nil, errors.New("ledger: not initialized")
	}
	if req.UserID == 0 {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidChargeRequest)
	}
	if !req.LengthBucket.Valid() {
		return nil, fmt.Errorf("%w: length bucket %q", ErrInvalidChargeRequest, req.LengthBucket)
	}
	if req.CreatorFeePercentage > 0 && req.CreatorID == nil {
		return nil, fmt.Errorf("%w: creator fee without creator", ErrInvalidChargeRequest)
	}

	feePercentage := 0
	if req.CreatorID != nil {
		feePercentage = req.CreatorFeePercentage
	}
	quote, errQuote := l.pricing.Quote(req.ModelID, req.LengthBucket, feePercentage)
	if errQuote != nil {
		return nil, errQuote
	}

	var result *BurnResult
	for attempt := 1; attempt <= maxBurnAttempts; attempt++ {
		res, errAttempt := l.tryBurn(ctx, req, quote)
		if errAttempt == nil {
			result = res
			break
		}
		if errors.Is(errAttempt, store.ErrInsufficientGrantBalance) || errors.Is(errAttempt, store.ErrGrantNotFound) {
			log.WithFields(log.Fields{
				"user":    req.UserID,
				"model":   req.ModelID,
				"attempt": attempt,
			}).Warn("ledger: debit raced, replanning burn")
			continue
		}
		return nil, errAttempt
	}
	if result == nil {
		return nil, ErrLedgerContention
	}

	if req.CreatorID != nil && result.CreatorFeeCollected > 0 {
		l.settle(ctx, *req.CreatorID, req, result)
	}

	l.invalidate(ctx, req.UserID, req.CreatorID)

	log.WithFields(log.Fields{
		"user":     req.UserID,
		"model":    req.ModelID,
		"bucket":   req.LengthBucket,
		"required": quote.Required,
		"slices":   len(result.Events),
	}).Info("ledger: burn committed")
	return result, nil
}

// tryBurn runs one all-or-nothing burn attempt in a single transaction.
// Store-level contention errors propagate so the caller can replan from a
// fresh eligible-grant read.
func (l *Ledger) tryBurn(ctx context.Context, req ChargeRequest, quote pricing.Quote) (*BurnResult, error) {
	result := &BurnResult{Quote: quote}

	errTx := l.store.Transact(ctx, func(tx store.Store) error {
		now := l.now()
		grants, errList := tx.ListEligible(ctx, req.UserID, now, true)
		if errList != nil {
			return errList
		}

		totalAvailable := int64(0)
		for _, grant := range grants {
			totalAvailable += grant.Remaining
		}
		if totalAvailable < quote.Required {
			return ErrInsufficientCredits
		}

		stillNeeded := quote.Required
		events := make([]*models.BurnEvent, 0, len(grants))
		for _, grant := range grants {
			if stillNeeded == 0 {
				break
			}
			take := grant.Remaining
			if take > stillNeeded {
				take = stillNeeded
			}
			if errDebit := tx.ApplyDebit(ctx, grant.ID, take); errDebit != nil {
				return errDebit
			}

			// Creator-fee attribution is spread proportionally across every
			// slice of the charge, floored per slice.
			feeShare := int64(0)
			if quote.CreatorFee > 0 {
				feeShare = take * quote.CreatorFee / quote.Required
			}

			events = append(events, &models.BurnEvent{
				UserID:          req.UserID,
				GrantID:         grant.ID,
				Amount:          take,
				ModelID:         req.ModelID,
				LengthBucket:    req.LengthBucket,
				CreatorID:       req.CreatorID,
				CreatorFeeShare: feeShare,
				CreatedAt:       now,
			})
			stillNeeded -= take
		}
		if stillNeeded != 0 {
			// ListEligible reported enough but the debits came up short; a
			// concurrent burn won a slice between read and write.
			return store.ErrInsufficientGrantBalance
		}

		if errAppend := tx.AppendBurnEvents(ctx, events); errAppend != nil {
			return errAppend
		}

		result.Events = result.Events[:0]
		result.CreatorFeeCollected = 0
		for _, event := range events {
			result.Events = append(result.Events, *event)
			result.CreatorFeeCollected += event.CreatorFeeShare
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return result, nil
}

// AddGrant issues a new credit grant. expiryDays <= 0 means the grant never
// expires.
func (l *Ledger) AddGrant(ctx context.Context, userID uint64, amount int64, category models.GrantCategory, sourceTag string, expiryDays int) (*models.Grant, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("ledger: not initialized")
	}
	if userID == 0 {
		return nil, fmt.Errorf("%w: missing user", ErrInvalidGrant)
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidGrant)
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: category %q", ErrInvalidGrant, category)
	}

	now := l.now()
	grant := &models.Grant{
		OwnerID:      userID,
		Category:     category,
		IssuedAmount: amount,
		Remaining:    amount,
		SourceTag:    sourceTag,
		CreatedAt:    now,
	}
	if expiryDays > 0 {
		expiresAt := now.AddDate(0, 0, expiryDays)
		grant.ExpiresAt = &expiresAt
	}

	if errCreate := l.store.CreateGrant(ctx, grant); errCreate != nil {
		return nil, errCreate
	}

	l.invalidate(ctx, userID, nil)
	return grant, nil
}

// GetBalance returns the user's total eligible balance.
func (l *Ledger) GetBalance(ctx context.Context, userID uint64) (int64, error) {
	breakdown, errBreakdown := l.GetBreakdown(ctx, userID)
	if errBreakdown != nil {
		return 0, errBreakdown
	}
	return breakdown.Total(), nil
}

// GetBreakdown returns the user's eligible balance per category. All three
// categories are always present.
func (l *Ledger) GetBreakdown(ctx context.Context, userID uint64) (Breakdown, error) {
	if l == nil || l.store == nil {
		return Breakdown{}, errors.New("ledger: not initialized")
	}

	key := cache.BreakdownKey(userID)
	if payload, ok := l.cache.Get(ctx, key); ok {
		var cached Breakdown
		if errUnmarshal := json.Unmarshal(payload, &cached); errUnmarshal == nil {
			return cached, nil
		}
	}

	grants, errList := l.store.ListEligible(ctx, userID, l.now(), false)
	if errList != nil {
		return Breakdown{}, errList
	}

	var breakdown Breakdown
	for _, grant := range grants {
		switch grant.Category {
		case models.GrantCategoryPurchased:
			breakdown.Purchased += grant.Remaining
		case models.GrantCategoryBonus:
			breakdown.Bonus += grant.Remaining
		case models.GrantCategoryReferral:
			breakdown.Referral += grant.Remaining
		}
	}

	if payload, errMarshal := json.Marshal(breakdown); errMarshal == nil {
		l.cache.Set(ctx, key, payload)
	}
	return breakdown, nil
}

// GetHistory returns burn events where the user is the payer or the earning
// creator, newest first, paginated.
func (l *Ledger) GetHistory(ctx context.Context, userID uint64, limit, offset int) ([]models.BurnEvent, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("ledger: not initialized")
	}
	return l.store.ListBurnEvents(ctx, userID, limit, offset)
}

// HistorySize returns the total number of history rows for a user.
func (l *Ledger) HistorySize(ctx context.Context, userID uint64) (int64, error) {
	if l == nil || l.store == nil {
		return 0, errors.New("ledger: not initialized")
	}
	return l.store.CountBurnEvents(ctx, userID)
}

// DeadLetters returns settlement reconciliation records.
func (l *Ledger) DeadLetters(ctx context.Context, unresolvedOnly bool, limit, offset int) ([]models.SettlementDeadLetter, error) {
	if l == nil || l.store == nil {
		return nil, errors.New("ledger: not initialized")
	}
	return l.store.ListDeadLetters(ctx, unresolvedOnly, limit, offset)
}

// ResolveDeadLetter marks a reconciliation record as manually handled.
func (l *Ledger) ResolveDeadLetter(ctx context.Context, id uint64) error {
	if l == nil || l.store == nil {
		return errors.New("ledger: not initialized")
	}
	return l.store.ResolveDeadLetter(ctx, id)
}

// AuditTotals aggregates a user's issued, burned, and remaining credits for
// conservation checks.
func (l *Ledger) AuditTotals(ctx context.Context, userID uint64) (store.Totals, error) {
	if l == nil || l.store == nil {
		return store.Totals{}, errors.New("ledger: not initialized")
	}
	return l.store.UserTotals(ctx, userID)
}

// invalidate drops cached snapshots for the payer and, if set, the creator.
func (l *Ledger) invalidate(ctx context.Context, userID uint64, creatorID *uint64) {
	keys := []string{cache.BreakdownKey(userID)}
	if creatorID != nil {
		keys = append(keys, cache.BreakdownKey(*creatorID))
	}
	l.cache.Invalidate(ctx, keys...)
}
