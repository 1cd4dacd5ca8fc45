package store

import (
	"context"
	"errors"
	"time"

	"github.com/promptdeck/creditledger/internal/models"
)

// Store errors. These are internal to the storage layer; the ledger engine
// converts them into retries or caller-facing errors and never leaks them.
var (
	// ErrGrantNotFound indicates a debit against a nonexistent grant.
	ErrGrantNotFound = errors.New("store: grant not found")
	// ErrInsufficientGrantBalance indicates a debit larger than the grant's
	// remaining balance at apply time.
	ErrInsufficientGrantBalance = errors.New("store: insufficient grant balance")
	// ErrInvalidAmount indicates a zero or negative amount.
	ErrInvalidAmount = errors.New("store: invalid amount")
	// ErrDeadLetterNotFound indicates a resolve against a missing or
	// already-resolved reconciliation record.
	ErrDeadLetterNotFound = errors.New("store: dead letter not found")
)

// Totals aggregates one user's ledger for conservation checks.
type Totals struct {
	Issued    int64 // Sum of issued_amount over all grants.
	Burned    int64 // Sum of amount over all burn events paid by the user.
	Remaining int64 // Sum of remaining over all grants, expired included.
}

// Store is the durable grant and burn-event storage consumed by the ledger
// engine. Implementations must make ApplyDebit a single atomic conditional
// update; a read-then-write at this layer loses updates under concurrency.
type Store interface {
	// Transact runs fn inside a storage transaction. The Store passed to fn
	// is bound to that transaction; returning an error rolls everything back.
	Transact(ctx context.Context, fn func(Store) error) error

	// ListEligible returns the owner's grants with remaining > 0 and no past
	// expiry, ordered by (category priority, created_at ASC, id ASC). When
	// forUpdate is set the rows are locked for the transaction.
	ListEligible(ctx context.Context, ownerID uint64, now time.Time, forUpdate bool) ([]models.Grant, error)

	// ApplyDebit decrements a grant's remaining balance by amount, failing
	// with ErrInsufficientGrantBalance if the balance would go negative.
	ApplyDebit(ctx context.Context, grantID uint64, amount int64) error

	// CreateGrant persists a new grant.
	CreateGrant(ctx context.Context, grant *models.Grant) error

	// AppendBurnEvents persists burn-event rows.
	AppendBurnEvents(ctx context.Context, events []*models.BurnEvent) error

	// ListBurnEvents returns burn events where the user is the payer or the
	// named creator, newest first, paginated.
	ListBurnEvents(ctx context.Context, userID uint64, limit, offset int) ([]models.BurnEvent, error)

	// CountBurnEvents returns the total history size for a user.
	CountBurnEvents(ctx context.Context, userID uint64) (int64, error)

	// CreateDeadLetter persists a settlement reconciliation record.
	CreateDeadLetter(ctx context.Context, letter *models.SettlementDeadLetter) error

	// ListDeadLetters returns reconciliation records, oldest first.
	ListDeadLetters(ctx context.Context, unresolvedOnly bool, limit, offset int) ([]models.SettlementDeadLetter, error)

	// ResolveDeadLetter marks a reconciliation record as handled.
	ResolveDeadLetter(ctx context.Context, id uint64) error

	// UserTotals aggregates a user's issued, burned, and remaining credits.
	UserTotals(ctx context.Context, userID uint64) (Totals, error)
}
