package ledger

import "errors"

// Errors surfaced to callers of the ledger engine.
var (
	// ErrInsufficientCredits indicates the user's total eligible balance is
	// below the required charge. The burn is a no-op.
	ErrInsufficientCredits = errors.New("ledger: insufficient credits")
	// ErrLedgerContention indicates the burn exhausted its retries under
	// concurrent contention. The state is unchanged; callers may retry.
	ErrLedgerContention = errors.New("ledger: contention, retries exhausted")
	// ErrInvalidChargeRequest indicates a malformed charge request.
	ErrInvalidChargeRequest = errors.New("ledger: invalid charge request")
	// ErrInvalidGrant indicates malformed grant parameters.
	ErrInvalidGrant = errors.New("ledger: invalid grant")
)
