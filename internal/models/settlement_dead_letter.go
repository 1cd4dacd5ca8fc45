package models

import (
	"time"

	"gorm.io/datatypes"
)

// SettlementDeadLetter records a creator payout that could not be issued
// after the payer's debit already committed. The debit is never rolled back;
// these rows exist so the payout can be reconciled manually.
type SettlementDeadLetter struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	CreatorID uint64 `gorm:"not null;index"` // Creator owed the payout.
	Amount    int64  `gorm:"not null"`       // Creator share that failed to settle.

	Reason string         `gorm:"type:text;not null"` // Failure summary.
	Detail datatypes.JSON `gorm:"type:jsonb"`         // Structured context (source burn, fee totals).

	Resolved   bool       `gorm:"not null;default:false;index"` // Set once manually reconciled.
	ResolvedAt *time.Time // Reconciliation time, if resolved.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// TableName overrides the default table name.
func (SettlementDeadLetter) TableName() string {
	return "settlement_dead_letters"
}
