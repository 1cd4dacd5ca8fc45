package models

import "time"

// LengthBucket is the coarse prompt-length class used for pricing.
type LengthBucket string

// Length buckets recognized by the pricing table.
const (
	// LengthBucketShort covers short prompts.
	LengthBucketShort LengthBucket = "short"
	// LengthBucketMedium covers medium prompts.
	LengthBucketMedium LengthBucket = "medium"
	// LengthBucketLong covers long prompts.
	LengthBucketLong LengthBucket = "long"
)

// Valid reports whether the bucket is one of the known values.
func (b LengthBucket) Valid() bool {
	switch b {
	case LengthBucketShort, LengthBucketMedium, LengthBucketLong:
		return true
	}
	return false
}

// BurnEvent is one immutable slice of a charge, debited from a single grant.
// A charge that drains multiple grants produces one row per grant touched;
// the row amounts always sum to exactly the required charge.
type BurnEvent struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID  uint64 `gorm:"not null;index"` // Paying user ID.
	GrantID uint64 `gorm:"not null;index"` // Grant this slice was taken from.

	Amount int64 `gorm:"not null"` // Slice size, always > 0.

	ModelID      string       `gorm:"type:text;not null;index"` // Billed model identifier.
	LengthBucket LengthBucket `gorm:"type:text;not null"`       // Billed prompt-length bucket.

	CreatorID       *uint64 `gorm:"index"`              // Creator charging a fee, if any.
	CreatorFeeShare int64   `gorm:"not null;default:0"` // Portion of Amount attributable to the creator fee.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Burn timestamp.
}

// TableName overrides the default table name.
func (BurnEvent) TableName() string {
	return "burn_events"
}
