package models

import "time"

// GrantCategory classifies where a credit grant came from.
type GrantCategory string

// Grant categories in burn priority order.
const (
	// GrantCategoryPurchased marks credits bought with real money.
	GrantCategoryPurchased GrantCategory = "purchased"
	// GrantCategoryBonus marks credits issued by the platform (welcome
	// bonuses, creator-fee settlements).
	GrantCategoryBonus GrantCategory = "bonus"
	// GrantCategoryReferral marks credits earned through referrals.
	GrantCategoryReferral GrantCategory = "referral"
)

// Priority returns the burn order of the category: purchased grants are
// drained first, referral grants last. Unknown categories sort after all
// known ones.
func (c GrantCategory) Priority() int {
	switch c {
	case GrantCategoryPurchased:
		return 0
	case GrantCategoryBonus:
		return 1
	case GrantCategoryReferral:
		return 2
	default:
		return 3
	}
}

// Valid reports whether the category is one of the known values.
func (c GrantCategory) Valid() bool {
	switch c {
	case GrantCategoryPurchased, GrantCategoryBonus, GrantCategoryReferral:
		return true
	}
	return false
}

// Grant represents a discrete credit bucket with its own remaining balance
// and optional expiry. Grants are never deleted; they become permanently
// ineligible once drained or expired.
type Grant struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OwnerID  uint64        `gorm:"not null;index:idx_grants_owner_category"`           // Owning user ID.
	Category GrantCategory `gorm:"type:text;not null;index:idx_grants_owner_category"` // Burn priority class.

	IssuedAmount int64 `gorm:"not null"`           // Face value at creation, immutable.
	Remaining    int64 `gorm:"not null;default:0"` // Unspent balance, monotonically non-increasing.

	ExpiresAt *time.Time `gorm:"index"`     // Expiration time; nil means never expires.
	SourceTag string     `gorm:"type:text"` // Free-text provenance, not used in burn logic.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp, FIFO tie-break key.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}

// TableName overrides the default table name.
func (Grant) TableName() string {
	return "grants"
}
