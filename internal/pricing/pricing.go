package pricing

import (
	"errors"
	"strings"
	"sync"

	"github.com/promptdeck/creditledger/internal/models"
)

// Pricing errors surfaced to callers.
var (
	// ErrUnknownModel indicates the model has no pricing entry. Lookups
	// never fall back to a default cost; a missing entry is a hard error.
	ErrUnknownModel = errors.New("pricing: unknown model")
	// ErrUnknownLengthBucket indicates an unrecognized length bucket.
	ErrUnknownLengthBucket = errors.New("pricing: unknown length bucket")
	// ErrInvalidCreatorFeePercentage indicates a fee percentage outside 0-100.
	ErrInvalidCreatorFeePercentage = errors.New("pricing: creator fee percentage out of range")
)

// Platform markup tiers. Markup is proportionally larger for cheap
// operations to cover fixed per-transaction overhead, and capped flat for
// expensive ones.
const (
	markupLowCostCeiling = 10_000
	markupMidCostCeiling = 100_000
	markupFlatFee        = 500
)

// BucketCosts maps each length bucket to a base inference cost in the
// smallest credit unit.
type BucketCosts struct {
	Short  int64 // Cost for short prompts.
	Medium int64 // Cost for medium prompts.
	Long   int64 // Cost for long prompts.
}

// cost returns the cost for a bucket.
func (c BucketCosts) cost(bucket models.LengthBucket) (int64, error) {
	switch bucket {
	case models.LengthBucketShort:
		return c.Short, nil
	case models.LengthBucketMedium:
		return c.Medium, nil
	case models.LengthBucketLong:
		return c.Long, nil
	default:
		return 0, ErrUnknownLengthBucket
	}
}

// Registry maintains the in-memory model pricing table. It is read-only at
// runtime apart from test/extension registration.
type Registry struct {
	mu sync.RWMutex

	// costs stores bucket costs keyed by lower(modelID).
	costs map[string]BucketCosts
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{costs: make(map[string]BucketCosts)}
}

// DefaultRegistry returns a Registry seeded with the platform model table.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for modelID, costs := range defaultModelCosts {
		r.Register(modelID, costs)
	}
	return r
}

// Register adds or replaces the pricing entry for a model.
func (r *Registry) Register(modelID string, costs BucketCosts) {
	if r == nil {
		return
	}
	modelID = strings.ToLower(strings.TrimSpace(modelID))
	if modelID == "" {
		return
	}

	r.mu.Lock()
	r.costs[modelID] = costs
	r.mu.Unlock()
}

// BaseCost returns the base inference cost for a model and length bucket.
func (r *Registry) BaseCost(modelID string, bucket models.LengthBucket) (int64, error) {
	if r == nil {
		return 0, ErrUnknownModel
	}
	key := strings.ToLower(strings.TrimSpace(modelID))
	if key == "" {
		return 0, ErrUnknownModel
	}

	r.mu.RLock()
	costs, ok := r.costs[key]
	r.mu.RUnlock()
	if !ok {
		return 0, ErrUnknownModel
	}
	return costs.cost(bucket)
}

// Models returns the registered model IDs in no particular order.
func (r *Registry) Models() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.costs))
	for modelID := range r.costs {
		out = append(out, modelID)
	}
	return out
}

// PlatformMarkup computes the platform margin on a base cost. Markup and
// creator fee are mutually exclusive: the platform monetizes either via
// markup or via its cut of the creator fee, never both.
func PlatformMarkup(baseCost int64, hasCreatorFee bool) int64 {
	if hasCreatorFee {
		return 0
	}
	switch {
	case baseCost < markupLowCostCeiling:
		return baseCost * 20 / 100
	case baseCost < markupMidCostCeiling:
		return baseCost * 10 / 100
	default:
		return markupFlatFee
	}
}

// CreatorFee computes the creator's surcharge on a base cost.
func CreatorFee(baseCost int64, feePercentage int) (int64, error) {
	if feePercentage < 0 || feePercentage > 100 {
		return 0, ErrInvalidCreatorFeePercentage
	}
	return baseCost * int64(feePercentage) / 100, nil
}

// Quote is the full price decomposition for one charge.
type Quote struct {
	BaseCost       int64 // Model base cost for the length bucket.
	CreatorFee     int64 // Creator surcharge, 0 when no creator fee applies.
	PlatformMarkup int64 // Platform margin, 0 whenever a creator fee applies.
	Required       int64 // Total amount to debit.
}

// Quote prices a charge for a model, length bucket, and optional creator fee
// percentage.
func (r *Registry) Quote(modelID string, bucket models.LengthBucket, creatorFeePercentage int) (Quote, error) {
	baseCost, errBase := r.BaseCost(modelID, bucket)
	if errBase != nil {
		return Quote{}, errBase
	}

	creatorFee, errFee := CreatorFee(baseCost, creatorFeePercentage)
	if errFee != nil {
		return Quote{}, errFee
	}

	markup := PlatformMarkup(baseCost, creatorFee > 0)
	return Quote{
		BaseCost:       baseCost,
		CreatorFee:     creatorFee,
		PlatformMarkup: markup,
		Required:       baseCost + creatorFee + markup,
	}, nil
}
