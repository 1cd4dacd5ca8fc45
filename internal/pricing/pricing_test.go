package pricing

import (
	"errors"
	"testing"

	"github.com/promptdeck/creditledger/internal/models"
)

func TestBaseCostUnknownModel(t *testing.T) {
	registry := DefaultRegistry()

	if _, errCost := registry.BaseCost("model-that-does-not-exist", models.LengthBucketShort); !errors.Is(errCost, ErrUnknownModel) {
		t.Fatalf("expected ErrUnknownModel, got %v", errCost)
	}
}

func TestBaseCostCaseInsensitive(t *testing.T) {
	registry := NewRegistry()
	registry.Register("GPT-4o", BucketCosts{Short: 100, Medium: 200, Long: 300})

	cost, errCost := registry.BaseCost("gpt-4O", models.LengthBucketMedium)
	if errCost != nil {
		t.Fatalf("base cost: %v", errCost)
	}
	if cost != 200 {
		t.Fatalf("base cost: got %d, want 200", cost)
	}
}

func TestBaseCostUnknownBucket(t *testing.T) {
	registry := NewRegistry()
	registry.Register("m", BucketCosts{Short: 1, Medium: 2, Long: 3})

	if _, errCost := registry.BaseCost("m", models.LengthBucket("huge")); !errors.Is(errCost, ErrUnknownLengthBucket) {
		t.Fatalf("expected ErrUnknownLengthBucket, got %v", errCost)
	}
}

func TestPlatformMarkupTiers(t *testing.T) {
	cases := []struct {
		baseCost      int64
		hasCreatorFee bool
		want          int64
	}{
		{5_000, false, 1_000},
		{50_000, false, 5_000},
		{500_000, false, 500},
		{9_999, false, 1_999},
		{10_000, false, 1_000},
		{100_000, false, 500},
		{5_000, true, 0},
		{500_000, true, 0},
	}
	for _, tc := range cases {
		got := PlatformMarkup(tc.baseCost, tc.hasCreatorFee)
		if got != tc.want {
			t.Fatalf("markup(%d, %v): got %d, want %d", tc.baseCost, tc.hasCreatorFee, got, tc.want)
		}
	}
}

func TestCreatorFeeRange(t *testing.T) {
	if _, errFee := CreatorFee(1_000, -1); !errors.Is(errFee, ErrInvalidCreatorFeePercentage) {
		t.Fatalf("expected range error for -1, got %v", errFee)
	}
	if _, errFee := CreatorFee(1_000, 101); !errors.Is(errFee, ErrInvalidCreatorFeePercentage) {
		t.Fatalf("expected range error for 101, got %v", errFee)
	}

	fee, errFee := CreatorFee(10_000, 50)
	if errFee != nil {
		t.Fatalf("creator fee: %v", errFee)
	}
	if fee != 5_000 {
		t.Fatalf("creator fee: got %d, want 5000", fee)
	}
}

func TestQuoteWithCreatorFeeSuppressesMarkup(t *testing.T) {
	registry := NewRegistry()
	registry.Register("m", BucketCosts{Short: 10_000, Medium: 20_000, Long: 30_000})

	quote, errQuote := registry.Quote("m", models.LengthBucketShort, 50)
	if errQuote != nil {
		t.Fatalf("quote: %v", errQuote)
	}
	if quote.BaseCost != 10_000 || quote.CreatorFee != 5_000 || quote.PlatformMarkup != 0 {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if quote.Required != 15_000 {
		t.Fatalf("required: got %d, want 15000", quote.Required)
	}
}

func TestQuoteWithoutCreatorFeeAppliesMarkup(t *testing.T) {
	registry := NewRegistry()
	registry.Register("m", BucketCosts{Short: 5_000, Medium: 50_000, Long: 500_000})

	cases := []struct {
		bucket   models.LengthBucket
		required int64
	}{
		{models.LengthBucketShort, 6_000},
		{models.LengthBucketMedium, 55_000},
		{models.LengthBucketLong, 500_500},
	}
	for _, tc := range cases {
		quote, errQuote := registry.Quote("m", tc.bucket, 0)
		if errQuote != nil {
			t.Fatalf("quote %s: %v", tc.bucket, errQuote)
		}
		if quote.Required != tc.required {
			t.Fatalf("quote %s: required %d, want %d", tc.bucket, quote.Required, tc.required)
		}
	}
}
