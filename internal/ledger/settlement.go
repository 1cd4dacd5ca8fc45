package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/promptdeck/creditledger/internal/models"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Creator settlement policy: the creator keeps 80% of the collected fee as a
// bonus grant expiring in 90 days; the platform retains the rest implicitly.
const (
	settlementCreatorSharePercent = 80
	settlementExpiryDays          = 90
)

// settle issues the creator's share of a collected fee as a new bonus grant.
// The payer's debit is already committed, so settlement failure is never
// returned to the caller: the payout is dead-lettered for reconciliation
// instead.
func (l *Ledger) settle(ctx context.Context, creatorID uint64, req ChargeRequest, result *BurnResult) {
	creatorShare := result.CreatorFeeCollected * settlementCreatorSharePercent / 100
	result.CreatorShare = creatorShare
	if creatorShare <= 0 {
		return
	}

	now := l.now()
	expiresAt := now.AddDate(0, 0, settlementExpiryDays)
	grant := &models.Grant{
		OwnerID:      creatorID,
		Category:     models.GrantCategoryBonus,
		IssuedAmount: creatorShare,
		Remaining:    creatorShare,
		ExpiresAt:    &expiresAt,
		SourceTag:    fmt.Sprintf("settlement:payer=%d model=%s", req.UserID, req.ModelID),
		CreatedAt:    now,
	}

	errCreate := l.store.CreateGrant(ctx, grant)
	if errCreate == nil {
		log.WithFields(log.Fields{
			"creator": creatorID,
			"payer":   req.UserID,
			"share":   creatorShare,
		}).Info("ledger: creator fee settled")
		return
	}

	result.SettlementPending = true
	log.WithError(errCreate).WithFields(log.Fields{
		"creator": creatorID,
		"payer":   req.UserID,
		"share":   creatorShare,
	}).Error("ledger: creator settlement failed, dead-lettering")

	letter := &models.SettlementDeadLetter{
		CreatorID: creatorID,
		Amount:    creatorShare,
		Reason:    fmt.Sprintf("creator grant insert failed: %v", errCreate),
		Detail:    settlementDetail(req, result),
	}
	if errLetter := l.store.CreateDeadLetter(ctx, letter); errLetter != nil {
		// Last resort: the payout exists only in this log line now.
		log.WithError(errLetter).WithFields(log.Fields{
			"creator": creatorID,
			"payer":   req.UserID,
			"share":   creatorShare,
		}).Error("ledger: dead-letter insert failed, payout needs manual recovery")
	}
}

// settlementDetail captures the burn context a reconciler needs.
func settlementDetail(req ChargeRequest, result *BurnResult) datatypes.JSON {
	eventIDs := make([]uint64, 0, len(result.Events))
	for _, event := range result.Events {
		eventIDs = append(eventIDs, event.ID)
	}
	payload, errMarshal := json.Marshal(map[string]any{
		"payer_id":      req.UserID,
		"model_id":      req.ModelID,
		"length_bucket": req.LengthBucket,
		"fee_collected": result.CreatorFeeCollected,
		"fee_percent":   req.CreatorFeePercentage,
		"burn_events":   eventIDs,
	})
	if errMarshal != nil {
		return nil
	}
	return datatypes.JSON(payload)
}
