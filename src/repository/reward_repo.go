package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/terraforum/backend/src/domain"
	"gorm.io/gorm"
)

type RewardRepository struct {
	db *gorm.DB
}

func NewRewardRepository(db *gorm.DB) *RewardRepository {
	return &RewardRepository{db: db}
}

// Create persists a new PENDING reward request. The partial unique index over
// (beneficiary_id, contribution_ref, token_kind) excluding FAILED rows makes
// a duplicate trigger fail with gorm.ErrDuplicatedKey.
func (r *RewardRepository) Create(request *domain.RewardRequest) error {
	return r.db.Create(request).Error
}

func (r *RewardRepository) FindByID(id uuid.UUID) (*domain.RewardRequest, error) {
	var request domain.RewardRequest
	if err := r.db.Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *RewardRepository) FindByContributionRef(ref string) ([]*domain.RewardRequest, error) {
	var requests []*domain.RewardRequest
	if err := r.db.Where("contribution_ref = ?", ref).Order("created_at").Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *RewardRepository) FindByBeneficiaryAndContributionRef(beneficiaryID uuid.UUID, ref string) ([]*domain.RewardRequest, error) {
	var requests []*domain.RewardRequest
	err := r.db.Where("beneficiary_id = ? AND contribution_ref = ?", beneficiaryID, ref).
		Order("created_at").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

// MarkProcessing transitions PENDING to PROCESSING with a conditional update.
// Returns false when the row was already claimed or is terminal, so two
// workers dequeuing the same request cannot both submit a payment.
func (r *RewardRepository) MarkProcessing(id uuid.UUID, when time.Time) (bool, error) {
	result := r.db.Model(&domain.RewardRequest{}).
		Where("id = ? AND status = ?", id, domain.RewardStatusPending).
		Updates(map[string]interface{}{
			"status":       domain.RewardStatusProcessing,
			"processed_at": when,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *RewardRepository) MarkConfirmed(id uuid.UUID, txHash string, when time.Time) error {
	return r.db.Model(&domain.RewardRequest{}).
		Where("id = ? AND status = ?", id, domain.RewardStatusProcessing).
		Updates(map[string]interface{}{
			"status":       domain.RewardStatusConfirmed,
			"tx_hash":      txHash,
			"confirmed_at": when,
		}).Error
}

// MarkFailed records the terminal FAILED state with the error detail. The tx
// hash is kept when a submission made it out before failing, so an operator
// can reconcile against the ledger.
func (r *RewardRepository) MarkFailed(id uuid.UUID, txHash *string, errorDetail string) error {
	updates := map[string]interface{}{
		"status":       domain.RewardStatusFailed,
		"error_detail": errorDetail,
	}
	if txHash != nil {
		updates["tx_hash"] = *txHash
	}
	return r.db.Model(&domain.RewardRequest{}).
		Where("id = ? AND status = ?", id, domain.RewardStatusProcessing).
		Updates(updates).Error
}

// FindStalePending returns PENDING rows older than the cutoff. Used by the
// worker sweep to requeue requests whose enqueue was lost, e.g. across a
// restart.
func (r *RewardRepository) FindStalePending(olderThan time.Time, limit int) ([]*domain.RewardRequest, error) {
	var requests []*domain.RewardRequest
	err := r.db.Where("status = ? AND created_at < ?", domain.RewardStatusPending, olderThan).
		Order("created_at").
		Limit(limit).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}
