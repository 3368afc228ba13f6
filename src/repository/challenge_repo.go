package repository

import (
	"time"

	"github.com/terraforum/backend/src/domain"
	"gorm.io/gorm"
)

type ChallengeRepository struct {
	db *gorm.DB
}

func NewChallengeRepository(db *gorm.DB) *ChallengeRepository {
	return &ChallengeRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *ChallengeRepository) WithTx(tx *gorm.DB) *ChallengeRepository {
	return &ChallengeRepository{db: tx}
}

func (r *ChallengeRepository) Create(challenge *domain.WalletChallenge) error {
	return r.db.Create(challenge).Error
}

func (r *ChallengeRepository) FindByNonce(nonce string) (*domain.WalletChallenge, error) {
	var challenge domain.WalletChallenge
	if err := r.db.Where("nonce = ?", nonce).First(&challenge).Error; err != nil {
		return nil, err
	}
	return &challenge, nil
}

// Consume flips consumed and verified in a single conditional update. The
// WHERE consumed = false clause is the compare-and-set: of two concurrent
// callers exactly one sees a row affected, so a challenge can never be spent
// twice. This is the only write path for issued challenges.
func (r *ChallengeRepository) Consume(nonce string, when time.Time) (bool, error) {
	result := r.db.Model(&domain.WalletChallenge{}).
		Where("nonce = ? AND consumed = ?", nonce, false).
		Updates(map[string]interface{}{
			"consumed":    true,
			"verified":    true,
			"verified_at": when,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
