package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/terraforum/backend/src/domain"
	"gorm.io/gorm"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// WithTx returns a repository bound to the given transaction.
func (r *UserRepository) WithTx(tx *gorm.DB) *UserRepository {
	return &UserRepository{db: tx}
}

func (r *UserRepository) FindByID(id uuid.UUID) (*domain.User, error) {
	var user domain.User
	if err := r.db.Where("id = ?", id).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// FindByWalletAddress returns the user currently bound to address, or nil if
// the address is unbound.
func (r *UserRepository) FindByWalletAddress(address string) (*domain.User, error) {
	var user domain.User
	err := r.db.Where("wallet_address = ?", address).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// BindWalletAddress sets the user's wallet address. The partial unique index
// on users.wallet_address makes a concurrent second binder fail with
// gorm.ErrDuplicatedKey; callers translate that into a conflict error.
func (r *UserRepository) BindWalletAddress(userID uuid.UUID, address string) error {
	return r.db.Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"wallet_address": address,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *UserRepository) UnbindWalletAddress(userID uuid.UUID) error {
	return r.db.Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"wallet_address": nil,
			"updated_at":     time.Now().UTC(),
		}).Error
}
