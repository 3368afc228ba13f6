package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	RoleMember  = "member"
	RoleSteward = "steward"
)

// User is the forum account referenced by the verification and reward core.
// Only the wallet binding is mutated here; everything else belongs to the
// forum service.
type User struct {
	ID            uuid.UUID `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	Username      string    `gorm:"unique;not null"`
	Role          string    `gorm:"type:varchar(16);not null;default:'member'"`
	WalletAddress *string   `gorm:"type:varchar(42)"`
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (u *User) HasWallet() bool {
	return u.WalletAddress != nil && *u.WalletAddress != ""
}
