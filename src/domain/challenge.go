package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChallengeMessageVersion is embedded in every challenge message so signing
// tools can detect template changes.
const ChallengeMessageVersion = "v1"

// WalletChallenge is a time-boxed, single-use proof request binding a
// (user, claimed address) pair. Rows are never deleted; a consumed or expired
// challenge stays around as an audit record.
type WalletChallenge struct {
	Nonce          string     `gorm:"primaryKey;type:varchar(64)"`
	Message        string     `gorm:"type:text;not null"`
	ClaimedAddress string     `gorm:"type:varchar(42);not null"`
	UserID         uuid.UUID  `gorm:"type:uuid;not null;index"`
	Consumed       bool       `gorm:"not null;default:false"`
	Verified       bool       `gorm:"not null;default:false"`
	VerifiedAt     *time.Time `gorm:""`
	CreatedAt      time.Time  `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ExpiresAt      time.Time  `gorm:"not null"`
}

func (WalletChallenge) TableName() string {
	return "wallet_challenges"
}

func (c *WalletChallenge) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// BuildChallengeMessage renders the plain-text message a wallet must sign.
// The template is stable and versioned: the same inputs always produce the
// same bytes, so clients can reconstruct it for display and signing. The
// issued-at timestamp is truncated to whole seconds (RFC 3339, UTC) to keep
// both sides byte-identical.
func BuildChallengeMessage(address, nonce string, issuedAt time.Time) string {
	return fmt.Sprintf(
		"TerraForum wallet verification (%s)\n"+
			"Address: %s\n"+
			"Nonce: %s\n"+
			"Issued-At: %s\n"+
			"Purpose: Prove ownership of this wallet to link it to your TerraForum account.",
		ChallengeMessageVersion,
		address,
		nonce,
		issuedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
	)
}
