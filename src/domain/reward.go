package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RewardStatus is the reward request state machine. PENDING and PROCESSING
// are transient; CONFIRMED and FAILED are terminal and never resurrected
// automatically.
type RewardStatus string

const (
	RewardStatusPending    RewardStatus = "PENDING"
	RewardStatusProcessing RewardStatus = "PROCESSING"
	RewardStatusConfirmed  RewardStatus = "CONFIRMED"
	RewardStatusFailed     RewardStatus = "FAILED"
)

// TokenKind selects which asset a reward pays out.
type TokenKind string

const (
	// TokenKindNative pays in the chain's native currency.
	TokenKindNative TokenKind = "native"
	// TokenKindTerra pays in the platform's ERC-20 token.
	TokenKindTerra TokenKind = "terra"
)

func ValidTokenKind(k TokenKind) bool {
	return k == TokenKindNative || k == TokenKindTerra
}

// RewardRequest tracks one payout from creation through external-ledger
// confirmation. Destination, issuer and currency are snapshotted at creation
// time and must not change even if configuration later does.
//
// At most one non-FAILED row may exist per (beneficiary, contribution,
// token kind); the partial unique index in the migration enforces it.
type RewardRequest struct {
	ID                 uuid.UUID       `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	BeneficiaryID      uuid.UUID       `gorm:"type:uuid;not null;index"`
	TokenKind          TokenKind       `gorm:"type:varchar(16);not null"`
	Amount             decimal.Decimal `gorm:"type:numeric(38,18);not null"`
	Reason             string          `gorm:"type:text"`
	ContributionRef    string          `gorm:"type:varchar(64);not null;index"`
	DestinationAddress string          `gorm:"type:varchar(42);not null"`
	IssuerAddress      string          `gorm:"type:varchar(42);not null"`
	CurrencyCode       string          `gorm:"type:varchar(16);not null"`
	Status             RewardStatus    `gorm:"type:varchar(16);not null;default:'PENDING'"`
	TxHash             *string         `gorm:"type:varchar(66)"`
	ErrorDetail        *string         `gorm:"type:text"`
	CreatedAt          time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	ProcessedAt        *time.Time      `gorm:""`
	ConfirmedAt        *time.Time      `gorm:""`
}

func (r *RewardRequest) Terminal() bool {
	return r.Status == RewardStatusConfirmed || r.Status == RewardStatusFailed
}
