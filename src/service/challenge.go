package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/terraforum/backend/src/domain"
	"github.com/terraforum/backend/src/repository"
)

// nonceBytes gives 256 bits of entropy, encoded as 64 lowercase hex chars.
const nonceBytes = 32

// ChallengeService issues time-boxed wallet ownership challenges.
type ChallengeService struct {
	challenges *repository.ChallengeRepository
	users      *repository.UserRepository
	ttl        time.Duration
}

func NewChallengeService(challenges *repository.ChallengeRepository, users *repository.UserRepository, ttl time.Duration) *ChallengeService {
	return &ChallengeService{
		challenges: challenges,
		users:      users,
		ttl:        ttl,
	}
}

// logger wraps the execution context with component info
func (s *ChallengeService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "challenge").Logger()
	return &l
}

// Issue creates and persists a fresh challenge for userID claiming address.
// The address-already-bound check here is a pre-check only; the binding race
// is settled by the unique index at verification time.
func (s *ChallengeService) Issue(ctx context.Context, userID uuid.UUID, address string) (*domain.WalletChallenge, error) {
	if !common.IsHexAddress(address) {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("invalid address: %s", address), domain.WithMsg("Invalid wallet address"))
	}
	checksummed := common.HexToAddress(address).Hex()

	owner, err := s.users.FindByWalletAddress(checksummed)
	if err != nil {
		s.logger(ctx).Error().Err(err).Msg("failed to look up address owner")
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	if owner != nil && owner.ID != userID {
		return nil, domain.NewError(domain.ErrorCodeConflict, fmt.Errorf("address %s is bound to another user", checksummed), domain.WithMsg("Address is already linked to another account"))
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}

	now := time.Now().UTC()
	challenge := &domain.WalletChallenge{
		Nonce:          nonce,
		Message:        domain.BuildChallengeMessage(checksummed, nonce, now),
		ClaimedAddress: checksummed,
		UserID:         userID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.ttl),
	}

	if err := s.challenges.Create(challenge); err != nil {
		s.logger(ctx).Error().Err(err).Msg("failed to persist challenge")
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}

	s.logger(ctx).Info().
		Str("nonce", nonce).
		Str("address", checksummed).
		Str("user_id", userID.String()).
		Time("expires_at", challenge.ExpiresAt).
		Msg("challenge issued")

	return challenge, nil
}

func newNonce() (string, error) {
	buf := make([]byte, nonceBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
