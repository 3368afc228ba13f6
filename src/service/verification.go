package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/terraforum/backend/src/domain"
	"github.com/terraforum/backend/src/repository"
	"gorm.io/gorm"
)

// VerificationService drives a challenge from issued to consumed and binds
// the proven address to the user. A challenge ends VERIFIED or rejected with
// one of the typed failures; both outcomes are final.
type VerificationService struct {
	db         *gorm.DB
	challenges *repository.ChallengeRepository
	users      *repository.UserRepository
	verifier   *SignatureVerifier
}

func NewVerificationService(db *gorm.DB, challenges *repository.ChallengeRepository, users *repository.UserRepository, verifier *SignatureVerifier) *VerificationService {
	return &VerificationService{
		db:         db,
		challenges: challenges,
		users:      users,
		verifier:   verifier,
	}
}

// logger wraps the execution context with component info
func (s *VerificationService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "verification").Logger()
	return &l
}

// Verify validates the proof for the challenge identified by nonce and, on
// success, atomically consumes the challenge and binds the address to the
// requesting user. The check order gives precise error reporting; all checks
// must hold before any state changes.
func (s *VerificationService) Verify(ctx context.Context, nonce, claimedAddress, signature, publicKey string, requestingUserID uuid.UUID) (*domain.User, error) {
	challenge, err := s.challenges.FindByNonce(nonce)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.ErrorCodeResourceNotFound, fmt.Errorf("unknown nonce %s", nonce), domain.WithMsg("Challenge not found"))
		}
		s.logger(ctx).Error().Err(err).Msg("failed to load challenge")
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}

	if challenge.UserID != requestingUserID {
		return nil, domain.NewError(domain.ErrorCodeAuthPermissionDenied, errors.New("challenge was issued to a different user"), domain.WithMsg("Challenge belongs to another account"))
	}

	now := time.Now().UTC()
	if challenge.Expired(now) {
		return nil, domain.NewError(domain.ErrorCodeChallengeExpired, fmt.Errorf("challenge expired at %s", challenge.ExpiresAt), domain.WithMsg("Challenge has expired, request a new one"))
	}

	if challenge.Consumed {
		return nil, domain.NewError(domain.ErrorCodeChallengeUsed, errors.New("challenge already consumed"), domain.WithMsg("Challenge was already used"))
	}

	checksummed := common.HexToAddress(claimedAddress).Hex()
	if !common.IsHexAddress(claimedAddress) || checksummed != challenge.ClaimedAddress {
		return nil, domain.NewError(domain.ErrorCodeAddressMismatch, fmt.Errorf("claimed %s, challenge was issued for %s", claimedAddress, challenge.ClaimedAddress), domain.WithMsg("Address does not match the challenge"))
	}

	if err := s.verifier.Verify(challenge.Message, signature, publicKey, checksummed); err != nil {
		return nil, err
	}

	// Consume and bind in one transaction. The conditional update settles the
	// double-spend race on the challenge; the unique index on
	// users.wallet_address settles the race between two users binding the
	// same address.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		consumed, err := s.challenges.WithTx(tx).Consume(nonce, now)
		if err != nil {
			return domain.NewError(domain.ErrorCodeInternalProcess, err)
		}
		if !consumed {
			return domain.NewError(domain.ErrorCodeChallengeUsed, errors.New("challenge consumed concurrently"), domain.WithMsg("Challenge was already used"))
		}

		if err := s.users.WithTx(tx).BindWalletAddress(requestingUserID, checksummed); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.NewError(domain.ErrorCodeConflict, fmt.Errorf("address %s was bound concurrently", checksummed), domain.WithMsg("Address is already linked to another account"))
			}
			return domain.NewError(domain.ErrorCodeInternalProcess, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger(ctx).Info().
		Str("nonce", nonce).
		Str("address", checksummed).
		Str("user_id", requestingUserID.String()).
		Msg("wallet verified and bound")

	user, err := s.users.FindByID(requestingUserID)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return user, nil
}

// Unbind clears the user's wallet binding.
func (s *VerificationService) Unbind(ctx context.Context, userID uuid.UUID) error {
	if err := s.users.UnbindWalletAddress(userID); err != nil {
		s.logger(ctx).Error().Err(err).Str("user_id", userID.String()).Msg("failed to unbind wallet")
		return domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	s.logger(ctx).Info().Str("user_id", userID.String()).Msg("wallet unbound")
	return nil
}
