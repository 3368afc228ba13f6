package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/terraforum/backend/src/domain"
	"github.com/terraforum/backend/src/repository"
	"gorm.io/gorm"
)

type RewardConfig struct {
	// MaxAttempts bounds submission retries for transient ledger errors.
	MaxAttempts int
	// BackoffBase is the first retry delay; doubled on each attempt.
	BackoffBase time.Duration
	// FinalityTimeout bounds the wait for ledger confirmation per submission.
	FinalityTimeout time.Duration
	// CurrencyCodes maps token kinds to the currency code snapshotted onto
	// each reward request.
	CurrencyCodes map[domain.TokenKind]string
}

// RewardService tracks reward requests from creation through external-ledger
// confirmation. Its failures are isolated: whatever workflow triggered a
// reward completes on its own merits, with the reward outcome recorded on the
// request row and exposed as a separate status query.
type RewardService struct {
	rewards *repository.RewardRepository
	users   *repository.UserRepository
	chain   ChainClient
	config  RewardConfig
}

func NewRewardService(rewards *repository.RewardRepository, users *repository.UserRepository, chain ChainClient, config RewardConfig) *RewardService {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = 2 * time.Second
	}
	if config.FinalityTimeout <= 0 {
		config.FinalityTimeout = 2 * time.Minute
	}
	return &RewardService{
		rewards: rewards,
		users:   users,
		chain:   chain,
		config:  config,
	}
}

// logger wraps the execution context with component info
func (s *RewardService) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("service", "reward").Logger()
	return &l
}

// Create persists a PENDING reward request with a snapshot of the routing
// info valid at creation time. The beneficiary must already have a bound
// wallet. Duplicate (beneficiary, contribution, token kind) triples are
// rejected so a double trigger cannot become a double payout.
func (s *RewardService) Create(ctx context.Context, beneficiaryID uuid.UUID, amount decimal.Decimal, tokenKind domain.TokenKind, reason, contributionRef string) (*domain.RewardRequest, error) {
	if !domain.ValidTokenKind(tokenKind) {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("unsupported token kind: %s", tokenKind), domain.WithMsg("Unsupported token kind"))
	}
	if !amount.IsPositive() {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("amount must be positive, got %s", amount), domain.WithMsg("Amount must be positive"))
	}
	if contributionRef == "" {
		return nil, domain.NewError(domain.ErrorCodeParameterInvalid, errors.New("contribution reference is required"), domain.WithMsg("Contribution reference is required"))
	}

	beneficiary, err := s.users.FindByID(beneficiaryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.ErrorCodeResourceNotFound, fmt.Errorf("unknown beneficiary %s", beneficiaryID), domain.WithMsg("Beneficiary not found"))
		}
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	if !beneficiary.HasWallet() {
		return nil, domain.NewError(domain.ErrorCodeNoWalletLinked, fmt.Errorf("beneficiary %s has no linked wallet", beneficiaryID), domain.WithMsg("Beneficiary has no linked wallet"))
	}

	request := &domain.RewardRequest{
		BeneficiaryID:      beneficiaryID,
		TokenKind:          tokenKind,
		Amount:             amount,
		Reason:             reason,
		ContributionRef:    contributionRef,
		DestinationAddress: *beneficiary.WalletAddress,
		IssuerAddress:      s.chain.IssuerAddress(),
		CurrencyCode:       s.config.CurrencyCodes[tokenKind],
		Status:             domain.RewardStatusPending,
		CreatedAt:          time.Now().UTC(),
	}

	if err := s.rewards.Create(request); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, domain.NewError(domain.ErrorCodeConflict, fmt.Errorf("reward already exists for contribution %s", contributionRef), domain.WithMsg("A reward for this contribution already exists"))
		}
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}

	s.logger(ctx).Info().
		Str("reward_id", request.ID.String()).
		Str("beneficiary_id", beneficiaryID.String()).
		Str("contribution_ref", contributionRef).
		Str("token_kind", string(tokenKind)).
		Str("amount", amount.String()).
		Msg("reward request created")

	return request, nil
}

// Process drives a PENDING request to a terminal state: it claims the row,
// submits the payment with bounded retries for transient submission errors,
// waits for finality, and records CONFIRMED or FAILED. A request is never
// left PROCESSING past the call; processing an already claimed or terminal
// request is a no-op.
func (s *RewardService) Process(ctx context.Context, id uuid.UUID) error {
	request, err := s.rewards.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.NewError(domain.ErrorCodeResourceNotFound, fmt.Errorf("unknown reward %s", id), domain.WithMsg("Reward not found"))
		}
		return domain.NewError(domain.ErrorCodeInternalProcess, err)
	}

	claimed, err := s.rewards.MarkProcessing(id, time.Now().UTC())
	if err != nil {
		return domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	if !claimed {
		s.logger(ctx).Debug().
			Str("reward_id", id.String()).
			Str("status", string(request.Status)).
			Msg("reward already claimed or terminal, skipping")
		return nil
	}

	exists, err := s.chain.AccountExists(ctx, request.DestinationAddress)
	if err != nil {
		return s.fail(ctx, id, nil, err)
	}
	if !exists {
		return s.fail(ctx, id, nil, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("destination account %s not found on ledger", request.DestinationAddress), domain.WithMsg("Destination account does not exist on the ledger")))
	}

	txHash, err := s.submitWithRetry(ctx, request)
	if err != nil {
		return s.fail(ctx, id, nil, err)
	}

	if err := s.chain.AwaitFinality(ctx, txHash, s.config.FinalityTimeout); err != nil {
		// The payment may still land after the timeout; keep the hash on the
		// FAILED row for reconciliation and do not resubmit.
		return s.fail(ctx, id, &txHash, err)
	}

	if err := s.rewards.MarkConfirmed(id, txHash, time.Now().UTC()); err != nil {
		return domain.NewError(domain.ErrorCodeInternalProcess, err)
	}

	s.logger(ctx).Info().
		Str("reward_id", id.String()).
		Str("tx_hash", txHash).
		Msg("reward confirmed")

	return nil
}

// submitWithRetry retries transient submission errors with exponential
// backoff. Nothing is retried after a broadcast could have been accepted, so
// at most one payment can exist per request.
func (s *RewardService) submitWithRetry(ctx context.Context, request *domain.RewardRequest) (string, error) {
	payment := PaymentRequest{
		To:        request.DestinationAddress,
		Amount:    request.Amount,
		TokenKind: request.TokenKind,
	}

	var lastErr error
	backoff := s.config.BackoffBase
	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		txHash, err := s.chain.SubmitPayment(ctx, payment)
		if err == nil {
			return txHash, nil
		}
		lastErr = err

		if !domain.IsCode(err, domain.ErrorCodeChainSubmission) || attempt == s.config.MaxAttempts {
			break
		}

		s.logger(ctx).Warn().Err(err).
			Str("reward_id", request.ID.String()).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("payment submission failed, retrying")

		select {
		case <-ctx.Done():
			return "", domain.NewError(domain.ErrorCodeChainTimeout, ctx.Err(), domain.WithMsg("Submission cancelled"))
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", lastErr
}

func (s *RewardService) fail(ctx context.Context, id uuid.UUID, txHash *string, cause error) error {
	s.logger(ctx).Error().Err(cause).
		Str("reward_id", id.String()).
		Msg("reward processing failed")

	if err := s.rewards.MarkFailed(id, txHash, cause.Error()); err != nil {
		s.logger(ctx).Error().Err(err).
			Str("reward_id", id.String()).
			Msg("failed to record reward failure")
		return domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return cause
}

func (s *RewardService) Get(ctx context.Context, id uuid.UUID) (*domain.RewardRequest, error) {
	request, err := s.rewards.FindByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewError(domain.ErrorCodeResourceNotFound, fmt.Errorf("unknown reward %s", id), domain.WithMsg("Reward not found"))
		}
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return request, nil
}

func (s *RewardService) ListByContribution(ctx context.Context, contributionRef string) ([]*domain.RewardRequest, error) {
	requests, err := s.rewards.FindByContributionRef(contributionRef)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return requests, nil
}

// StalePending lists PENDING requests older than cutoff for requeueing.
func (s *RewardService) StalePending(ctx context.Context, cutoff time.Time, limit int) ([]*domain.RewardRequest, error) {
	requests, err := s.rewards.FindStalePending(cutoff, limit)
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeInternalProcess, err)
	}
	return requests, nil
}
