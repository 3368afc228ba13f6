package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/terraforum/backend/src/domain"
	"github.com/terraforum/backend/src/service"
)

type RewardHandler struct {
	rewards *service.RewardService
	worker  *service.RewardWorker
}

func NewRewardHandler(rewards *service.RewardService, worker *service.RewardWorker) *RewardHandler {
	return &RewardHandler{
		rewards: rewards,
		worker:  worker,
	}
}

func (h *RewardHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "reward").Logger()
	return &l
}

// RewardResponse is the API view of a reward request.
type RewardResponse struct {
	ID                 string     `json:"id"`
	BeneficiaryID      string     `json:"beneficiaryId"`
	TokenKind          string     `json:"tokenKind"`
	Amount             string     `json:"amount"`
	Reason             string     `json:"reason,omitempty"`
	ContributionRef    string     `json:"contributionRef"`
	DestinationAddress string     `json:"destinationAddress"`
	CurrencyCode       string     `json:"currencyCode"`
	Status             string     `json:"status"`
	TxHash             *string    `json:"txHash,omitempty"`
	ErrorDetail        *string    `json:"errorDetail,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	ConfirmedAt        *time.Time `json:"confirmedAt,omitempty"`
}

func toRewardResponse(request *domain.RewardRequest) RewardResponse {
	return RewardResponse{
		ID:                 request.ID.String(),
		BeneficiaryID:      request.BeneficiaryID.String(),
		TokenKind:          string(request.TokenKind),
		Amount:             request.Amount.String(),
		Reason:             request.Reason,
		ContributionRef:    request.ContributionRef,
		DestinationAddress: request.DestinationAddress,
		CurrencyCode:       request.CurrencyCode,
		Status:             string(request.Status),
		TxHash:             request.TxHash,
		ErrorDetail:        request.ErrorDetail,
		CreatedAt:          request.CreatedAt,
		ConfirmedAt:        request.ConfirmedAt,
	}
}

// CreateReward godoc
// @Summary Trigger a reward payout
// @Description Create a reward request for a contribution and enqueue it for background submission
// @Tags rewards
// @Accept json
// @Produce json
// @Success 202 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Failure 409 {object} StandardResponse
// @Failure 412 {object} StandardResponse
// @Router /rewards [post]
func (h *RewardHandler) CreateReward() gin.HandlerFunc {
	type Body struct {
		BeneficiaryID   string          `json:"beneficiaryId" binding:"required"`
		Amount          decimal.Decimal `json:"amount" binding:"required"`
		TokenKind       string          `json:"tokenKind" binding:"required"`
		Reason          string          `json:"reason"`
		ContributionRef string          `json:"contributionRef" binding:"required"`
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		var body Body
		if err := c.ShouldBindJSON(&body); err != nil {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
			return
		}

		beneficiaryID, err := uuid.Parse(body.BeneficiaryID)
		if err != nil {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("invalid beneficiary id: %w", err), domain.WithMsg("Invalid beneficiary id")))
			return
		}

		request, err := h.rewards.Create(ctx, beneficiaryID, body.Amount, domain.TokenKind(body.TokenKind), body.Reason, body.ContributionRef)
		if err != nil {
			h.logger(ctx).Error().Err(err).Msg("failed to create reward")
			respondWithError(c, err)
			return
		}

		// Enqueue is best-effort: the request row is already persisted and the
		// worker sweep picks up anything that never made it onto the queue.
		if err := h.worker.Enqueue(ctx, request.ID); err != nil {
			h.logger(ctx).Error().Err(err).Str("reward_id", request.ID.String()).Msg("failed to enqueue reward, sweep will retry")
		}

		respondWithSuccessAndStatus(c, http.StatusAccepted, toRewardResponse(request), "Reward accepted for processing")
	}
}

// GetReward godoc
// @Summary Get a reward request by id
// @Tags rewards
// @Produce json
// @Param id path string true "Reward id"
// @Success 200 {object} StandardResponse
// @Failure 403 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Router /rewards/{id} [get]
func (h *RewardHandler) GetReward() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		principal, err := CurrentPrincipal(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("invalid reward id: %w", err), domain.WithMsg("Invalid reward id")))
			return
		}

		request, err := h.rewards.Get(ctx, id)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if !principal.IsSteward() && request.BeneficiaryID != principal.UserID {
			respondWithError(c, domain.NewError(domain.ErrorCodeAuthPermissionDenied, fmt.Errorf("reward %s belongs to another user", id), domain.WithMsg("Not allowed to view this reward")))
			return
		}

		respondWithSuccess(c, toRewardResponse(request))
	}
}

// ListRewards godoc
// @Summary List reward requests for a contribution
// @Tags rewards
// @Produce json
// @Param contributionRef query string true "Contribution reference"
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Router /rewards [get]
func (h *RewardHandler) ListRewards() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		principal, err := CurrentPrincipal(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		contributionRef := c.Query("contributionRef")
		if contributionRef == "" {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("contributionRef query parameter is required"), domain.WithMsg("contributionRef is required")))
			return
		}

		requests, err := h.rewards.ListByContribution(ctx, contributionRef)
		if err != nil {
			respondWithError(c, err)
			return
		}

		responses := make([]RewardResponse, 0, len(requests))
		for _, request := range requests {
			// Non-stewards only see their own rewards.
			if !principal.IsSteward() && request.BeneficiaryID != principal.UserID {
				continue
			}
			responses = append(responses, toRewardResponse(request))
		}

		respondWithSuccess(c, responses)
	}
}
