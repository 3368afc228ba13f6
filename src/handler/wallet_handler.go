package handler

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/terraforum/backend/src/domain"
	"github.com/terraforum/backend/src/service"
)

var (
	addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	noncePattern   = regexp.MustCompile(`^[0-9a-f]{64}$`)
	hexPattern     = regexp.MustCompile(`^(0x)?[0-9a-fA-F]+$`)
)

type WalletHandler struct {
	challenges   *service.ChallengeService
	verification *service.VerificationService
}

func NewWalletHandler(challenges *service.ChallengeService, verification *service.VerificationService) *WalletHandler {
	return &WalletHandler{
		challenges:   challenges,
		verification: verification,
	}
}

func (h *WalletHandler) logger(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx).With().Str("handler", "wallet").Logger()
	return &l
}

// UserResponse is the wallet-facing view of a user account.
type UserResponse struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Role          string  `json:"role"`
	WalletAddress *string `json:"walletAddress"`
}

func toUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:            user.ID.String(),
		Username:      user.Username,
		Role:          user.Role,
		WalletAddress: user.WalletAddress,
	}
}

// IssueChallenge godoc
// @Summary Issue a wallet ownership challenge
// @Description Create a single-use, time-boxed challenge for the caller to sign with the claimed wallet
// @Tags wallet
// @Accept json
// @Produce json
// @Success 201 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 409 {object} StandardResponse
// @Router /wallet/challenge [post]
func (h *WalletHandler) IssueChallenge() gin.HandlerFunc {
	type Body struct {
		Address string `json:"address" binding:"required"`
	}

	type Response struct {
		Nonce     string    `json:"nonce"`
		Message   string    `json:"message"`
		ExpiresAt time.Time `json:"expiresAt"`
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		principal, err := CurrentPrincipal(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		var body Body
		if err := c.ShouldBindJSON(&body); err != nil {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
			return
		}

		if !addressPattern.MatchString(body.Address) {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("malformed address: %s", body.Address), domain.WithMsg("Address must be a 0x-prefixed 40-char hex string")))
			return
		}

		challenge, err := h.challenges.Issue(ctx, principal.UserID, body.Address)
		if err != nil {
			h.logger(ctx).Error().Err(err).Msg("failed to issue challenge")
			respondWithError(c, err)
			return
		}

		respondWithSuccessAndStatus(c, http.StatusCreated, Response{
			Nonce:     challenge.Nonce,
			Message:   challenge.Message,
			ExpiresAt: challenge.ExpiresAt,
		})
	}
}

// VerifyChallenge godoc
// @Summary Verify a signed wallet challenge
// @Description Validate the signature over a previously issued challenge and bind the wallet to the caller
// @Tags wallet
// @Accept json
// @Produce json
// @Success 200 {object} StandardResponse
// @Failure 400 {object} StandardResponse
// @Failure 403 {object} StandardResponse
// @Failure 404 {object} StandardResponse
// @Failure 409 {object} StandardResponse
// @Failure 410 {object} StandardResponse
// @Failure 422 {object} StandardResponse
// @Router /wallet/verify [post]
func (h *WalletHandler) VerifyChallenge() gin.HandlerFunc {
	type Body struct {
		Nonce     string `json:"nonce" binding:"required"`
		Address   string `json:"address" binding:"required"`
		Signature string `json:"signature" binding:"required"`
		PublicKey string `json:"publicKey" binding:"required"`
	}

	type Response struct {
		User UserResponse `json:"user"`
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		principal, err := CurrentPrincipal(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		var body Body
		if err := c.ShouldBindJSON(&body); err != nil {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, err, domain.WithMsg("Invalid request payload")))
			return
		}

		if !noncePattern.MatchString(body.Nonce) {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("malformed nonce: %s", body.Nonce), domain.WithMsg("Nonce must be 64 lowercase hex chars")))
			return
		}
		if !addressPattern.MatchString(body.Address) {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("malformed address: %s", body.Address), domain.WithMsg("Address must be a 0x-prefixed 40-char hex string")))
			return
		}
		if !hexPattern.MatchString(body.Signature) || !hexPattern.MatchString(body.PublicKey) {
			respondWithError(c, domain.NewError(domain.ErrorCodeParameterInvalid, fmt.Errorf("signature and public key must be hex"), domain.WithMsg("Signature and public key must be hex strings")))
			return
		}

		user, err := h.verification.Verify(ctx, body.Nonce, body.Address, body.Signature, body.PublicKey, principal.UserID)
		if err != nil {
			h.logger(ctx).Error().Err(err).Str("nonce", body.Nonce).Msg("wallet verification failed")
			respondWithError(c, err)
			return
		}

		respondWithSuccess(c, Response{User: toUserResponse(user)})
	}
}

// UnlinkWallet godoc
// @Summary Unlink the caller's wallet
// @Tags wallet
// @Produce json
// @Success 200 {object} StandardResponse
// @Router /wallet [delete]
func (h *WalletHandler) UnlinkWallet() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		principal, err := CurrentPrincipal(c)
		if err != nil {
			respondWithError(c, err)
			return
		}

		if err := h.verification.Unbind(ctx, principal.UserID); err != nil {
			respondWithError(c, err)
			return
		}

		respondWithSuccess(c, gin.H{"message": "wallet unlinked"})
	}
}
