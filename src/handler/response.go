package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/terraforum/backend/src/domain"
)

// StandardResponse represents the standard API response format
type StandardResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// respondWithSuccess sends a successful response with the standard format
func respondWithSuccess(c *gin.Context, data interface{}) {
	response := StandardResponse{
		Code:    0,
		Message: "OK",
		Data:    data,
	}

	c.JSON(http.StatusOK, response)
}

// respondWithSuccessAndStatus sends a successful response with custom HTTP status
func respondWithSuccessAndStatus(c *gin.Context, httpStatus int, data interface{}, message ...string) {
	msg := "OK"
	if len(message) > 0 && message[0] != "" {
		msg = message[0]
	}

	response := StandardResponse{
		Code:    0,
		Message: msg,
		Data:    data,
	}

	c.JSON(httpStatus, response)
}

// respondWithError sends an error response with the standard format
func respondWithError(c *gin.Context, err error) {
	domainErr := parseDomainError(err)

	// Use the original error message if the domain error has no client message
	message := domainErr.ClientMsg()
	if message == "" {
		message = err.Error()
	}

	response := StandardResponse{
		Code:    mapDomainErrorToCode(domainErr),
		Message: message,
	}

	if detail := domainErr.Detail(); detail != nil {
		response.Error = detail
	}

	ctx := c.Request.Context()
	zerolog.Ctx(ctx).Error().
		Str("function", "respondWithError").
		Int("error_code", response.Code).
		Msg(response.Message)

	_ = c.Error(err)
	c.AbortWithStatusJSON(domainErr.HTTPStatus(), response)
}

// parseDomainError extracts domain error information
func parseDomainError(err error) domain.DomainError {
	var domainError domain.DomainError
	// We don't check if errors.As is valid or not
	// because an empty domain.DomainError would return default error data.
	_ = errors.As(err, &domainError)
	return domainError
}

// mapDomainErrorToCode maps domain error codes to API response codes
func mapDomainErrorToCode(domainErr domain.DomainError) int {
	switch domainErr.Name() {
	case "PARAMETER_INVALID":
		return 1001
	case "RESOURCE_NOT_FOUND":
		return 1002
	case "AUTH_PERMISSION_DENIED":
		return 1003
	case "AUTH_NOT_AUTHENTICATED":
		return 1004
	case "INTERNAL_PROCESS":
		return 1005
	case "CHALLENGE_EXPIRED":
		return 2001
	case "CHALLENGE_ALREADY_USED":
		return 2002
	case "ADDRESS_MISMATCH":
		return 2003
	case "SIGNATURE_INVALID":
		return 2004
	case "RESOURCE_CONFLICT":
		return 2005
	case "NO_WALLET_LINKED":
		return 2006
	case "CHAIN_SUBMISSION_ERROR":
		return 2007
	case "CHAIN_TIMEOUT":
		return 2008
	default:
		return 1000 // Generic error code
	}
}
