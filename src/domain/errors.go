package domain

import (
	"errors"
	"net/http"
)

// ErrorCode identifies a class of domain failure and its default HTTP mapping.
type ErrorCode struct {
	name       string
	httpStatus int
}

var (
	ErrorCodeParameterInvalid     = ErrorCode{"PARAMETER_INVALID", http.StatusBadRequest}
	ErrorCodeResourceNotFound     = ErrorCode{"RESOURCE_NOT_FOUND", http.StatusNotFound}
	ErrorCodeAuthNotAuthenticated = ErrorCode{"AUTH_NOT_AUTHENTICATED", http.StatusUnauthorized}
	ErrorCodeAuthPermissionDenied = ErrorCode{"AUTH_PERMISSION_DENIED", http.StatusForbidden}
	ErrorCodeInternalProcess      = ErrorCode{"INTERNAL_PROCESS", http.StatusInternalServerError}

	// Wallet verification failures. Each one tells the caller something
	// different: re-issue a challenge, re-sign, or pick another address.
	ErrorCodeChallengeExpired = ErrorCode{"CHALLENGE_EXPIRED", http.StatusGone}
	ErrorCodeChallengeUsed    = ErrorCode{"CHALLENGE_ALREADY_USED", http.StatusConflict}
	ErrorCodeAddressMismatch  = ErrorCode{"ADDRESS_MISMATCH", http.StatusUnprocessableEntity}
	ErrorCodeInvalidSignature = ErrorCode{"SIGNATURE_INVALID", http.StatusUnprocessableEntity}
	ErrorCodeConflict         = ErrorCode{"RESOURCE_CONFLICT", http.StatusConflict}

	// Reward issuance failures.
	ErrorCodeNoWalletLinked  = ErrorCode{"NO_WALLET_LINKED", http.StatusPreconditionFailed}
	ErrorCodeChainSubmission = ErrorCode{"CHAIN_SUBMISSION_ERROR", http.StatusBadGateway}
	ErrorCodeChainTimeout    = ErrorCode{"CHAIN_TIMEOUT", http.StatusGatewayTimeout}
)

// DomainError wraps an underlying error with a typed code and an optional
// client-facing message. The zero value is safe to use and maps to a generic
// internal failure.
type DomainError struct {
	code   ErrorCode
	err    error
	msg    string
	detail map[string]interface{}
}

type ErrorOption func(*DomainError)

func WithMsg(msg string) ErrorOption {
	return func(e *DomainError) {
		e.msg = msg
	}
}

func WithDetail(detail map[string]interface{}) ErrorOption {
	return func(e *DomainError) {
		e.detail = detail
	}
}

func NewError(code ErrorCode, err error, opts ...ErrorOption) DomainError {
	e := DomainError{
		code: code,
		err:  err,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

func (e DomainError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return e.msg
}

func (e DomainError) Unwrap() error {
	return e.err
}

func (e DomainError) Name() string {
	return e.code.name
}

func (e DomainError) ClientMsg() string {
	return e.msg
}

func (e DomainError) Detail() map[string]interface{} {
	return e.detail
}

func (e DomainError) HTTPStatus() int {
	if e.code.httpStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.code.httpStatus
}

// IsCode reports whether err carries the given domain error code.
func IsCode(err error, code ErrorCode) bool {
	var domainErr DomainError
	if !errors.As(err, &domainErr) {
		return false
	}
	return domainErr.code == code
}
