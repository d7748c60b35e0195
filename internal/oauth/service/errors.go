package service

import (
	"fmt"
	"net/http"

	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
)

var (
	ErrInvalidClientID = commonerrors.NewDomainError(
		"invalid_client_id",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"Client ID must be sent",
	)

	ErrInvalidGrant = commonerrors.NewDomainError(
		"invalid_grant",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"grant_type must be sent",
	)

	ErrInvalidRefreshToken = commonerrors.NewDomainError(
		"invalid_refresh_token",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"refresh_token must be sent",
	)

	ErrInvalidOrigin = commonerrors.NewDomainError(
		"invalid_origin",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"Origin is not allowed for this client",
	)

	ErrInvalidCredentials = commonerrors.NewDomainError(
		"invalid_credentials",
		commonerrors.CategoryAuth,
		http.StatusBadRequest,
		"Invalid username or password, or the user account is inactive/locked out",
	)

	ErrUnsupportedGrantType = commonerrors.NewDomainError(
		"unsupported_grant_type",
		commonerrors.CategoryValidation,
		http.StatusBadRequest,
		"grant_type is not supported",
	)

	ErrSessionNotFound = commonerrors.NewDomainError(
		"session_not_found",
		commonerrors.CategoryNotFound,
		http.StatusNotFound,
		"Session not found",
	)

	ErrServerError = commonerrors.NewDomainError(
		"server_error",
		commonerrors.CategoryInternal,
		http.StatusInternalServerError,
		"The authorization server encountered an unexpected condition",
	)
)

func unknownClientError(clientID string) commonerrors.DomainError {
	return ErrInvalidClientID.WithMessage(fmt.Sprintf("Client '%s' is not registered in the system", clientID))
}

func clientMismatchError(clientID string) commonerrors.DomainError {
	return ErrInvalidClientID.WithMessage(fmt.Sprintf("Refresh token is not valid for client '%s'", clientID))
}

func invalidRefreshGrantError() commonerrors.DomainError {
	return ErrInvalidGrant.WithMessage("The refresh token is invalid, expired or already used")
}

func serverError(cause error) commonerrors.DomainError {
	return ErrServerError.WithCause(cause)
}
