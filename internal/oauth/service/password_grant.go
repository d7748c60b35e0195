package service

import (
	"context"
	"net/http"

	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/directory"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

type PasswordGrantRequest struct {
	Username string
	Password string
	Headers  RequestHeaders
}

type PasswordGrantHandler struct {
	resolver        directory.Resolver
	identityManager string
	log             *logger.Logger
}

func NewPasswordGrantHandler(resolver directory.Resolver, identityManager string, log *logger.Logger) *PasswordGrantHandler {
	return &PasswordGrantHandler{
		resolver:        resolver,
		identityManager: identityManager,
		log:             log,
	}
}

// Grant authenticates the resource owner and builds the ticket for the
// password grant. Every authentication failure maps to the same
// ErrInvalidCredentials; directory failures map to ErrServerError.
func (h *PasswordGrantHandler) Grant(ctx context.Context, req PasswordGrantRequest, rc domain.RequestContext, respHeaders http.Header) (domain.Ticket, error) {
	AddAllowOrigin(respHeaders, rc.AllowedOrigin)

	dir, err := h.resolver.Resolve(h.identityManager)
	if err != nil {
		h.log.WithFields(ctx, logger.Fields{
			"identity_manager": h.identityManager,
			"action":           "password_grant_directory_unavailable",
		}).Errorf("failed to resolve user directory: %v", err)
		return domain.Ticket{}, serverError(err)
	}

	user, err := dir.FindUser(ctx, req.Username, req.Password)
	if err != nil {
		h.log.WithFields(ctx, logger.Fields{
			"username":  req.Username,
			"client_id": rc.ClientID,
			"action":    "password_grant_lookup_failed",
		}).Errorf("user directory lookup failed: %v", err)
		return domain.Ticket{}, serverError(err)
	}

	rejected := user == nil || user.Disabled
	if !rejected {
		if lockout, ok := dir.(directory.LockoutAware); ok {
			locked, err := lockout.IsLockedOut(ctx, *user)
			if err != nil {
				h.log.WithFields(ctx, logger.Fields{
					"username": req.Username,
					"action":   "password_grant_lockout_check_failed",
				}).Errorf("lockout check failed: %v", err)
				return domain.Ticket{}, serverError(err)
			}
			rejected = locked
		}
	}

	if rejected {
		fields := req.Headers.fields()
		fields["username"] = req.Username
		fields["client_id"] = rc.ClientID
		fields["action"] = "password_grant_invalid_credentials"
		h.log.WithFields(ctx, fields).Warn("invalid username or password, or account inactive/locked out")
		return domain.Ticket{}, ErrInvalidCredentials
	}

	identity, err := dir.BuildIdentity(ctx, *user, directory.AuthenticationTypeBearer)
	if err != nil {
		h.log.WithFields(ctx, logger.Fields{
			"username": req.Username,
			"action":   "password_grant_identity_failed",
		}).Errorf("failed to build identity: %v", err)
		return domain.Ticket{}, serverError(err)
	}

	return domain.NewTicket(identity, map[string]string{
		domain.PropertyClientID: rc.ClientID,
		domain.PropertyUsername: user.Username,
	}), nil
}
