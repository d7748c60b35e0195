package service

import (
	"context"

	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

type RefreshGrantHandler struct {
	log *logger.Logger
}

func NewRefreshGrantHandler(log *logger.Logger) *RefreshGrantHandler {
	return &RefreshGrantHandler{log: log}
}

// Grant checks that the recovered ticket was issued to the requesting client
// and returns a copy to be reissued.
func (h *RefreshGrantHandler) Grant(ctx context.Context, original domain.Ticket, rc domain.RequestContext) (domain.Ticket, error) {
	originalClient := original.Property(domain.PropertyClientID)
	if originalClient != rc.ClientID {
		h.log.WithFields(ctx, logger.Fields{
			"client_id":        rc.ClientID,
			"ticket_client_id": originalClient,
			"subject":          original.Identity.Name,
			"action":           "refresh_grant_client_mismatch",
		}).Warn("refresh token presented by a different client")
		return domain.Ticket{}, clientMismatchError(rc.ClientID)
	}

	return original.Clone(), nil
}
