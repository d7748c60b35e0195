package service

import (
	"context"
	"net/http"
	"strings"

	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
)

type ClientRegistry interface {
	FindClient(clientID string) (domain.Client, bool)
}

// StaticClientRegistry is a read-only client table keyed by lowercase id.
type StaticClientRegistry struct {
	clients map[string]domain.Client
}

func NewStaticClientRegistry(clients []domain.Client) *StaticClientRegistry {
	r := &StaticClientRegistry{clients: make(map[string]domain.Client, len(clients))}
	for _, c := range clients {
		r.clients[strings.ToLower(c.ID)] = c
	}
	return r
}

func (r *StaticClientRegistry) FindClient(clientID string) (domain.Client, bool) {
	c, ok := r.clients[strings.ToLower(clientID)]
	return c, ok
}

type ClientValidationRequest struct {
	ClientID     string
	GrantType    string
	RefreshToken string
	Origin       string
}

type ClientAuthenticationValidator struct {
	registry ClientRegistry
	log      *logger.Logger
}

func NewClientAuthenticationValidator(registry ClientRegistry, log *logger.Logger) *ClientAuthenticationValidator {
	return &ClientAuthenticationValidator{registry: registry, log: log}
}

// Validate checks the client part of a token request. On success the
// returned context carries the RequestContext for the later stages.
func (v *ClientAuthenticationValidator) Validate(ctx context.Context, req ClientValidationRequest) (context.Context, domain.RequestContext, error) {
	clientID := strings.TrimSpace(req.ClientID)
	grantType := strings.TrimSpace(req.GrantType)

	if clientID == "" {
		return ctx, domain.RequestContext{}, v.reject(ctx, "missing_client_id", clientID, ErrInvalidClientID)
	}
	if grantType == "" {
		return ctx, domain.RequestContext{}, v.reject(ctx, "missing_grant_type", clientID, ErrInvalidGrant)
	}
	if grantType == domain.GrantTypeRefreshToken && strings.TrimSpace(req.RefreshToken) == "" {
		return ctx, domain.RequestContext{}, v.reject(ctx, "missing_refresh_token", clientID, ErrInvalidRefreshToken)
	}

	client, err := v.authenticateClient(ctx, clientID, req.Origin)
	if err != nil {
		return ctx, domain.RequestContext{}, err
	}

	rc := domain.RequestContext{
		GrantType:       grantType,
		ClientID:        client.ID,
		AllowedOrigin:   client.AllowedOrigin,
		RefreshLifetime: client.RefreshLifetime,
	}
	return domain.WithRequestContext(ctx, rc), rc, nil
}

// ValidateClient runs only the client lookup and origin checks. It serves
// endpoints that have no grant type, such as revocation.
func (v *ClientAuthenticationValidator) ValidateClient(ctx context.Context, clientID, origin string) (domain.Client, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.Client{}, v.reject(ctx, "missing_client_id", clientID, ErrInvalidClientID)
	}
	return v.authenticateClient(ctx, clientID, origin)
}

func (v *ClientAuthenticationValidator) authenticateClient(ctx context.Context, clientID, origin string) (domain.Client, error) {
	client, ok := v.registry.FindClient(clientID)
	if !ok {
		return domain.Client{}, v.reject(ctx, "unknown_client", clientID, unknownClientError(clientID))
	}
	if !client.AllowsOrigin(strings.TrimSpace(origin)) {
		return domain.Client{}, v.reject(ctx, "invalid_origin", clientID, ErrInvalidOrigin)
	}
	return client, nil
}

func (v *ClientAuthenticationValidator) reject(ctx context.Context, reason, clientID string, err error) error {
	incrementClientRejected(reason)
	v.log.WithFields(ctx, logger.Fields{
		"client_id": clientID,
		"reason":    reason,
		"action":    "client_validation_rejected",
	}).Debug("token request rejected during client validation")
	return err
}

// AddAllowOrigin sets Access-Control-Allow-Origin unless a value is already
// present.
func AddAllowOrigin(h http.Header, origin string) {
	if h == nil || origin == "" {
		return
	}
	if h.Get("Access-Control-Allow-Origin") != "" {
		return
	}
	h.Set("Access-Control-Allow-Origin", origin)
}
