package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/AlibekovAA/oauth-token-core/internal/common/clock"
	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/repository"
)

const TokenTypeBearer = "bearer"

type TokenRequest struct {
	GrantType    string
	ClientID     string
	Username     string
	Password     string
	RefreshToken string
	Origin       string
	Headers      RequestHeaders
}

type TokenResponse struct {
	AccessToken  string
	TokenType    string
	ExpiresIn    int64
	RefreshToken string
	Additional   map[string]string
}

type RevokeRequest struct {
	ClientID string
	Token    string
	Origin   string
}

type Session struct {
	ID        string
	ClientID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService runs the token endpoint pipeline: client validation, the
// grant handler, refresh token issuance, access token issuance and the
// finalizer.
type TokenService struct {
	validator    *ClientAuthenticationValidator
	password     *PasswordGrantHandler
	refresh      *RefreshGrantHandler
	refreshIssue *RefreshTokenIssuer
	accessIssue  *AccessTokenIssuer
	finalizer    *TokenEndpointFinalizer
	repo         repository.RefreshTokenRepository
	clock        clock.Clock
	log          *logger.Logger
}

type TokenServiceDeps struct {
	Validator          *ClientAuthenticationValidator
	PasswordGrant      *PasswordGrantHandler
	RefreshGrant       *RefreshGrantHandler
	RefreshTokenIssuer *RefreshTokenIssuer
	AccessTokenIssuer  *AccessTokenIssuer
	Finalizer          *TokenEndpointFinalizer
	Repository         repository.RefreshTokenRepository
	Clock              clock.Clock
	Logger             *logger.Logger
}

func NewTokenService(deps TokenServiceDeps) *TokenService {
	finalizer := deps.Finalizer
	if finalizer == nil {
		finalizer = NewTokenEndpointFinalizer()
	}
	return &TokenService{
		validator:    deps.Validator,
		password:     deps.PasswordGrant,
		refresh:      deps.RefreshGrant,
		refreshIssue: deps.RefreshTokenIssuer,
		accessIssue:  deps.AccessTokenIssuer,
		finalizer:    finalizer,
		repo:         deps.Repository,
		clock:        deps.Clock,
		log:          deps.Logger,
	}
}

// Token handles a token request. Allow-origin headers are written to
// respHeaders once the client is accepted.
func (s *TokenService) Token(ctx context.Context, req TokenRequest, respHeaders http.Header) (TokenResponse, error) {
	grantType := strings.TrimSpace(req.GrantType)

	ctx, rc, err := s.validator.Validate(ctx, ClientValidationRequest{
		ClientID:     req.ClientID,
		GrantType:    grantType,
		RefreshToken: req.RefreshToken,
		Origin:       req.Origin,
	})
	if err != nil {
		recordTokenRequest(grantType, "rejected")
		return TokenResponse{}, err
	}
	AddAllowOrigin(respHeaders, rc.AllowedOrigin)

	var resp TokenResponse
	switch rc.GrantType {
	case domain.GrantTypePassword:
		resp, err = s.passwordGrant(ctx, req, rc, respHeaders)
	case domain.GrantTypeRefreshToken:
		resp, err = s.refreshGrant(ctx, req, rc)
	default:
		err = ErrUnsupportedGrantType
	}
	if err != nil {
		recordTokenRequest(rc.GrantType, outcomeOf(err))
		return TokenResponse{}, err
	}

	recordTokenRequest(rc.GrantType, "success")
	return resp, nil
}

func (s *TokenService) passwordGrant(ctx context.Context, req TokenRequest, rc domain.RequestContext, respHeaders http.Header) (TokenResponse, error) {
	t, err := s.password.Grant(ctx, PasswordGrantRequest{
		Username: req.Username,
		Password: req.Password,
		Headers:  req.Headers,
	}, rc, respHeaders)
	if err != nil {
		return TokenResponse{}, err
	}

	return s.issue(ctx, IssueRequest{
		Ticket:    &t,
		GrantType: domain.GrantTypePassword,
		Lifetime:  rc.RefreshLifetime,
	})
}

func (s *TokenService) refreshGrant(ctx context.Context, req TokenRequest, rc domain.RequestContext) (TokenResponse, error) {
	original, digest, ok := s.refreshIssue.Receive(ctx, strings.TrimSpace(req.RefreshToken))
	if !ok {
		s.log.WithFields(ctx, logger.Fields{
			"client_id": rc.ClientID,
			"action":    "refresh_grant_token_not_found",
		}).Info("refresh token not found or expired")
		return TokenResponse{}, invalidRefreshGrantError()
	}

	t, err := s.refresh.Grant(ctx, original, rc)
	if err != nil {
		return TokenResponse{}, err
	}

	return s.issue(ctx, IssueRequest{
		Ticket:          &t,
		GrantType:       domain.GrantTypeRefreshToken,
		PresentedDigest: digest,
		Lifetime:        rc.RefreshLifetime,
	})
}

func (s *TokenService) issue(ctx context.Context, req IssueRequest) (TokenResponse, error) {
	t := req.Ticket
	refreshToken, err := s.refreshIssue.Create(ctx, req)
	if err != nil {
		return TokenResponse{}, err
	}

	accessToken, err := s.accessIssue.Issue(*t)
	if err != nil {
		s.log.WithFields(ctx, logger.Fields{
			"subject": t.Identity.Name,
			"action":  "access_token_issue_failed",
		}).Errorf("failed to issue access token: %v", err)
		return TokenResponse{}, serverError(err)
	}

	resp := TokenResponse{
		AccessToken:  accessToken,
		TokenType:    TokenTypeBearer,
		ExpiresIn:    s.accessIssue.ExpiresIn(),
		RefreshToken: refreshToken,
		Additional:   make(map[string]string, len(t.Properties)),
	}
	s.finalizer.Finalize(*t, resp.Additional)
	return resp, nil
}

// Revoke removes a refresh token issued to the calling client. Unknown or
// foreign tokens are not an error.
func (s *TokenService) Revoke(ctx context.Context, req RevokeRequest, respHeaders http.Header) error {
	client, err := s.validator.ValidateClient(ctx, req.ClientID, req.Origin)
	if err != nil {
		return err
	}
	AddAllowOrigin(respHeaders, client.AllowedOrigin)

	s.refreshIssue.Revoke(ctx, strings.TrimSpace(req.Token), client.ID)
	return nil
}

// ListSessions returns the live refresh tokens of subject.
func (s *TokenService) ListSessions(ctx context.Context, subject string) []Session {
	now := s.clock.Now()
	recs := s.repo.FindByUsername(ctx, subject)

	sessions := make([]Session, 0, len(recs))
	for _, rec := range recs {
		if rec.Expired(now) {
			continue
		}
		sessions = append(sessions, Session{
			ID:        rec.ID,
			ClientID:  rec.ClientID,
			IssuedAt:  rec.IssuedAt,
			ExpiresAt: rec.ExpiresAt,
		})
	}
	return sessions
}

// RevokeSession removes one of subject's refresh tokens by record id.
func (s *TokenService) RevokeSession(ctx context.Context, subject, id string) error {
	rec, ok := s.repo.FindByID(ctx, id)
	if !ok || !strings.EqualFold(rec.Subject, subject) {
		return ErrSessionNotFound
	}

	if !s.refreshIssue.RevokeRecord(ctx, rec) {
		return ErrSessionNotFound
	}

	s.log.WithFields(ctx, logger.Fields{
		"subject":    rec.Subject,
		"client_id":  rec.ClientID,
		"session_id": rec.ID,
		"action":     "session_revoked",
	}).Info("session revoked")
	return nil
}

func outcomeOf(err error) string {
	if de, ok := commonerrors.AsDomainError(err); ok {
		return de.Code()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}
