package service

import (
	"context"
	"time"

	"github.com/AlibekovAA/oauth-token-core/internal/common/clock"
	commoncrypto "github.com/AlibekovAA/oauth-token-core/internal/common/crypto"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/locking"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/repository"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/ticket"
)

// IssueRequest describes a refresh token to mint for an accepted ticket.
// PresentedDigest is the digest of the refresh token redeemed by a
// refresh_token grant and is empty for other grants.
type IssueRequest struct {
	Ticket          *domain.Ticket
	GrantType       string
	PresentedDigest string
	Lifetime        time.Duration
}

type RefreshTokenIssuer struct {
	repo       repository.RefreshTokenRepository
	hasher     commoncrypto.TokenHasher
	secrets    commoncrypto.SecretGenerator
	serializer ticket.Serializer
	locker     locking.KeyedLocker
	clock      clock.Clock
	lifetime   time.Duration
	log        *logger.Logger
}

func NewRefreshTokenIssuer(
	repo repository.RefreshTokenRepository,
	hasher commoncrypto.TokenHasher,
	secrets commoncrypto.SecretGenerator,
	serializer ticket.Serializer,
	locker locking.KeyedLocker,
	clock clock.Clock,
	lifetime time.Duration,
	log *logger.Logger,
) *RefreshTokenIssuer {
	return &RefreshTokenIssuer{
		repo:       repo,
		hasher:     hasher,
		secrets:    secrets,
		serializer: serializer,
		locker:     locker,
		clock:      clock,
		lifetime:   lifetime,
		log:        log,
	}
}

// Create mints a refresh token for req.Ticket and returns the raw secret.
// An empty string with a nil error means no token was issued. The ticket's
// issued_at and expires_at properties are updated to match the stored record.
func (i *RefreshTokenIssuer) Create(ctx context.Context, req IssueRequest) (string, error) {
	if req.Ticket == nil {
		return "", nil
	}
	clientID := req.Ticket.Property(domain.PropertyClientID)
	if clientID == "" {
		return "", nil
	}
	subject := req.Ticket.Identity.Name

	raw, err := i.secrets.NewSecret()
	if err != nil {
		i.log.WithFields(ctx, logger.Fields{
			"client_id": clientID,
			"action":    "refresh_token_secret_failed",
		}).Errorf("failed to generate refresh token secret: %v", err)
		return "", serverError(err)
	}
	digest := i.hasher.Hash(raw)

	lifetime := req.Lifetime
	if lifetime <= 0 {
		lifetime = i.lifetime
	}
	now := i.clock.Now().UTC()

	candidate, err := i.repo.CreateToken(digest, clientID, subject, now, now.Add(lifetime))
	if err != nil {
		return "", err
	}

	unlock, err := i.locker.Lock(ctx, locking.PairKey(subject, clientID))
	if err != nil {
		i.log.WithFields(ctx, logger.Fields{
			"subject":   subject,
			"client_id": clientID,
			"action":    "refresh_token_lock_failed",
		}).Errorf("failed to acquire refresh token lock: %v", err)
		return "", serverError(err)
	}
	defer unlock()

	existing, found := i.repo.FindBySubjectAndClient(ctx, subject, clientID)

	rotating := req.GrantType == domain.GrantTypeRefreshToken
	if rotating {
		if !found || commoncrypto.NormalizeDigest(existing.TokenDigest) != commoncrypto.NormalizeDigest(req.PresentedDigest) {
			incrementRefreshTokensReplayed()
			i.log.WithFields(ctx, logger.Fields{
				"subject":   subject,
				"client_id": clientID,
				"action":    "refresh_token_replay_rejected",
			}).Warn("refresh token was already rotated or revoked")
			return "", invalidRefreshGrantError()
		}
		candidate = candidate.WithExpiresAt(existing.ExpiresAt)
	}

	if found {
		i.repo.Remove(ctx, existing)
	}

	req.Ticket.SetProperty(domain.PropertyIssuedAt, candidate.IssuedAt().Format(time.RFC3339))
	req.Ticket.SetProperty(domain.PropertyExpiresAt, candidate.ExpiresAt().Format(time.RFC3339))

	protected, err := i.serializer.Serialize(*req.Ticket)
	if err != nil {
		i.log.WithFields(ctx, logger.Fields{
			"subject":   subject,
			"client_id": clientID,
			"action":    "refresh_token_serialize_failed",
		}).Errorf("failed to serialize ticket: %v", err)
		return "", serverError(err)
	}

	id := i.repo.Add(ctx, candidate.WithProtectedTicket(protected))
	if id == "" {
		return "", nil
	}

	incrementRefreshTokensIssued(grantLabel(req.GrantType))
	if rotating {
		incrementRefreshTokensRotated()
	}
	i.log.WithFields(ctx, logger.Fields{
		"subject":    subject,
		"client_id":  clientID,
		"grant_type": req.GrantType,
		"action":     "refresh_token_issued",
	}).Debug("refresh token issued")

	return raw, nil
}

// Receive resolves a raw refresh token to its ticket. Expired records are
// removed and reported as absent.
func (i *RefreshTokenIssuer) Receive(ctx context.Context, raw string) (domain.Ticket, string, bool) {
	if raw == "" {
		return domain.Ticket{}, "", false
	}
	digest := i.hasher.Hash(raw)

	rec, ok := i.repo.FindByValue(ctx, digest)
	if !ok {
		return domain.Ticket{}, "", false
	}

	if rec.Expired(i.clock.Now()) {
		incrementRefreshTokensExpired()
		i.repo.Remove(ctx, rec)
		i.log.WithFields(ctx, logger.Fields{
			"subject":   rec.Subject,
			"client_id": rec.ClientID,
			"action":    "refresh_token_expired",
		}).Debug("expired refresh token presented")
		return domain.Ticket{}, "", false
	}

	t, err := i.serializer.Deserialize(rec.ProtectedTicket)
	if err != nil {
		i.log.WithFields(ctx, logger.Fields{
			"subject":   rec.Subject,
			"client_id": rec.ClientID,
			"action":    "refresh_token_ticket_invalid",
		}).Warnf("stored ticket could not be read: %v", err)
		return domain.Ticket{}, "", false
	}

	return t, rec.TokenDigest, true
}

// Revoke deletes the refresh token if it was issued to clientID. It reports
// whether a record was removed.
func (i *RefreshTokenIssuer) Revoke(ctx context.Context, raw, clientID string) bool {
	if raw == "" {
		return false
	}

	rec, ok := i.repo.FindByValue(ctx, i.hasher.Hash(raw))
	if !ok || rec.ClientID != clientID {
		return false
	}

	unlock, err := i.locker.Lock(ctx, locking.PairKey(rec.Subject, rec.ClientID))
	if err != nil {
		i.log.WithFields(ctx, logger.Fields{
			"subject":   rec.Subject,
			"client_id": rec.ClientID,
			"action":    "refresh_token_revoke_lock_failed",
		}).Errorf("failed to acquire refresh token lock: %v", err)
		return false
	}
	defer unlock()

	if !i.repo.Remove(ctx, rec) {
		return false
	}

	incrementRefreshTokensRevoked()
	i.log.WithFields(ctx, logger.Fields{
		"subject":   rec.Subject,
		"client_id": rec.ClientID,
		"action":    "refresh_token_revoked",
	}).Info("refresh token revoked")
	return true
}

// RevokeRecord deletes a record already loaded by the caller, under the
// pair lock.
func (i *RefreshTokenIssuer) RevokeRecord(ctx context.Context, rec domain.RefreshTokenRecord) bool {
	unlock, err := i.locker.Lock(ctx, locking.PairKey(rec.Subject, rec.ClientID))
	if err != nil {
		i.log.WithFields(ctx, logger.Fields{
			"subject":   rec.Subject,
			"client_id": rec.ClientID,
			"action":    "refresh_token_revoke_lock_failed",
		}).Errorf("failed to acquire refresh token lock: %v", err)
		return false
	}
	defer unlock()

	if !i.repo.Remove(ctx, rec) {
		return false
	}
	incrementRefreshTokensRevoked()
	return true
}
