package domain

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	commonerrors "github.com/AlibekovAA/oauth-token-core/internal/common/errors"
)

// RefreshTokenRecord is a persisted refresh token. Records are immutable:
// rotation deletes the old record and inserts a new one.
type RefreshTokenRecord struct {
	ID              string
	TokenDigest     string
	ClientID        string
	Subject         string
	IssuedAt        time.Time
	ExpiresAt       time.Time
	ProtectedTicket string
}

func (r RefreshTokenRecord) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// SamePair reports whether the record belongs to subject and clientID,
// compared case-insensitively.
func (r RefreshTokenRecord) SamePair(subject, clientID string) bool {
	return strings.EqualFold(r.Subject, subject) && strings.EqualFold(r.ClientID, clientID)
}

var ErrInvalidArgument = commonerrors.NewDomainError(
	"INVALID_ARGUMENT",
	commonerrors.CategoryInternal,
	http.StatusInternalServerError,
	"invalid refresh token argument",
)

// Candidate is an unsaved refresh token record. It can only be obtained from
// NewCandidate, so a non-zero Candidate always carries a digest, a client
// and a subject.
type Candidate struct {
	digest          string
	clientID        string
	subject         string
	issuedAt        time.Time
	expiresAt       time.Time
	protectedTicket string
}

type candidateFields struct {
	Digest   string `validate:"required"`
	ClientID string `validate:"required,max=50"`
	Subject  string `validate:"required,max=50"`
}

var candidateValidator = validator.New()

func NewCandidate(digest, clientID, subject string, issuedAt, expiresAt time.Time) (Candidate, error) {
	fields := candidateFields{
		Digest:   strings.TrimSpace(digest),
		ClientID: strings.TrimSpace(clientID),
		Subject:  strings.TrimSpace(subject),
	}
	if err := candidateValidator.Struct(fields); err != nil {
		return Candidate{}, ErrInvalidArgument.WithCause(err)
	}

	return Candidate{
		digest:    strings.ToLower(fields.Digest),
		clientID:  fields.ClientID,
		subject:   fields.Subject,
		issuedAt:  issuedAt.UTC(),
		expiresAt: expiresAt.UTC(),
	}, nil
}

func (c Candidate) Digest() string          { return c.digest }
func (c Candidate) ClientID() string        { return c.clientID }
func (c Candidate) Subject() string         { return c.subject }
func (c Candidate) IssuedAt() time.Time     { return c.issuedAt }
func (c Candidate) ExpiresAt() time.Time    { return c.expiresAt }
func (c Candidate) ProtectedTicket() string { return c.protectedTicket }

func (c Candidate) WithExpiresAt(expiresAt time.Time) Candidate {
	c.expiresAt = expiresAt.UTC()
	return c
}

func (c Candidate) WithProtectedTicket(ticket string) Candidate {
	c.protectedTicket = ticket
	return c
}

// Complete reports whether the candidate can be persisted.
func (c Candidate) Complete() bool {
	return c.digest != "" && c.clientID != "" && c.subject != "" && c.protectedTicket != ""
}

func (c Candidate) Record(id string) RefreshTokenRecord {
	return RefreshTokenRecord{
		ID:              id,
		TokenDigest:     c.digest,
		ClientID:        c.clientID,
		Subject:         c.subject,
		IssuedAt:        c.issuedAt,
		ExpiresAt:       c.expiresAt,
		ProtectedTicket: c.protectedTicket,
	}
}
