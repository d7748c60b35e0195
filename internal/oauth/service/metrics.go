package service

import (
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/domain"
	"github.com/AlibekovAA/oauth-token-core/internal/observability/metrics"
)

// grantLabel bounds the grant_type label; the raw value comes from the
// request form.
func grantLabel(grantType string) string {
	switch grantType {
	case domain.GrantTypePassword, domain.GrantTypeRefreshToken:
		return grantType
	case "":
		return "none"
	default:
		return "other"
	}
}

func recordTokenRequest(grantType, outcome string) {
	metrics.TokenRequestsTotal.WithLabelValues(grantLabel(grantType), outcome).Inc()
}

func incrementClientRejected(reason string) {
	metrics.ClientValidationRejected.WithLabelValues(reason).Inc()
}

func incrementRefreshTokensIssued(grantType string) {
	metrics.RefreshTokensIssued.WithLabelValues(grantType).Inc()
}

func incrementRefreshTokensRotated() {
	metrics.RefreshTokensRotated.Inc()
}

func incrementRefreshTokensReplayed() {
	metrics.RefreshTokensReplayed.Inc()
}

func incrementRefreshTokensRevoked() {
	metrics.RefreshTokensRevoked.Inc()
}

func incrementRefreshTokensExpired() {
	metrics.RefreshTokensExpired.Inc()
}

func incrementAccessTokensIssued() {
	metrics.AccessTokensIssued.Inc()
}
