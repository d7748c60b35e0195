package http

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/AlibekovAA/oauth-token-core/internal/common/config"
	commonhttp "github.com/AlibekovAA/oauth-token-core/internal/common/http"
	"github.com/AlibekovAA/oauth-token-core/internal/common/jwtverify"
	"github.com/AlibekovAA/oauth-token-core/internal/common/logger"
	"github.com/AlibekovAA/oauth-token-core/internal/oauth/service"
)

type sessionResponse struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Handler struct {
	tokens *service.TokenService
	log    *logger.Logger
}

// NewHandler mounts the token, revocation and session endpoints. checks feed
// the /health check and may be nil.
func NewHandler(tokens *service.TokenService, cfg config.TokenConfig, checks map[string]commonhttp.HealthCheck, log *logger.Logger) http.Handler {
	h := &Handler{tokens: tokens, log: log}
	auth := jwtverify.Middleware(cfg.AccessTokenSecret, log)
	timeout := commonhttp.WithTimeout(cfg.RequestTimeout)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", commonhttp.HealthHandler(log, checks))
	mux.HandleFunc("/oauth/token", commonhttp.RequireMethod(http.MethodPost)(timeout(h.token)))
	mux.HandleFunc("/oauth/revoke", commonhttp.RequireMethod(http.MethodPost)(timeout(h.revoke)))
	mux.Handle("/oauth/sessions", auth(commonhttp.RequireMethod(http.MethodGet)(timeout(h.listSessions))))
	mux.Handle("/oauth/sessions/{id}", auth(commonhttp.RequireMethod(http.MethodDelete)(timeout(h.revokeSession))))
	return mux
}

func (h *Handler) token(w http.ResponseWriter, r *http.Request) {
	if !commonhttp.ParseForm(w, r) {
		return
	}

	resp, err := h.tokens.Token(r.Context(), service.TokenRequest{
		GrantType:    r.PostForm.Get("grant_type"),
		ClientID:     clientID(r),
		Username:     r.PostForm.Get("username"),
		Password:     r.PostForm.Get("password"),
		RefreshToken: r.PostForm.Get("refresh_token"),
		Origin:       r.Header.Get("Origin"),
		Headers:      requestHeaders(r),
	}, w.Header())

	setNoStore(w)
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	body := map[string]any{
		"access_token": resp.AccessToken,
		"token_type":   resp.TokenType,
		"expires_in":   resp.ExpiresIn,
	}
	if resp.RefreshToken != "" {
		body["refresh_token"] = resp.RefreshToken
	}
	for k, v := range resp.Additional {
		if _, reserved := body[k]; !reserved {
			body[k] = v
		}
	}
	commonhttp.WriteJSON(w, http.StatusOK, body)
}

func (h *Handler) revoke(w http.ResponseWriter, r *http.Request) {
	if !commonhttp.ParseForm(w, r) {
		return
	}

	err := h.tokens.Revoke(r.Context(), service.RevokeRequest{
		ClientID: clientID(r),
		Token:    r.PostForm.Get("token"),
		Origin:   r.Header.Get("Origin"),
	}, w.Header())
	if err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) listSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := jwtverify.FromContext(r.Context())
	if !ok {
		commonhttp.WriteError(w, http.StatusUnauthorized, commonhttp.CodeInvalidToken, "Access token carries no subject")
		return
	}

	sessions := h.tokens.ListSessions(r.Context(), claims.Username)
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			ID:        s.ID,
			ClientID:  s.ClientID,
			IssuedAt:  s.IssuedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	commonhttp.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) revokeSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := jwtverify.FromContext(r.Context())
	if !ok {
		commonhttp.WriteError(w, http.StatusUnauthorized, commonhttp.CodeInvalidToken, "Access token carries no subject")
		return
	}

	if err := h.tokens.RevokeSession(r.Context(), claims.Username, r.PathValue("id")); err != nil {
		commonhttp.HandleError(w, r, err, h.log)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// clientID reads the client id from HTTP Basic credentials, falling back to
// the client_id form field.
func clientID(r *http.Request) string {
	if user, _, ok := r.BasicAuth(); ok && user != "" {
		if decoded, err := url.QueryUnescape(user); err == nil {
			return decoded
		}
		return user
	}
	return r.PostForm.Get("client_id")
}

func requestHeaders(r *http.Request) service.RequestHeaders {
	return service.RequestHeaders{
		UserAgent:    r.UserAgent(),
		Origin:       r.Header.Get("Origin"),
		ForwardedFor: r.Header.Get("X-Forwarded-For"),
		RealIP:       r.Header.Get("X-Real-IP"),
		RemoteAddr:   strings.TrimSpace(r.RemoteAddr),
	}
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}
