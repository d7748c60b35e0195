package http

import (
	"mime"
	"net/http"
	"strings"
)

const formContentType = "application/x-www-form-urlencoded"

// ParseForm parses an urlencoded POST body. It reports false and writes a 415
// when the request carries a different content type.
func ParseForm(w http.ResponseWriter, r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !strings.EqualFold(mediaType, formContentType) {
		WriteError(w, http.StatusUnsupportedMediaType, CodeInvalidRequest, "Content-Type must be "+formContentType)
		return false
	}

	if err := r.ParseForm(); err != nil {
		WriteError(w, http.StatusBadRequest, CodeInvalidRequest, "Malformed form body")
		return false
	}
	return true
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	raw := r.Header.Get("Authorization")
	if len(raw) < 7 || !strings.EqualFold(raw[:7], "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(raw[7:])
	return token, token != ""
}
