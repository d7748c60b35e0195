package http

// Error codes written by transport-level middleware. Values follow the OAuth
// 2.0 registry (RFC 6749 section 5.2, RFC 6750 section 3.1) so clients parse a
// single error shape.
const (
	CodeServerError            = "server_error"
	CodeInvalidRequest         = "invalid_request"
	CodeInvalidToken           = "invalid_token"
	CodeTemporarilyUnavailable = "temporarily_unavailable"
)
