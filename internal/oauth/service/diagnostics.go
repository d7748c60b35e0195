package service

import "github.com/AlibekovAA/oauth-token-core/internal/common/logger"

// RequestHeaders are the request headers recorded when authentication fails.
type RequestHeaders struct {
	UserAgent    string
	Origin       string
	ForwardedFor string
	RealIP       string
	RemoteAddr   string
}

func (h RequestHeaders) fields() logger.Fields {
	fields := logger.Fields{}
	add := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	add("user_agent", h.UserAgent)
	add("origin", h.Origin)
	add("x_forwarded_for", h.ForwardedFor)
	add("x_real_ip", h.RealIP)
	add("remote_addr", h.RemoteAddr)
	return fields
}
