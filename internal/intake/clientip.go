package intake

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP identifies the caller for rate limiting. Forwarded headers are
// only honoured behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwardedFor := r.Header.Get("X-Forwarded-For"); forwardedFor != "" {
			// client, proxy1, proxy2, ...
			if ip := strings.TrimSpace(strings.Split(forwardedFor, ",")[0]); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
