package server

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// originPolicy decides which browser origins may open sockets and make
// cross-origin API calls.
type originPolicy struct {
	allowed  map[string]struct{}
	allowAll bool
	log      *logrus.Logger
}

func newOriginPolicy(origins []string, log *logrus.Logger) *originPolicy {
	normalized, allowAll := normalizeOrigins(origins, log)
	allowed := make(map[string]struct{}, len(normalized))
	for _, origin := range normalized {
		allowed[origin] = struct{}{}
	}
	return &originPolicy{allowed: allowed, allowAll: allowAll, log: log}
}

func normalizeOrigins(origins []string, log *logrus.Logger) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}

		if trimmed == "*" {
			allowAll = true
			continue
		}

		normalizedOrigin, ok := normalizeOrigin(trimmed)
		if !ok {
			log.WithField("origin", origin).Warn("Ignoring invalid origin in configuration")
			continue
		}

		normalized = append(normalized, normalizedOrigin)
	}

	return normalized, allowAll
}

func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil {
		return "", false
	}

	if parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// allows reports whether an Origin header value is permitted.
func (p *originPolicy) allows(origin string) bool {
	if origin == "" {
		return false
	}
	normalized, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	if p.allowAll {
		return true
	}
	_, exists := p.allowed[normalized]
	return exists
}

// sameHost reports whether origin points at the host the request was sent to.
func sameHost(r *http.Request, origin string) bool {
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(parsed.Host, r.Host)
}

// checkOrigin is the websocket upgrader hook. Non-browser clients send no
// Origin header and are let through; browsers must match the policy or the
// serving host.
func (p *originPolicy) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.allows(origin) || sameHost(r, origin) {
		return true
	}

	p.log.WithFields(logrus.Fields{
		"origin":      origin,
		"remote_addr": r.RemoteAddr,
	}).Warn("Blocked WebSocket connection from disallowed origin")
	return false
}
