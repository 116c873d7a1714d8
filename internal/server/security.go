package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/seismic-bv/seismic/internal/errors"
	"github.com/seismic-bv/seismic/internal/logging"
	"github.com/seismic-bv/seismic/internal/validation"
)

type contextKey string

const nonceContextKey contextKey = "csp-nonce"

// CSPConfig holds Content Security Policy configuration
type CSPConfig struct {
	DefaultSrc     []string
	ScriptSrc      []string
	StyleSrc       []string
	ImgSrc         []string
	ConnectSrc     []string
	ObjectSrc      []string
	FrameAncestors []string
	BaseURI        []string
	FormAction     []string
}

// DefaultCSPConfig allows only same-origin resources. Inline scripts need
// the per-request nonce.
func DefaultCSPConfig() *CSPConfig {
	return &CSPConfig{
		DefaultSrc:     []string{"'self'"},
		ScriptSrc:      []string{"'self'"},
		StyleSrc:       []string{"'self'"},
		ImgSrc:         []string{"'self'", "data:"},
		ConnectSrc:     []string{"'self'", "ws:", "wss:"},
		ObjectSrc:      []string{"'none'"},
		FrameAncestors: []string{"'none'"},
		BaseURI:        []string{"'self'"},
		FormAction:     []string{"'self'"},
	}
}

// generateNonce returns 16 random bytes, base64 encoded.
func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// GetNonceFromContext returns the CSP nonce of the request, or "".
func GetNonceFromContext(ctx context.Context) string {
	nonce, _ := ctx.Value(nonceContextKey).(string)
	return nonce
}

// SecurityMiddleware sets the security headers and a fresh CSP nonce on
// every response.
func SecurityMiddleware(csp *CSPConfig, logger logging.Logger) func(http.Handler) http.Handler {
	if csp == nil {
		csp = DefaultCSPConfig()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			nonce, err := generateNonce()
			if err != nil {
				logger.Error(r.Context(), err, "Failed to generate CSP nonce")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}

			h := w.Header()
			h.Set("Content-Security-Policy", buildCSPHeader(csp, nonce))
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), payment=(), usb=()")
			h.Set("Cross-Origin-Opener-Policy", "same-origin")
			if r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			ctx := context.WithValue(r.Context(), nonceContextKey, nonce)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// buildCSPHeader constructs the Content-Security-Policy header value
func buildCSPHeader(csp *CSPConfig, nonce string) string {
	var directives []string

	addDirective := func(name string, values []string) {
		if len(values) > 0 {
			directives = append(directives, fmt.Sprintf("%s %s", name, strings.Join(values, " ")))
		}
	}

	scriptSrc := csp.ScriptSrc
	if nonce != "" {
		scriptSrc = append(append([]string(nil), scriptSrc...), fmt.Sprintf("'nonce-%s'", nonce))
	}

	addDirective("default-src", csp.DefaultSrc)
	addDirective("script-src", scriptSrc)
	addDirective("style-src", csp.StyleSrc)
	addDirective("img-src", csp.ImgSrc)
	addDirective("connect-src", csp.ConnectSrc)
	addDirective("object-src", csp.ObjectSrc)
	addDirective("frame-ancestors", csp.FrameAncestors)
	addDirective("base-uri", csp.BaseURI)
	addDirective("form-action", csp.FormAction)

	return strings.Join(directives, "; ")
}

// OriginChecker decides whether a browser origin may post the contact
// form or open the status socket.
type OriginChecker struct {
	allowed []string
	logger  logging.Logger
}

func NewOriginChecker(allowed []string, logger logging.Logger) *OriginChecker {
	return &OriginChecker{allowed: allowed, logger: logger}
}

// Allowed accepts same-host origins and the configured ones. A request
// without Origin or Referer is not from a browser and is accepted.
func (oc *OriginChecker) Allowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		if referer := r.Header.Get("Referer"); referer != "" {
			if u, err := url.Parse(referer); err == nil {
				origin = u.Scheme + "://" + u.Host
			}
		}
	}
	if origin == "" {
		return true
	}

	if u, err := url.Parse(origin); err == nil && u.Host == r.Host && (u.Scheme == "http" || u.Scheme == "https") {
		return true
	}

	return validation.ValidateOrigin(origin, oc.allowed) == nil
}

// Patterns returns the allowed hosts in the form websocket.AcceptOptions
// expects.
func (oc *OriginChecker) Patterns() []string {
	patterns := make([]string, 0, len(oc.allowed))
	for _, a := range oc.allowed {
		if u, err := url.Parse(a); err == nil && u.Host != "" {
			patterns = append(patterns, u.Host)
			continue
		}
		patterns = append(patterns, a)
	}
	return patterns
}

// Middleware rejects cross-origin requests with 403.
func (oc *OriginChecker) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !oc.Allowed(r) {
			oc.logger.Warn(r.Context(),
				errors.NewSecurityError(errors.ErrCodeInvalidOrigin, "invalid origin in request"),
				"Security: Invalid origin",
				"origin", r.Header.Get("Origin"),
				"path", r.URL.Path)
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIPFunc extracts the client address. Forwarding headers are only
// honored behind a trusted proxy.
func clientIPFunc(trustProxy bool) func(*http.Request) string {
	return func(r *http.Request) string {
		if trustProxy {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				return strings.TrimSpace(first)
			}
			if xri := r.Header.Get("X-Real-IP"); xri != "" {
				return strings.TrimSpace(xri)
			}
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return r.RemoteAddr
		}
		return host
	}
}
