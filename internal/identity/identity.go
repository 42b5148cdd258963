// Package identity provides anonymous per-device identity primitives.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	CookieName       = "autostream_client_id"
	ClientHeaderName = "X-AutoStream-Client-ID"
	cookieMaxAge     = 30 * 24 * time.Hour
)

type contextKey int

const clientIDKey contextKey = iota

var clientIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// ClientIDFromContext extracts the client ID from the request context.
func ClientIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(clientIDKey).(string); ok {
		return v
	}
	return ""
}

// WithClientID returns a copy of ctx carrying clientID.
func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// NewClientID generates a random anonymous client ID.
func NewClientID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidClientID reports whether id has the anonymous client ID format.
func IsValidClientID(id string) bool {
	return clientIDPattern.MatchString(id)
}

func setCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		Expires:  time.Now().Add(cookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// clientIDFromRequest prefers the cookie, then the client header used by
// non-browser clients. The second result is false when a new ID was minted.
func clientIDFromRequest(r *http.Request) (string, bool, error) {
	if c, err := r.Cookie(CookieName); err == nil && IsValidClientID(c.Value) {
		return c.Value, true, nil
	}
	if h := strings.TrimSpace(r.Header.Get(ClientHeaderName)); IsValidClientID(h) {
		return h, true, nil
	}
	id, err := NewClientID()
	return id, false, err
}

// Middleware injects the anonymous per-device client ID, refreshing its
// cookie on every request. onSeen, if non-nil, is called with the client ID.
func Middleware(isDev bool, onSeen func(clientID string)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID, _, err := clientIDFromRequest(r)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			setCookie(w, clientID, isDev)
			w.Header().Set(ClientHeaderName, clientID)

			if onSeen != nil {
				onSeen(clientID)
			}
			next.ServeHTTP(w, r.WithContext(WithClientID(r.Context(), clientID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
