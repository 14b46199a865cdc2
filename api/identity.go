/*
identity.go - Caller identity pass-through

PURPOSE:
  Authentication happens upstream. This middleware only extracts the user
  id the gateway already vouched for and puts it in the request context.

SOURCES (first match wins):
  1. Authorization: Bearer <HS256 JWT>, when a secret is configured.
     The user id is read from claim "userId", "id" or "user_id".
  2. X-User-ID header, when no secret is configured.

  A request without an identity gets 401 from RequireUser.

SEE ALSO:
  - server.go: middleware order
*/
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/warp/points-engine/points"
)

const (
	HeaderUserID        = "X-User-ID"
	HeaderInternalToken = "X-Internal-Token"
)

type contextKey string

const userIDKey contextKey = "user_id"

var userIDClaims = []string{"userId", "id", "user_id"}

// WithUserID returns a context carrying the caller's id.
func WithUserID(ctx context.Context, id points.UserID) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// UserIDFrom returns the caller's id, or "" when the request carries none.
func UserIDFrom(ctx context.Context) points.UserID {
	id, _ := ctx.Value(userIDKey).(points.UserID)
	return id
}

// Identity resolves the caller from a verified JWT or the gateway header.
type Identity struct {
	secret []byte
}

// NewIdentity verifies HS256 tokens with secret. An empty secret trusts the
// X-User-ID header instead.
func NewIdentity(secret string) *Identity {
	i := &Identity{}
	if secret != "" {
		i.secret = []byte(secret)
	}
	return i
}

// Middleware stores the resolved user id in the request context. Tokens
// that fail verification get 401; requests with no identity at all pass
// through to RequireUser.
func (i *Identity) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := i.resolve(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", nil)
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("rejected bearer token")
			return
		}
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		logger := zerolog.Ctx(r.Context()).With().Str("user_id", string(id)).Logger()
		ctx := logger.WithContext(WithUserID(r.Context(), id))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (i *Identity) resolve(r *http.Request) (points.UserID, error) {
	if i.secret == nil {
		return points.UserID(strings.TrimSpace(r.Header.Get(HeaderUserID))), nil
	}

	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", errors.New("invalid authorization header format")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(strings.TrimSpace(parts[1]), claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("jwt parse: %w", err)
	}

	for _, name := range userIDClaims {
		if id := claimString(claims, name); id != "" {
			return points.UserID(id), nil
		}
	}
	return "", nil
}

// claimString reads a string or numeric claim.
func claimString(claims jwt.MapClaims, name string) string {
	switch v := claims[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// RequireUser rejects requests without a resolved user id.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserIDFrom(r.Context()) == "" {
			writeError(w, http.StatusUnauthorized, "Missing user id in token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireToken guards internal endpoints with a shared token. An empty
// token leaves the route open.
func RequireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(HeaderInternalToken)
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "Invalid internal token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
