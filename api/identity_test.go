package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

// whoami echoes the resolved user id.
func whoami(identity *Identity) http.Handler {
	return identity.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(UserIDFrom(r.Context())))
	}))
}

func TestIdentity_BearerClaims(t *testing.T) {
	handler := whoami(NewIdentity(testSecret))

	tests := []struct {
		name   string
		claims jwt.MapClaims
		want   string
	}{
		{"userId claim", jwt.MapClaims{"userId": "alice", "id": "ignored"}, "alice"},
		{"id claim", jwt.MapClaims{"id": "bob"}, "bob"},
		{"numeric id", jwt.MapClaims{"id": 42}, "42"},
		{"user_id claim", jwt.MapClaims{"user_id": "carol"}, "carol"},
		{"no id claim", jwt.MapClaims{"sub": "dave"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+sign(t, jwt.SigningMethodHS256, []byte(testSecret), tt.claims))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestIdentity_RejectsBadTokens(t *testing.T) {
	handler := whoami(NewIdentity(testSecret))

	tests := []struct {
		name   string
		header string
	}{
		{"wrong secret", "Bearer " + sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"userId": "alice"})},
		{"unsigned", "Bearer " + sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"userId": "alice"})},
		{"not bearer", "Basic YWxpY2U6cHc="},
		{"garbage", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", tt.header)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestIdentity_GatewayHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, " alice ")
	rec := httptest.NewRecorder()
	whoami(NewIdentity("")).ServeHTTP(rec, req)
	assert.Equal(t, "alice", rec.Body.String())

	// With a secret configured the header is not trusted.
	rec = httptest.NewRecorder()
	whoami(NewIdentity(testSecret)).ServeHTTP(rec, req)
	assert.Empty(t, rec.Body.String())
}

func TestRequireUser(t *testing.T) {
	handler := NewIdentity("").Middleware(RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderUserID, "alice")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	for i := 0; i <= maxLimiters; i++ {
		rl.getLimiter(strconv.Itoa(i))
	}
	require.Greater(t, len(rl.limiters), maxLimiters)

	rl.Cleanup()
	assert.Empty(t, rl.limiters)
}
