package middleware

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// CookieName is where the frontend keeps the auth token; the
// Authorization header is the fallback.
const CookieName = "auth_token"

type contextKey string

const userIDKey contextKey = "userID"

// UserID extracts the authenticated user id injected by Auth. The second
// return is false on unauthenticated requests.
func UserID(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(userIDKey).(int64)
	return id, ok
}

// WithUserID returns a context carrying the user id; used by tests and
// the websocket gateway after its own token check.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// Auth verifies the JWT from the auth cookie or a Bearer header and puts
// the user id into the request context. Identity issuance lives in the
// auth service; this only validates.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := tokenFromRequest(r)
			if token == "" {
				http.Error(w, "Access token required", http.StatusUnauthorized)
				return
			}

			userID, err := ParseUserToken(token, secret)
			if err != nil {
				log.Printf("[Auth] rejected token: %v", err)
				http.Error(w, "Invalid or expired token", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// ParseUserToken validates an HMAC-signed token and returns the user id
// from its "sub" claim.
func ParseUserToken(tokenString, secret string) (int64, error) {
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return 0, err
	}

	// jwt decodes numeric claims as float64.
	sub, ok := claims["sub"].(float64)
	if !ok || sub <= 0 {
		return 0, fmt.Errorf("token has no usable sub claim")
	}
	return int64(sub), nil
}

// TokenFromRequest is exposed for the websocket gateway, which cannot
// run inside the HTTP middleware chain once the connection upgrades.
func TokenFromRequest(r *http.Request) string {
	return tokenFromRequest(r)
}

func tokenFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	// Browsers cannot set websocket headers; allow a query token there.
	return r.URL.Query().Get("token")
}
