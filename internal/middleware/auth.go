// Package middleware provides HTTP middleware for the sandbox backend.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// AppUserIDKey is the context key for the authenticated app user id.
	AppUserIDKey ContextKey = "app_user_id"
	// AppIDKey is the context key for the app id the session belongs to.
	AppIDKey ContextKey = "app_id"
)

// SessionClaims are the claims of a sandbox session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	AppID string `json:"appId"`
}

// Auth validates the session token the SDK sends as either a Bearer or
// Basic authorization value and threads its identity through the context.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 {
				http.Error(w, `{"error":"invalid authorization header format"}`, http.StatusUnauthorized)
				return
			}
			tokenString := parts[1]

			claims := &SessionClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil || !token.Valid {
				http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), AppUserIDKey, claims.Subject)
			ctx = context.WithValue(ctx, AppIDKey, claims.AppID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAppUserID gets the authenticated app user id from context.
func GetAppUserID(ctx context.Context) string {
	if v := ctx.Value(AppUserIDKey); v != nil {
		return v.(string)
	}
	return ""
}

// GetAppID gets the app id from context.
func GetAppID(ctx context.Context) string {
	if v := ctx.Value(AppIDKey); v != nil {
		return v.(string)
	}
	return ""
}
