package http

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"autoreq-backend/internal/logger"
	"autoreq-backend/internal/security"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

type contextKey string

const (
	operatorKey  contextKey = "operator"
	requestIDKey contextKey = "request_id"
)

// AuthMiddleware validates the bearer token on every operator call and
// stashes the operator name in the request context.
func AuthMiddleware(tokens security.TokenManager) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			claims, err := tokens.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				message := "invalid token"
				if errors.Is(err, security.ErrExpiredToken) {
					message = "token has expired"
				}
				writeError(w, http.StatusUnauthorized, message)
				return
			}

			ctx := context.WithValue(r.Context(), operatorKey, claims.Operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDMiddleware tags every request with an id for log correlation.
// An inbound X-Request-ID is honored so upstream proxies can trace calls.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		logger.Debug("Operator API request",
			"request_id", id, "method", r.Method, "path", r.URL.Path,
			"operator", OperatorFromContext(r.Context()))

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OperatorFromContext returns the authenticated operator name, if any.
func OperatorFromContext(ctx context.Context) string {
	operator, _ := ctx.Value(operatorKey).(string)
	return operator
}
