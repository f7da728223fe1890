package auth

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

type contextKey string

const (
	subjectContextKey contextKey = "subject"
	nameContextKey    contextKey = "name"
)

// publicPaths may be reached without a session token. Everything under
// /api besides these requires one.
var publicPaths = map[string]bool{
	"/health":         true,
	"/api/register":   true,
	"/api/login":      true,
	"/api/face-login": true,
}

// Middleware validates the bearer token and stores the citizen identity
// in the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		subject, name, err := s.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			s.logger.Warn("rejected session token", zap.Error(err))
			http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), subjectContextKey, subject)
		ctx = context.WithValue(ctx, nameContextKey, name)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Subject returns the authenticated citizen ID, empty when anonymous.
func Subject(ctx context.Context) string {
	id, _ := ctx.Value(subjectContextKey).(string)
	return id
}

// DisplayName returns the authenticated citizen's name.
func DisplayName(ctx context.Context) string {
	name, _ := ctx.Value(nameContextKey).(string)
	return name
}
