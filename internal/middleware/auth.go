package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pandarank/pandarank-api/internal/domain/user"
	"github.com/pandarank/pandarank-api/internal/pkg/jwt"
	"github.com/pandarank/pandarank-api/internal/pkg/logger"
	"github.com/pandarank/pandarank-api/internal/pkg/response"
)

type contextKey string

const actorKey contextKey = "actor"

// Auth requires a valid bearer access token and puts its Actor on the context.
func Auth(jwtService *jwt.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				response.Unauthorized(w, "Missing or malformed bearer token")
				return
			}

			claims, err := jwtService.ValidateAccessToken(token)
			switch {
			case errors.Is(err, jwt.ErrExpiredToken):
				response.Unauthorized(w, "Token expired")
				return
			case err != nil:
				response.Unauthorized(w, "Invalid token")
				return
			}

			if !user.IsValidRole(claims.Role) {
				response.Forbidden(w, "Unknown role")
				return
			}

			actor := user.Actor{ID: claims.UserID, Role: user.Role(claims.Role)}
			ctx := WithActor(r.Context(), actor)

			l := logger.FromContext(ctx).With().Str("user_id", actor.ID.String()).Logger()
			ctx = logger.WithContext(ctx, &l)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithActor stores the authenticated identity in the context.
func WithActor(ctx context.Context, actor user.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor returns the authenticated identity; ok is false for anonymous requests.
func GetActor(ctx context.Context) (user.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(user.Actor)
	if !ok || actor.ID == uuid.Nil {
		return user.Actor{}, false
	}
	return actor, true
}

// GetUserID is the caller's id, or uuid.Nil when anonymous.
func GetUserID(ctx context.Context) uuid.UUID {
	actor, _ := GetActor(ctx)
	return actor.ID
}

// RequireRole lets only the listed roles through.
func RequireRole(roles ...user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := GetActor(r.Context())
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			response.Forbidden(w, "Insufficient permissions")
		})
	}
}

// RequireAdmin returns middleware that requires admin role
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(user.RoleAdmin)
}
