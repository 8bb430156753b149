package middleware

import (
	"context"
	"net/http"
	"strings"

	"studio_gateway/internal/auth"
	"studio_gateway/internal/utils"
)

// ContextKey defines the type for context keys to avoid conflicts
type ContextKey string

// Context keys for storing authentication data
const (
	ClaimsKey   ContextKey = "claims"
	UserIDKey   ContextKey = "userID"
	UsernameKey ContextKey = "username"
	RoleKey     ContextKey = "role"
)

// Authenticate validates the bearer session token and stores the caller identity in the context
func Authenticate(tokens *auth.TokenIssuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if tokenString == "" {
				utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}

			claims, err := tokens.Validate(tokenString)
			if err != nil {
				utils.RespondWithError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

// RequireRole rejects callers whose role lacks the required permission
func RequireRole(required auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, ok := GetRole(r.Context())
			if !ok {
				utils.RespondWithError(w, http.StatusUnauthorized, "Not authenticated")
				return
			}
			if !role.HasPermission(required) {
				utils.RespondWithError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithClaims embeds claims into ctx
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
	ctx = context.WithValue(ctx, UsernameKey, claims.Username)
	ctx = context.WithValue(ctx, RoleKey, claims.Role)
	return ctx
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// GetClaims retrieves the session claims from the request context
func GetClaims(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*auth.Claims)
	return claims, ok
}

// GetUserID retrieves the user ID from the request context
func GetUserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(UserIDKey).(string)
	return id, ok
}

// GetUsername retrieves the username from the request context
func GetUsername(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(UsernameKey).(string)
	return name, ok
}

// GetRole retrieves the role from the request context
func GetRole(ctx context.Context) (auth.Role, bool) {
	role, ok := ctx.Value(RoleKey).(auth.Role)
	return role, ok
}

// IsAdmin checks if the caller has the ADMIN role
func IsAdmin(ctx context.Context) bool {
	role, ok := GetRole(ctx)
	return ok && role == auth.RoleAdmin
}
