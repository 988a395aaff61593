package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"insureflow/internal/access"
	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/platform/httputil"
	"insureflow/pkg/requestcontext"
)

// ActorValidator turns a bearer token into the authenticated actor.
type ActorValidator interface {
	ValidateActor(ctx context.Context, token string) (access.Actor, error)
}

// RequireAuth rejects requests without a valid bearer token and places the actor on the context.
func RequireAuth(validator ActorValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Missing or invalid Authorization header"))
				return
			}

			actor, err := validator.ValidateActor(ctx, token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "Invalid or expired token"))
				return
			}

			ctx = access.WithActor(ctx, actor)
			ctx = requestcontext.WithUserID(ctx, actor.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles rejects authenticated callers whose role is outside allowed. Superusers pass.
// Must run after RequireAuth.
func RequireRoles(logger *slog.Logger, allowed ...access.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor, ok := access.ActorFrom(ctx)
			if !ok || !actor.IsAuthenticated() {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !actor.Superuser && !actor.Is(allowed...) {
				logger.WarnContext(ctx, "route forbidden for role",
					"request_id", requestcontext.RequestID(ctx),
					"role", actor.Role,
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient role for this route"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
