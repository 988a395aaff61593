package testutil

import (
	"context"
	"net/http"

	"insureflow/internal/access"
	"insureflow/pkg/requestcontext"
)

// WithActor places an authenticated actor on the request context.
// This simulates what the auth middleware does for requests with a valid token.
func WithActor(req *http.Request, actor access.Actor) *http.Request {
	ctx := access.WithActor(req.Context(), actor)
	ctx = requestcontext.WithUserID(ctx, actor.UserID)
	return req.WithContext(ctx)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
