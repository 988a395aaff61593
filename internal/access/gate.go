// Package access implements role-based authorization for workflow operations.
//
// Every mutating service operation names its allowed role set and calls Gate.Authorize
// with the actor that was passed in explicitly. Superusers bypass every check. A denied
// call returns a CodeForbidden error before any side effect happens.
package access

import (
	"context"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	dErrors "insureflow/pkg/domain-errors"
	"insureflow/pkg/requestcontext"
)

var deniedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "insureflow_access_denied_total",
	Help: "Authorization checks that were denied, by operation",
}, []string{"operation"})

// Gate evaluates role requirements.
type Gate struct {
	logger *slog.Logger
}

// NewGate constructs a Gate. A nil logger disables denial logging.
func NewGate(logger *slog.Logger) *Gate {
	return &Gate{logger: logger}
}

// Authorize fails with CodeForbidden unless the actor is a superuser or holds one of allowed.
// An unauthenticated actor fails with CodeUnauthorized.
func (g *Gate) Authorize(ctx context.Context, actor Actor, operation string, allowed ...Role) error {
	if !actor.IsAuthenticated() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if actor.Superuser || actor.Is(allowed...) {
		return nil
	}
	deniedTotal.WithLabelValues(operation).Inc()
	if g != nil && g.logger != nil {
		g.logger.WarnContext(ctx, "permission denied",
			"request_id", requestcontext.RequestID(ctx),
			"operation", operation,
			"user_id", actor.UserID,
			"role", actor.Role,
		)
	}
	return dErrors.New(dErrors.CodeForbidden, "role "+string(actor.Role)+" may not "+operation+"; requires one of "+joinRoles(allowed))
}

func joinRoles(roles []Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
