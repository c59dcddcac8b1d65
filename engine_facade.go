package careauth

import (
	"context"
	"errors"
)

// AuthenticateRequest is the boundary-facing variant of
// [Engine.Authenticate]: every rejection collapses to
// ErrAuthenticationRequired so responses cannot leak whether a token was
// malformed, expired, revoked, or belonged to a suspended account. The
// audit trail keeps the distinction.
func (e *Engine) AuthenticateRequest(ctx context.Context, accessToken string) (*Principal, error) {
	principal, err := e.Authenticate(ctx, accessToken)
	if err != nil {
		if errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrEngineNotReady) {
			return nil, err
		}
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrOTPThrottled) {
			return nil, ErrRateLimited
		}
		return nil, ErrAuthenticationRequired
	}
	return principal, nil
}

// RequirePermission checks role authorization for a resource:action.
func (e *Engine) RequirePermission(ctx context.Context, principal *Principal, resource, action string) error {
	if e == nil || e.table == nil {
		return ErrEngineNotReady
	}
	if principal == nil {
		return ErrAuthenticationRequired
	}

	if !e.table.HasPermission(principal.Role, resource, action) {
		e.metricInc(MetricPermissionDenied)
		e.emitAudit(ctx, auditEventPermissionDenied, false, principal.ID, "", "", ErrPermissionDenied, func() map[string]string {
			return map[string]string{
				"role":     principal.Role.String(),
				"resource": resource,
				"action":   action,
			}
		})
		return ErrPermissionDenied
	}
	return nil
}

// RequireRole checks membership in an allowed role set.
func (e *Engine) RequireRole(ctx context.Context, principal *Principal, roles ...Role) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if principal == nil {
		return ErrAuthenticationRequired
	}

	for _, role := range roles {
		if principal.Role == role {
			return nil
		}
	}

	e.metricInc(MetricPermissionDenied)
	e.emitAudit(ctx, auditEventPermissionDenied, false, principal.ID, "", "", ErrPermissionDenied, func() map[string]string {
		return map[string]string{
			"role": principal.Role.String(),
		}
	})
	return ErrPermissionDenied
}
