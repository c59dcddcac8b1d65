package careauth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/caremesh/careauth/internal"
	"github.com/google/uuid"
)

const (
	revokeReasonRotated = "rotated"
	revokeReasonLogout  = "logout"
)

// IssueTokens creates an access/refresh pair for an active principal.
// The returned values are the only copies; the store keeps digests.
//
// Principals with an enabled second factor cannot use this path; see
// [Engine.IssueTokensWithTwoFactor].
func (e *Engine) IssueTokens(ctx context.Context, principalID string) (*TokenPair, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.resolveActivePrincipal(ctx, principalID)
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		e.emitAudit(ctx, auditEventAuthenticateFailure, false, principalID, "", "", err, nil)
		return nil, err
	}

	required, err := e.TwoFactorRequired(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if required {
		e.emitAudit(ctx, auditEventAuthenticateFailure, false, principalID, "", "", ErrTwoFactorRequired, nil)
		return nil, ErrTwoFactorRequired
	}

	return e.issuePair(ctx, principal, deviceFromContext(ctx))
}

// issuePair writes both records and returns the pair. Used by the plain
// and two-factor issuance paths after their respective gates; rotation
// passes the prior record's device so the metadata survives refreshes.
func (e *Engine) issuePair(ctx context.Context, principal *Principal, device DeviceInfo) (*TokenPair, error) {
	now := time.Now().UTC()
	pairID := uuid.NewString()

	accessValue, err := internal.NewTokenValue()
	if err != nil {
		return nil, err
	}
	refreshValue, err := internal.NewTokenValue()
	if err != nil {
		return nil, err
	}

	accessRec := &TokenRecord{
		ID:          uuid.NewString(),
		PrincipalID: principal.ID,
		Digest:      internal.TokenDigest(accessValue),
		Kind:        KindAccess,
		PairID:      pairID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(e.config.Token.AccessTTL),
		Device:      device,
	}
	refreshRec := &TokenRecord{
		ID:          uuid.NewString(),
		PrincipalID: principal.ID,
		Digest:      internal.TokenDigest(refreshValue),
		Kind:        KindRefresh,
		PairID:      pairID,
		IssuedAt:    now,
		ExpiresAt:   now.Add(e.config.Token.RefreshTTL),
		Device:      device,
	}

	if err := e.store.SaveToken(ctx, accessRec); err != nil {
		return nil, storeErr(err)
	}
	if err := e.store.SaveToken(ctx, refreshRec); err != nil {
		return nil, storeErr(err)
	}

	accessWire, err := e.tokens.Seal(accessValue, accessRec.ID, principal.ID, principal.Role.String(), accessRec.ExpiresAt)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricTokenIssued)
	e.emitAudit(ctx, auditEventTokenIssued, true, principal.ID, accessRec.ID, "", nil, func() map[string]string {
		return map[string]string{
			"pair_id": pairID,
		}
	})

	return &TokenPair{
		AccessToken:      accessWire,
		RefreshToken:     refreshValue,
		AccessExpiresAt:  accessRec.ExpiresAt,
		RefreshExpiresAt: refreshRec.ExpiresAt,
	}, nil
}

// Authenticate resolves an access token to its principal. The durable
// record is authoritative even in signed mode.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	start := time.Now()

	principal, err := e.authenticate(ctx, accessToken)

	e.metricObserve(MetricAuthenticateLatency, time.Since(start))
	if err != nil {
		e.metricInc(MetricAuthenticateFailure)
		pid := ""
		if principal != nil {
			pid = principal.ID
		}
		e.emitAudit(ctx, auditEventAuthenticateFailure, false, pid, "", "", err, nil)
		return nil, err
	}

	e.metricInc(MetricAuthenticateSuccess)
	e.emitAudit(ctx, auditEventAuthenticateSuccess, true, principal.ID, "", "", nil, nil)
	return principal, nil
}

func (e *Engine) authenticate(ctx context.Context, accessToken string) (*Principal, error) {
	if accessToken == "" {
		return nil, ErrTokenInvalid
	}

	core, _, err := e.tokens.Open(accessToken)
	if err != nil {
		return nil, ErrTokenInvalid
	}

	rec, err := e.store.GetToken(ctx, internal.TokenDigest(core))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTokenInvalid
		}
		return nil, storeErr(err)
	}
	if rec.Kind != KindAccess {
		return nil, ErrTokenInvalid
	}

	now := time.Now().UTC()
	if rec.Revoked {
		return nil, ErrTokenRevoked
	}
	if now.After(rec.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	principal, err := e.resolveActivePrincipal(ctx, rec.PrincipalID)
	if err != nil {
		return nil, err
	}

	// last-used touch stays off the read path: best effort, never blocks
	// the caller and survives request-context cancellation
	go func(digest [32]byte) {
		_ = e.store.TouchToken(context.WithoutCancel(ctx), digest, now)
	}(rec.Digest)

	return principal, nil
}

// Refresh rotates a refresh token into a new pair. The old pair is
// revoked first; concurrent refreshes of the same token produce exactly
// one winner, losers get ErrTokenInvalid.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if refreshToken == "" {
		return nil, ErrTokenInvalid
	}

	digest := internal.TokenDigest(refreshToken)
	now := time.Now().UTC()

	rec, err := e.store.GetToken(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", "", ErrTokenInvalid, nil)
			return nil, ErrTokenInvalid
		}
		return nil, storeErr(err)
	}
	if rec.Kind != KindRefresh {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.PrincipalID, rec.ID, "", ErrTokenInvalid, nil)
		return nil, ErrTokenInvalid
	}
	if now.After(rec.ExpiresAt) {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.PrincipalID, rec.ID, "", ErrTokenExpired, nil)
		return nil, ErrTokenExpired
	}

	principal, err := e.resolveActivePrincipal(ctx, rec.PrincipalID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, rec.PrincipalID, rec.ID, "", err, nil)
		return nil, err
	}

	// conditional revoke is the rotation lock: only the caller that flips
	// the record gets to mint the replacement pair
	_, err = e.store.RevokeToken(ctx, digest, revokeReasonRotated, now)
	if err != nil {
		if errors.Is(err, ErrTokenRevoked) {
			// a previous rotation already spent this token; treat the
			// replay as hostile and cut the whole principal loose
			e.metricInc(MetricRefreshReuseDetected)
			e.emitAudit(ctx, auditEventRefreshReuseDetected, false, rec.PrincipalID, rec.ID, "", ErrTokenInvalid, nil)
			_, _ = e.store.RevokeAllTokens(ctx, rec.PrincipalID, "refresh_reuse", now)
			return nil, ErrTokenInvalid
		}
		if errors.Is(err, ErrNotFound) {
			e.metricInc(MetricRefreshFailure)
			return nil, ErrTokenInvalid
		}
		return nil, storeErr(err)
	}

	// the rotated pair keeps the original device metadata; a bare
	// refresh context must not erase it
	device := rec.Device
	if device.IsZero() {
		device = deviceFromContext(ctx)
	}

	pair, err := e.issuePair(ctx, principal, device)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, principal.ID, rec.ID, "", nil, nil)
	return pair, nil
}

// Revoke invalidates one token by value.
func (e *Engine) Revoke(ctx context.Context, tokenValue, reason string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if tokenValue == "" {
		return ErrTokenInvalid
	}
	if reason == "" {
		reason = revokeReasonLogout
	}

	core, _, err := e.tokens.Open(tokenValue)
	if err != nil {
		core = tokenValue
	}

	rec, err := e.store.RevokeToken(ctx, internal.TokenDigest(core), reason, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTokenInvalid
		}
		if errors.Is(err, ErrTokenRevoked) {
			// idempotent from the caller's view
			return nil
		}
		return storeErr(err)
	}

	e.metricInc(MetricTokenRevoked)
	e.emitAudit(ctx, auditEventTokenRevoked, true, rec.PrincipalID, rec.ID, "", nil, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
	return nil
}

// RevokeAll invalidates every live token of a principal.
func (e *Engine) RevokeAll(ctx context.Context, principalID, reason string) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}
	if reason == "" {
		reason = revokeReasonLogout
	}

	n, err := e.store.RevokeAllTokens(ctx, principalID, reason, time.Now().UTC())
	if err != nil {
		return 0, storeErr(err)
	}

	e.metricInc(MetricRevokeAll)
	e.emitAudit(ctx, auditEventRevokeAll, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"reason": reason,
		}
	})
	return n, nil
}

// PurgeExpiredTokens garbage-collects records expired before the cutoff.
// Revocation never deletes; this is the only removal path.
func (e *Engine) PurgeExpiredTokens(ctx context.Context, before time.Time) (int, error) {
	if e == nil || e.store == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.store.DeleteExpiredTokens(ctx, before)
	if err != nil {
		return 0, storeErr(err)
	}

	if n > 0 {
		e.metricInc(MetricTokensPurged)
		e.emitAudit(ctx, auditEventTokensPurged, true, "", "", "", nil, func() map[string]string {
			return map[string]string{
				"purged": strconv.Itoa(n),
			}
		})
	}
	return n, nil
}

func (e *Engine) resolveActivePrincipal(ctx context.Context, principalID string) (*Principal, error) {
	principal, err := e.principals.GetPrincipal(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrPrincipalNotFound
		}
		return nil, storeErr(err)
	}
	if principal == nil {
		return nil, ErrPrincipalNotFound
	}
	if principal.Status != StatusActive {
		return principal, ErrAccountNotActive
	}
	return principal, nil
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrTokenRevoked) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
