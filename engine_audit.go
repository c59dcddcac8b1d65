package careauth

import (
	"context"
	"errors"
	"time"
)

const (
	auditEventTokenIssued          = "token_issued"
	auditEventAuthenticateSuccess  = "authenticate_success"
	auditEventAuthenticateFailure  = "authenticate_failure"
	auditEventRefreshSuccess       = "refresh_success"
	auditEventRefreshInvalid       = "refresh_invalid"
	auditEventRefreshReuseDetected = "refresh_reuse_detected"
	auditEventTokenRevoked         = "token_revoked"
	auditEventRevokeAll            = "revoke_all"
	auditEventTokensPurged         = "tokens_purged"

	auditEventOTPGenerated    = "otp_generated"
	auditEventOTPThrottled    = "otp_throttled"
	auditEventOTPSuccess      = "otp_success"
	auditEventOTPFailure      = "otp_failure"
	auditEventOTPBlocked      = "otp_blocked"
	auditEventOTPExpired      = "otp_expired"
	auditEventOTPReplay       = "otp_replay"
	auditEventOTPInvalidated  = "otp_invalidated"
	auditEventOTPCacheMiss    = "otp_cache_fallback"
	auditEventOTPStoreFailure = "otp_store_failure"

	auditEventTwoFactorEnrollStarted = "twofactor_enroll_started"
	auditEventTwoFactorEnabled       = "twofactor_enabled"
	auditEventTwoFactorDisabled      = "twofactor_disabled"
	auditEventTwoFactorSuccess       = "twofactor_success"
	auditEventTwoFactorFailure       = "twofactor_failure"
	auditEventTwoFactorReplay        = "twofactor_replay"
	auditEventBackupCodesGenerated   = "backup_codes_generated"
	auditEventBackupCodeUsed         = "backup_code_used"
	auditEventBackupCodeFailed       = "backup_code_failed"
	auditEventLoginGateIssued        = "login_gate_issued"
	auditEventLoginGateSuccess       = "login_gate_success"
	auditEventLoginGateFailure       = "login_gate_failure"
	auditEventLoginGateExceeded      = "login_gate_attempts_exceeded"

	auditEventPermissionDenied = "permission_denied"
)

// AuditErrorCode is the stable error vocabulary used in AuditEvent.Error.
type AuditErrorCode string

const (
	auditErrUnauthorized       AuditErrorCode = "unauthorized"
	auditErrPermissionDenied   AuditErrorCode = "permission_denied"
	auditErrTokenInvalid       AuditErrorCode = "token_invalid"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrAccountNotActive   AuditErrorCode = "account_not_active"
	auditErrPrincipalNotFound  AuditErrorCode = "principal_not_found"
	auditErrChallengeNotFound  AuditErrorCode = "challenge_not_found"
	auditErrChallengeExpired   AuditErrorCode = "challenge_expired"
	auditErrChallengeBlocked   AuditErrorCode = "challenge_blocked"
	auditErrOTPInvalid         AuditErrorCode = "otp_invalid"
	auditErrOTPReplay          AuditErrorCode = "otp_replay"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrTwoFactorRequired  AuditErrorCode = "twofactor_required"
	auditErrTwoFactorInvalid   AuditErrorCode = "twofactor_invalid"
	auditErrTwoFactorReplay    AuditErrorCode = "twofactor_replay"
	auditErrBackupCodeInvalid  AuditErrorCode = "backup_code_invalid"
	auditErrLoginGateInvalid   AuditErrorCode = "login_gate_invalid"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrStoreUnavailable   AuditErrorCode = "store_unavailable"
	auditErrEnrollmentRequired AuditErrorCode = "enrollment_required"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	principalID string,
	tokenID string,
	challengeID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:   time.Now().UTC(),
		EventType:   eventType,
		PrincipalID: principalID,
		TokenID:     tokenID,
		ChallengeID: challengeID,
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return auditErrUnauthorized
	case errors.Is(err, ErrPermissionDenied):
		return auditErrPermissionDenied
	case errors.Is(err, ErrTokenExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	case errors.Is(err, ErrTokenInvalid):
		return auditErrTokenInvalid
	case errors.Is(err, ErrAccountNotActive):
		return auditErrAccountNotActive
	case errors.Is(err, ErrPrincipalNotFound):
		return auditErrPrincipalNotFound
	case errors.Is(err, ErrChallengeNotFound):
		return auditErrChallengeNotFound
	case errors.Is(err, ErrChallengeExpired):
		return auditErrChallengeExpired
	case errors.Is(err, ErrChallengeBlocked):
		return auditErrChallengeBlocked
	case errors.Is(err, ErrAlreadyVerified):
		return auditErrOTPReplay
	case errors.Is(err, ErrOTPInvalid):
		return auditErrOTPInvalid
	case errors.Is(err, ErrOTPThrottled), errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrTwoFactorRequired):
		return auditErrTwoFactorRequired
	case errors.Is(err, ErrTwoFactorNotEnrolled),
		errors.Is(err, ErrEnrollmentPending),
		errors.Is(err, ErrBackupCodesNotConfigured):
		return auditErrEnrollmentRequired
	case errors.Is(err, ErrTwoFactorReplay):
		return auditErrTwoFactorReplay
	case errors.Is(err, ErrTwoFactorInvalid):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrBackupCodeInvalid):
		return auditErrBackupCodeInvalid
	case errors.Is(err, ErrLoginGateAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrLoginGateInvalid),
		errors.Is(err, ErrLoginGateExpired):
		return auditErrLoginGateInvalid
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrCacheRequired):
		return auditErrStoreUnavailable
	default:
		return auditErrInternal
	}
}
