package careauth

import "errors"

// Store contract sentinels. CredentialStore implementations return these;
// everything else in the taxonomy is produced by the engine.
var (
	// ErrNotFound is returned by store lookups for absent records.
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict is returned by conditional challenge updates that
	// lost an optimistic concurrency race.
	ErrVersionConflict = errors.New("version conflict")
)

// Token lifecycle taxonomy.
var (
	// ErrTokenInvalid covers unknown token values and rotation races lost.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired marks a token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenRevoked marks a soft-revoked token.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrAccountNotActive marks a valid token whose principal cannot act.
	ErrAccountNotActive = errors.New("account not active")
	// ErrPrincipalNotFound marks a token whose principal no longer resolves.
	ErrPrincipalNotFound = errors.New("principal not found")
)

// OTP taxonomy.
var (
	// ErrChallengeNotFound means no challenge matched the reference.
	ErrChallengeNotFound = errors.New("otp challenge not found")
	// ErrChallengeExpired means the challenge outlived its window.
	ErrChallengeExpired = errors.New("otp challenge expired")
	// ErrOTPInvalid means the submitted code mismatched.
	ErrOTPInvalid = errors.New("invalid otp code")
	// ErrChallengeBlocked means the attempt budget is exhausted.
	ErrChallengeBlocked = errors.New("otp challenge blocked")
	// ErrAlreadyVerified means a replay against a terminal challenge.
	ErrAlreadyVerified = errors.New("otp challenge already verified")
	// ErrOTPThrottled means challenge generation is rate limited.
	ErrOTPThrottled = errors.New("otp generation rate limited")
	// ErrAddressRequired rejects challenge generation without a contact
	// address.
	ErrAddressRequired = errors.New("contact address required")
)

// Two-factor taxonomy.
var (
	// ErrTwoFactorRequired means login completion needs a second factor.
	ErrTwoFactorRequired = errors.New("two-factor verification required")
	// ErrTwoFactorNotEnrolled means the method has no enabled profile.
	ErrTwoFactorNotEnrolled = errors.New("two-factor method not enrolled")
	// ErrTwoFactorInvalid means the submitted second-factor code failed.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
	// ErrTwoFactorReplay means a TOTP code was reused within its window.
	ErrTwoFactorReplay = errors.New("two-factor code replay detected")
	// ErrBackupCodeInvalid means the backup code is unknown or spent.
	ErrBackupCodeInvalid = errors.New("invalid backup code")
	// ErrBackupCodesNotConfigured means no backup set has been generated.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")
	// ErrEnrollmentPending means a factor was used before control of it
	// was proven.
	ErrEnrollmentPending = errors.New("two-factor enrollment not confirmed")
)

// Login gate taxonomy (two-step login completion over Redis).
var (
	// ErrLoginGateInvalid covers unknown or consumed gate handles.
	ErrLoginGateInvalid = errors.New("login gate invalid")
	// ErrLoginGateExpired marks a gate past its TTL.
	ErrLoginGateExpired = errors.New("login gate expired")
	// ErrLoginGateAttempts marks a gate that exhausted its attempt budget.
	ErrLoginGateAttempts = errors.New("login gate attempts exceeded")
	// ErrCacheRequired marks an operation that needs the Redis client the
	// builder was not given.
	ErrCacheRequired = errors.New("operation requires redis")
)

// Boundary categories. The facade collapses the detailed taxonomy into
// these to avoid leaking credential state to callers.
var (
	// ErrAuthenticationRequired is the generic authentication failure.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrPermissionDenied is the generic authorization failure.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrRateLimited is the generic throttling failure.
	ErrRateLimited = errors.New("rate limited")
)

// Engine state.
var (
	// ErrEngineNotReady guards calls on a partially constructed engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable wraps credential store backend failures.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)
