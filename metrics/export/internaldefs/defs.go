package internaldefs

import (
	careauth "github.com/caremesh/careauth"
)

// CounterDef binds a MetricID to its stable exported name.
type CounterDef struct {
	ID   careauth.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram MetricID to its stable exported name.
type HistogramDef struct {
	ID   careauth.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: careauth.MetricTokenIssued, Name: "careauth_token_issued_total", Help: "Issued token pairs."},
	{ID: careauth.MetricAuthenticateSuccess, Name: "careauth_authenticate_success_total", Help: "Successful access-token authentications."},
	{ID: careauth.MetricAuthenticateFailure, Name: "careauth_authenticate_failure_total", Help: "Failed access-token authentications."},
	{ID: careauth.MetricRefreshSuccess, Name: "careauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: careauth.MetricRefreshFailure, Name: "careauth_refresh_failure_total", Help: "Failed refresh attempts."},
	{ID: careauth.MetricRefreshReuseDetected, Name: "careauth_refresh_reuse_detected_total", Help: "Detected refresh token reuses."},
	{ID: careauth.MetricTokenRevoked, Name: "careauth_token_revoked_total", Help: "Single-token revocations."},
	{ID: careauth.MetricRevokeAll, Name: "careauth_revoke_all_total", Help: "Revoke-all operations."},
	{ID: careauth.MetricTokensPurged, Name: "careauth_tokens_purged_total", Help: "Expired-token purge runs that removed records."},
	{ID: careauth.MetricOTPGenerated, Name: "careauth_otp_generated_total", Help: "Generated OTP challenges."},
	{ID: careauth.MetricOTPThrottled, Name: "careauth_otp_throttled_total", Help: "Rate-limited OTP generations."},
	{ID: careauth.MetricOTPSuccess, Name: "careauth_otp_success_total", Help: "Successful OTP verifications."},
	{ID: careauth.MetricOTPInvalid, Name: "careauth_otp_invalid_total", Help: "OTP submissions with a wrong code."},
	{ID: careauth.MetricOTPBlocked, Name: "careauth_otp_blocked_total", Help: "OTP submissions against blocked challenges."},
	{ID: careauth.MetricOTPExpired, Name: "careauth_otp_expired_total", Help: "OTP submissions against expired challenges."},
	{ID: careauth.MetricOTPReplay, Name: "careauth_otp_replay_total", Help: "OTP submissions against already verified challenges."},
	{ID: careauth.MetricCacheFastReject, Name: "careauth_cache_fast_reject_total", Help: "Verifications short-circuited by the cache mirror."},
	{ID: careauth.MetricCacheFallback, Name: "careauth_cache_fallback_total", Help: "Cache reads degraded to the durable store."},
	{ID: careauth.MetricTwoFactorEnrolled, Name: "careauth_twofactor_enrolled_total", Help: "Second-factor methods flipped to enabled."},
	{ID: careauth.MetricTwoFactorSuccess, Name: "careauth_twofactor_success_total", Help: "Successful second-factor verifications."},
	{ID: careauth.MetricTwoFactorFailure, Name: "careauth_twofactor_failure_total", Help: "Failed second-factor verifications."},
	{ID: careauth.MetricTwoFactorReplay, Name: "careauth_twofactor_replay_total", Help: "Detected second-factor replay attempts."},
	{ID: careauth.MetricBackupCodeUsed, Name: "careauth_backup_code_used_total", Help: "Consumed backup codes."},
	{ID: careauth.MetricBackupCodeFailed, Name: "careauth_backup_code_failed_total", Help: "Rejected backup-code submissions."},
	{ID: careauth.MetricBackupCodeRegenerated, Name: "careauth_backup_code_regenerated_total", Help: "Backup-code set regenerations."},
	{ID: careauth.MetricLoginGateIssued, Name: "careauth_login_gate_issued_total", Help: "Opened two-factor login gates."},
	{ID: careauth.MetricLoginGateSuccess, Name: "careauth_login_gate_success_total", Help: "Login gates completed successfully."},
	{ID: careauth.MetricLoginGateFailure, Name: "careauth_login_gate_failure_total", Help: "Failed login gate completions."},
	{ID: careauth.MetricPermissionDenied, Name: "careauth_permission_denied_total", Help: "Authorization denials."},
}

var HistogramDefs = []HistogramDef{
	{ID: careauth.MetricAuthenticateLatency, Name: "careauth_authenticate_latency_seconds", Help: "Authenticate latency histogram."},
}

var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw snapshot slice to the fixed
// bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// both exposition formats expect.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
