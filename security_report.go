package careauth

import "time"

// SecurityReport is a read-only snapshot of the engine's effective
// security posture, intended for startup logs and compliance checks. It
// contains no secret material.
type SecurityReport struct {
	ProductionMode bool
	TokenSigning   TokenSigning
	AccessTTL      time.Duration
	RefreshTTL     time.Duration

	OTPDigits          int
	OTPTTL             time.Duration
	OTPLockout         time.Duration
	OTPThrottleActive  bool
	DefaultMaxAttempts int

	TOTPDigits      int
	TOTPSkew        int
	BackupCodeCount int

	CacheActive     bool
	LoginGateActive bool
	AuditActive     bool
	MetricsActive   bool
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	return SecurityReport{
		ProductionMode: e.config.Security.ProductionMode,
		TokenSigning:   e.config.Token.Signing,
		AccessTTL:      e.config.Token.AccessTTL,
		RefreshTTL:     e.config.Token.RefreshTTL,

		OTPDigits:          e.config.OTP.Digits,
		OTPTTL:             e.config.OTP.TTL,
		OTPLockout:         e.config.OTP.LockoutDuration,
		OTPThrottleActive:  e.otpLimiter != nil,
		DefaultMaxAttempts: e.config.OTP.DefaultMaxAttempts,

		TOTPDigits:      e.config.TwoFactor.TOTPDigits,
		TOTPSkew:        e.config.TwoFactor.TOTPSkew,
		BackupCodeCount: e.config.TwoFactor.BackupCodeCount,

		CacheActive:     e.cache != nil,
		LoginGateActive: e.loginGates != nil,
		AuditActive:     e.audit != nil,
		MetricsActive:   e.metrics.Enabled(),
	}
}
