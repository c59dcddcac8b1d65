package careauth

import (
	"context"
	"errors"
	"time"

	"github.com/caremesh/careauth/internal"
	"github.com/google/uuid"
)

// EnrollTOTP starts authenticator enrollment. The returned provision is
// the only copy of the shared secret; the factor stays inactive until
// [Engine.ConfirmTOTPEnrollment] proves the authenticator works.
func (e *Engine) EnrollTOTP(ctx context.Context, principalID string) (*TOTPProvision, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	if _, err := e.resolveActivePrincipal(ctx, principalID); err != nil {
		return nil, err
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}

	profile := &TwoFactorProfile{
		PrincipalID: principalID,
		Method:      MethodTOTP,
		State:       TwoFactorEnrolling,
		Secret:      secret,
	}
	if err := e.store.SaveTwoFactorProfile(ctx, profile); err != nil {
		return nil, storeErr(err)
	}

	e.emitAudit(ctx, auditEventTwoFactorEnrollStarted, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"method": MethodTOTP.String(),
		}
	})

	return &TOTPProvision{
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, principalID),
	}, nil
}

// ConfirmTOTPEnrollment flips the authenticator factor to enabled once a
// live code proves the user holds the secret.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, principalID, code string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	profile, err := e.store.GetTwoFactorProfile(ctx, principalID, MethodTOTP)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTwoFactorNotEnrolled
		}
		return storeErr(err)
	}
	if profile.State == TwoFactorEnabled {
		return nil
	}
	if profile.State != TwoFactorEnrolling {
		return ErrTwoFactorNotEnrolled
	}

	ok, counter, err := e.totp.VerifyCode(profile.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, principalID, "", "", ErrTwoFactorInvalid, nil)
		return ErrTwoFactorInvalid
	}

	profile.State = TwoFactorEnabled
	profile.EnabledAt = time.Now().UTC()
	profile.LastUsedCounter = counter
	if err := e.store.SaveTwoFactorProfile(ctx, profile); err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricTwoFactorEnrolled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"method": MethodTOTP.String(),
		}
	})
	return nil
}

// EnrollChannel starts SMS or email enrollment by binding a contact and
// challenging it. The factor enables only after the challenge verifies
// through [Engine.ConfirmChannelEnrollment].
func (e *Engine) EnrollChannel(ctx context.Context, principalID string, method TwoFactorMethod, contact string) (*OTPIssue, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	channel, err := channelForMethod(method)
	if err != nil {
		return nil, err
	}
	if contact == "" {
		return nil, ErrAddressRequired
	}

	if _, err := e.resolveActivePrincipal(ctx, principalID); err != nil {
		return nil, err
	}

	profile := &TwoFactorProfile{
		PrincipalID: principalID,
		Method:      method,
		State:       TwoFactorEnrolling,
		Contact:     contact,
	}
	if err := e.store.SaveTwoFactorProfile(ctx, profile); err != nil {
		return nil, storeErr(err)
	}

	e.emitAudit(ctx, auditEventTwoFactorEnrollStarted, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"method": method.String(),
		}
	})

	return e.GenerateOTP(ctx, channel, contact, PurposeTwoFactor, principalID)
}

// ConfirmChannelEnrollment verifies the enrollment challenge and enables
// the channel factor.
func (e *Engine) ConfirmChannelEnrollment(ctx context.Context, principalID string, method TwoFactorMethod, code string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	channel, err := channelForMethod(method)
	if err != nil {
		return err
	}

	profile, err := e.store.GetTwoFactorProfile(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTwoFactorNotEnrolled
		}
		return storeErr(err)
	}
	if profile.State == TwoFactorEnabled {
		return nil
	}
	if profile.State != TwoFactorEnrolling {
		return ErrTwoFactorNotEnrolled
	}

	if _, err := e.VerifyOTP(ctx, ByChannel(channel, profile.Contact, PurposeTwoFactor), code); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactorFailure, false, principalID, "", "", ErrTwoFactorInvalid, nil)
		return ErrTwoFactorInvalid
	}

	profile.State = TwoFactorEnabled
	profile.EnabledAt = time.Now().UTC()
	if err := e.store.SaveTwoFactorProfile(ctx, profile); err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricTwoFactorEnrolled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"method": method.String(),
		}
	})
	return nil
}

// DisableTwoFactor turns a factor off and discards its secret material.
func (e *Engine) DisableTwoFactor(ctx context.Context, principalID string, method TwoFactorMethod) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	profile, err := e.store.GetTwoFactorProfile(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTwoFactorNotEnrolled
		}
		return storeErr(err)
	}

	profile.State = TwoFactorDisabled
	profile.Secret = nil
	profile.LastUsedCounter = 0
	profile.EnabledAt = time.Time{}
	if err := e.store.SaveTwoFactorProfile(ctx, profile); err != nil {
		return storeErr(err)
	}

	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"method": method.String(),
		}
	})
	return nil
}

// VerifyTwoFactor checks a second-factor proof for one method. A passing
// TOTP code is consumed: reusing the same time-step fails with
// ErrTwoFactorReplay.
func (e *Engine) VerifyTwoFactor(ctx context.Context, principalID string, method TwoFactorMethod, code string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	var err error
	switch method {
	case MethodTOTP:
		err = e.verifyTOTPFactor(ctx, principalID, code)
	case MethodSMS, MethodEmail:
		err = e.verifyChannelFactor(ctx, principalID, method, code)
	case MethodBackup:
		err = e.consumeBackupCode(ctx, principalID, code)
	default:
		err = ErrTwoFactorInvalid
	}

	if err != nil {
		e.metricInc(MetricTwoFactorFailure)
		event := auditEventTwoFactorFailure
		if errors.Is(err, ErrTwoFactorReplay) {
			e.metricInc(MetricTwoFactorReplay)
			event = auditEventTwoFactorReplay
		}
		e.emitAudit(ctx, event, false, principalID, "", "", err, func() map[string]string {
			return map[string]string{
				"method": method.String(),
			}
		})
		return err
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, principalID, "", "", nil, func() map[string]string {
		return map[string]string{
			"method": method.String(),
		}
	})
	return nil
}

func (e *Engine) verifyTOTPFactor(ctx context.Context, principalID, code string) error {
	profile, err := e.store.GetTwoFactorProfile(ctx, principalID, MethodTOTP)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTwoFactorNotEnrolled
		}
		return storeErr(err)
	}
	if profile.State == TwoFactorEnrolling {
		return ErrEnrollmentPending
	}
	if profile.State != TwoFactorEnabled {
		return ErrTwoFactorNotEnrolled
	}

	ok, counter, err := e.totp.VerifyCode(profile.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrTwoFactorInvalid
	}
	if counter <= profile.LastUsedCounter {
		return ErrTwoFactorReplay
	}

	if err := e.store.UpdateTOTPCounter(ctx, principalID, counter); err != nil {
		return storeErr(err)
	}
	return nil
}

func (e *Engine) verifyChannelFactor(ctx context.Context, principalID string, method TwoFactorMethod, code string) error {
	channel, err := channelForMethod(method)
	if err != nil {
		return err
	}

	profile, err := e.store.GetTwoFactorProfile(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrTwoFactorNotEnrolled
		}
		return storeErr(err)
	}
	if profile.State == TwoFactorEnrolling {
		return ErrEnrollmentPending
	}
	if profile.State != TwoFactorEnabled {
		return ErrTwoFactorNotEnrolled
	}

	if _, err := e.VerifyOTP(ctx, ByChannel(channel, profile.Contact, PurposeTwoFactor), code); err != nil {
		if errors.Is(err, ErrStoreUnavailable) {
			return err
		}
		return ErrTwoFactorInvalid
	}
	return nil
}

// GenerateTwoFactorChallenge issues the OTP leg for an enabled channel
// factor, so a login can be completed with the delivered code.
func (e *Engine) GenerateTwoFactorChallenge(ctx context.Context, principalID string, method TwoFactorMethod) (*OTPIssue, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	channel, err := channelForMethod(method)
	if err != nil {
		return nil, err
	}

	profile, err := e.store.GetTwoFactorProfile(ctx, principalID, method)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrTwoFactorNotEnrolled
		}
		return nil, storeErr(err)
	}
	if profile.State != TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnrolled
	}

	return e.GenerateOTP(ctx, channel, profile.Contact, PurposeTwoFactor, principalID)
}

// GenerateBackupCodes mints a fresh single-use recovery set, replacing
// any previous set. The plaintext codes are returned exactly once.
func (e *Engine) GenerateBackupCodes(ctx context.Context, principalID string) ([]string, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	required, err := e.TwoFactorRequired(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if !required {
		return nil, ErrTwoFactorNotEnrolled
	}

	count := e.config.TwoFactor.BackupCodeCount
	codes := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(e.config.TwoFactor.BackupCodeLength)
		if err != nil {
			return nil, err
		}
		codes = append(codes, code)
		records = append(records, BackupCodeRecord{
			Hash: internal.HashBackupCode(principalID, internal.CanonicalBackupCode(code)),
		})
	}

	if err := e.store.ReplaceBackupCodes(ctx, principalID, records); err != nil {
		return nil, storeErr(err)
	}

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, principalID, "", "", nil, nil)
	return codes, nil
}

func (e *Engine) consumeBackupCode(ctx context.Context, principalID, code string) error {
	canonical := internal.CanonicalBackupCode(code)
	if canonical == "" {
		return ErrBackupCodeInvalid
	}

	hash := internal.HashBackupCode(principalID, canonical)
	consumed, err := e.store.ConsumeBackupCode(ctx, principalID, hash, time.Now().UTC())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrBackupCodesNotConfigured
		}
		return storeErr(err)
	}
	if !consumed {
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, principalID, "", "", ErrBackupCodeInvalid, nil)
		return ErrBackupCodeInvalid
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, principalID, "", "", nil, nil)
	return nil
}

// TwoFactorRequired reports whether any second-factor method is enabled
// for the principal.
func (e *Engine) TwoFactorRequired(ctx context.Context, principalID string) (bool, error) {
	if e == nil || e.store == nil {
		return false, ErrEngineNotReady
	}

	profiles, err := e.store.ListTwoFactorProfiles(ctx, principalID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, storeErr(err)
	}
	for _, p := range profiles {
		if p.State == TwoFactorEnabled {
			return true, nil
		}
	}
	return false, nil
}

// IssueTokensWithTwoFactor completes a two-factor login in one call: the
// proof and issuance happen together, so no pending state is needed.
func (e *Engine) IssueTokensWithTwoFactor(ctx context.Context, principalID string, method TwoFactorMethod, code string) (*TokenPair, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}

	principal, err := e.resolveActivePrincipal(ctx, principalID)
	if err != nil {
		return nil, err
	}

	if err := e.VerifyTwoFactor(ctx, principalID, method, code); err != nil {
		return nil, err
	}

	return e.issuePair(ctx, principal, deviceFromContext(ctx))
}

// BeginTwoFactorLogin opens a short-lived attempt-limited gate between
// the first factor and the second. Requires Redis.
func (e *Engine) BeginTwoFactorLogin(ctx context.Context, principalID string) (string, []TwoFactorMethod, error) {
	if e == nil || e.store == nil {
		return "", nil, ErrEngineNotReady
	}
	if e.loginGates == nil {
		return "", nil, ErrCacheRequired
	}

	if _, err := e.resolveActivePrincipal(ctx, principalID); err != nil {
		return "", nil, err
	}

	profiles, err := e.store.ListTwoFactorProfiles(ctx, principalID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", nil, storeErr(err)
	}
	var methods []TwoFactorMethod
	for _, p := range profiles {
		if p.State == TwoFactorEnabled {
			methods = append(methods, p.Method)
		}
	}
	if len(methods) == 0 {
		return "", nil, ErrTwoFactorNotEnrolled
	}

	gateID := uuid.NewString()
	gate := &loginGate{
		PrincipalID: principalID,
		ExpiresAt:   time.Now().Add(e.config.TwoFactor.LoginGateTTL).Unix(),
	}
	if err := e.loginGates.Save(ctx, gateID, gate); err != nil {
		return "", nil, err
	}

	e.metricInc(MetricLoginGateIssued)
	e.emitAudit(ctx, auditEventLoginGateIssued, true, principalID, "", "", nil, nil)
	return gateID, methods, nil
}

// CompleteTwoFactorLogin spends a gate against a second-factor proof and
// issues the pair. A gate completes at most once; failures burn attempts
// and an exhausted gate is destroyed.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, gateID string, method TwoFactorMethod, code string) (*TokenPair, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if e.loginGates == nil {
		return nil, ErrCacheRequired
	}

	gate, err := e.loginGates.Get(ctx, gateID)
	if err != nil {
		e.metricInc(MetricLoginGateFailure)
		e.emitAudit(ctx, auditEventLoginGateFailure, false, "", "", "", err, nil)
		return nil, err
	}

	if err := e.VerifyTwoFactor(ctx, gate.PrincipalID, method, code); err != nil {
		exceeded, recErr := e.loginGates.RecordFailure(ctx, gateID)
		if recErr == nil && exceeded {
			e.metricInc(MetricLoginGateFailure)
			e.emitAudit(ctx, auditEventLoginGateExceeded, false, gate.PrincipalID, "", "", ErrLoginGateAttempts, nil)
			return nil, ErrLoginGateAttempts
		}
		e.metricInc(MetricLoginGateFailure)
		return nil, err
	}

	deleted, err := e.loginGates.Delete(ctx, gateID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		// someone else finished this gate first
		e.metricInc(MetricLoginGateFailure)
		e.emitAudit(ctx, auditEventLoginGateFailure, false, gate.PrincipalID, "", "", ErrLoginGateInvalid, nil)
		return nil, ErrLoginGateInvalid
	}

	principal, err := e.resolveActivePrincipal(ctx, gate.PrincipalID)
	if err != nil {
		return nil, err
	}

	pair, err := e.issuePair(ctx, principal, deviceFromContext(ctx))
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginGateSuccess)
	e.emitAudit(ctx, auditEventLoginGateSuccess, true, principal.ID, "", "", nil, nil)
	return pair, nil
}

func channelForMethod(method TwoFactorMethod) (ChannelKind, error) {
	switch method {
	case MethodSMS:
		return ChannelPhone, nil
	case MethodEmail:
		return ChannelEmail, nil
	default:
		return 0, ErrTwoFactorInvalid
	}
}
