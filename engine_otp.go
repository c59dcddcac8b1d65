package careauth

import (
	"context"
	"crypto/subtle"
	"errors"
	"strconv"
	"time"

	"github.com/caremesh/careauth/internal"
	"github.com/google/uuid"
)

// GenerateOTP creates a challenge for a contact address and returns the
// plaintext code exactly once for the caller's delivery pipeline. The
// engine never delivers anything itself.
//
// principalID may be empty for pre-account flows such as registration.
// When a principalID is given but unknown, a decoy issue is returned so
// the response does not reveal which identifiers exist.
func (e *Engine) GenerateOTP(ctx context.Context, channel ChannelKind, address string, purpose OTPPurpose, principalID string) (*OTPIssue, error) {
	if e == nil || e.store == nil {
		return nil, ErrEngineNotReady
	}
	if address == "" {
		return nil, ErrAddressRequired
	}

	if e.otpLimiter != nil {
		if err := e.otpLimiter.Allow(ctx, channel, address); err != nil {
			if errors.Is(err, ErrOTPThrottled) {
				e.metricInc(MetricOTPThrottled)
				e.emitAudit(ctx, auditEventOTPThrottled, false, principalID, "", "", ErrOTPThrottled, func() map[string]string {
					return map[string]string{
						"channel": channel.String(),
						"purpose": purpose.String(),
					}
				})
				return nil, ErrOTPThrottled
			}
			// throttle backend down: generation proceeds unthrottled
		}
	}

	if principalID != "" {
		if _, err := e.principals.GetPrincipal(ctx, principalID); err != nil {
			if errors.Is(err, ErrNotFound) {
				return e.decoyIssue(ctx, channel, purpose)
			}
			return nil, storeErr(err)
		}
	}

	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}
	salt, err := internal.NewSalt()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ch := &OTPChallenge{
		ID:          uuid.NewString(),
		PrincipalID: principalID,
		Channel:     channel,
		Address:     address,
		Purpose:     purpose,
		CodeHash:    internal.HashOTPCode(salt, code),
		Salt:        salt,
		CreatedAt:   now,
		ExpiresAt:   now.Add(e.config.OTP.TTL),
		MaxAttempts: e.config.OTP.MaxAttemptsFor(purpose),
		Version:     1,
	}

	if err := e.store.SaveChallenge(ctx, ch); err != nil {
		return nil, storeErr(err)
	}
	if e.cache != nil {
		e.cache.Mirror(ctx, ch)
	}

	e.metricInc(MetricOTPGenerated)
	e.emitAudit(ctx, auditEventOTPGenerated, true, principalID, "", ch.ID, nil, func() map[string]string {
		return map[string]string{
			"channel": channel.String(),
			"purpose": purpose.String(),
		}
	})

	return &OTPIssue{
		ChallengeID: ch.ID,
		Code:        code,
		ExpiresAt:   ch.ExpiresAt,
	}, nil
}

// decoyIssue mimics a real generation without persisting anything. The
// returned challenge id verifies as not-found, same as any expired id.
func (e *Engine) decoyIssue(ctx context.Context, channel ChannelKind, purpose OTPPurpose) (*OTPIssue, error) {
	code, err := internal.NewOTP(e.config.OTP.Digits)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	e.emitAudit(ctx, auditEventOTPGenerated, false, "", "", id, ErrPrincipalNotFound, func() map[string]string {
		return map[string]string{
			"channel": channel.String(),
			"purpose": purpose.String(),
			"decoy":   "true",
		}
	})

	return &OTPIssue{
		ChallengeID: id,
		Code:        code,
		ExpiresAt:   time.Now().UTC().Add(e.config.OTP.TTL),
	}, nil
}

// VerifyOTP submits a code against a challenge. Every submission lands in
// exactly one outcome; attempt accounting survives concurrent submission
// because all transitions go through the store's compare-and-swap.
func (e *Engine) VerifyOTP(ctx context.Context, ref ChallengeRef, code string) (OTPResult, error) {
	if e == nil || e.store == nil {
		return OTPResult{}, ErrEngineNotReady
	}

	now := time.Now().UTC()

	// cache fast path rejects only terminal states
	if e.cache != nil {
		var (
			res      OTPResult
			ok       bool
			cacheErr error
		)
		if ref.ID != "" {
			res, ok, cacheErr = e.cache.FastReject(ctx, ref.ID, now)
		} else {
			res, ok, cacheErr = e.cache.FastRejectRef(ctx, ref, now)
		}
		if cacheErr != nil {
			e.metricInc(MetricCacheFallback)
			e.emitAudit(ctx, auditEventOTPCacheMiss, false, "", "", ref.ID, nil, nil)
		}
		if ok {
			e.recordVerifyOutcome(ctx, "", res)
			e.metricInc(MetricCacheFastReject)
			return res, otpOutcomeError(res.Outcome)
		}
	}

	ch, err := e.lookupChallenge(ctx, ref)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			if e.cache != nil && ref.ID != "" {
				// the store is authoritative; a mirror entry for a
				// challenge it no longer holds is stale
				e.cache.Forget(ctx, ref.ID)
			}
			res := OTPResult{Outcome: OTPNotFound, ChallengeID: ref.ID}
			e.recordVerifyOutcome(ctx, "", res)
			return res, ErrChallengeNotFound
		}
		return OTPResult{}, storeErr(err)
	}

	const maxRetries = 4
	for i := 0; i < maxRetries; i++ {
		if res, terminal := e.evaluateChallenge(ch, now); terminal {
			if e.cache != nil {
				e.cache.Mirror(ctx, ch)
			}
			e.recordVerifyOutcome(ctx, ch.PrincipalID, res)
			return res, otpOutcomeError(res.Outcome)
		}

		submitted := internal.HashOTPCode(ch.Salt, code)
		match := subtle.ConstantTimeCompare(submitted[:], ch.CodeHash[:]) == 1

		updated := *ch
		if match {
			updated.Verified = true
			updated.VerifiedAt = now
		} else {
			updated.Attempts++
			if updated.Attempts >= updated.MaxAttempts {
				updated.Blocked = true
				updated.BlockUntil = now.Add(e.config.OTP.LockoutDuration)
			}
		}

		err := e.store.UpdateChallenge(ctx, &updated)
		if errors.Is(err, ErrVersionConflict) {
			// another submission won the round; reload and re-evaluate
			ch, err = e.store.GetChallenge(ctx, updated.ID)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					if e.cache != nil {
						e.cache.Forget(ctx, updated.ID)
					}
					res := OTPResult{Outcome: OTPNotFound, ChallengeID: updated.ID}
					e.recordVerifyOutcome(ctx, "", res)
					return res, ErrChallengeNotFound
				}
				return OTPResult{}, storeErr(err)
			}
			continue
		}
		if err != nil {
			e.emitAudit(ctx, auditEventOTPStoreFailure, false, ch.PrincipalID, "", updated.ID, err, nil)
			return OTPResult{}, storeErr(err)
		}

		if e.cache != nil {
			e.cache.Mirror(ctx, &updated)
		}

		var res OTPResult
		switch {
		case match:
			res = OTPResult{Outcome: OTPSuccess, ChallengeID: updated.ID}
			if e.otpLimiter != nil {
				_ = e.otpLimiter.Reset(ctx, updated.Channel, updated.Address)
			}
		case updated.Blocked:
			res = OTPResult{
				Outcome:     OTPBlocked,
				ChallengeID: updated.ID,
				BlockUntil:  updated.BlockUntil,
			}
		default:
			res = OTPResult{
				Outcome:     OTPInvalid,
				ChallengeID: updated.ID,
				Remaining:   updated.MaxAttempts - updated.Attempts,
			}
		}
		e.recordVerifyOutcome(ctx, updated.PrincipalID, res)
		return res, otpOutcomeError(res.Outcome)
	}

	return OTPResult{}, storeErr(ErrVersionConflict)
}

// InvalidateChallenge force-blocks a challenge, ending its life early.
func (e *Engine) InvalidateChallenge(ctx context.Context, id string) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}

	const maxRetries = 4
	now := time.Now().UTC()

	for i := 0; i < maxRetries; i++ {
		ch, err := e.store.GetChallenge(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrChallengeNotFound
			}
			return storeErr(err)
		}
		if ch.Blocked || ch.Verified {
			return nil
		}

		ch.Blocked = true
		ch.BlockUntil = now.Add(e.config.OTP.LockoutDuration)

		err = e.store.UpdateChallenge(ctx, ch)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return storeErr(err)
		}

		if e.cache != nil {
			e.cache.Mirror(ctx, ch)
		}
		e.emitAudit(ctx, auditEventOTPInvalidated, true, ch.PrincipalID, "", ch.ID, nil, nil)
		return nil
	}

	return storeErr(ErrVersionConflict)
}

func (e *Engine) lookupChallenge(ctx context.Context, ref ChallengeRef) (*OTPChallenge, error) {
	if ref.ID != "" {
		return e.store.GetChallenge(ctx, ref.ID)
	}
	return e.store.FindOpenChallenge(ctx, ref.Channel, ref.Address, ref.Purpose)
}

// evaluateChallenge classifies terminal states. terminal=false means the
// challenge is live and the submitted code decides the outcome.
func (e *Engine) evaluateChallenge(ch *OTPChallenge, now time.Time) (OTPResult, bool) {
	switch {
	case ch.Verified:
		return OTPResult{Outcome: OTPAlreadyVerified, ChallengeID: ch.ID}, true
	case ch.Blocked:
		return OTPResult{
			Outcome:     OTPBlocked,
			ChallengeID: ch.ID,
			BlockUntil:  ch.BlockUntil,
		}, true
	case now.After(ch.ExpiresAt):
		return OTPResult{Outcome: OTPExpired, ChallengeID: ch.ID}, true
	default:
		return OTPResult{}, false
	}
}

func (e *Engine) recordVerifyOutcome(ctx context.Context, principalID string, res OTPResult) {
	switch res.Outcome {
	case OTPSuccess:
		e.metricInc(MetricOTPSuccess)
		e.emitAudit(ctx, auditEventOTPSuccess, true, principalID, "", res.ChallengeID, nil, nil)
	case OTPInvalid:
		e.metricInc(MetricOTPInvalid)
		e.emitAudit(ctx, auditEventOTPFailure, false, principalID, "", res.ChallengeID, ErrOTPInvalid, func() map[string]string {
			return map[string]string{
				"remaining": strconv.Itoa(res.Remaining),
			}
		})
	case OTPBlocked:
		e.metricInc(MetricOTPBlocked)
		e.emitAudit(ctx, auditEventOTPBlocked, false, principalID, "", res.ChallengeID, ErrChallengeBlocked, nil)
	case OTPExpired:
		e.metricInc(MetricOTPExpired)
		e.emitAudit(ctx, auditEventOTPExpired, false, principalID, "", res.ChallengeID, ErrChallengeExpired, nil)
	case OTPAlreadyVerified:
		e.metricInc(MetricOTPReplay)
		e.emitAudit(ctx, auditEventOTPReplay, false, principalID, "", res.ChallengeID, ErrAlreadyVerified, nil)
	case OTPNotFound:
		e.emitAudit(ctx, auditEventOTPFailure, false, principalID, "", res.ChallengeID, ErrChallengeNotFound, nil)
	}
}

func otpOutcomeError(outcome OTPOutcome) error {
	switch outcome {
	case OTPSuccess:
		return nil
	case OTPInvalid:
		return ErrOTPInvalid
	case OTPBlocked:
		return ErrChallengeBlocked
	case OTPExpired:
		return ErrChallengeExpired
	case OTPAlreadyVerified:
		return ErrAlreadyVerified
	case OTPNotFound:
		return ErrChallengeNotFound
	default:
		return ErrChallengeNotFound
	}
}
