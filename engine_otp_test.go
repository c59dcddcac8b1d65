package careauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '0' {
		b[0] = '1'
	} else {
		b[0] = '0'
	}
	return string(b)
}

func TestGenerateOTPCreatesChallenge(t *testing.T) {
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine := newTestEngine(t, testConfig(), store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelEmail, "alice@example.com", PurposeRegistration, "")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	if len(issue.Code) != 6 {
		t.Fatalf("expected 6-digit code, got %q", issue.Code)
	}
	if issue.ChallengeID == "" {
		t.Fatal("expected challenge id")
	}

	ch, err := store.GetChallenge(context.Background(), issue.ChallengeID)
	if err != nil {
		t.Fatalf("challenge not persisted: %v", err)
	}
	if ch.MaxAttempts != 5 {
		t.Fatalf("expected default attempt budget 5, got %d", ch.MaxAttempts)
	}
}

func TestGenerateOTPRejectsEmptyAddress(t *testing.T) {
	engine := newTestEngine(t, testConfig(), newMemStore(), newMemPrincipals())

	if _, err := engine.GenerateOTP(context.Background(), ChannelPhone, "", PurposeLogin, ""); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}

func TestGenerateOTPDecoyForUnknownPrincipal(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), store, newMemPrincipals())

	issue, err := engine.GenerateOTP(context.Background(), ChannelPhone, "+15551234567", PurposeLogin, "ghost")
	if err != nil {
		t.Fatalf("decoy generation must not error: %v", err)
	}
	if issue.ChallengeID == "" || len(issue.Code) != 6 {
		t.Fatalf("decoy issue must look real, got %+v", issue)
	}

	// nothing was persisted, so the decoy id verifies as not-found
	if _, err := store.GetChallenge(context.Background(), issue.ChallengeID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected no persisted challenge, got %v", err)
	}
	if _, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
}

func TestVerifyOTPLoginAttemptBudget(t *testing.T) {
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine := newTestEngine(t, testConfig(), store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelPhone, "+15551234567", PurposeLogin, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	bad := wrongCode(issue.Code)

	res, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), bad)
	if !errors.Is(err, ErrOTPInvalid) || res.Outcome != OTPInvalid || res.Remaining != 2 {
		t.Fatalf("first miss: res=%+v err=%v", res, err)
	}

	res, err = engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), bad)
	if !errors.Is(err, ErrOTPInvalid) || res.Remaining != 1 {
		t.Fatalf("second miss: res=%+v err=%v", res, err)
	}

	res, err = engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code)
	if err != nil || res.Outcome != OTPSuccess {
		t.Fatalf("expected success, res=%+v err=%v", res, err)
	}

	// terminal challenge; replays are flagged, never re-verified
	res, err = engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code)
	if !errors.Is(err, ErrAlreadyVerified) || res.Outcome != OTPAlreadyVerified {
		t.Fatalf("expected replay rejection, res=%+v err=%v", res, err)
	}
}

func TestVerifyOTPBlocksAfterExhaustion(t *testing.T) {
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine := newTestEngine(t, testConfig(), store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelPhone, "+15551234567", PurposeLogin, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	bad := wrongCode(issue.Code)

	for i := 0; i < 2; i++ {
		if _, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), bad); !errors.Is(err, ErrOTPInvalid) {
			t.Fatalf("attempt %d: expected ErrOTPInvalid, got %v", i+1, err)
		}
	}

	res, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), bad)
	if !errors.Is(err, ErrChallengeBlocked) || res.Outcome != OTPBlocked {
		t.Fatalf("expected block on exhausting attempt, res=%+v err=%v", res, err)
	}
	if res.BlockUntil.IsZero() {
		t.Fatal("expected BlockUntil to be set")
	}

	// the correct code is worthless against a blocked challenge
	res, err = engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code)
	if !errors.Is(err, ErrChallengeBlocked) || res.Outcome != OTPBlocked {
		t.Fatalf("expected blocked, res=%+v err=%v", res, err)
	}
}

func TestVerifyOTPExpiredChallenge(t *testing.T) {
	cfg := testConfig()
	cfg.OTP.TTL = 10 * time.Millisecond
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine := newTestEngine(t, cfg, store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelEmail, "alice@example.com", PurposeGeneric, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}

	time.Sleep(25 * time.Millisecond)

	res, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code)
	if !errors.Is(err, ErrChallengeExpired) || res.Outcome != OTPExpired {
		t.Fatalf("expected expiry, res=%+v err=%v", res, err)
	}
}

func TestVerifyOTPByChannelRef(t *testing.T) {
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine := newTestEngine(t, testConfig(), store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelPhone, "+15551234567", PurposePasswordReset, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}

	ref := ByChannel(ChannelPhone, "+15551234567", PurposePasswordReset)
	res, err := engine.VerifyOTP(context.Background(), ref, issue.Code)
	if err != nil || res.Outcome != OTPSuccess {
		t.Fatalf("expected success via channel ref, res=%+v err=%v", res, err)
	}
}

func TestVerifyOTPUnknownChallenge(t *testing.T) {
	engine := newTestEngine(t, testConfig(), newMemStore(), newMemPrincipals())

	res, err := engine.VerifyOTP(context.Background(), ByID("no-such-id"), "123456")
	if !errors.Is(err, ErrChallengeNotFound) || res.Outcome != OTPNotFound {
		t.Fatalf("expected not-found, res=%+v err=%v", res, err)
	}
}

func TestInvalidateChallenge(t *testing.T) {
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine := newTestEngine(t, testConfig(), store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelEmail, "alice@example.com", PurposeGeneric, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}

	if err := engine.InvalidateChallenge(context.Background(), issue.ChallengeID); err != nil {
		t.Fatalf("InvalidateChallenge failed: %v", err)
	}
	// idempotent on an already-terminal challenge
	if err := engine.InvalidateChallenge(context.Background(), issue.ChallengeID); err != nil {
		t.Fatalf("second InvalidateChallenge failed: %v", err)
	}

	if _, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code); !errors.Is(err, ErrChallengeBlocked) {
		t.Fatalf("expected blocked after invalidation, got %v", err)
	}
}

func TestVerifyOTPConcurrentSubmissionsRespectBudget(t *testing.T) {
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine := newTestEngine(t, testConfig(), store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelEmail, "alice@example.com", PurposeGeneric, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}
	bad := wrongCode(issue.Code)

	const n = 12
	var wg sync.WaitGroup
	wg.Add(n)
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), bad)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		if err == nil {
			t.Fatal("wrong code must never succeed")
		}
		if !errors.Is(err, ErrOTPInvalid) && !errors.Is(err, ErrChallengeBlocked) {
			t.Fatalf("unexpected verify error: %v", err)
		}
	}

	ch, err := store.GetChallenge(context.Background(), issue.ChallengeID)
	if err != nil {
		t.Fatalf("load challenge: %v", err)
	}
	if ch.Attempts != ch.MaxAttempts {
		t.Fatalf("attempt accounting drifted: %d counted, budget %d", ch.Attempts, ch.MaxAttempts)
	}
	if !ch.Blocked {
		t.Fatal("expected challenge blocked after concurrent exhaustion")
	}
}

func TestGenerateOTPThrottled(t *testing.T) {
	cfg := testConfig()
	cfg.OTP.ThrottleEnabled = true
	cfg.OTP.ThrottleMax = 2
	cfg.OTP.ThrottleWindow = time.Minute
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine, _ := newTestEngineWithRedis(t, cfg, store, pp)

	for i := 0; i < 2; i++ {
		if _, err := engine.GenerateOTP(context.Background(), ChannelPhone, "+15551234567", PurposeLogin, "p1"); err != nil {
			t.Fatalf("generation %d failed: %v", i+1, err)
		}
	}

	if _, err := engine.GenerateOTP(context.Background(), ChannelPhone, "+15551234567", PurposeLogin, "p1"); !errors.Is(err, ErrOTPThrottled) {
		t.Fatalf("expected ErrOTPThrottled, got %v", err)
	}

	// a different address has its own window
	if _, err := engine.GenerateOTP(context.Background(), ChannelPhone, "+15559990000", PurposeLogin, "p1"); err != nil {
		t.Fatalf("other address should not be throttled: %v", err)
	}
}

func TestVerifyOTPCacheFastRejectsReplay(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine, _ := newTestEngineWithRedis(t, cfg, store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelEmail, "alice@example.com", PurposeGeneric, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}

	if _, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code); err != nil {
		t.Fatalf("verify failed: %v", err)
	}

	res, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code)
	if !errors.Is(err, ErrAlreadyVerified) || res.Outcome != OTPAlreadyVerified {
		t.Fatalf("expected replay rejection, res=%+v err=%v", res, err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricCacheFastReject] == 0 {
		t.Fatal("expected replay to be answered from the cache mirror")
	}
}

func TestVerifyOTPCacheFastRejectsByChannel(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine, _ := newTestEngineWithRedis(t, cfg, store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelPhone, "+15551234567", PurposeLogin, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}

	ref := ByChannel(ChannelPhone, "+15551234567", PurposeLogin)
	for i := 0; i < 3; i++ {
		if _, err := engine.VerifyOTP(context.Background(), ref, wrongCode(issue.Code)); err == nil {
			t.Fatal("wrong code must not verify")
		}
	}

	// the lockout answers from the mirror without an id in hand
	res, err := engine.VerifyOTP(context.Background(), ref, issue.Code)
	if !errors.Is(err, ErrChallengeBlocked) || res.Outcome != OTPBlocked {
		t.Fatalf("expected blocked rejection, res=%+v err=%v", res, err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricCacheFastReject] == 0 {
		t.Fatal("expected channel-ref lockout to be answered from the cache mirror")
	}
}

func TestVerifyOTPForgetsStaleMirror(t *testing.T) {
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine, mr := newTestEngineWithRedis(t, testConfig(), store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelEmail, "alice@example.com", PurposeGeneric, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}

	key := "cv:ch:" + issue.ChallengeID
	if !mr.Exists(key) {
		t.Fatal("expected mirror entry after generation")
	}

	// the store drops the challenge out from under the mirror
	store.mu.Lock()
	delete(store.challenges, issue.ChallengeID)
	store.mu.Unlock()

	if _, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code); !errors.Is(err, ErrChallengeNotFound) {
		t.Fatalf("expected ErrChallengeNotFound, got %v", err)
	}
	if mr.Exists(key) {
		t.Fatal("stale mirror entry must be dropped with its challenge")
	}
}

func TestVerifyOTPFallsBackWhenCacheDown(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	store := newMemStore()
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine, mr := newTestEngineWithRedis(t, cfg, store, pp)

	issue, err := engine.GenerateOTP(context.Background(), ChannelEmail, "alice@example.com", PurposeGeneric, "p1")
	if err != nil {
		t.Fatalf("GenerateOTP failed: %v", err)
	}

	mr.Close()

	// verification still works straight off the store
	res, err := engine.VerifyOTP(context.Background(), ByID(issue.ChallengeID), issue.Code)
	if err != nil || res.Outcome != OTPSuccess {
		t.Fatalf("expected success without cache, res=%+v err=%v", res, err)
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricCacheFallback] == 0 {
		t.Fatal("expected cache fallback to be counted")
	}
}
