package careauth

import (
	"testing"
	"time"
)

func TestSecurityReportWithoutRedis(t *testing.T) {
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine := newTestEngine(t, testConfig(), newMemStore(), pp)

	report := engine.SecurityReport()
	if report.TokenSigning != SigningNone {
		t.Fatalf("signing = %q, want opaque", report.TokenSigning)
	}
	if report.AccessTTL != 15*time.Minute {
		t.Fatalf("AccessTTL = %v", report.AccessTTL)
	}
	if report.CacheActive || report.LoginGateActive || report.OTPThrottleActive {
		t.Fatalf("redis-backed subsystems must read inactive: %+v", report)
	}
	if report.AuditActive || report.MetricsActive {
		t.Fatalf("audit and metrics are off by default: %+v", report)
	}
}

func TestSecurityReportWithRedis(t *testing.T) {
	cfg := testConfig()
	cfg.OTP.ThrottleEnabled = true
	cfg.OTP.ThrottleMax = 5
	cfg.OTP.ThrottleWindow = time.Minute
	cfg.Metrics.Enabled = true
	pp := newMemPrincipals(activePrincipal("p1", RolePatient))
	engine, _ := newTestEngineWithRedis(t, cfg, newMemStore(), pp)

	report := engine.SecurityReport()
	if !report.CacheActive || !report.LoginGateActive || !report.OTPThrottleActive {
		t.Fatalf("redis-backed subsystems must read active: %+v", report)
	}
	if !report.MetricsActive {
		t.Fatal("metrics must read active")
	}
}
