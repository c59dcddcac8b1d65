package token

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"
)

func hs256Manager(t *testing.T) *Manager {
	t.Helper()

	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		Issuer:        "caremesh",
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestOpaquePassthrough(t *testing.T) {
	m, err := NewManager(Config{AccessTTL: 15 * time.Minute})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	if !m.Opaque() {
		t.Fatal("expected opaque mode")
	}

	sealed, err := m.Seal("core-value", "rec-1", "p1", "patient", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if sealed != "core-value" {
		t.Fatalf("opaque seal must pass through, got %q", sealed)
	}

	core, claims, err := m.Open("core-value")
	if err != nil || core != "core-value" || claims != nil {
		t.Fatalf("opaque open: core=%q claims=%v err=%v", core, claims, err)
	}
}

func TestHS256RoundTrip(t *testing.T) {
	m := hs256Manager(t)

	sealed, err := m.Seal("core-value", "rec-1", "p1", "doctor", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if strings.Count(sealed, ".") != 2 {
		t.Fatalf("expected a JWT, got %q", sealed)
	}

	core, claims, err := m.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if core != "core-value" {
		t.Fatalf("core = %q", core)
	}
	if claims.ID != "rec-1" || claims.Subject != "p1" || claims.Role != "doctor" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Issuer != "caremesh" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestHS256RejectsTampering(t *testing.T) {
	m := hs256Manager(t)

	sealed, err := m.Seal("core-value", "rec-1", "p1", "doctor", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	tampered := sealed + "x"
	if _, _, err := m.Open(tampered); err == nil {
		t.Fatal("expected signature rejection")
	}
}

func TestHS256RejectsExpired(t *testing.T) {
	m := hs256Manager(t)

	sealed, err := m.Seal("core-value", "rec-1", "p1", "doctor", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, _, err := m.Open(sealed); err == nil {
		t.Fatal("expected expiry rejection")
	}
}

func TestHS256RejectsWrongKey(t *testing.T) {
	m := hs256Manager(t)
	other, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodHS256,
		Issuer:        "caremesh",
		PrivateKey:    []byte("ffffffffffffffffffffffffffffffff"),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	sealed, err := m.Seal("core-value", "rec-1", "p1", "doctor", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if _, _, err := other.Open(sealed); err == nil {
		t.Fatal("expected rejection under a different key")
	}
}

func TestEd25519RoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}

	m, err := NewManager(Config{
		AccessTTL:     15 * time.Minute,
		SigningMethod: MethodEd25519,
		Issuer:        "caremesh",
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	sealed, err := m.Seal("core-value", "rec-1", "p1", "pharmacy", time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	core, claims, err := m.Open(sealed)
	if err != nil || core != "core-value" || claims.Role != "pharmacy" {
		t.Fatalf("open: core=%q claims=%+v err=%v", core, claims, err)
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{}); err == nil {
		t.Fatal("expected rejection of zero TTL")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256}); err == nil {
		t.Fatal("expected rejection of hs256 without key")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: []byte("bad"), PublicKey: []byte("bad")}); err == nil {
		t.Fatal("expected rejection of malformed ed25519 keys")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: "rs512"}); err == nil {
		t.Fatal("expected rejection of unsupported method")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, Leeway: 5 * time.Minute}); err == nil {
		t.Fatal("expected rejection of excessive leeway")
	}
}
