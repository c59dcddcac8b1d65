package careauth

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

// memStore is an in-memory CredentialStore with the conditional semantics
// the interface documents: one-winner RevokeToken, Version-checked
// UpdateChallenge, exactly-once ConsumeBackupCode.
type memStore struct {
	mu sync.Mutex

	tokens      map[[32]byte]*TokenRecord
	challenges  map[string]*OTPChallenge
	order       []string
	profiles    map[string]*TwoFactorProfile
	backupCodes map[string][]BackupCodeRecord

	// failWith, when set, makes every call fail. Used to exercise the
	// backend-unavailable paths. failChallengesWith scopes the failure
	// to the challenge methods only.
	failWith           error
	failChallengesWith error

	// touchGate, when set, stalls TouchToken until the channel closes.
	touchGate chan struct{}
}

func newMemStore() *memStore {
	return &memStore{
		tokens:      map[[32]byte]*TokenRecord{},
		challenges:  map[string]*OTPChallenge{},
		profiles:    map[string]*TwoFactorProfile{},
		backupCodes: map[string][]BackupCodeRecord{},
	}
}

func (s *memStore) fail(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *memStore) failChallenges(err error) {
	s.mu.Lock()
	s.failChallengesWith = err
	s.mu.Unlock()
}

func (s *memStore) challengeErr() error {
	if s.failWith != nil {
		return s.failWith
	}
	return s.failChallengesWith
}

func profileKey(principalID string, method TwoFactorMethod) string {
	return principalID + "/" + method.String()
}

func copyToken(rec *TokenRecord) *TokenRecord {
	c := *rec
	return &c
}

func copyChallenge(ch *OTPChallenge) *OTPChallenge {
	c := *ch
	return &c
}

func copyProfile(p *TwoFactorProfile) *TwoFactorProfile {
	c := *p
	c.Secret = append([]byte(nil), p.Secret...)
	return &c
}

func (s *memStore) SaveToken(_ context.Context, rec *TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.tokens[rec.Digest] = copyToken(rec)
	return nil
}

func (s *memStore) GetToken(_ context.Context, digest [32]byte) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	rec, ok := s.tokens[digest]
	if !ok {
		return nil, ErrNotFound
	}
	return copyToken(rec), nil
}

func (s *memStore) RevokeToken(_ context.Context, digest [32]byte, reason string, at time.Time) (*TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	rec, ok := s.tokens[digest]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Revoked {
		return nil, ErrTokenRevoked
	}
	rec.Revoked = true
	rec.RevokedAt = at
	rec.RevokeReason = reason
	return copyToken(rec), nil
}

func (s *memStore) RevokeAllTokens(_ context.Context, principalID, reason string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	n := 0
	for _, rec := range s.tokens {
		if rec.PrincipalID != principalID || rec.Revoked {
			continue
		}
		rec.Revoked = true
		rec.RevokedAt = at
		rec.RevokeReason = reason
		n++
	}
	return n, nil
}

func (s *memStore) TouchToken(_ context.Context, digest [32]byte, at time.Time) error {
	s.mu.Lock()
	gate := s.touchGate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	if rec, ok := s.tokens[digest]; ok {
		rec.LastUsedAt = at
	}
	return nil
}

func (s *memStore) DeleteExpiredTokens(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return 0, s.failWith
	}
	n := 0
	for digest, rec := range s.tokens {
		if rec.ExpiresAt.Before(before) {
			delete(s.tokens, digest)
			n++
		}
	}
	return n, nil
}

func (s *memStore) SaveChallenge(_ context.Context, ch *OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.challengeErr(); err != nil {
		return err
	}
	s.challenges[ch.ID] = copyChallenge(ch)
	s.order = append(s.order, ch.ID)
	return nil
}

func (s *memStore) GetChallenge(_ context.Context, id string) (*OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.challengeErr(); err != nil {
		return nil, err
	}
	ch, ok := s.challenges[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyChallenge(ch), nil
}

func (s *memStore) FindOpenChallenge(_ context.Context, kind ChannelKind, address string, purpose OTPPurpose) (*OTPChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.challengeErr(); err != nil {
		return nil, err
	}
	now := time.Now()
	for i := len(s.order) - 1; i >= 0; i-- {
		ch, ok := s.challenges[s.order[i]]
		if !ok {
			continue
		}
		if ch.Channel != kind || ch.Address != address || ch.Purpose != purpose {
			continue
		}
		if ch.Verified || now.After(ch.ExpiresAt) {
			continue
		}
		return copyChallenge(ch), nil
	}
	return nil, ErrNotFound
}

func (s *memStore) UpdateChallenge(_ context.Context, ch *OTPChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.challengeErr(); err != nil {
		return err
	}
	stored, ok := s.challenges[ch.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != ch.Version {
		return ErrVersionConflict
	}
	updated := copyChallenge(ch)
	updated.Version++
	s.challenges[ch.ID] = updated
	return nil
}

func (s *memStore) GetTwoFactorProfile(_ context.Context, principalID string, method TwoFactorMethod) (*TwoFactorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	p, ok := s.profiles[profileKey(principalID, method)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyProfile(p), nil
}

func (s *memStore) SaveTwoFactorProfile(_ context.Context, p *TwoFactorProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.profiles[profileKey(p.PrincipalID, p.Method)] = copyProfile(p)
	return nil
}

func (s *memStore) ListTwoFactorProfiles(_ context.Context, principalID string) ([]TwoFactorProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []TwoFactorProfile
	for _, p := range s.profiles {
		if p.PrincipalID == principalID {
			out = append(out, *copyProfile(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out, nil
}

func (s *memStore) UpdateTOTPCounter(_ context.Context, principalID string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	p, ok := s.profiles[profileKey(principalID, MethodTOTP)]
	if !ok {
		return ErrNotFound
	}
	p.LastUsedCounter = counter
	return nil
}

func (s *memStore) ReplaceBackupCodes(_ context.Context, principalID string, codes []BackupCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.backupCodes[principalID] = append([]BackupCodeRecord(nil), codes...)
	return nil
}

func (s *memStore) ConsumeBackupCode(_ context.Context, principalID string, hash [32]byte, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return false, s.failWith
	}
	codes, ok := s.backupCodes[principalID]
	if !ok {
		return false, ErrNotFound
	}
	for i := range codes {
		if codes[i].Used || codes[i].Hash != hash {
			continue
		}
		codes[i].Used = true
		codes[i].UsedAt = at
		return true, nil
	}
	return false, nil
}

func (s *memStore) tokenCount(principalID string, revoked bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.tokens {
		if rec.PrincipalID == principalID && rec.Revoked == revoked {
			n++
		}
	}
	return n
}

type memPrincipals struct {
	mu         sync.Mutex
	principals map[string]*Principal
}

func newMemPrincipals(principals ...Principal) *memPrincipals {
	m := &memPrincipals{principals: map[string]*Principal{}}
	for i := range principals {
		p := principals[i]
		m.principals[p.ID] = &p
	}
	return m
}

func (m *memPrincipals) GetPrincipal(_ context.Context, id string) (*Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.principals[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memPrincipals) setStatus(id string, status PrincipalStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.principals[id]; ok {
		p.Status = status
	}
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.OTP.ThrottleEnabled = false
	return cfg
}

func testPermissions() []string {
	return []string{
		"prescriptions:read",
		"prescriptions:write",
		"appointments:read",
		"appointments:write",
		"orders:create",
	}
}

func testRoles() map[Role][]string {
	return map[Role][]string{
		RolePatient: {"appointments:read", "orders:create"},
		RoleDoctor:  {"prescriptions:read", "prescriptions:write", "appointments:read", "appointments:write"},
		RoleAdmin:   {"*"},
	}
}

func newTestEngine(t *testing.T, cfg Config, store *memStore, pp PrincipalProvider) *Engine {
	t.Helper()

	engine, err := New().
		WithConfig(cfg).
		WithCredentialStore(store).
		WithPrincipalProvider(pp).
		WithPermissions(testPermissions()).
		WithRoles(testRoles()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func newTestEngineWithRedis(t *testing.T, cfg Config, store *memStore, pp PrincipalProvider) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	t.Cleanup(mr.Close)

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(store).
		WithPrincipalProvider(pp).
		WithPermissions(testPermissions()).
		WithRoles(testRoles()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, mr
}

func activePrincipal(id string, role Role) Principal {
	return Principal{ID: id, Role: role, Status: StatusActive}
}
