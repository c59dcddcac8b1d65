package careauth

import (
	"context"
	"time"

	"github.com/caremesh/careauth/permission"
)

// Role re-exports the closed marketplace role set from the permission
// package so integrators rarely need that import directly.
type Role = permission.Role

// Role constants, re-exported beside the alias.
const (
	RolePatient  = permission.RolePatient
	RoleDoctor   = permission.RoleDoctor
	RolePharmacy = permission.RolePharmacy
	RoleHospital = permission.RoleHospital
	RolePharma   = permission.RolePharma
	RoleAdmin    = permission.RoleAdmin
)

// PrincipalStatus is the lifecycle state of a principal. Principals are
// never deleted, only status-transitioned.
type PrincipalStatus uint8

const (
	// StatusPending marks a principal between registration and activation.
	StatusPending PrincipalStatus = iota
	// StatusActive is the only status that may authenticate.
	StatusActive
	// StatusSuspended marks a principal blocked by a compliance action.
	StatusSuspended
	// StatusInactive marks a principal that left the platform.
	StatusInactive
)

// Principal is a stable authenticated identity in one marketplace role.
type Principal struct {
	ID     string
	Role   Role
	Status PrincipalStatus
}

// TokenKind distinguishes the two halves of an issued pair.
type TokenKind uint8

const (
	// KindAccess is a short-lived bearer credential.
	KindAccess TokenKind = iota
	// KindRefresh is a long-lived rotating credential.
	KindRefresh
)

// DeviceInfo is origin metadata captured at issuance for audit. It never
// participates in token validation.
type DeviceInfo struct {
	IP        string
	UserAgent string
	DeviceID  string
}

// IsZero reports whether no device metadata was captured.
func (d DeviceInfo) IsZero() bool {
	return d == DeviceInfo{}
}

// TokenRecord is the durable representation of one issued credential.
// The token value itself is never stored; Digest is its SHA-256.
// A record is valid iff !Revoked and now < ExpiresAt.
type TokenRecord struct {
	ID           string
	PrincipalID  string
	Digest       [32]byte
	Kind         TokenKind
	PairID       string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    time.Time
	RevokeReason string
	LastUsedAt   time.Time
	Device       DeviceInfo
}

// TokenPair is returned by issuance and refresh. Values are opaque bearer
// secrets; callers must treat them as write-once output and never log them.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// ChannelKind identifies the contact channel an OTP is bound to.
type ChannelKind uint8

const (
	// ChannelPhone delivers over SMS.
	ChannelPhone ChannelKind = iota
	// ChannelEmail delivers over email.
	ChannelEmail
)

func (k ChannelKind) String() string {
	switch k {
	case ChannelPhone:
		return "phone"
	case ChannelEmail:
		return "email"
	default:
		return "unknown"
	}
}

// OTPPurpose scopes a challenge to the flow that requested it. Attempt
// budgets are configured per purpose.
type OTPPurpose uint8

const (
	// PurposeLogin gates password logins.
	PurposeLogin OTPPurpose = iota
	// PurposeRegistration proves contact ownership at sign-up.
	PurposeRegistration
	// PurposePasswordReset gates credential recovery.
	PurposePasswordReset
	// PurposeTwoFactor backs the SMS/email second factors.
	PurposeTwoFactor
	// PurposeGeneric covers ad-hoc verification flows.
	PurposeGeneric
)

func (p OTPPurpose) String() string {
	switch p {
	case PurposeLogin:
		return "login"
	case PurposeRegistration:
		return "registration"
	case PurposePasswordReset:
		return "password_reset"
	case PurposeTwoFactor:
		return "two_factor"
	case PurposeGeneric:
		return "generic"
	default:
		return "unknown"
	}
}

// OTPChallenge is one verification attempt window. The plaintext code is
// never at rest; CodeHash is a salted SHA-256. Version is the optimistic
// concurrency token for [CredentialStore.UpdateChallenge].
type OTPChallenge struct {
	ID          string
	PrincipalID string
	Channel     ChannelKind
	Address     string
	Purpose     OTPPurpose
	CodeHash    [32]byte
	Salt        [16]byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	MaxAttempts int
	Blocked     bool
	BlockUntil  time.Time
	Verified    bool
	VerifiedAt  time.Time
	Version     uint64
}

// OTPIssue is the result of generating a challenge. Code is handed to the
// caller's delivery pipeline exactly once.
type OTPIssue struct {
	ChallengeID string
	Code        string
	ExpiresAt   time.Time
}

// OTPOutcome classifies a verification attempt.
type OTPOutcome uint8

const (
	// OTPSuccess means the code matched and the challenge is now terminal.
	OTPSuccess OTPOutcome = iota
	// OTPInvalid means the code mismatched; Remaining attempts are left.
	OTPInvalid
	// OTPBlocked means the attempt budget is exhausted until BlockUntil.
	OTPBlocked
	// OTPExpired means the challenge outlived its window.
	OTPExpired
	// OTPAlreadyVerified means a replay against a terminal challenge.
	OTPAlreadyVerified
	// OTPNotFound means no challenge matched the reference.
	OTPNotFound
)

// OTPResult reports the outcome of [Engine.VerifyOTP].
type OTPResult struct {
	Outcome     OTPOutcome
	ChallengeID string
	Remaining   int
	BlockUntil  time.Time
}

// ChallengeRef locates a challenge either by id or by the most recent open
// challenge for a channel+purpose. Exactly one addressing mode is used.
type ChallengeRef struct {
	ID      string
	Channel ChannelKind
	Address string
	Purpose OTPPurpose
}

// ByID references a challenge directly.
func ByID(id string) ChallengeRef {
	return ChallengeRef{ID: id}
}

// ByChannel references the most recent open challenge for a contact.
func ByChannel(kind ChannelKind, address string, purpose OTPPurpose) ChallengeRef {
	return ChallengeRef{Channel: kind, Address: address, Purpose: purpose}
}

// TwoFactorMethod identifies one second-factor mechanism.
type TwoFactorMethod uint8

const (
	// MethodTOTP is an authenticator-app time-window code.
	MethodTOTP TwoFactorMethod = iota
	// MethodSMS is an OTP challenge to a registered phone.
	MethodSMS
	// MethodEmail is an OTP challenge to a registered email.
	MethodEmail
	// MethodBackup is a single-use recovery code.
	MethodBackup
)

func (m TwoFactorMethod) String() string {
	switch m {
	case MethodTOTP:
		return "totp"
	case MethodSMS:
		return "sms"
	case MethodEmail:
		return "email"
	case MethodBackup:
		return "backup"
	default:
		return "unknown"
	}
}

// TwoFactorState is the per-method enrollment state machine.
type TwoFactorState uint8

const (
	// TwoFactorDisabled is the initial and post-disable state.
	TwoFactorDisabled TwoFactorState = iota
	// TwoFactorEnrolling means secret material exists but control of the
	// factor has not been proven yet.
	TwoFactorEnrolling
	// TwoFactorEnabled means the factor participates in login completion.
	TwoFactorEnabled
)

// TwoFactorProfile is the durable per-principal per-method record.
// Secret holds the TOTP shared secret for [MethodTOTP]; Contact holds the
// bound phone or email for the channel methods.
type TwoFactorProfile struct {
	PrincipalID     string
	Method          TwoFactorMethod
	State           TwoFactorState
	Secret          []byte
	Contact         string
	LastUsedCounter int64
	EnabledAt       time.Time
}

// TOTPProvision carries the shared secret handed to the user exactly once
// during authenticator enrollment.
type TOTPProvision struct {
	SecretBase32 string
	URI          string
}

// BackupCodeRecord stores the salted hash of one single-use backup code.
type BackupCodeRecord struct {
	Hash   [32]byte
	Used   bool
	UsedAt time.Time
}

// CredentialStore is the durable source of truth for token records, OTP
// challenges, two-factor profiles, and backup codes. Implementations sit on
// the caller's document or key-value store and must provide the conditional
// semantics documented per method; the engine's race guarantees are exactly
// as strong as the store's.
type CredentialStore interface {
	// SaveToken appends a new token record.
	SaveToken(ctx context.Context, rec *TokenRecord) error
	// GetToken returns the record for a value digest, or ErrNotFound.
	GetToken(ctx context.Context, digest [32]byte) (*TokenRecord, error)
	// RevokeToken atomically marks an unrevoked record revoked and returns
	// the updated record. It must return ErrTokenRevoked when the record is
	// already revoked and ErrNotFound when absent; two concurrent calls for
	// the same digest must observe exactly one success.
	RevokeToken(ctx context.Context, digest [32]byte, reason string, at time.Time) (*TokenRecord, error)
	// RevokeAllTokens revokes every live record of a principal and returns
	// the count.
	RevokeAllTokens(ctx context.Context, principalID, reason string, at time.Time) (int, error)
	// TouchToken updates a record's last-used timestamp. Best effort.
	TouchToken(ctx context.Context, digest [32]byte, at time.Time) error
	// DeleteExpiredTokens garbage-collects records expired before the cutoff.
	DeleteExpiredTokens(ctx context.Context, before time.Time) (int, error)

	// SaveChallenge appends a new OTP challenge with Version 1.
	SaveChallenge(ctx context.Context, ch *OTPChallenge) error
	// GetChallenge returns a challenge by id, or ErrNotFound.
	GetChallenge(ctx context.Context, id string) (*OTPChallenge, error)
	// FindOpenChallenge returns the most recent unverified, unexpired
	// challenge for a channel+purpose, or ErrNotFound.
	FindOpenChallenge(ctx context.Context, kind ChannelKind, address string, purpose OTPPurpose) (*OTPChallenge, error)
	// UpdateChallenge persists a modified challenge iff the stored Version
	// still equals ch.Version, then increments it; otherwise it must return
	// ErrVersionConflict and write nothing.
	UpdateChallenge(ctx context.Context, ch *OTPChallenge) error

	// GetTwoFactorProfile returns the profile for one method, or ErrNotFound.
	GetTwoFactorProfile(ctx context.Context, principalID string, method TwoFactorMethod) (*TwoFactorProfile, error)
	// SaveTwoFactorProfile creates or replaces a profile.
	SaveTwoFactorProfile(ctx context.Context, p *TwoFactorProfile) error
	// ListTwoFactorProfiles returns every profile of a principal.
	ListTwoFactorProfiles(ctx context.Context, principalID string) ([]TwoFactorProfile, error)
	// UpdateTOTPCounter persists the last accepted TOTP time-step counter.
	UpdateTOTPCounter(ctx context.Context, principalID string, counter int64) error
	// ReplaceBackupCodes installs a fresh backup-code set, discarding any
	// previous set.
	ReplaceBackupCodes(ctx context.Context, principalID string, codes []BackupCodeRecord) error
	// ConsumeBackupCode atomically marks the matching unused code used and
	// reports whether one matched; a code must be consumable exactly once
	// even under concurrent submission.
	ConsumeBackupCode(ctx context.Context, principalID string, hash [32]byte, at time.Time) (bool, error)
}

// PrincipalProvider resolves principals from the caller's identity records.
type PrincipalProvider interface {
	GetPrincipal(ctx context.Context, id string) (*Principal, error)
}
