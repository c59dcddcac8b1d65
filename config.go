package careauth

import (
	"errors"
	"strings"
	"time"
)

// Config is the full configuration surface of the engine. Zero values are
// not usable; start from [New] (which applies defaults) or defaultConfig
// semantics via [Builder.WithConfig] on a copy of a validated config.
type Config struct {
	Token     TokenConfig
	OTP       OTPConfig
	TwoFactor TwoFactorConfig
	Cache     CacheConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Security  SecurityConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenSigning selects the optional self-describing access-token mode.
type TokenSigning string

const (
	// SigningNone issues purely opaque access tokens (default).
	SigningNone TokenSigning = ""
	// SigningHS256 wraps access tokens as HS256 JWTs.
	SigningHS256 TokenSigning = "hs256"
	// SigningEd25519 wraps access tokens as Ed25519 JWTs.
	SigningEd25519 TokenSigning = "ed25519"
)

// TokenConfig controls token pair issuance and the optional JWT envelope.
// Even in JWT mode the durable record stays authoritative: revocation wins
// over a valid signature.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	Signing    TokenSigning
	Issuer     string
	PrivateKey []byte
	PublicKey  []byte
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls challenge generation and verification.
type OTPConfig struct {
	Digits             int
	TTL                time.Duration
	DefaultMaxAttempts int
	// PurposeMaxAttempts overrides the attempt budget per purpose.
	// Unlisted purposes use DefaultMaxAttempts.
	PurposeMaxAttempts map[OTPPurpose]int
	LockoutDuration    time.Duration

	// Generate throttling (Redis fixed window, skipped without Redis).
	ThrottleEnabled bool
	ThrottleMax     int
	ThrottleWindow  time.Duration
}

// MaxAttemptsFor resolves the attempt budget for a purpose.
func (c OTPConfig) MaxAttemptsFor(p OTPPurpose) int {
	if n, ok := c.PurposeMaxAttempts[p]; ok && n > 0 {
		return n
	}
	return c.DefaultMaxAttempts
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls enrollment and login completion.
type TwoFactorConfig struct {
	TOTPIssuer    string
	TOTPDigits    int
	TOTPPeriod    int
	TOTPSkew      int
	TOTPAlgorithm string

	BackupCodeCount  int
	BackupCodeLength int

	LoginGateTTL         time.Duration
	LoginGateMaxAttempts int
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig controls the fast verification mirror. The mirror is a
// latency optimization only; disabling it changes no observable behavior
// beyond round-trip counts.
type CacheConfig struct {
	Enabled   bool
	KeyPrefix string
	// TTLSlack extends mirror TTLs past challenge expiry so a blocked
	// entry outlives its challenge.
	TTLSlack time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics system.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the hardening tier.
type SecurityConfig struct {
	// ProductionMode tightens TTL and attempt ceilings at Validate time.
	ProductionMode bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Signing:    SigningNone,
		},
		OTP: OTPConfig{
			Digits:             6,
			TTL:                10 * time.Minute,
			DefaultMaxAttempts: 5,
			PurposeMaxAttempts: map[OTPPurpose]int{
				PurposeLogin:         3,
				PurposePasswordReset: 3,
			},
			LockoutDuration: 30 * time.Minute,
			ThrottleEnabled: true,
			ThrottleMax:     5,
			ThrottleWindow:  10 * time.Minute,
		},
		TwoFactor: TwoFactorConfig{
			TOTPIssuer:           "caremesh",
			TOTPDigits:           6,
			TOTPPeriod:           30,
			TOTPSkew:             1,
			TOTPAlgorithm:        "SHA1",
			BackupCodeCount:      10,
			BackupCodeLength:     10,
			LoginGateTTL:         3 * time.Minute,
			LoginGateMaxAttempts: 5,
		},
		Cache: CacheConfig{
			Enabled:   true,
			KeyPrefix: "cv",
			TTLSlack:  time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Security: SecurityConfig{
			ProductionMode: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	if cfg.OTP.PurposeMaxAttempts != nil {
		m := make(map[OTPPurpose]int, len(cfg.OTP.PurposeMaxAttempts))
		for k, v := range cfg.OTP.PurposeMaxAttempts {
			m[k] = v
		}
		out.OTP.PurposeMaxAttempts = m
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks internal consistency. Build calls it; callers mutating a
// config by hand should call it too.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL < c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be >= AccessTTL")
	}
	switch c.Token.Signing {
	case SigningNone:
		// opaque mode
	case SigningHS256:
		if len(c.Token.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	case SigningEd25519:
		if len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported token signing mode")
	}

	// OTP
	if c.OTP.Digits < 4 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 4 and 10")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.DefaultMaxAttempts <= 0 {
		return errors.New("OTP DefaultMaxAttempts must be > 0")
	}
	for purpose, n := range c.OTP.PurposeMaxAttempts {
		if n <= 0 {
			return errors.New("OTP PurposeMaxAttempts entries must be > 0")
		}
		switch purpose {
		case PurposeLogin, PurposeRegistration, PurposePasswordReset, PurposeTwoFactor, PurposeGeneric:
			// valid
		default:
			return errors.New("OTP PurposeMaxAttempts contains unknown purpose")
		}
	}
	if c.OTP.LockoutDuration <= 0 {
		return errors.New("OTP LockoutDuration must be > 0")
	}
	if c.OTP.ThrottleEnabled {
		if c.OTP.ThrottleMax <= 0 {
			return errors.New("OTP ThrottleMax must be > 0 when throttling is enabled")
		}
		if c.OTP.ThrottleWindow <= 0 {
			return errors.New("OTP ThrottleWindow must be > 0 when throttling is enabled")
		}
	}

	// Two-factor
	if c.TwoFactor.TOTPIssuer == "" {
		return errors.New("TwoFactor TOTPIssuer is required")
	}
	if c.TwoFactor.TOTPDigits != 6 && c.TwoFactor.TOTPDigits != 8 {
		return errors.New("TwoFactor TOTPDigits must be 6 or 8")
	}
	if c.TwoFactor.TOTPPeriod < 15 {
		return errors.New("TwoFactor TOTPPeriod must be >= 15 seconds")
	}
	if c.TwoFactor.TOTPSkew < 0 {
		return errors.New("TwoFactor TOTPSkew must be >= 0")
	}
	switch strings.ToUpper(c.TwoFactor.TOTPAlgorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// valid (empty treated as SHA1)
	default:
		return errors.New("TwoFactor TOTPAlgorithm must be SHA1, SHA256, or SHA512")
	}
	if c.TwoFactor.BackupCodeCount <= 0 {
		return errors.New("TwoFactor BackupCodeCount must be > 0")
	}
	if c.TwoFactor.BackupCodeLength < 8 {
		return errors.New("TwoFactor BackupCodeLength must be >= 8")
	}
	if c.TwoFactor.LoginGateTTL <= 0 {
		return errors.New("TwoFactor LoginGateTTL must be > 0")
	}
	if c.TwoFactor.LoginGateMaxAttempts <= 0 {
		return errors.New("TwoFactor LoginGateMaxAttempts must be > 0")
	}

	// Cache
	if c.Cache.Enabled {
		if c.Cache.KeyPrefix == "" {
			return errors.New("Cache KeyPrefix must be set when cache is enabled")
		}
		if c.Cache.TTLSlack < 0 {
			return errors.New("Cache TTLSlack must be >= 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Security.ProductionMode {
		if c.Token.AccessTTL > 15*time.Minute {
			return errors.New("ProductionMode requires Token AccessTTL <= 15m")
		}
		if c.Token.RefreshTTL > 30*24*time.Hour {
			return errors.New("ProductionMode requires Token RefreshTTL <= 30d")
		}
		if c.Token.Signing == SigningHS256 && len(c.Token.PrivateKey) < 32 {
			return errors.New("ProductionMode requires hs256 key length >= 256 bits")
		}
		if c.OTP.Digits < 6 {
			return errors.New("ProductionMode requires OTP Digits >= 6")
		}
		if c.OTP.TTL > 15*time.Minute {
			return errors.New("ProductionMode requires OTP TTL <= 15m")
		}
		if c.OTP.DefaultMaxAttempts > 5 {
			return errors.New("ProductionMode requires OTP DefaultMaxAttempts <= 5")
		}
		for _, n := range c.OTP.PurposeMaxAttempts {
			if n > 5 {
				return errors.New("ProductionMode requires OTP PurposeMaxAttempts <= 5")
			}
		}
		if c.OTP.LockoutDuration < 15*time.Minute {
			return errors.New("ProductionMode requires OTP LockoutDuration >= 15m")
		}
		if !c.OTP.ThrottleEnabled {
			return errors.New("ProductionMode requires OTP throttling")
		}
		if c.TwoFactor.BackupCodeCount < 8 {
			return errors.New("ProductionMode requires TwoFactor BackupCodeCount >= 8")
		}
	}

	return nil
}
