package careauth

import (
	"errors"

	"github.com/caremesh/careauth/permission"
	"github.com/caremesh/careauth/token"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. A Builder is single-use: configure it
// during initialization, call Build once, then discard it.
type Builder struct {
	config Config
	redis  *redis.Client

	permissions []string
	roles       map[Role][]string
	table       *permission.Table

	store      CredentialStore
	principals PrincipalProvider
	auditSink  AuditSink

	built bool
}

// New returns a Builder seeded with defaults. Nothing is allocated beyond
// the builder itself until Build.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The config is copied, so
// later mutation of cfg does not affect the builder.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis attaches the optional Redis client used by the verification
// cache, OTP throttle, and login gates. The engine works without it.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore attaches the durable store. Required.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithPrincipalProvider attaches the principal lookup. Required.
func (b *Builder) WithPrincipalProvider(pp PrincipalProvider) *Builder {
	b.principals = pp
	return b
}

// WithPermissions declares the permission vocabulary as resource:action
// names. Ignored when WithPermissionTable is used.
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = perms
	return b
}

// WithRoles declares the role grants. Ignored when WithPermissionTable is
// used.
func (b *Builder) WithRoles(r map[Role][]string) *Builder {
	b.roles = r
	return b
}

// WithPermissionTable attaches a pre-built frozen table instead of the
// WithPermissions/WithRoles pair.
func (b *Builder) WithPermissionTable(t *permission.Table) *Builder {
	b.table = t
	return b
}

// WithAuditSink attaches the audit destination and enables auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetricsEnabled toggles the in-process metrics system.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histogram collection. Has no
// effect unless metrics are enabled.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the subsystems, and returns a
// ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.principals == nil {
		return nil, errors.New("principal provider required")
	}

	// -------- PERMISSION TABLE --------
	table := b.table
	if table == nil {
		if len(b.permissions) == 0 {
			return nil, errors.New("permissions must be provided")
		}
		if len(b.roles) == 0 {
			return nil, errors.New("roles must be provided")
		}

		registry, err := permission.NewRegistry(64)
		if err != nil {
			return nil, err
		}
		for _, p := range b.permissions {
			if _, err := registry.Register(p); err != nil {
				return nil, err
			}
		}
		registry.Freeze()

		table = permission.NewTable(registry)
		for role, grants := range b.roles {
			if err := table.GrantRole(role, grants); err != nil {
				return nil, err
			}
		}
		table.Freeze()
	}

	engine := &Engine{
		config:     cfg,
		table:      table,
		store:      b.store,
		principals: b.principals,
	}

	if b.redis != nil {
		if cfg.Cache.Enabled {
			engine.cache = newVerifyCache(b.redis, cfg.Cache)
		}
		if cfg.OTP.ThrottleEnabled {
			engine.otpLimiter = newOTPLimiter(b.redis, cfg.OTP)
		}
		engine.loginGates = newLoginGateStore(b.redis, cfg.TwoFactor)
	}

	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.TwoFactor)

	tm, err := token.NewManager(token.Config{
		AccessTTL:     cfg.Token.AccessTTL,
		SigningMethod: token.SigningMethod(cfg.Token.Signing),
		Issuer:        cfg.Token.Issuer,
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = tm

	b.built = true

	return engine, nil
}
