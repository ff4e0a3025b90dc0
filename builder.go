package authcore

import (
	"errors"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/siku-platform/authcore/audit"
	"github.com/siku-platform/authcore/captcha"
	"github.com/siku-platform/authcore/internal/kv"
	"github.com/siku-platform/authcore/token"
	"github.com/siku-platform/authcore/verification"
)

// Builder assembles an Engine. Configure it once, call Build, discard it.
type Builder struct {
	config Config

	redis      redis.UniversalClient
	auditStore audit.Store

	email verification.EmailSender
	sms   verification.SMSSender

	userProvider UserProvider
	logger       *slog.Logger

	built bool
}

// New returns a builder with default configuration.
func New() *Builder {
	return &Builder{}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the client backing codes, captchas, and rate limits.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditStore sets the audit persistence backend. Without one the engine
// still runs; events go to a no-op sink.
func (b *Builder) WithAuditStore(store audit.Store) *Builder {
	b.auditStore = store
	return b
}

// WithEmailSender enables the email verification channel.
func (b *Builder) WithEmailSender(sender verification.EmailSender) *Builder {
	b.email = sender
	return b
}

// WithSMSSender enables the SMS verification channel.
func (b *Builder) WithSMSSender(sender verification.SMSSender) *Builder {
	b.sms = sender
	return b
}

// WithUserProvider sets the identity collaborator used by token issuance
// and refresh.
func (b *Builder) WithUserProvider(provider UserProvider) *Builder {
	b.userProvider = provider
	return b
}

// WithLogger sets the logger for swallow paths. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	authority, err := token.NewAuthority(cfg.tokenConfig())
	if err != nil {
		return nil, err
	}

	store := kv.NewRedis(b.redis, cfg.StoreOpTimeout)

	auditStore := b.auditStore
	recorder := audit.NewRecorder(auditStore, audit.RecorderConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: !cfg.Audit.BlockWhenFull,
		Retention:  cfg.Audit.Retention,
		Logger:     logger,
	})

	engine := &Engine{
		cfg:          cfg,
		authority:    authority,
		store:        store,
		issuer:       verification.NewIssuer(store, b.email, b.sms, cfg.verificationConfig()),
		captcha:      captcha.NewService(store, cfg.captchaConfig()),
		recorder:     recorder,
		userProvider: b.userProvider,
		logger:       logger,
	}
	engine.metrics = newMetrics(recorder)

	b.built = true

	return engine, nil
}
