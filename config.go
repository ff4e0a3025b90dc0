package authcore

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/siku-platform/authcore/captcha"
	"github.com/siku-platform/authcore/internal"
	"github.com/siku-platform/authcore/token"
	"github.com/siku-platform/authcore/verification"
)

// Default issuer and audience claims. Override per deployment.
const (
	DefaultIssuer   = "siku-backend"
	DefaultAudience = "siku-mobile"
)

// DefaultExpiringSoonWindow is how close to expiry an access token must be
// before AccessExpiringSoon advises the client to refresh.
const DefaultExpiringSoonWindow = 30 * time.Minute

// JWTConfig configures token signing and validation.
type JWTConfig struct {
	// Secret is the HS256 signing key. Must be at least
	// token.MinSecretLen bytes; Build fails with ErrConfigInvalid
	// otherwise.
	Secret []byte

	AccessTTL  time.Duration // default 24h
	RefreshTTL time.Duration // default 168h
	Issuer     string        // default DefaultIssuer
	Audience   string        // default DefaultAudience

	ExpiringSoonWindow time.Duration // default DefaultExpiringSoonWindow
}

// VerificationConfig configures one-time code issuance.
type VerificationConfig struct {
	CodeLength   int           // default 6; 4 to 10 digits
	CodeTTL      time.Duration // default 10m
	SendCooldown time.Duration // default 60s; negative disables
	DailyLimit   int           // default 10 per address per day
}

// CaptchaConfig configures image challenge generation.
type CaptchaConfig struct {
	Length int           // default 4
	TTL    time.Duration // default 5m
	Width  int           // default 120
	Height int           // default 40
}

// AuditConfig configures the async audit pipeline.
type AuditConfig struct {
	Workers    int // default 2
	BufferSize int // default 256

	// BlockWhenFull makes Record block instead of dropping when the
	// buffer is full. The default drops and counts.
	BlockWhenFull bool

	// Retention bounds CleanupOlderThan when called with no explicit
	// window. Default 90 days.
	Retention time.Duration
}

// Config is the engine configuration. Zero values mean defaults; only the
// signing secret is mandatory.
type Config struct {
	JWT          JWTConfig
	Verification VerificationConfig
	Captcha      CaptchaConfig
	Audit        AuditConfig

	// PublicPrefixes lists URL path prefixes the request gate lets
	// through without token validation.
	PublicPrefixes []string

	// StoreOpTimeout caps each key-value store round trip. Default 500ms.
	StoreOpTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = DefaultIssuer
	}
	if c.JWT.Audience == "" {
		c.JWT.Audience = DefaultAudience
	}
	if c.JWT.ExpiringSoonWindow <= 0 {
		c.JWT.ExpiringSoonWindow = DefaultExpiringSoonWindow
	}
	return c
}

func (c Config) validate() error {
	if len(c.JWT.Secret) < token.MinSecretLen {
		return fmt.Errorf("%w: signing secret must be at least %d bytes", ErrConfigInvalid, token.MinSecretLen)
	}
	if c.JWT.AccessTTL < 0 || c.JWT.RefreshTTL < 0 {
		return fmt.Errorf("%w: token TTLs must not be negative", ErrConfigInvalid)
	}
	if n := c.Verification.CodeLength; n != 0 && (n < internal.MinCodeDigits || n > internal.MaxCodeDigits) {
		return fmt.Errorf("%w: code length must be between %d and %d digits",
			ErrConfigInvalid, internal.MinCodeDigits, internal.MaxCodeDigits)
	}
	if c.Verification.DailyLimit < 0 {
		return fmt.Errorf("%w: daily limit must not be negative", ErrConfigInvalid)
	}
	return nil
}

func (c Config) tokenConfig() token.Config {
	return token.Config{
		Secret:     c.JWT.Secret,
		AccessTTL:  c.JWT.AccessTTL,
		RefreshTTL: c.JWT.RefreshTTL,
		Issuer:     c.JWT.Issuer,
		Audience:   c.JWT.Audience,
	}
}

func (c Config) verificationConfig() verification.Config {
	return verification.Config{
		CodeLength:   c.Verification.CodeLength,
		CodeTTL:      c.Verification.CodeTTL,
		SendCooldown: c.Verification.SendCooldown,
		DailyLimit:   c.Verification.DailyLimit,
	}
}

func (c Config) captchaConfig() captcha.Config {
	return captcha.Config{
		Length: c.Captcha.Length,
		TTL:    c.Captcha.TTL,
		Width:  c.Captcha.Width,
		Height: c.Captcha.Height,
	}
}

// envConfig holds raw env values before mapping into Config.
type envConfig struct {
	JWTSecret          string        `env:"AUTHCORE_JWT_SECRET"`
	JWTAccessTTL       time.Duration `env:"AUTHCORE_JWT_ACCESS_TTL"        envDefault:"24h"`
	JWTRefreshTTL      time.Duration `env:"AUTHCORE_JWT_REFRESH_TTL"       envDefault:"168h"`
	JWTIssuer          string        `env:"AUTHCORE_JWT_ISSUER"            envDefault:"siku-backend"`
	JWTAudience        string        `env:"AUTHCORE_JWT_AUDIENCE"          envDefault:"siku-mobile"`
	ExpiringSoonWindow time.Duration `env:"AUTHCORE_JWT_REFRESH_ADVISORY"  envDefault:"30m"`

	CodeLength   int           `env:"AUTHCORE_CODE_LENGTH"   envDefault:"6"`
	CodeTTL      time.Duration `env:"AUTHCORE_CODE_TTL"      envDefault:"10m"`
	SendCooldown time.Duration `env:"AUTHCORE_SEND_COOLDOWN" envDefault:"60s"`
	DailyLimit   int           `env:"AUTHCORE_DAILY_LIMIT"   envDefault:"10"`

	CaptchaLength int           `env:"AUTHCORE_CAPTCHA_LENGTH" envDefault:"4"`
	CaptchaTTL    time.Duration `env:"AUTHCORE_CAPTCHA_TTL"    envDefault:"5m"`
	CaptchaWidth  int           `env:"AUTHCORE_CAPTCHA_WIDTH"  envDefault:"120"`
	CaptchaHeight int           `env:"AUTHCORE_CAPTCHA_HEIGHT" envDefault:"40"`

	AuditWorkers   int           `env:"AUTHCORE_AUDIT_WORKERS"   envDefault:"2"`
	AuditBuffer    int           `env:"AUTHCORE_AUDIT_BUFFER"    envDefault:"256"`
	AuditRetention time.Duration `env:"AUTHCORE_AUDIT_RETENTION" envDefault:"2160h"`

	PublicPrefixes []string      `env:"AUTHCORE_PUBLIC_PREFIXES" envSeparator:","`
	StoreOpTimeout time.Duration `env:"AUTHCORE_STORE_OP_TIMEOUT" envDefault:"500ms"`
}

// ConfigFromEnv loads configuration from AUTHCORE_* environment variables.
// Validation still happens at Build time, so a missing secret surfaces there,
// not here.
func ConfigFromEnv() (Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return Config{
		JWT: JWTConfig{
			Secret:             []byte(raw.JWTSecret),
			AccessTTL:          raw.JWTAccessTTL,
			RefreshTTL:         raw.JWTRefreshTTL,
			Issuer:             raw.JWTIssuer,
			Audience:           raw.JWTAudience,
			ExpiringSoonWindow: raw.ExpiringSoonWindow,
		},
		Verification: VerificationConfig{
			CodeLength:   raw.CodeLength,
			CodeTTL:      raw.CodeTTL,
			SendCooldown: raw.SendCooldown,
			DailyLimit:   raw.DailyLimit,
		},
		Captcha: CaptchaConfig{
			Length: raw.CaptchaLength,
			TTL:    raw.CaptchaTTL,
			Width:  raw.CaptchaWidth,
			Height: raw.CaptchaHeight,
		},
		Audit: AuditConfig{
			Workers:    raw.AuditWorkers,
			BufferSize: raw.AuditBuffer,
			Retention:  raw.AuditRetention,
		},
		PublicPrefixes: raw.PublicPrefixes,
		StoreOpTimeout: raw.StoreOpTimeout,
	}, nil
}
