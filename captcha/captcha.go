// Package captcha issues one-time image challenges. A challenge follows the
// same consume-on-verify contract as a verification code, but is keyed by an
// unguessable random id instead of an address, and verification is
// case-insensitive.
package captcha

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/siku-platform/authcore/internal"
	"github.com/siku-platform/authcore/internal/kv"
)

// Charset excludes glyphs that read ambiguously in a distorted image
// (0/O, 1/I).
const Charset = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

const keyPrefix = "captcha:"

// Config holds challenge policy. Zero fields fall back to defaults.
type Config struct {
	Length int           // default 4 characters
	TTL    time.Duration // default 5 minutes
	Width  int           // default 120 px
	Height int           // default 40 px
}

func (c Config) withDefaults() Config {
	if c.Length <= 0 {
		c.Length = 4
	}
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.Width <= 0 {
		c.Width = 120
	}
	if c.Height <= 0 {
		c.Height = 40
	}
	return c
}

// Challenge is a rendered captcha handed to the client. The code itself never
// leaves the server.
type Challenge struct {
	ID        string
	Image     string // data:image/png;base64,... payload
	ExpiresIn time.Duration
}

// Service generates and verifies captcha challenges against a TTL store.
type Service struct {
	store kv.Store
	cfg   Config
}

// NewService builds a captcha service on the given TTL store.
func NewService(store kv.Store, cfg Config) *Service {
	return &Service{store: store, cfg: cfg.withDefaults()}
}

// Generate renders a fresh challenge and stores its lowercased code under a
// random id. Ids are unguessable and single-use, so no per-id rate limit is
// applied here; edge rate limiting by client IP is a separate concern.
func (s *Service) Generate(ctx context.Context) (Challenge, error) {
	code, err := internal.CharsetCode(Charset, s.cfg.Length)
	if err != nil {
		return Challenge{}, err
	}

	id := uuid.NewString()
	image := renderDataURI(code, s.cfg.Width, s.cfg.Height)

	if err := s.store.Set(ctx, keyPrefix+id, strings.ToLower(code), s.cfg.TTL); err != nil {
		return Challenge{}, err
	}

	return Challenge{ID: id, Image: image, ExpiresIn: s.cfg.TTL}, nil
}

// Verify consumes the challenge and compares case-insensitively. The stored
// code is deleted whatever the outcome; a wrong guess cannot be retried.
func (s *Service) Verify(ctx context.Context, id, input string) (bool, error) {
	if id == "" || input == "" {
		return false, nil
	}

	stored, ok, err := s.store.GetDel(ctx, keyPrefix+id)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	return stored == strings.ToLower(strings.TrimSpace(input)), nil
}
