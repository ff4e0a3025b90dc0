// Package verification issues and redeems the one-time codes that gate
// registration, login, and password reset. Codes live in a TTL store keyed by
// (channel, address, purpose); redemption is a single atomic get-and-delete,
// so a code can be validated by at most one caller even under concurrent
// verify calls, and a wrong guess burns the code too.
package verification

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/siku-platform/authcore/internal"
	"github.com/siku-platform/authcore/internal/kv"
)

// Channel selects the delivery transport for a code.
type Channel string

const (
	// ChannelEmail delivers codes over email.
	ChannelEmail Channel = "email"
	// ChannelSMS delivers codes over SMS.
	ChannelSMS Channel = "sms"
)

// Purposes recognized by the auth flows. Issue accepts any non-empty purpose;
// these constants are the ones the rest of the backend uses.
const (
	PurposeRegister      = "register"
	PurposeLogin         = "login"
	PurposeResetPassword = "reset_password"
	PurposeChangeEmail   = "change_email"
	PurposeSecurity      = "security"
)

var (
	// ErrInvalidAddress indicates the address does not match the channel's format.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrInvalidPurpose indicates an empty or unusable purpose.
	ErrInvalidPurpose = errors.New("invalid purpose")
	// ErrRateLimited indicates the cooldown or daily cap blocked the send.
	// Not a fault of the caller's input; retry after the indicated interval.
	ErrRateLimited = errors.New("verification send rate limited")
	// ErrSendFailed indicates the channel sender rejected the dispatch.
	// Nothing is stored in that case.
	ErrSendFailed = errors.New("verification dispatch failed")
)

var (
	emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)
)

// EmailSender dispatches a code over email. Implemented by the mail provider
// integration outside this subsystem.
type EmailSender interface {
	SendEmail(ctx context.Context, address, code, purpose string) error
}

// SMSSender dispatches a code over SMS.
type SMSSender interface {
	SendSMS(ctx context.Context, phone, code, purpose string) error
}

// Config holds issuance policy. Zero fields fall back to defaults.
type Config struct {
	CodeLength   int           // default 6 digits
	CodeTTL      time.Duration // default 10 minutes
	SendCooldown time.Duration // default 60s between sends per address
	DailyLimit   int           // default 10 sends per address per 24h window
}

func (c Config) withDefaults() Config {
	if c.CodeLength <= 0 {
		c.CodeLength = 6
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = 10 * time.Minute
	}
	if c.SendCooldown == 0 {
		c.SendCooldown = time.Minute
	}
	if c.DailyLimit <= 0 {
		c.DailyLimit = 10
	}
	return c
}

// Issued describes a successful code dispatch.
type Issued struct {
	// ExpiresIn is how long the code stays redeemable.
	ExpiresIn time.Duration

	// RetryAfter is how long until the same address may request another
	// code. Zero when the cooldown is disabled.
	RetryAfter time.Duration
}

// Issuer generates, dispatches, and redeems one-time codes.
type Issuer struct {
	store kv.Store
	email EmailSender
	sms   SMSSender
	cfg   Config
	now   func() time.Time
}

// NewIssuer builds an issuer on the given TTL store and channel senders.
// A nil sender disables its channel.
func NewIssuer(store kv.Store, email EmailSender, sms SMSSender, cfg Config) *Issuer {
	return &Issuer{
		store: store,
		email: email,
		sms:   sms,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
	}
}

// Issue validates the address, enforces the per-address cooldown and daily
// cap, then generates a fresh code, dispatches it, and stores it. A new code
// replaces any live code for the same (channel, address, purpose).
func (i *Issuer) Issue(ctx context.Context, channel Channel, address, purpose string) (Issued, error) {
	if err := validateAddress(channel, address); err != nil {
		return Issued{}, err
	}
	if strings.TrimSpace(purpose) == "" {
		return Issued{}, ErrInvalidPurpose
	}

	if err := i.checkCooldown(ctx, channel, address); err != nil {
		return Issued{}, err
	}
	if err := i.checkDailyCap(ctx, channel, address); err != nil {
		return Issued{}, err
	}

	code, err := internal.NumericCode(i.cfg.CodeLength)
	if err != nil {
		return Issued{}, err
	}

	if err := i.dispatch(ctx, channel, address, code, purpose); err != nil {
		// A send that never reached the provider must not count against
		// the daily budget, and no code the user can never receive gets
		// stored. The refund is best-effort; a store outage here just
		// leaves the increment to expire with the window.
		_, _ = i.store.Decr(ctx, dailyKey(channel, address))
		return Issued{}, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	if err := i.store.Set(ctx, codeKey(channel, address, purpose), code, i.cfg.CodeTTL); err != nil {
		return Issued{}, err
	}

	var retryAfter time.Duration
	if i.cfg.SendCooldown > 0 {
		lastSent := strconv.FormatInt(i.now().Unix(), 10)
		if err := i.store.Set(ctx, cooldownKey(channel, address), lastSent, i.cfg.SendCooldown); err != nil {
			return Issued{}, err
		}
		retryAfter = i.cfg.SendCooldown
	}

	return Issued{ExpiresIn: i.cfg.CodeTTL, RetryAfter: retryAfter}, nil
}

// Verify redeems a code. The stored code is consumed whether or not the guess
// matches, so a wrong guess cannot be retried against the same code. Absent
// or expired codes verify false without error; only store outages error.
func (i *Issuer) Verify(ctx context.Context, channel Channel, address, code, purpose string) (bool, error) {
	if address == "" || code == "" || purpose == "" {
		return false, nil
	}

	stored, ok, err := i.store.GetDel(ctx, codeKey(channel, address, purpose))
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	return stored == strings.TrimSpace(code), nil
}

func (i *Issuer) dispatch(ctx context.Context, channel Channel, address, code, purpose string) error {
	switch channel {
	case ChannelEmail:
		if i.email == nil {
			return errors.New("email channel not configured")
		}
		return i.email.SendEmail(ctx, address, code, purpose)
	case ChannelSMS:
		if i.sms == nil {
			return errors.New("sms channel not configured")
		}
		return i.sms.SendSMS(ctx, address, code, purpose)
	default:
		return fmt.Errorf("unknown channel %q", channel)
	}
}

func (i *Issuer) checkCooldown(ctx context.Context, channel Channel, address string) error {
	if i.cfg.SendCooldown <= 0 {
		return nil
	}

	lastSent, ok, err := i.store.Get(ctx, cooldownKey(channel, address))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	retryAfter := i.cfg.SendCooldown
	if unix, parseErr := strconv.ParseInt(lastSent, 10, 64); parseErr == nil {
		elapsed := i.now().Sub(time.Unix(unix, 0))
		if remaining := i.cfg.SendCooldown - elapsed; remaining > 0 && remaining < retryAfter {
			retryAfter = remaining
		}
	}

	return fmt.Errorf("%w: retry in %s", ErrRateLimited, retryAfter.Round(time.Second))
}

func (i *Issuer) checkDailyCap(ctx context.Context, channel Channel, address string) error {
	count, err := i.store.Incr(ctx, dailyKey(channel, address), 24*time.Hour)
	if err != nil {
		return err
	}
	if count > int64(i.cfg.DailyLimit) {
		return fmt.Errorf("%w: daily limit reached", ErrRateLimited)
	}
	return nil
}

func validateAddress(channel Channel, address string) error {
	switch channel {
	case ChannelEmail:
		if !emailPattern.MatchString(address) {
			return ErrInvalidAddress
		}
	case ChannelSMS:
		if !phonePattern.MatchString(address) {
			return ErrInvalidAddress
		}
	default:
		return ErrInvalidAddress
	}
	return nil
}

func codeKey(channel Channel, address, purpose string) string {
	return "vcode:" + string(channel) + ":" + address + ":" + purpose
}

func cooldownKey(channel Channel, address string) string {
	return "vcd:" + string(channel) + ":" + address
}

func dailyKey(channel Channel, address string) string {
	return "vday:" + string(channel) + ":" + address
}
