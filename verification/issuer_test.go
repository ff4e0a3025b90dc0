package verification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siku-platform/authcore/internal/kv"
)

type fakeSender struct {
	mu    sync.Mutex
	sent  []sentCode
	fail  bool
	calls int
}

type sentCode struct {
	address string
	code    string
	purpose string
}

func (f *fakeSender) record(address, code, purpose string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return errors.New("provider rejected message")
	}
	f.sent = append(f.sent, sentCode{address: address, code: code, purpose: purpose})
	return nil
}

func (f *fakeSender) SendEmail(_ context.Context, address, code, purpose string) error {
	return f.record(address, code, purpose)
}

func (f *fakeSender) SendSMS(_ context.Context, phone, code, purpose string) error {
	return f.record(phone, code, purpose)
}

func (f *fakeSender) last(t *testing.T) sentCode {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no code was dispatched")
	return f.sent[len(f.sent)-1]
}

func newTestIssuer(t *testing.T, cfg Config) (*Issuer, *fakeSender, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	sender := &fakeSender{}
	return NewIssuer(kv.NewRedis(rdb, 0), sender, sender, cfg), sender, mr
}

func TestIssueRejectsInvalidAddresses(t *testing.T) {
	issuer, sender, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	for _, address := range []string{"", "not-an-email", "a@b", "@example.com"} {
		_, err := issuer.Issue(ctx, ChannelEmail, address, PurposeRegister)
		assert.ErrorIs(t, err, ErrInvalidAddress, "email %q", address)
	}
	for _, phone := range []string{"", "12345", "23800000000", "138000000001"} {
		_, err := issuer.Issue(ctx, ChannelSMS, phone, PurposeLogin)
		assert.ErrorIs(t, err, ErrInvalidAddress, "phone %q", phone)
	}

	assert.Zero(t, sender.calls, "invalid addresses must not reach the sender")
}

func TestIssueRejectsEmptyPurpose(t *testing.T) {
	issuer, _, _ := newTestIssuer(t, Config{})

	_, err := issuer.Issue(context.Background(), ChannelEmail, "a@b.com", "  ")
	assert.ErrorIs(t, err, ErrInvalidPurpose)
}

func TestIssueAndVerifyOnce(t *testing.T) {
	issuer, sender, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	issued, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeRegister)
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, issued.ExpiresIn)

	code := sender.last(t).code
	require.Len(t, code, 6)

	ok, err := issuer.Verify(ctx, ChannelEmail, "a@b.com", code, PurposeRegister)
	require.NoError(t, err)
	assert.True(t, ok, "correct code should verify")

	// One-time use: replay of the consumed code must fail.
	ok, err = issuer.Verify(ctx, ChannelEmail, "a@b.com", code, PurposeRegister)
	require.NoError(t, err)
	assert.False(t, ok, "consumed code must not verify twice")
}

func TestWrongGuessBurnsCode(t *testing.T) {
	issuer, sender, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeRegister)
	require.NoError(t, err)
	code := sender.last(t).code

	ok, err := issuer.Verify(ctx, ChannelEmail, "a@b.com", "000000", PurposeRegister)
	require.NoError(t, err)
	assert.False(t, ok)

	// The wrong guess consumed the code; even the right one fails now.
	ok, err = issuer.Verify(ctx, ChannelEmail, "a@b.com", code, PurposeRegister)
	require.NoError(t, err)
	assert.False(t, ok, "code must be burned by the failed attempt")
}

func TestVerifyAtMostOneWinner(t *testing.T) {
	issuer, sender, _ := newTestIssuer(t, Config{})
	ctx := context.Background()

	_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeRegister)
	require.NoError(t, err)
	code := sender.last(t).code

	const callers = 8
	var wins int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := issuer.Verify(ctx, ChannelEmail, "a@b.com", code, PurposeRegister)
			if err == nil && ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one concurrent verifier may win")
}

func TestCooldown(t *testing.T) {
	issuer, sender, mr := newTestIssuer(t, Config{SendCooldown: time.Minute})
	ctx := context.Background()

	_, err := issuer.Issue(ctx, ChannelSMS, "13800000000", PurposeLogin)
	require.NoError(t, err)
	firstCode := sender.last(t).code

	// Second send inside the window is refused without generating anything.
	_, err = issuer.Issue(ctx, ChannelSMS, "13800000000", PurposeLogin)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, sender.calls)

	mr.FastForward(61 * time.Second)

	_, err = issuer.Issue(ctx, ChannelSMS, "13800000000", PurposeLogin)
	require.NoError(t, err)
	secondCode := sender.last(t).code

	// The reissue invalidated the first code.
	ok, err := issuer.Verify(ctx, ChannelSMS, "13800000000", firstCode, PurposeLogin)
	require.NoError(t, err)
	if firstCode != secondCode {
		assert.False(t, ok, "prior code must be invalidated by reissue")
	}

	ok, err = issuer.Verify(ctx, ChannelSMS, "13800000000", secondCode, PurposeLogin)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDailyCap(t *testing.T) {
	issuer, _, _ := newTestIssuer(t, Config{SendCooldown: -1, DailyLimit: 3})
	ctx := context.Background()

	for n := 0; n < 3; n++ {
		_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeSecurity)
		require.NoError(t, err)
	}

	_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeSecurity)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSendFailureStoresNothing(t *testing.T) {
	issuer, sender, mr := newTestIssuer(t, Config{})
	ctx := context.Background()

	sender.fail = true
	_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeRegister)
	assert.ErrorIs(t, err, ErrSendFailed)

	assert.False(t, mr.Exists("vcode:email:a@b.com:register"),
		"a failed dispatch must leave no stored code")
}

func TestSendFailureKeepsDailyBudget(t *testing.T) {
	issuer, sender, _ := newTestIssuer(t, Config{SendCooldown: -1, DailyLimit: 2})
	ctx := context.Background()

	// Provider outage: neither attempt reaches the user, so neither may
	// count against the cap.
	sender.fail = true
	for n := 0; n < 2; n++ {
		_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeRegister)
		require.ErrorIs(t, err, ErrSendFailed)
	}

	sender.fail = false
	for n := 0; n < 2; n++ {
		_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeRegister)
		require.NoError(t, err, "failed sends must not consume the daily budget")
	}

	_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeRegister)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestIssueReportsRetryAfter(t *testing.T) {
	issuer, _, _ := newTestIssuer(t, Config{SendCooldown: 90 * time.Second})
	ctx := context.Background()

	issued, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, issued.RetryAfter)

	issuer, _, _ = newTestIssuer(t, Config{SendCooldown: -1})
	issued, err = issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeLogin)
	require.NoError(t, err)
	assert.Zero(t, issued.RetryAfter, "disabled cooldown reports no retry delay")
}

func TestPurposesAreIsolated(t *testing.T) {
	issuer, sender, _ := newTestIssuer(t, Config{SendCooldown: -1})
	ctx := context.Background()

	_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeRegister)
	require.NoError(t, err)
	code := sender.last(t).code

	ok, err := issuer.Verify(ctx, ChannelEmail, "a@b.com", code, PurposeLogin)
	require.NoError(t, err)
	assert.False(t, ok, "code issued for register must not verify for login")

	ok, err = issuer.Verify(ctx, ChannelEmail, "a@b.com", code, PurposeRegister)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreOutage(t *testing.T) {
	issuer, _, mr := newTestIssuer(t, Config{})
	ctx := context.Background()
	mr.Close()

	_, err := issuer.Issue(ctx, ChannelEmail, "a@b.com", PurposeRegister)
	assert.ErrorIs(t, err, kv.ErrUnavailable)

	_, err = issuer.Verify(ctx, ChannelEmail, "a@b.com", "123456", PurposeRegister)
	assert.ErrorIs(t, err, kv.ErrUnavailable)
}
