package flows

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEmail = "a@x.com"

func sendReq(purpose string) OTPSendRequest {
	return OTPSendRequest{Email: testEmail, Purpose: purpose, DisplayName: "Ana"}
}

func wrongCode(code string) string {
	if code == "000000" {
		return "111111"
	}
	return "000000"
}

func TestSendOTPDeliversCodeAndStoresHashOnly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, RunSendOTP(ctx, OTPSendRequest{Email: "  A@X.com ", Purpose: PurposeRegistration, DisplayName: "Ana"}, h.otpDeps()))

	sent := h.notifier.last(t)
	assert.Equal(t, testEmail, sent.Email)
	assert.Equal(t, PurposeRegistration, sent.Purpose)
	assert.Equal(t, "Ana", sent.DisplayName)
	assert.Len(t, sent.Code, 6)

	ch, err := h.otpStore.FindActive(ctx, "t1", testEmail, PurposeRegistration, h.clock.Now())
	require.NoError(t, err)
	for _, key := range h.mr.Keys() {
		if h.mr.Type(key) != "hash" {
			continue
		}
		fields, err := h.mr.HKeys(key)
		require.NoError(t, err)
		for _, field := range fields {
			assert.NotEqual(t, sent.Code, h.mr.HGet(key, field), "plaintext code persisted in %s.%s", key, field)
		}
	}
	assert.True(t, ch.ExpiresAt.Equal(h.clock.Now().Add(10*time.Minute)))
}

func TestSendOTPTwiceIsRateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	err := RunSendOTP(ctx, sendReq(PurposeRegistration), deps)

	var limited *retryAfterError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 60, limited.seconds)
	assert.Equal(t, 1, h.notifier.count())

	h.clock.Advance(45*time.Second + 200*time.Millisecond)
	err = RunSendOTP(ctx, sendReq(PurposeRegistration), deps)
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 15, limited.seconds)
}

func TestSendOTPAfterDelayKeepsSingleActiveChallenge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	for i := 0; i < 3; i++ {
		require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
		h.clock.Advance(61 * time.Second)
	}

	all, err := h.otpStore.List(ctx, "t1", testEmail, PurposeRegistration)
	require.NoError(t, err)
	require.Len(t, all, 3)
	active := 0
	for _, ch := range all {
		if ch.Active(h.clock.Now()) {
			active++
		}
	}
	assert.Equal(t, 1, active)
}

func TestSendOTPRejectsInvalidInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, RunSendOTP(ctx, OTPSendRequest{Email: "nope", Purpose: PurposeRegistration}, h.otpDeps()), errInvalid)
	assert.ErrorIs(t, RunSendOTP(ctx, OTPSendRequest{Email: testEmail, Purpose: "signup"}, h.otpDeps()), errInvalid)
	assert.ErrorIs(t, RunSendOTP(ctx, sendReq(PurposeRegistration), OTPDeps{Errors: OTPErrors{EngineNotReady: errNotReady}}), errNotReady)
}

func TestSendOTPDeliveryFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	h.notifier.fail = errors.New("smtp down")
	err := RunSendOTP(ctx, sendReq(PurposeRegistration), deps)
	require.ErrorIs(t, err, errDelivery)

	all, err := h.otpStore.List(ctx, "t1", testEmail, PurposeRegistration)
	require.NoError(t, err)
	assert.Empty(t, all)

	h.notifier.fail = nil
	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps), "a failed delivery must not block the next send")
}

func TestSendOTPLimiterError(t *testing.T) {
	h := newHarness(t)
	deps := h.otpDeps()
	throttled := errors.New("throttled")
	deps.CheckSendLimit = func(context.Context, string, string, string) error { return throttled }
	deps.MapLimiterError = func(err error) error { return &retryAfterError{seconds: 30} }

	err := RunSendOTP(context.Background(), sendReq(PurposeRegistration), deps)
	var limited *retryAfterError
	require.ErrorAs(t, err, &limited)
	assert.Equal(t, 30, limited.seconds)
	assert.Zero(t, h.notifier.count())
}

func TestVerifyOTPSuccessWritesVerifiedEmailMark(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	code := h.notifier.last(t).Code

	res, err := RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: code, Purpose: PurposeRegistration}, deps)
	require.NoError(t, err)
	assert.True(t, res.ExpiresAt.Equal(h.clock.Now().Add(24*time.Hour)))

	mark, err := h.marks.Get(ctx, "t1", testEmail, PurposeRegistration)
	require.NoError(t, err)
	assert.True(t, mark.Valid(h.clock.Now().Add(23*time.Hour)))
	assert.False(t, mark.Valid(h.clock.Now().Add(24*time.Hour)))

	_, err = RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: code, Purpose: PurposeRegistration}, deps)
	assert.ErrorIs(t, err, errNotFound, "a consumed challenge must not verify twice")
}

func TestVerifyOTPWrongCodesExhaust(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	code := h.notifier.last(t).Code
	bad := OTPVerifyRequest{Email: testEmail, Code: wrongCode(code), Purpose: PurposeRegistration}

	for i := 1; i <= 4; i++ {
		_, err := RunVerifyOTP(ctx, bad, deps)
		var mismatch *remainingError
		require.ErrorAs(t, err, &mismatch, "attempt %d", i)
		assert.Equal(t, 5-i, mismatch.remaining)
	}

	_, err := RunVerifyOTP(ctx, bad, deps)
	require.ErrorIs(t, err, errExhausted)

	_, err = RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: code, Purpose: PurposeRegistration}, deps)
	require.ErrorIs(t, err, errExhausted, "the correct code must not pass once attempts are spent")

	ch, err := h.otpStore.FindLatest(ctx, "t1", testEmail, PurposeRegistration)
	require.NoError(t, err)
	assert.Equal(t, 5, ch.Attempts)
}

func TestVerifyOTPExhaustionCheckedBeforeCompare(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()
	deps.Policy.MaxAttempts = 3

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	code := h.notifier.last(t).Code
	ch, err := h.otpStore.FindLatest(ctx, "t1", testEmail, PurposeRegistration)
	require.NoError(t, err)

	// Attempts recorded under a higher limit, then the limit is lowered.
	for i := 0; i < 3; i++ {
		_, _, err := h.otpStore.IncrementAttempts(ctx, "t1", ch.ID, h.clock.Now(), 10)
		require.NoError(t, err)
	}

	_, err = RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: code, Purpose: PurposeRegistration}, deps)
	require.ErrorIs(t, err, errExhausted)

	ch, err = h.otpStore.FindLatest(ctx, "t1", testEmail, PurposeRegistration)
	require.NoError(t, err)
	assert.True(t, ch.Exhausted)
	assert.True(t, ch.Verified)
}

func TestVerifyOTPExpiredAndMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	_, err := RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: "123456", Purpose: PurposeRegistration}, deps)
	require.ErrorIs(t, err, errNotFound)

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeLogin), deps))
	code := h.notifier.last(t).Code
	h.clock.Advance(10 * time.Minute)

	_, err = RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: code, Purpose: PurposeLogin}, deps)
	require.ErrorIs(t, err, errNotFound)
}

func TestVerifyOTPRejectsMalformedCode(t *testing.T) {
	h := newHarness(t)
	_, err := RunVerifyOTP(context.Background(), OTPVerifyRequest{Email: testEmail, Code: "12ab56", Purpose: PurposeRegistration}, h.otpDeps())
	assert.ErrorIs(t, err, errInvalid)
}

func TestVerifyOTPConcurrentWrongGuessesNeverOvercount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	code := h.notifier.last(t).Code
	bad := OTPVerifyRequest{Email: testEmail, Code: wrongCode(code), Purpose: PurposeRegistration}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = RunVerifyOTP(ctx, bad, deps)
		}()
	}
	wg.Wait()

	ch, err := h.otpStore.FindLatest(ctx, "t1", testEmail, PurposeRegistration)
	require.NoError(t, err)
	assert.Equal(t, 5, ch.Attempts)
	assert.True(t, ch.Exhausted)
}

func TestVerifyOTPConcurrentCorrectCodeSingleWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	req := OTPVerifyRequest{Email: testEmail, Code: h.notifier.last(t).Code, Purpose: PurposeRegistration}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := RunVerifyOTP(ctx, req, deps); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else if !errors.Is(err, errNotFound) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}

func TestResendOTPKeepsPurpose(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposePasswordRecovery), deps))
	h.clock.Advance(5 * time.Second)
	err := RunResendOTP(ctx, testEmail, "Ana", deps)
	require.ErrorIs(t, err, errRateLimited)
	var retry *retryAfterError
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, 55, retry.seconds, "resend honors the remaining resend delay")

	h.clock.Advance(56 * time.Second)
	require.NoError(t, RunResendOTP(ctx, testEmail, "Ana", deps))
	assert.Equal(t, PurposePasswordRecovery, h.notifier.last(t).Purpose)
	assert.Equal(t, 2, h.notifier.count())
}

func TestResendOTPDefaultsToRegistration(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, RunResendOTP(context.Background(), testEmail, "", h.otpDeps()))
	assert.Equal(t, PurposeRegistration, h.notifier.last(t).Purpose)
}

func TestOTPStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	st, err := RunOTPStatus(ctx, testEmail, deps)
	require.NoError(t, err)
	assert.False(t, st.Exists)

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeEmailVerification), deps))
	code := h.notifier.last(t).Code
	_, err = RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: wrongCode(code), Purpose: PurposeEmailVerification}, deps)
	require.ErrorIs(t, err, errMismatch)

	st, err = RunOTPStatus(ctx, testEmail, deps)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, PurposeEmailVerification, st.Purpose)
	assert.False(t, st.Verified)
	assert.Equal(t, 1, st.Attempts)
	assert.Equal(t, 4, st.AttemptsRemaining)

	_, err = RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: code, Purpose: PurposeEmailVerification}, deps)
	require.NoError(t, err)
	st, err = RunOTPStatus(ctx, testEmail, deps)
	require.NoError(t, err)
	assert.True(t, st.Verified)
	assert.Zero(t, st.AttemptsRemaining)
}

func TestInvalidateOTP(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	code := h.notifier.last(t).Code
	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeLogin), deps))

	n, err := RunInvalidateOTP(ctx, testEmail, "", deps)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: code, Purpose: PurposeRegistration}, deps)
	assert.ErrorIs(t, err, errNotFound)

	n, err = RunInvalidateOTP(ctx, testEmail, PurposeRegistration, deps)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCleanupExpiredOTPs(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	n, err := RunCleanupExpiredOTPs(ctx, deps)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(10*time.Minute + 30*time.Second)
	n, err = RunCleanupExpiredOTPs(ctx, deps)
	require.NoError(t, err)
	assert.Zero(t, n, "expired challenges stay for the cleanup grace")

	h.clock.Advance(30 * time.Second)
	n, err = RunCleanupExpiredOTPs(ctx, deps)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestClaimVerifiedEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	ok, err := RunCheckVerifiedEmail(ctx, testEmail, PurposeRegistration, deps)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, RunClaimVerifiedEmail(ctx, testEmail, PurposeRegistration, deps), errNotFound)

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	_, err = RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: h.notifier.last(t).Code, Purpose: PurposeRegistration}, deps)
	require.NoError(t, err)

	ok, err = RunCheckVerifiedEmail(ctx, testEmail, PurposeRegistration, deps)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, RunClaimVerifiedEmail(ctx, testEmail, PurposeRegistration, deps))
	assert.ErrorIs(t, RunClaimVerifiedEmail(ctx, testEmail, PurposeRegistration, deps), errNotFound, "a mark is consumed once")
}

func TestInvalidateVerifiedEmail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	deps := h.otpDeps()

	require.NoError(t, RunSendOTP(ctx, sendReq(PurposeRegistration), deps))
	_, err := RunVerifyOTP(ctx, OTPVerifyRequest{Email: testEmail, Code: h.notifier.last(t).Code, Purpose: PurposeRegistration}, deps)
	require.NoError(t, err)

	require.NoError(t, RunInvalidateVerifiedEmail(ctx, testEmail, nil, deps))
	ok, err := RunCheckVerifiedEmail(ctx, testEmail, PurposeRegistration, deps)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, RunInvalidateVerifiedEmail(ctx, testEmail, []string{"bogus"}, deps), errInvalid)
}

func TestRetryAfterSecondsBounds(t *testing.T) {
	delay := 60 * time.Second
	assert.Equal(t, 60, retryAfterSeconds(delay, 0))
	assert.Equal(t, 60, retryAfterSeconds(delay, -5*time.Second))
	assert.Equal(t, 1, retryAfterSeconds(delay, 59900*time.Millisecond))
	assert.Equal(t, 1, retryAfterSeconds(delay, 2*time.Minute))
	assert.Equal(t, 30, retryAfterSeconds(delay, 30*time.Second))
}

func TestValidEmail(t *testing.T) {
	for _, ok := range []string{"a@x.com", "first.last@sub.example.org"} {
		assert.True(t, ValidEmail(ok), ok)
	}
	for _, bad := range []string{"", "a", "a@", "@x.com", "a@x", "a@@x.com", "a b@x.com", "a@x."} {
		assert.False(t, ValidEmail(bad), bad)
	}
}
