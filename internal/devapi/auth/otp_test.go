package auth

import (
	"context"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolbeh/desktop/internal/devapi/repo"
)

type captureSender struct {
	mu    sync.Mutex
	codes map[string]string
}

func (s *captureSender) SendCode(_ context.Context, phone, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes == nil {
		s.codes = make(map[string]string)
	}
	s.codes[phone] = code
	return nil
}

func (s *captureSender) code(phone string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.codes[phone]
}

func newTestOtp(length int, devMode bool) (*OtpService, *captureSender) {
	sender := &captureSender{}
	svc := NewOtpService(repo.NewMemory().OTP, sender, "test-salt", length, devMode)
	svc.attemptDelay = 0
	return svc, sender
}

func TestHashOTPHex_consistency(t *testing.T) {
	h1 := hashOTPHex("09120000000", "123456", "test-salt")
	h2 := hashOTPHex("09120000000", "123456", "test-salt")
	assert.Equal(t, h1, h2)

	decoded, err := hex.DecodeString(h1)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}

func TestHashOTPHex_differentInputsDifferentHash(t *testing.T) {
	h1 := hashOTPHex("09120000000", "123456", "salt")
	h2 := hashOTPHex("09120000001", "123456", "salt")
	h3 := hashOTPHex("09120000000", "654321", "salt")
	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.NotEqual(t, h2, h3)
}

func TestGenerateOTPCode(t *testing.T) {
	for _, n := range []int{4, 6} {
		for i := 0; i < 50; i++ {
			code, err := generateOTPCode(n)
			require.NoError(t, err)
			require.Len(t, code, n)
			assert.NotEqual(t, byte('0'), code[0])
		}
	}
}

func TestRequestAndVerify(t *testing.T) {
	ctx := context.Background()
	svc, sender := newTestOtp(6, false)
	phone := "09120000000"

	require.NoError(t, svc.RequestOTP(ctx, phone, "127.0.0.1", "test"))
	code := sender.code(phone)
	require.Len(t, code, 6)

	assert.ErrorIs(t, svc.VerifyOTP(ctx, phone, "000000"), ErrInvalidOTP)
	require.NoError(t, svc.VerifyOTP(ctx, phone, code))
	assert.ErrorIs(t, svc.VerifyOTP(ctx, phone, code), ErrInvalidOTP, "session is consumed")
}

func TestDevModeUsesFixedCode(t *testing.T) {
	ctx := context.Background()
	svc, sender := newTestOtp(4, true)

	require.NoError(t, svc.RequestOTP(ctx, "09120000000", "", ""))
	assert.Empty(t, sender.code("09120000000"), "dev mode sends nothing")
	assert.Equal(t, "1234", svc.DevCode())
	require.NoError(t, svc.VerifyOTP(ctx, "09120000000", "1234"))
}

func TestRequestRateLimited(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestOtp(6, true)

	for i := 0; i < maxRequestsPerWindow; i++ {
		require.NoError(t, svc.RequestOTP(ctx, "09120000000", "", ""))
	}
	assert.ErrorIs(t, svc.RequestOTP(ctx, "09120000000", "", ""), ErrRateLimited)
	assert.NoError(t, svc.RequestOTP(ctx, "09121111111", "", ""), "limit is per phone")
}

func TestVerifyAttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestOtp(6, true)
	require.NoError(t, svc.RequestOTP(ctx, "09120000000", "", ""))

	for i := 0; i < repo.DefaultMaxOTPAttempts; i++ {
		assert.ErrorIs(t, svc.VerifyOTP(ctx, "09120000000", "999999"), ErrInvalidOTP)
	}
	assert.ErrorIs(t, svc.VerifyOTP(ctx, "09120000000", svc.DevCode()), ErrInvalidOTP)
}

func TestVerifyLastAttemptCanSucceed(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestOtp(6, true)
	require.NoError(t, svc.RequestOTP(ctx, "09120000000", "", ""))

	for i := 1; i < repo.DefaultMaxOTPAttempts; i++ {
		assert.ErrorIs(t, svc.VerifyOTP(ctx, "09120000000", "999999"), ErrInvalidOTP)
	}
	assert.NoError(t, svc.VerifyOTP(ctx, "09120000000", svc.DevCode()))
	assert.ErrorIs(t, svc.VerifyOTP(ctx, "09120000000", svc.DevCode()), ErrInvalidOTP, "consumed")
}

func TestVerifyTooFast(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestOtp(6, true)
	svc.attemptDelay = minAttemptDelay
	require.NoError(t, svc.RequestOTP(ctx, "09120000000", "", ""))

	assert.ErrorIs(t, svc.VerifyOTP(ctx, "09120000000", "999999"), ErrInvalidOTP)
	assert.ErrorIs(t, svc.VerifyOTP(ctx, "09120000000", svc.DevCode()), ErrTooManyAttempts)
}

func TestVerifyWithoutSession(t *testing.T) {
	svc, _ := newTestOtp(6, false)
	assert.ErrorIs(t, svc.VerifyOTP(context.Background(), "09120000000", "123456"), ErrInvalidOTP)
}
