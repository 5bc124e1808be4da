package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/devapi/repo"
	"github.com/kolbeh/desktop/internal/logger"
)

const (
	otpExpiry            = 5 * time.Minute
	minAttemptDelay      = 2 * time.Second
	requestWindow        = 10 * time.Minute
	maxRequestsPerWindow = 3
)

// devCode is the fixed code accepted in dev mode, cut to the configured length.
const devCode = "123456"

var (
	ErrRateLimited     = errors.New("too many otp requests")
	ErrInvalidOTP      = errors.New("invalid or expired otp")
	ErrTooManyAttempts = errors.New("too many attempts, try again later")
)

// CodeSender delivers a freshly generated code to the phone.
type CodeSender interface {
	SendCode(ctx context.Context, phone, code string) error
}

// LogSender stands in for an SMS gateway by writing the code to the log.
type LogSender struct {
	Log *zap.Logger
}

// SendCode logs the code at info level.
func (s LogSender) SendCode(_ context.Context, phone, code string) error {
	s.Log.Info("otp code issued", logger.Phone(phone), zap.String("code", code))
	return nil
}

// OtpService implements OTP issue and verification on top of an OtpRepo.
// Only a salted SHA-256 of each code is stored.
type OtpService struct {
	otpRepo      repo.OtpRepo
	sender       CodeSender
	salt         string
	length       int
	devMode      bool
	now          func() time.Time
	attemptDelay time.Duration
}

// NewOtpService creates an OTP service issuing codes of length digits. In dev
// mode every session accepts the fixed development code and nothing is sent.
func NewOtpService(otpRepo repo.OtpRepo, sender CodeSender, salt string, length int, devMode bool) *OtpService {
	if length <= 0 || length > len(devCode) {
		length = len(devCode)
	}
	return &OtpService{
		otpRepo:      otpRepo,
		sender:       sender,
		salt:         salt,
		length:       length,
		devMode:      devMode,
		now:          time.Now,
		attemptDelay: minAttemptDelay,
	}
}

// Length returns the number of digits in issued codes.
func (p *OtpService) Length() int { return p.length }

// DevMode reports whether the fixed development code is in use.
func (p *OtpService) DevMode() bool { return p.devMode }

// DevCode returns the code accepted in dev mode.
func (p *OtpService) DevCode() string { return devCode[:p.length] }

// RequestOTP creates or replaces the phone's OTP session. At most
// maxRequestsPerWindow sessions are created per phone per requestWindow.
func (p *OtpService) RequestOTP(ctx context.Context, phone, ip, userAgent string) error {
	count, err := p.otpRepo.CountRecentRequests(ctx, phone, p.now().Add(-requestWindow))
	if err != nil {
		return fmt.Errorf("rate limit check: %w", err)
	}
	if count >= maxRequestsPerWindow {
		return fmt.Errorf("%w: max %d per %v", ErrRateLimited, maxRequestsPerWindow, requestWindow)
	}

	code := p.DevCode()
	if !p.devMode {
		if code, err = generateOTPCode(p.length); err != nil {
			return fmt.Errorf("generate code: %w", err)
		}
	}

	var requestIP, ua *string
	if ip != "" {
		requestIP = &ip
	}
	if userAgent != "" {
		ua = &userAgent
	}
	expiresAt := p.now().Add(otpExpiry)
	if _, err := p.otpRepo.CreateOrReplaceSession(ctx, phone, hashOTPHex(phone, code, p.salt), expiresAt, requestIP, ua); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	if p.devMode {
		return nil
	}
	if err := p.sender.SendCode(ctx, phone, code); err != nil {
		return fmt.Errorf("send code: %w", err)
	}
	return nil
}

// VerifyOTP checks code against the active session: attempts are spaced, the
// hash is compared in constant time and the session is consumed on success.
func (p *OtpService) VerifyOTP(ctx context.Context, phone, code string) error {
	session, err := p.otpRepo.GetActiveSessionByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrInvalidOTP
		}
		return fmt.Errorf("load session: %w", err)
	}

	if session.LastAttemptAt != nil && p.now().Sub(*session.LastAttemptAt) < p.attemptDelay {
		return ErrTooManyAttempts
	}

	// The repo closes the session on the attempt that reaches its limit.
	if _, err := p.otpRepo.IncrementAttempt(ctx, session.ID); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	if subtle.ConstantTimeCompare(hashOTPBytes(phone, code, p.salt), session.OTPHash) != 1 {
		return ErrInvalidOTP
	}

	if err := p.otpRepo.MarkConsumed(ctx, session.ID); err != nil {
		return fmt.Errorf("consume session: %w", err)
	}
	return nil
}

// generateOTPCode returns a uniformly random code of n digits with no
// leading zero.
func generateOTPCode(n int) (string, error) {
	lo := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n-1)), nil)
	span := new(big.Int).Sub(new(big.Int).Mul(lo, big.NewInt(10)), lo)
	v, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", err
	}
	return v.Add(v, lo).String(), nil
}

// hashOTPHex returns SHA-256(phone:code:salt) as hex for storage
func hashOTPHex(phone, code, salt string) string {
	return hex.EncodeToString(hashOTPBytes(phone, code, salt))
}

func hashOTPBytes(phone, code, salt string) []byte {
	hash := sha256.Sum256([]byte(phone + ":" + code + ":" + salt))
	return hash[:]
}
