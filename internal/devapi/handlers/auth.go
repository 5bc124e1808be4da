package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/devapi/auth"
	"github.com/kolbeh/desktop/internal/devapi/middleware"
	"github.com/kolbeh/desktop/internal/logger"
	kmodel "github.com/kolbeh/desktop/internal/model"
)

// OtpIssuer is the part of the OTP service the request endpoint needs.
type OtpIssuer interface {
	RequestOTP(ctx context.Context, phone, ip, userAgent string) error
	Length() int
	DevMode() bool
	DevCode() string
}

// AuthHandler handles the OTP login endpoints
type AuthHandler struct {
	authService     *auth.AuthService
	otp             OtpIssuer
	log             *zap.Logger
	ipLimiter       *middleware.RateLimiter
	verifyIPLimiter *middleware.RateLimiter
}

// NewAuthHandler creates the handler. Requests are limited per IP to 10 per
// 10 minutes and verifications to 20; the per-phone limit lives in the OTP service.
func NewAuthHandler(authService *auth.AuthService, otp OtpIssuer, log *zap.Logger) *AuthHandler {
	return &AuthHandler{
		authService:     authService,
		otp:             otp,
		log:             log,
		ipLimiter:       middleware.NewRateLimiter(10*time.Minute, 10),
		verifyIPLimiter: middleware.NewRateLimiter(10*time.Minute, 20),
	}
}

// Close stops the handler's rate limiters.
func (h *AuthHandler) Close() {
	h.ipLimiter.Close()
	h.verifyIPLimiter.Close()
}

type requestOTPParams struct {
	DevOTP string `json:"dev_otp,omitempty"`
}

type tokenData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// HandleRequestOTP handles POST /user/otp/login with form field mobile.
func (h *AuthHandler) HandleRequestOTP(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.PostFormValue("mobile"))
	if !kmodel.ValidPhone(phone) {
		respondWithError(w, h.log, http.StatusUnprocessableEntity, "mobile must be an 11-digit number")
		return
	}

	if !h.ipLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, h.log, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	err := h.otp.RequestOTP(r.Context(), phone, middleware.ClientIP(r), r.UserAgent())
	if err != nil {
		h.log.Warn("failed to request otp", logger.Phone(phone), zap.Error(err))
		if errors.Is(err, auth.ErrRateLimited) {
			respondWithError(w, h.log, http.StatusTooManyRequests, "too many requests for this number, try again later")
			return
		}
		respondWithError(w, h.log, http.StatusInternalServerError, "failed to send otp")
		return
	}

	var params requestOTPParams
	if h.otp.DevMode() {
		params.DevOTP = h.otp.DevCode()
	}
	respondOK(w, h.log, "otp_sent", params)
}

// HandleVerifyOTP handles POST /user/otp/login/verify with form fields mobile and otp_code.
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	phone := strings.TrimSpace(r.PostFormValue("mobile"))
	code := strings.TrimSpace(r.PostFormValue("otp_code"))
	if !kmodel.ValidPhone(phone) || !kmodel.ValidOTP(code, h.otp.Length()) {
		respondWithError(w, h.log, http.StatusUnprocessableEntity, "mobile and otp_code are required")
		return
	}

	if !h.verifyIPLimiter.Allow(middleware.GetIPKey(r)) {
		respondWithError(w, h.log, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	user, tokens, err := h.authService.VerifyOTPAndIssueTokens(r.Context(), phone, code)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrTooManyAttempts):
		respondWithError(w, h.log, http.StatusTooManyRequests, "too many attempts, try again later")
		return
	case errors.Is(err, auth.ErrInvalidOTP):
		respondWithError(w, h.log, http.StatusBadRequest, "invalid or expired otp")
		return
	default:
		h.log.Error("otp verification failed", logger.Phone(phone), zap.Error(err))
		respondWithError(w, h.log, http.StatusInternalServerError, "verification failed")
		return
	}

	h.log.Info("user signed in", logger.Phone(phone), zap.String("user_id", user.ID.String()))
	respondOK(w, h.log, "login_success", dataParams[tokenData]{Data: tokenData{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    tokens.TokenType,
	}})
}
