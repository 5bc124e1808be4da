package auth

import (
	"context"
	"fmt"

	"github.com/kolbeh/desktop/internal/devapi/model"
	"github.com/kolbeh/desktop/internal/devapi/repo"
)

// TokenTypeBearer is the token_type reported with issued tokens.
const TokenTypeBearer = "Bearer"

// TokenPair is what a successful login hands back to the client.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
}

// AuthService orchestrates authentication operations
type AuthService struct {
	otp   *OtpService
	jwt   *JWTService
	users repo.UserRepo
}

// NewAuthService creates a new auth service
func NewAuthService(otp *OtpService, jwt *JWTService, users repo.UserRepo) *AuthService {
	return &AuthService{otp: otp, jwt: jwt, users: users}
}

// VerifyOTPAndIssueTokens verifies the code, gets or creates the user and
// signs an access token for it.
func (s *AuthService) VerifyOTPAndIssueTokens(ctx context.Context, phone, code string) (model.User, TokenPair, error) {
	if err := s.otp.VerifyOTP(ctx, phone, code); err != nil {
		return model.User{}, TokenPair{}, fmt.Errorf("otp verification: %w", err)
	}

	user, err := s.users.GetOrCreateByPhone(ctx, phone)
	if err != nil {
		return model.User{}, TokenPair{}, fmt.Errorf("get or create user: %w", err)
	}

	access, err := s.jwt.SignAccessToken(user.ID, user.PhoneNumber)
	if err != nil {
		return model.User{}, TokenPair{}, err
	}
	refresh, err := GenerateRefreshToken()
	if err != nil {
		return model.User{}, TokenPair{}, fmt.Errorf("generate refresh token: %w", err)
	}
	return user, TokenPair{AccessToken: access, RefreshToken: refresh, TokenType: TokenTypeBearer}, nil
}
