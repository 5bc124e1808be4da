package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// BuildMode selects whether debug-only paths (the login bypass) are reachable.
type BuildMode int

const (
	BuildModeProduction BuildMode = iota
	BuildModeDebug
)

func (m BuildMode) String() string {
	if m == BuildModeDebug {
		return "debug"
	}
	return "production"
}

// ParseBuildMode accepts "production" (or empty) and "debug".
func ParseBuildMode(s string) (BuildMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "production", "prod":
		return BuildModeProduction, nil
	case "debug", "dev":
		return BuildModeDebug, nil
	default:
		return BuildModeProduction, fmt.Errorf("unknown build mode %q", s)
	}
}

const (
	DefaultAPIBaseURL = "https://api.haio.ir/v1"

	CooldownPolicyTiered = "tiered"
	CooldownPolicyFixed  = "fixed"

	VDIBackendHaio      = "haio"
	VDIBackendGuacamole = "guacamole"
)

// Config holds the client configuration
type Config struct {
	APIBaseURL       string
	BuildMode        BuildMode
	DebugAccessToken string
	OTPLength        int
	CooldownPolicy   string
	HTTPTimeout      time.Duration
	SessionRoot      string
	BrowserPath      string
	VDIBackend       string
	Guacamole        GuacamoleConfig
	LogEnv           string
}

// GuacamoleConfig configures the token-based VDI backend.
type GuacamoleConfig struct {
	BaseURL  string
	Username string
	Password string
}

// Load reads the client configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:     DefaultAPIBaseURL,
		OTPLength:      6,
		CooldownPolicy: CooldownPolicyTiered,
		HTTPTimeout:    15 * time.Second,
		SessionRoot:    os.TempDir(),
		VDIBackend:     VDIBackendHaio,
		LogEnv:         "production",
	}

	if v := strings.TrimSpace(os.Getenv("KOLBEH_API_BASE_URL")); v != "" {
		cfg.APIBaseURL = strings.TrimRight(v, "/")
	}
	if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid KOLBEH_API_BASE_URL: %w", err)
	}

	mode, err := ParseBuildMode(os.Getenv("KOLBEH_BUILD_MODE"))
	if err != nil {
		return nil, fmt.Errorf("KOLBEH_BUILD_MODE: %w", err)
	}
	cfg.BuildMode = mode
	cfg.DebugAccessToken = strings.TrimSpace(os.Getenv("KOLBEH_DEBUG_ACCESS_TOKEN"))
	if cfg.DebugAccessToken != "" && cfg.BuildMode != BuildModeDebug {
		return nil, fmt.Errorf("KOLBEH_DEBUG_ACCESS_TOKEN requires KOLBEH_BUILD_MODE=debug")
	}

	// OTP_LENGTH: the target API uses one length, never both
	if v := os.Getenv("OTP_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n != 4 && n != 6) {
			return nil, fmt.Errorf("OTP_LENGTH must be 4 or 6, got %q", v)
		}
		cfg.OTPLength = n
	}

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("OTP_COOLDOWN_POLICY"))); v != "" {
		if v != CooldownPolicyTiered && v != CooldownPolicyFixed {
			return nil, fmt.Errorf("OTP_COOLDOWN_POLICY must be %q or %q, got %q", CooldownPolicyTiered, CooldownPolicyFixed, v)
		}
		cfg.CooldownPolicy = v
	}

	if v := os.Getenv("HTTP_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid HTTP_TIMEOUT %q", v)
		}
		cfg.HTTPTimeout = d
	}

	if v := strings.TrimSpace(os.Getenv("KOLBEH_SESSION_ROOT")); v != "" {
		abs, err := filepath.Abs(v)
		if err != nil {
			return nil, fmt.Errorf("KOLBEH_SESSION_ROOT: %w", err)
		}
		cfg.SessionRoot = abs
	}
	cfg.BrowserPath = strings.TrimSpace(os.Getenv("KOLBEH_BROWSER_PATH"))

	if v := strings.ToLower(strings.TrimSpace(os.Getenv("VDI_BACKEND"))); v != "" {
		cfg.VDIBackend = v
	}
	switch cfg.VDIBackend {
	case VDIBackendHaio:
	case VDIBackendGuacamole:
		cfg.Guacamole = GuacamoleConfig{
			BaseURL:  strings.TrimRight(strings.TrimSpace(os.Getenv("GUACAMOLE_URL")), "/"),
			Username: os.Getenv("GUACAMOLE_USERNAME"),
			Password: os.Getenv("GUACAMOLE_PASSWORD"),
		}
		if cfg.Guacamole.BaseURL == "" {
			return nil, fmt.Errorf("GUACAMOLE_URL is required when VDI_BACKEND=guacamole")
		}
	default:
		return nil, fmt.Errorf("unknown VDI_BACKEND %q", cfg.VDIBackend)
	}

	if v := strings.TrimSpace(os.Getenv("LOG_ENV")); v != "" {
		cfg.LogEnv = v
	}

	return cfg, nil
}

// DevAPIConfig holds the configuration of the local stand-in API server
type DevAPIConfig struct {
	DatabaseURL string
	Port        string
	JWTSecret   string
	OTPSalt     string
	OTPLength   int
	DevMode     bool
	SeedFile    string
	LogEnv      string
}

// LoadDevAPI reads the stand-in server configuration from environment variables
func LoadDevAPI() (*DevAPIConfig, error) {
	cfg := &DevAPIConfig{
		Port:      "8080",
		OTPLength: 6,
		LogEnv:    "development",
	}

	// DATABASE_URL is optional; without it the server keeps state in memory
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if port := os.Getenv("PORT"); port != "" {
		cfg.Port = port
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	cfg.JWTSecret = jwtSecret

	otpSalt := os.Getenv("OTP_SALT")
	if otpSalt == "" {
		return nil, fmt.Errorf("OTP_SALT environment variable is required")
	}
	cfg.OTPSalt = otpSalt

	if v := os.Getenv("OTP_LENGTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || (n != 4 && n != 6) {
			return nil, fmt.Errorf("OTP_LENGTH must be 4 or 6, got %q", v)
		}
		cfg.OTPLength = n
	}

	cfg.DevMode = os.Getenv("OTP_DEV_MODE") == "true"
	cfg.SeedFile = strings.TrimSpace(os.Getenv("DEVAPI_SEED"))

	if v := strings.TrimSpace(os.Getenv("LOG_ENV")); v != "" {
		cfg.LogEnv = v
	}

	return cfg, nil
}
