package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/model"
)

const (
	guacamoleAttempts   = 3
	guacamoleRetryDelay = 2 * time.Second
)

// GuacamoleSource builds VDI connection URLs from a Guacamole server's token
// endpoint instead of the haio per-desktop login endpoint.
type GuacamoleSource struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	log        *zap.Logger
	retryDelay time.Duration
}

// NewGuacamoleSource creates a source for the Guacamole instance at baseURL.
func NewGuacamoleSource(baseURL, username, password string, httpClient *http.Client, log *zap.Logger) *GuacamoleSource {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GuacamoleSource{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		username:   username,
		password:   password,
		httpClient: httpClient,
		log:        log,
		retryDelay: guacamoleRetryDelay,
	}
}

type guacamoleTokenResponse struct {
	AuthToken string `json:"authToken"`
}

// RequestVMConnectionURL ignores the haio token and VM id: Guacamole
// authenticates with its own credentials and picks the connection itself.
// Failures are retried up to three attempts, 2s apart; a 401 is final.
func (g *GuacamoleSource) RequestVMConnectionURL(ctx context.Context, _ string, _ model.VMID) (string, error) {
	backoff := retry.WithMaxRetries(guacamoleAttempts-1, retry.NewConstant(g.retryDelay))

	var token string
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		t, err := g.fetchToken(ctx)
		if err == nil {
			token = t
			return nil
		}
		g.log.Warn("guacamole token request failed", zap.Int("attempt", attempt), zap.Error(err))
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return "", fmt.Errorf("guacamole token: %w", err)
	}
	return fmt.Sprintf("%s/#/?token=%s", g.baseURL, url.QueryEscape(token)), nil
}

func (g *GuacamoleSource) fetchToken(ctx context.Context) (string, error) {
	form := url.Values{"username": {g.username}, "password": {g.password}}
	c := &Client{baseURL: g.baseURL, httpClient: g.httpClient, log: g.log}
	status, body, err := c.do(ctx, http.MethodPost, "/api/tokens", "", form)
	if err != nil {
		return "", err
	}
	if !is2xx(status) {
		return "", statusError(status, body)
	}
	var resp guacamoleTokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if resp.AuthToken == "" {
		return "", fmt.Errorf("%w: empty authToken", ErrMalformed)
	}
	return resp.AuthToken, nil
}
