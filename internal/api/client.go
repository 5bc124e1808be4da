// Package api is the HTTP client for the haio cloud API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/logger"
	"github.com/kolbeh/desktop/internal/model"
)

const (
	userAgent    = "kolbeh-desktop/1.0"
	maxBodyBytes = 1 << 20
)

// Client talks to the haio REST API. All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// NewClient creates a client for baseURL (e.g. https://api.haio.ir/v1).
func NewClient(baseURL string, httpClient *http.Client, log *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: httpClient,
		log:        log,
	}
}

// envelope is the wrapper every endpoint responds with.
type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Params  T      `json:"params"`
}

type verifyParams struct {
	Data struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	} `json:"data"`
}

type vmListParams struct {
	Data []vmWire `json:"data"`
}

type vmWire struct {
	ID          model.VMID `json:"id"`
	Title       string     `json:"title"`
	CPU         int        `json:"cpu"`
	RAM         int        `json:"ram"`
	Storage     int        `json:"storage"`
	Status      string     `json:"status"`
	StatusTitle string     `json:"status_title"`
	Image       struct {
		Title string `json:"title"`
	} `json:"image"`
	Plan struct {
		Title string `json:"title"`
	} `json:"plan"`
	Country struct {
		Name string `json:"name"`
	} `json:"country"`
}

type connectionParams struct {
	VDIURL string `json:"vdi_url"`
}

// VerifyResult is the outcome of an OTP verification.
type VerifyResult struct {
	Success bool
	Tokens  model.Tokens
	Message string
}

// RequestOTP asks the API to text an OTP to phone. It returns true iff the
// server answered 2xx; every failure is logged and reported as false.
func (c *Client) RequestOTP(ctx context.Context, phone string) bool {
	form := url.Values{"mobile": {phone}}
	status, body, err := c.do(ctx, http.MethodPost, "/user/otp/login", "", form)
	if err != nil {
		c.log.Warn("request otp failed", logger.Phone(phone), zap.Error(err))
		return false
	}
	if !is2xx(status) {
		c.log.Warn("request otp rejected", logger.Phone(phone), zap.Error(statusError(status, body)))
		return false
	}
	return true
}

// VerifyOTP submits code for phone. Success requires a 2xx status, status=true
// in the envelope and a non-empty access token.
func (c *Client) VerifyOTP(ctx context.Context, phone, code string) VerifyResult {
	form := url.Values{"mobile": {phone}, "otp_code": {code}}
	status, body, err := c.do(ctx, http.MethodPost, "/user/otp/login/verify", "", form)
	if err != nil {
		c.log.Warn("verify otp failed", logger.Phone(phone), zap.Error(err))
		return VerifyResult{Message: Message(err)}
	}
	if !is2xx(status) {
		err := statusError(status, body)
		c.log.Warn("verify otp rejected", logger.Phone(phone), zap.Error(err))
		return VerifyResult{Message: serverMessage(body)}
	}

	var env envelope[verifyParams]
	if err := json.Unmarshal(body, &env); err != nil {
		c.log.Warn("verify otp: decode response", logger.Phone(phone), zap.Error(err))
		return VerifyResult{Message: Message(ErrMalformed)}
	}
	data := env.Params.Data
	if !env.Status || data.AccessToken == "" {
		return VerifyResult{Message: env.Message}
	}
	return VerifyResult{
		Success: true,
		Tokens: model.Tokens{
			AccessToken:  data.AccessToken,
			RefreshToken: data.RefreshToken,
			TokenType:    data.TokenType,
		},
	}
}

// FetchVMList returns the desktops of the signed-in account. A missing or
// empty data array yields an empty list.
func (c *Client) FetchVMList(ctx context.Context, accessToken string) ([]model.VirtualMachine, error) {
	var env envelope[vmListParams]
	if err := c.getJSON(ctx, "/cloud/desktop", accessToken, &env); err != nil {
		return nil, fmt.Errorf("fetch vm list: %w", err)
	}
	vms := make([]model.VirtualMachine, 0, len(env.Params.Data))
	for _, w := range env.Params.Data {
		vms = append(vms, w.toModel())
	}
	return vms, nil
}

// FetchUserInfo returns the account holder's name and balances.
func (c *Client) FetchUserInfo(ctx context.Context, accessToken string) (model.UserInfo, error) {
	var env envelope[model.UserInfo]
	if err := c.getJSON(ctx, "/user/info", accessToken, &env); err != nil {
		return model.UserInfo{}, fmt.Errorf("fetch user info: %w", err)
	}
	return env.Params, nil
}

// RequestVMConnectionURL returns the one-time VDI URL for vmID.
func (c *Client) RequestVMConnectionURL(ctx context.Context, accessToken string, vmID model.VMID) (string, error) {
	var env envelope[connectionParams]
	path := "/cloud/desktop/" + url.PathEscape(string(vmID)) + "/login"
	if err := c.getJSON(ctx, path, accessToken, &env); err != nil {
		return "", fmt.Errorf("request connection url: %w", err)
	}
	u := strings.TrimSpace(env.Params.VDIURL)
	if u == "" {
		return "", fmt.Errorf("request connection url: %w: empty vdi_url", ErrMalformed)
	}
	return u, nil
}

func (c *Client) getJSON(ctx context.Context, path, accessToken string, out any) error {
	status, body, err := c.do(ctx, http.MethodGet, path, accessToken, nil)
	if err != nil {
		return err
	}
	if !is2xx(status) {
		return statusError(status, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	return nil
}

// do performs one request. A non-nil error is always ErrNetwork; HTTP status
// handling is left to the caller.
func (c *Client) do(ctx context.Context, method, path, accessToken string, form url.Values) (int, []byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: create request: %w", ErrNetwork, err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read response: %w", ErrNetwork, err)
	}
	return resp.StatusCode, payload, nil
}

func (w vmWire) toModel() model.VirtualMachine {
	return model.VirtualMachine{
		ID:           w.ID,
		Title:        w.Title,
		CPUCores:     w.CPU,
		RAMGB:        w.RAM,
		StorageGB:    w.Storage,
		OSImageTitle: w.Image.Title,
		PlanTitle:    w.Plan.Title,
		CountryName:  w.Country.Name,
		StatusTitle:  w.StatusTitle,
		Status:       parseOnline(w.Status, w.StatusTitle),
	}
}

func parseOnline(values ...string) model.OnlineStatus {
	for _, v := range values {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "online", "on", "running", "active":
			return model.Online
		}
	}
	return model.Offline
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

// serverMessage pulls the "message" field out of an error body, if any.
func serverMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	return strings.TrimSpace(env.Message)
}
