package devapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kolbeh/desktop/internal/devapi/model"
	"github.com/kolbeh/desktop/internal/devapi/repo"
)

type response struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Params  json.RawMessage `json:"params"`
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	stores := repo.NewMemory()
	ctx := context.Background()
	_, err := stores.Users.UpsertProfile(ctx, model.User{PhoneNumber: "09120000000", FirstName: "Sara", LastName: "Ahmadi", Balance: 1250, PointBalance: 3})
	require.NoError(t, err)
	require.NoError(t, stores.Desktops.Upsert(ctx, model.Desktop{
		ID: "vm-1", OwnerPhone: "09120000000", Title: "Office", CPU: 4, RAM: 8, Storage: 100,
		Status: "running", StatusTitle: "Running", ImageTitle: "Windows 10", PlanTitle: "Standard",
		CountryName: "Iran", VDIURL: "https://vdi.example/vm-1",
	}))
	require.NoError(t, stores.Desktops.Upsert(ctx, model.Desktop{ID: "vm-2", OwnerPhone: "09121111111", VDIURL: "https://vdi.example/vm-2"}))

	app := New(stores, Options{JWTSecret: "secret", OTPSalt: "salt", OTPLength: 6, DevMode: true}, zap.NewNop())
	t.Cleanup(app.Close)
	return app
}

func do(t *testing.T, h http.Handler, method, path, token string, form url.Values) (int, response) {
	t.Helper()
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp response
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec.Code, resp
}

func login(t *testing.T, h http.Handler, phone string) string {
	t.Helper()
	status, _ := do(t, h, http.MethodPost, "/v1/user/otp/login", "", url.Values{"mobile": {phone}})
	require.Equal(t, http.StatusOK, status)

	status, resp := do(t, h, http.MethodPost, "/v1/user/otp/login/verify", "", url.Values{"mobile": {phone}, "otp_code": {"123456"}})
	require.Equal(t, http.StatusOK, status)
	var params struct {
		Data struct {
			AccessToken string `json:"access_token"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(resp.Params, &params))
	require.NotEmpty(t, params.Data.AccessToken)
	return params.Data.AccessToken
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	app := newTestApp(t)
	app.Handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := httptest.NewRecorder()
	app.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `devapi_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestRequestOTP(t *testing.T) {
	app := newTestApp(t)

	status, resp := do(t, app.Handler, http.MethodPost, "/v1/user/otp/login", "", url.Values{"mobile": {"0912"}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.False(t, resp.Status)

	status, resp = do(t, app.Handler, http.MethodPost, "/v1/user/otp/login", "", url.Values{"mobile": {"09120000000"}})
	require.Equal(t, http.StatusOK, status)
	assert.True(t, resp.Status)
	assert.JSONEq(t, `{"dev_otp":"123456"}`, string(resp.Params))
}

func TestRequestOTPPerPhoneLimit(t *testing.T) {
	app := newTestApp(t)
	form := url.Values{"mobile": {"09120000000"}}
	for i := 0; i < 3; i++ {
		status, _ := do(t, app.Handler, http.MethodPost, "/v1/user/otp/login", "", form)
		require.Equal(t, http.StatusOK, status)
	}
	status, _ := do(t, app.Handler, http.MethodPost, "/v1/user/otp/login", "", form)
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestRequestOTPPerIPLimit(t *testing.T) {
	app := newTestApp(t)
	for i := 0; i < 10; i++ {
		status, _ := do(t, app.Handler, http.MethodPost, "/v1/user/otp/login", "", url.Values{"mobile": {fmt.Sprintf("0912000%04d", i)}})
		require.Equal(t, http.StatusOK, status)
	}
	status, _ := do(t, app.Handler, http.MethodPost, "/v1/user/otp/login", "", url.Values{"mobile": {"09129999999"}})
	assert.Equal(t, http.StatusTooManyRequests, status)
}

func TestVerifyOTP(t *testing.T) {
	app := newTestApp(t)
	status, _ := do(t, app.Handler, http.MethodPost, "/v1/user/otp/login", "", url.Values{"mobile": {"09120000000"}})
	require.Equal(t, http.StatusOK, status)

	status, _ = do(t, app.Handler, http.MethodPost, "/v1/user/otp/login/verify", "", url.Values{"mobile": {"09120000000"}, "otp_code": {"12"}})
	assert.Equal(t, http.StatusUnprocessableEntity, status, "wrong length")

	status, resp := do(t, app.Handler, http.MethodPost, "/v1/user/otp/login/verify", "", url.Values{"mobile": {"09120000000"}, "otp_code": {"654321"}})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.False(t, resp.Status)
}

func TestVerifyOTPIssuesTokens(t *testing.T) {
	app := newTestApp(t)
	token := login(t, app.Handler, "09120000000")

	claims, err := app.JWT.VerifyToken(token)
	require.NoError(t, err)
	assert.Equal(t, "09120000000", claims.PhoneNumber)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	app := newTestApp(t)
	for _, path := range []string{"/v1/user/info", "/v1/cloud/desktop", "/v1/cloud/desktop/vm-1/login"} {
		status, resp := do(t, app.Handler, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
		assert.False(t, resp.Status, path)
	}
}

func TestUserInfo(t *testing.T) {
	app := newTestApp(t)
	token := login(t, app.Handler, "09120000000")

	status, resp := do(t, app.Handler, http.MethodGet, "/v1/user/info", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"first_name":"Sara","last_name":"Ahmadi","balance":1250,"point_balance":3}`, string(resp.Params))
}

func TestDesktopList(t *testing.T) {
	app := newTestApp(t)
	token := login(t, app.Handler, "09120000000")

	status, resp := do(t, app.Handler, http.MethodGet, "/v1/cloud/desktop", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"data":[{
		"id":"vm-1","title":"Office","cpu":4,"ram":8,"storage":100,
		"status":"running","status_title":"Running",
		"image":{"title":"Windows 10"},"plan":{"title":"Standard"},"country":{"name":"Iran"}
	}]}`, string(resp.Params))

	other := login(t, app.Handler, "09123333333")
	status, resp = do(t, app.Handler, http.MethodGet, "/v1/cloud/desktop", other, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"data":[]}`, string(resp.Params))
}

func TestDesktopLogin(t *testing.T) {
	app := newTestApp(t)
	token := login(t, app.Handler, "09120000000")

	status, resp := do(t, app.Handler, http.MethodGet, "/v1/cloud/desktop/vm-1/login", token, nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"vdi_url":"https://vdi.example/vm-1"}`, string(resp.Params))

	status, _ = do(t, app.Handler, http.MethodGet, "/v1/cloud/desktop/vm-2/login", token, nil)
	assert.Equal(t, http.StatusNotFound, status, "another owner's desktop")

	status, _ = do(t, app.Handler, http.MethodGet, "/v1/cloud/desktop/missing/login", token, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
