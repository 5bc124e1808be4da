package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolbeh/desktop/internal/model"
)

const testPhone = "09121234567"

func newTestServer(t *testing.T, setup func(r chi.Router)) *Client {
	t.Helper()
	r := chi.NewRouter()
	setup(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", srv.Client(), nil)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestRequestOTP(t *testing.T) {
	var gotMobile, gotContentType string
	c := newTestServer(t, func(r chi.Router) {
		r.Post("/user/otp/login", func(w http.ResponseWriter, r *http.Request) {
			gotContentType = r.Header.Get("Content-Type")
			gotMobile = r.FormValue("mobile")
			writeJSON(w, http.StatusOK, `{"status":true}`)
		})
	})

	assert.True(t, c.RequestOTP(context.Background(), testPhone))
	assert.Equal(t, testPhone, gotMobile)
	assert.Equal(t, "application/x-www-form-urlencoded", gotContentType)
}

func TestRequestOTP_failuresAreFalse(t *testing.T) {
	c := newTestServer(t, func(r chi.Router) {
		r.Post("/user/otp/login", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, `{"status":false,"message":"slow down"}`)
		})
	})
	assert.False(t, c.RequestOTP(context.Background(), testPhone))

	unreachable := NewClient("http://127.0.0.1:1", &http.Client{Timeout: time.Second}, nil)
	assert.False(t, unreachable.RequestOTP(context.Background(), testPhone))
}

func TestVerifyOTP(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		success bool
		access  string
		refresh string
	}{
		{"success", 200, `{"status":true,"params":{"data":{"access_token":"T","refresh_token":"R"}}}`, true, "T", "R"},
		{"token type instead of refresh", 200, `{"status":true,"params":{"data":{"access_token":"T","token_type":"Bearer"}}}`, true, "T", ""},
		{"status false", 200, `{"status":false,"message":"wrong code"}`, false, "", ""},
		{"empty token", 200, `{"status":true,"params":{"data":{"access_token":""}}}`, false, "", ""},
		{"malformed", 200, `{"status":tru`, false, "", ""},
		{"non-2xx", 422, `{"status":false,"message":"invalid otp"}`, false, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestServer(t, func(r chi.Router) {
				r.Post("/user/otp/login/verify", func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, testPhone, r.FormValue("mobile"))
					assert.Equal(t, "123456", r.FormValue("otp_code"))
					writeJSON(w, tc.status, tc.body)
				})
			})

			res := c.VerifyOTP(context.Background(), testPhone, "123456")
			assert.Equal(t, tc.success, res.Success)
			assert.Equal(t, tc.access, res.Tokens.AccessToken)
			assert.Equal(t, tc.refresh, res.Tokens.RefreshToken)
		})
	}
}

func TestFetchVMList(t *testing.T) {
	c := newTestServer(t, func(r chi.Router) {
		r.Get("/cloud/desktop", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, `{"status":true,"params":{"data":[
				{"id":12,"title":"Office","cpu":4,"ram":8,"storage":100,"status":"online","status_title":"Online",
				 "image":{"title":"Windows 11"},"plan":{"title":"Pro"},"country":{"name":"Iran"}},
				{"id":"a-b","title":"Lab","cpu":2,"ram":4,"storage":50,"status_title":"Offline"}
			]}}`)
		})
	})

	vms, err := c.FetchVMList(context.Background(), "tok")
	require.NoError(t, err)
	require.Len(t, vms, 2)
	assert.Equal(t, model.VirtualMachine{
		ID: "12", Title: "Office", CPUCores: 4, RAMGB: 8, StorageGB: 100,
		OSImageTitle: "Windows 11", PlanTitle: "Pro", CountryName: "Iran",
		StatusTitle: "Online", Status: model.Online,
	}, vms[0])
	assert.Equal(t, model.VMID("a-b"), vms[1].ID)
	assert.Equal(t, model.Offline, vms[1].Status)
}

func TestFetchVMList_emptyOrAbsentIsNotError(t *testing.T) {
	for _, body := range []string{
		`{"status":true,"params":{"data":[]}}`,
		`{"status":true,"params":{}}`,
		`{"status":true}`,
	} {
		c := newTestServer(t, func(r chi.Router) {
			r.Get("/cloud/desktop", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, body)
			})
		})
		vms, err := c.FetchVMList(context.Background(), "tok")
		require.NoError(t, err, body)
		assert.NotNil(t, vms)
		assert.Empty(t, vms)
	}
}

func TestFetch_errorTaxonomy(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   error
	}{
		{http.StatusUnauthorized, `{"status":false}`, ErrUnauthorized},
		{http.StatusInternalServerError, `oops`, ErrServer},
		{http.StatusOK, `<html>`, ErrMalformed},
	}
	for _, tc := range cases {
		c := newTestServer(t, func(r chi.Router) {
			r.Get("/user/info", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tc.status, tc.body)
			})
		})
		_, err := c.FetchUserInfo(context.Background(), "tok")
		require.Error(t, err)
		assert.True(t, errors.Is(err, tc.want), "status %d: got %v", tc.status, err)
		assert.NotEmpty(t, Message(err))
	}

	unreachable := NewClient("http://127.0.0.1:1", &http.Client{Timeout: time.Second}, nil)
	_, err := unreachable.FetchVMList(context.Background(), "tok")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestFetchUserInfo(t *testing.T) {
	c := newTestServer(t, func(r chi.Router) {
		r.Get("/user/info", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, `{"status":true,"params":{"first_name":"Sara","last_name":"Ahmadi","balance":150000,"point_balance":"20"}}`)
		})
	})
	u, err := c.FetchUserInfo(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, "Sara Ahmadi", u.DisplayName())
	assert.Equal(t, "150000", u.Balance.String())
	assert.Equal(t, "20", u.PointBalance.String())
}

func TestRequestVMConnectionURL(t *testing.T) {
	c := newTestServer(t, func(r chi.Router) {
		r.Get("/cloud/desktop/{id}/login", func(w http.ResponseWriter, r *http.Request) {
			if chi.URLParam(r, "id") == "7" {
				writeJSON(w, http.StatusOK, `{"status":true,"params":{"vdi_url":"https://vdi.example/#/c/7"}}`)
				return
			}
			writeJSON(w, http.StatusOK, `{"status":true,"params":{"vdi_url":""}}`)
		})
	})

	u, err := c.RequestVMConnectionURL(context.Background(), "tok", "7")
	require.NoError(t, err)
	assert.Equal(t, "https://vdi.example/#/c/7", u)

	_, err = c.RequestVMConnectionURL(context.Background(), "tok", "8")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestGuacamoleSource(t *testing.T) {
	var calls int32
	r := chi.NewRouter()
	r.Post("/api/tokens", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if r.FormValue("username") != "alice" || r.FormValue("password") != "pw" {
			writeJSON(w, http.StatusUnauthorized, `{}`)
			return
		}
		if n == 1 {
			writeJSON(w, http.StatusBadGateway, `{}`)
			return
		}
		writeJSON(w, http.StatusOK, `{"authToken":"AB CD"}`)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	g := NewGuacamoleSource(srv.URL, "alice", "pw", srv.Client(), nil)
	g.retryDelay = time.Millisecond
	u, err := g.RequestVMConnectionURL(context.Background(), "", "")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/#/?token=AB+CD", u)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "one retry after a 502")

	atomic.StoreInt32(&calls, 0)
	bad := NewGuacamoleSource(srv.URL, "alice", "wrong", srv.Client(), nil)
	bad.retryDelay = time.Millisecond
	_, err = bad.RequestVMConnectionURL(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "401 is not retried")
}

func TestGuacamoleSource_givesUpAfterThreeAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusServiceUnavailable, `{}`)
	}))
	defer srv.Close()

	g := NewGuacamoleSource(srv.URL, "alice", "pw", srv.Client(), nil)
	g.retryDelay = time.Millisecond
	_, err := g.RequestVMConnectionURL(context.Background(), "", "")
	assert.ErrorIs(t, err, ErrServer)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
