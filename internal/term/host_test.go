package term

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolbeh/desktop/internal/flow"
	"github.com/kolbeh/desktop/internal/model"
)

func TestParse(t *testing.T) {
	dash := flow.DashboardView{VMs: []model.VirtualMachine{{ID: "12", Title: "Office"}, {ID: "13", Title: "Lab"}}}

	cases := []struct {
		name string
		view flow.View
		line string
		want flow.Intent
	}{
		{"phone", flow.PhoneEntryView{}, " 09121234567 ", flow.SubmitPhone{Phone: "09121234567"}},
		{"debug", flow.PhoneEntryView{}, "debug tok", flow.DebugLogin{AccessToken: "tok"}},
		{"code", flow.OtpEntryView{}, "123456", flow.SubmitCode{Code: "123456"}},
		{"resend", flow.OtpEntryView{}, "resend", flow.Resend{}},
		{"back", flow.OtpEntryView{}, "back", flow.Back{}},
		{"connect", dash, "connect 2", flow.Connect{VMID: "13", Title: "Lab"}},
		{"refresh", dash, "refresh", flow.RefreshDashboard{}},
		{"logout", dash, "logout", flow.Logout{}},
		{"dismiss", dash, "ok", flow.DismissNotice{}},
		{"confirm", flow.DashboardView{ConfirmLogout: true}, "Yes", flow.ConfirmLogout{Confirmed: true}},
		{"decline", flow.DashboardView{ConfirmLogout: true}, "n", flow.ConfirmLogout{Confirmed: false}},
		{"blank", flow.PhoneEntryView{}, "   ", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.view, tc.line)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParse_errors(t *testing.T) {
	dash := flow.DashboardView{VMs: []model.VirtualMachine{{ID: "1"}}}
	for _, line := range []string{"connect", "connect 0", "connect 2", "connect x", "dance"} {
		_, err := Parse(dash, line)
		assert.Error(t, err, line)
	}
	_, err := Parse(flow.DashboardView{ConfirmLogout: true}, "maybe")
	assert.Error(t, err)
	_, err = Parse(nil, "09121234567")
	assert.Error(t, err)
	_, err = Parse(flow.OtpEntryView{}, "quit")
	assert.ErrorIs(t, err, ErrQuit)
}

func TestRender(t *testing.T) {
	var b bytes.Buffer
	Render(&b, flow.OtpEntryView{Phone: "09121234567", CodeLength: 6, Remaining: 95 * time.Second})
	assert.Contains(t, b.String(), "Resend available in 01:35")

	b.Reset()
	Render(&b, flow.DashboardView{Empty: true, User: &model.UserInfo{FirstName: "Sara", Balance: "10"}})
	assert.Contains(t, b.String(), "You have no virtual machines.")
	assert.Contains(t, b.String(), "Sara")

	b.Reset()
	Render(&b, flow.DashboardView{
		VMs:        []model.VirtualMachine{{ID: "7", Title: "Lab", Status: model.Online, CPUCores: 2}},
		Connecting: []model.VMID{"7"},
		Notice:     "Could not connect",
	})
	out := b.String()
	assert.Contains(t, out, " 1. Lab")
	assert.Contains(t, out, "Online")
	assert.Contains(t, out, "(connecting...)")
	assert.Contains(t, out, "[!] Could not connect")
}

type recorder struct {
	mu      sync.Mutex
	intents []flow.Intent
}

func (r *recorder) Dispatch(i flow.Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.intents = append(r.intents, i)
}

func (r *recorder) all() []flow.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]flow.Intent(nil), r.intents...)
}

func TestHost_Run(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	var out syncBuffer
	views := make(chan flow.View, 1)
	rec := &recorder{}
	h := New(inR, &out, rec, views)

	done := make(chan error, 1)
	go func() { done <- h.Run(context.Background()) }()

	views <- flow.PhoneEntryView{}
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "Phone number:") }, time.Second, time.Millisecond)

	_, err := inW.Write([]byte("09121234567\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, flow.SubmitPhone{Phone: "09121234567"}, rec.all()[0])

	_, err = inW.Write([]byte("quit\n"))
	require.NoError(t, err)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("host did not quit")
	}
}

func TestHost_Run_countdownTicksDoNotRedraw(t *testing.T) {
	inR, inW := io.Pipe()
	defer inW.Close()
	var out syncBuffer
	views := make(chan flow.View)
	h := New(inR, &out, &recorder{}, views)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	otp := flow.OtpEntryView{Phone: "09121234567", CodeLength: 6, Remaining: 2 * time.Minute}
	views <- otp
	for _, r := range []time.Duration{119 * time.Second, 118 * time.Second} {
		otp.Remaining = r
		views <- otp
	}
	otp.Remaining, otp.CanResend = 0, true
	views <- otp
	cancel()
	require.NoError(t, <-done)

	got := out.String()
	assert.Equal(t, 2, strings.Count(got, "Code: "), got)
	assert.NotContains(t, got, "01:59")
	assert.Contains(t, got, "Type 'resend'")
}

func TestCountdownOnly(t *testing.T) {
	a := flow.OtpEntryView{Phone: "09121234567", Remaining: time.Minute}
	b := a
	b.Remaining = 59 * time.Second
	assert.True(t, countdownOnly(a, b))

	b.Message = flow.MsgCodeResent
	assert.False(t, countdownOnly(a, b))
	assert.False(t, countdownOnly(nil, a))
	assert.False(t, countdownOnly(a, flow.PhoneEntryView{}))
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
