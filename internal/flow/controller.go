// Package flow drives the sign-in and dashboard screens. A single loop
// goroutine owns all state; network calls run in their own goroutines and post
// their results back to the loop.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kolbeh/desktop/internal/api"
	"github.com/kolbeh/desktop/internal/config"
	"github.com/kolbeh/desktop/internal/cooldown"
	"github.com/kolbeh/desktop/internal/logger"
	"github.com/kolbeh/desktop/internal/model"
	"github.com/kolbeh/desktop/internal/session"
	"github.com/kolbeh/desktop/internal/vmsession"
)

// AuthAPI is the subset of the haio client the controller calls.
type AuthAPI interface {
	RequestOTP(ctx context.Context, phone string) bool
	VerifyOTP(ctx context.Context, phone, code string) api.VerifyResult
	FetchVMList(ctx context.Context, accessToken string) ([]model.VirtualMachine, error)
	FetchUserInfo(ctx context.Context, accessToken string) (model.UserInfo, error)
}

// Launcher opens VM sessions.
type Launcher interface {
	Connect(ctx context.Context, vmID model.VMID, title, accessToken string) (*vmsession.Session, error)
	CloseAll() error
}

// Options tunes a Controller. Zero values pick the defaults.
type Options struct {
	Mode      config.BuildMode
	OTPLength int
	Policy    cooldown.Policy
	Clock     cooldown.Clock
	Ticker    cooldown.TickerFunc
	Log       *zap.Logger
}

type screen int

const (
	screenPhone screen = iota
	screenOTP
	screenDashboard
)

type state struct {
	screen  screen
	phone   string
	code    string
	busy    bool
	message string

	remaining time.Duration
	canResend bool

	loading       bool
	vms           []model.VirtualMachine
	vmErr         string
	user          *model.UserInfo
	userErr       string
	connecting    map[model.VMID]bool
	notice        string
	confirmLogout bool
}

// completions posted back to the loop
type (
	otpSent struct {
		epoch  uint64
		phone  string
		ok     bool
		resend bool
	}
	otpVerified struct {
		epoch uint64
		phone string
		res   api.VerifyResult
	}
	dashboardLoaded struct {
		epoch   uint64
		vms     []model.VirtualMachine
		vmErr   error
		user    model.UserInfo
		userErr error
	}
	connected struct {
		epoch   uint64
		vmID    model.VMID
		title   string
		session *vmsession.Session
		err     error
	}
	countdownTick struct {
		gen       uint64
		remaining time.Duration
	}
	countdownReady struct {
		gen uint64
	}
)

// Controller is the sign-in state machine.
type Controller struct {
	client   AuthAPI
	store    *session.Store
	timer    *cooldown.Timer
	launcher Launcher
	mode     config.BuildMode
	otpLen   int
	policy   cooldown.Policy
	clock    cooldown.Clock
	ticker   cooldown.TickerFunc
	log      *zap.Logger

	inbox chan any
	views chan View
	done  chan struct{}

	// owned by the loop
	ctx       context.Context
	st        state
	epoch     uint64
	sends     map[string]int
	countdown *cooldown.Countdown
	countGen  uint64
}

// New creates a Controller starting on phone entry.
func New(client AuthAPI, store *session.Store, timer *cooldown.Timer, launcher Launcher, opts Options) *Controller {
	if opts.OTPLength == 0 {
		opts.OTPLength = 6
	}
	if opts.Policy == nil {
		opts.Policy = cooldown.DefaultTiered
	}
	if opts.Clock == nil {
		opts.Clock = cooldown.SystemClock()
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Controller{
		client:   client,
		store:    store,
		timer:    timer,
		launcher: launcher,
		mode:     opts.Mode,
		otpLen:   opts.OTPLength,
		policy:   opts.Policy,
		clock:    opts.Clock,
		ticker:   opts.Ticker,
		log:      opts.Log,
		inbox:    make(chan any, 64),
		views:    make(chan View, 1),
		done:     make(chan struct{}),
		sends:    make(map[string]int),
	}
}

// Views delivers the latest view model after every state change. Views that
// were not received before the next one replace them. The channel is closed
// when Run returns.
func (c *Controller) Views() <-chan View {
	return c.views
}

// Dispatch posts an intent. It is dropped once Run has returned.
func (c *Controller) Dispatch(i Intent) {
	c.post(i)
}

func (c *Controller) post(m any) {
	select {
	case c.inbox <- m:
	case <-c.done:
	}
}

// Run processes intents until ctx is cancelled. On return the countdown is
// stopped and every VM session is closed. Run must be called once.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx = ctx
	defer close(c.views)
	defer close(c.done)
	defer c.shutdown()

	c.emit()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m := <-c.inbox:
			if c.handle(m) {
				c.emit()
			}
		}
	}
}

func (c *Controller) shutdown() {
	c.stopCountdown()
	if err := c.launcher.CloseAll(); err != nil {
		c.log.Warn("close vm sessions on shutdown", zap.Error(err))
	}
}

// handle applies m and reports whether the view changed.
func (c *Controller) handle(m any) bool {
	switch m := m.(type) {
	case SubmitPhone:
		return c.submitPhone(m.Phone)
	case SubmitCode:
		return c.submitCode(m.Code)
	case Resend:
		return c.resend()
	case Back:
		return c.back()
	case Logout:
		if c.st.screen != screenDashboard {
			return false
		}
		c.st.confirmLogout = true
		return true
	case ConfirmLogout:
		return c.confirmLogout(m.Confirmed)
	case RefreshDashboard:
		if c.st.screen != screenDashboard {
			return false
		}
		return c.loadDashboard()
	case Connect:
		return c.connect(m.VMID, m.Title)
	case DismissNotice:
		if c.st.notice == "" {
			return false
		}
		c.st.notice = ""
		return true
	case DebugLogin:
		return c.debugLogin(m.AccessToken)

	case otpSent:
		return c.onOTPSent(m)
	case otpVerified:
		return c.onOTPVerified(m)
	case dashboardLoaded:
		return c.onDashboardLoaded(m)
	case connected:
		return c.onConnected(m)
	case countdownTick:
		if m.gen != c.countGen || c.st.screen != screenOTP {
			return false
		}
		c.st.remaining = m.remaining
		return true
	case countdownReady:
		if m.gen != c.countGen || c.st.screen != screenOTP {
			return false
		}
		c.countdown = nil
		c.st.remaining = 0
		c.st.canResend = true
		return true
	}
	return false
}

// enter switches screen, resetting per-screen state. Completions issued
// under the previous screen are dropped from now on.
func (c *Controller) enter(s screen, phone string) {
	c.stopCountdown()
	c.epoch++
	c.st = state{screen: s, phone: phone}
}

func (c *Controller) submitPhone(raw string) bool {
	if c.st.screen != screenPhone || c.st.busy {
		return false
	}
	phone := strings.TrimSpace(raw)
	c.st.phone = phone
	if !model.ValidPhone(phone) {
		c.st.message = MsgInvalidPhone
		return true
	}
	if ok, remaining := c.timer.CanRequest(phone); !ok {
		c.st.message = waitMessage(remaining)
		return true
	}

	c.st.busy = true
	c.st.message = ""
	c.requestOTP(phone, false)
	return true
}

func (c *Controller) requestOTP(phone string, resend bool) {
	epoch := c.epoch
	go func() {
		ok := c.client.RequestOTP(c.ctx, phone)
		c.post(otpSent{epoch: epoch, phone: phone, ok: ok, resend: resend})
	}()
}

func (c *Controller) onOTPSent(m otpSent) bool {
	if m.epoch != c.epoch {
		// The screen moved on, but the server may still have sent a code.
		// Keep the cooldown honest unless the user has signed in since.
		if (m.ok || m.resend) && !c.store.Authenticated() {
			c.armCooldown(m.phone)
		}
		return false
	}
	if !m.resend {
		if !m.ok {
			c.st.busy = false
			c.st.message = MsgSendFailed
			return true
		}
		c.log.Info("otp sent", logger.Phone(m.phone))
		c.enter(screenOTP, m.phone)
		c.startCooldown(m.phone)
		return true
	}

	// A resend restarts the cooldown whatever its outcome.
	c.st.busy = false
	if m.ok {
		c.st.message = MsgCodeResent
		c.log.Info("otp resent", logger.Phone(m.phone))
	} else {
		c.st.message = MsgSendFailed
	}
	c.startCooldown(m.phone)
	return true
}

// armCooldown counts a send for phone and starts its cooldown entry.
func (c *Controller) armCooldown(phone string) time.Duration {
	c.sends[phone]++
	d := c.policy.Duration(c.sends[phone])
	c.timer.Start(phone, d)
	return d
}

func (c *Controller) startCooldown(phone string) {
	d := c.armCooldown(phone)
	c.st.remaining = d
	c.st.canResend = false
	c.startCountdown(phone)
}

func (c *Controller) startCountdown(phone string) {
	c.stopCountdown()
	gen := c.countGen
	c.countdown = c.timer.StartCountdown(phone, c.ticker,
		func(r time.Duration) { c.post(countdownTick{gen: gen, remaining: r}) },
		func() { c.post(countdownReady{gen: gen}) },
	)
}

// stopCountdown cancels the running countdown. Ticks it already queued carry
// an old generation and are ignored.
func (c *Controller) stopCountdown() {
	c.countdown.Stop()
	c.countdown = nil
	c.countGen++
}

func (c *Controller) submitCode(raw string) bool {
	if c.st.screen != screenOTP || c.st.busy {
		return false
	}
	code := strings.TrimSpace(raw)
	if !model.ValidOTP(code, c.otpLen) {
		c.st.code = ""
		c.st.message = fmt.Sprintf("Please enter the %d-digit code.", c.otpLen)
		return true
	}

	c.st.code = code
	c.st.busy = true
	c.st.message = ""
	epoch, phone := c.epoch, c.st.phone
	go func() {
		res := c.client.VerifyOTP(c.ctx, phone, code)
		c.post(otpVerified{epoch: epoch, phone: phone, res: res})
	}()
	return true
}

func (c *Controller) onOTPVerified(m otpVerified) bool {
	if m.epoch != c.epoch {
		return false
	}
	if !m.res.Success {
		c.log.Info("otp rejected", logger.Phone(m.phone), zap.String("reason", m.res.Message))
		c.st.busy = false
		c.st.code = ""
		c.st.message = MsgInvalidOTP
		return true
	}

	c.store.SetTokens(m.res.Tokens)
	c.timer.Clear(m.phone)
	delete(c.sends, m.phone)
	c.log.Info("signed in", logger.Phone(m.phone))
	c.enterDashboard()
	return true
}

func (c *Controller) resend() bool {
	if c.st.screen != screenOTP || c.st.busy || !c.st.canResend {
		return false
	}
	if ok, _ := c.timer.CanRequest(c.st.phone); !ok {
		return false
	}
	c.st.busy = true
	c.st.canResend = false
	c.st.message = ""
	c.requestOTP(c.st.phone, true)
	return true
}

func (c *Controller) back() bool {
	if c.st.screen != screenOTP {
		return false
	}
	c.enter(screenPhone, c.st.phone)
	return true
}

func (c *Controller) debugLogin(token string) bool {
	if c.mode != config.BuildModeDebug {
		c.log.Warn("debug login rejected", zap.Stringer("mode", c.mode))
		if c.st.screen == screenPhone {
			c.st.message = MsgDebugDisabled
			return true
		}
		return false
	}
	if c.st.screen == screenDashboard {
		return false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		if c.st.screen != screenPhone {
			return false
		}
		c.st.message = MsgDebugNeedsToken
		return true
	}
	c.log.Warn("debug login: skipping otp verification")
	c.store.SetTokens(model.Tokens{AccessToken: token})
	c.enterDashboard()
	return true
}

func (c *Controller) enterDashboard() {
	c.enter(screenDashboard, "")
	c.st.connecting = make(map[model.VMID]bool)
	c.loadDashboard()
}

func (c *Controller) loadDashboard() bool {
	if c.st.loading {
		return false
	}
	if c.store.Expired(c.clock.Now()) {
		c.expireSession()
		return true
	}

	c.st.loading = true
	epoch, token := c.epoch, c.store.AccessToken()
	go func() {
		m := dashboardLoaded{epoch: epoch}
		// Each fetch fails on its own; neither cancels the other. The group
		// error only reports a lost session, which the loop checks per fetch.
		var g errgroup.Group
		g.Go(func() error {
			m.vms, m.vmErr = c.client.FetchVMList(c.ctx, token)
			return unauthorized(m.vmErr)
		})
		g.Go(func() error {
			m.user, m.userErr = c.client.FetchUserInfo(c.ctx, token)
			return unauthorized(m.userErr)
		})
		if err := g.Wait(); err != nil {
			c.log.Info("dashboard fetch rejected the token", zap.Error(err))
		}
		c.post(m)
	}()
	return true
}

func unauthorized(err error) error {
	if errors.Is(err, api.ErrUnauthorized) {
		return err
	}
	return nil
}

func (c *Controller) onDashboardLoaded(m dashboardLoaded) bool {
	if m.epoch != c.epoch {
		return false
	}
	if errors.Is(m.vmErr, api.ErrUnauthorized) || errors.Is(m.userErr, api.ErrUnauthorized) {
		c.expireSession()
		return true
	}

	c.st.loading = false
	if m.vmErr != nil {
		c.log.Warn("fetch vm list", zap.Error(m.vmErr))
		c.st.vmErr = api.Message(m.vmErr)
	} else {
		c.st.vms = m.vms
		c.st.vmErr = ""
	}
	if m.userErr != nil {
		c.log.Warn("fetch user info", zap.Error(m.userErr))
		c.st.userErr = api.Message(m.userErr)
	} else {
		u := m.user
		c.st.user = &u
		c.st.userErr = ""
		c.store.SetIdentity(u)
	}
	return true
}

func (c *Controller) expireSession() {
	c.log.Info("session expired")
	c.signOut()
	c.st.message = MsgSessionExpired
}

func (c *Controller) confirmLogout(confirmed bool) bool {
	if c.st.screen != screenDashboard || !c.st.confirmLogout {
		return false
	}
	c.st.confirmLogout = false
	if confirmed {
		c.log.Info("signed out")
		c.signOut()
	}
	return true
}

// signOut forgets the tokens, closes every VM session and returns to phone
// entry.
func (c *Controller) signOut() {
	c.store.Clear()
	if err := c.launcher.CloseAll(); err != nil {
		c.log.Warn("close vm sessions", zap.Error(err))
	}
	c.enter(screenPhone, "")
}

func (c *Controller) connect(vmID model.VMID, title string) bool {
	if c.st.screen != screenDashboard || c.st.connecting[vmID] {
		return false
	}
	c.st.connecting[vmID] = true
	c.st.notice = ""
	epoch, token := c.epoch, c.store.AccessToken()
	go func() {
		s, err := c.launcher.Connect(c.ctx, vmID, title, token)
		c.post(connected{epoch: epoch, vmID: vmID, title: title, session: s, err: err})
	}()
	return true
}

func (c *Controller) onConnected(m connected) bool {
	if m.epoch != c.epoch {
		// Signed out while connecting.
		if m.session != nil {
			_ = m.session.Close()
		}
		return false
	}
	delete(c.st.connecting, m.vmID)
	if m.err != nil {
		c.log.Warn("connect to vm", zap.String("vm", string(m.vmID)), zap.Error(m.err))
		c.st.notice = fmt.Sprintf("Could not connect to %s. %s", m.title, api.Message(m.err))
	}
	return true
}

func (c *Controller) emit() {
	v := c.render()
	select {
	case <-c.views:
	default:
	}
	c.views <- v
}

func (c *Controller) render() View {
	switch c.st.screen {
	case screenOTP:
		return OtpEntryView{
			Phone:      c.st.phone,
			Code:       c.st.code,
			CodeLength: c.otpLen,
			Busy:       c.st.busy,
			Message:    c.st.message,
			Remaining:  c.st.remaining,
			CanResend:  c.st.canResend && !c.st.busy,
		}
	case screenDashboard:
		connecting := make([]model.VMID, 0, len(c.st.connecting))
		for id := range c.st.connecting {
			connecting = append(connecting, id)
		}
		sort.Slice(connecting, func(i, j int) bool { return connecting[i] < connecting[j] })
		vms := make([]model.VirtualMachine, len(c.st.vms))
		copy(vms, c.st.vms)
		return DashboardView{
			User:          c.st.user,
			UserError:     c.st.userErr,
			VMs:           vms,
			VMError:       c.st.vmErr,
			Loading:       c.st.loading,
			Empty:         !c.st.loading && c.st.vmErr == "" && len(c.st.vms) == 0,
			Connecting:    connecting,
			Notice:        c.st.notice,
			ConfirmLogout: c.st.confirmLogout,
		}
	default:
		return PhoneEntryView{
			Phone:      c.st.phone,
			Busy:       c.st.busy,
			Message:    c.st.message,
			DebugLogin: c.mode == config.BuildModeDebug,
		}
	}
}

func waitMessage(remaining time.Duration) string {
	return fmt.Sprintf("Please wait %s before requesting another OTP.", cooldown.FormatRemaining(remaining))
}
