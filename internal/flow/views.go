package flow

import (
	"time"

	"github.com/kolbeh/desktop/internal/model"
)

// View is the view model of the current screen. It is one of
// PhoneEntryView, OtpEntryView or DashboardView.
type View interface {
	view()
}

// PhoneEntryView asks for the phone number.
type PhoneEntryView struct {
	Phone   string
	Busy    bool
	Message string
	// DebugLogin is true when DebugLogin intents are honoured.
	DebugLogin bool
}

// OtpEntryView asks for the code texted to Phone.
type OtpEntryView struct {
	Phone      string
	Code       string
	CodeLength int
	Busy       bool
	Message    string
	Remaining  time.Duration
	CanResend  bool
}

// DashboardView lists the account's VMs.
type DashboardView struct {
	User          *model.UserInfo
	UserError     string
	VMs           []model.VirtualMachine
	VMError       string
	Loading       bool
	Empty         bool
	Connecting    []model.VMID
	Notice        string
	ConfirmLogout bool
}

func (PhoneEntryView) view() {}
func (OtpEntryView) view()   {}
func (DashboardView) view()  {}

// User-facing messages.
const (
	MsgInvalidPhone    = "Please enter a valid 11-digit phone number."
	MsgSendFailed      = "Failed to send OTP. Please try again."
	MsgCodeResent      = "A new code has been sent."
	MsgInvalidOTP      = "Invalid OTP. Please try again."
	MsgSessionExpired  = "Session expired, please log in again."
	MsgDebugDisabled   = "Debug login is not available in this build."
	MsgDebugNeedsToken = "Debug login needs a token."
)
