package flow

import "github.com/kolbeh/desktop/internal/model"

// Intent is a user action posted to the Controller.
type Intent interface {
	intent()
}

// SubmitPhone requests an OTP for Phone.
type SubmitPhone struct{ Phone string }

// SubmitCode verifies the OTP the user typed.
type SubmitCode struct{ Code string }

// Resend asks for a new OTP once the cooldown is over.
type Resend struct{}

// Back leaves OTP entry for phone entry.
type Back struct{}

// Logout asks for confirmation before signing out.
type Logout struct{}

// ConfirmLogout answers the logout confirmation.
type ConfirmLogout struct{ Confirmed bool }

// RefreshDashboard reloads the VM list and user info.
type RefreshDashboard struct{}

// Connect opens a session to a VM.
type Connect struct {
	VMID  model.VMID
	Title string
}

// DismissNotice hides the dashboard notice.
type DismissNotice struct{}

// DebugLogin skips OTP entry with a known access token. Debug builds only.
type DebugLogin struct{ AccessToken string }

func (SubmitPhone) intent()      {}
func (SubmitCode) intent()       {}
func (Resend) intent()           {}
func (Back) intent()             {}
func (Logout) intent()           {}
func (ConfirmLogout) intent()    {}
func (RefreshDashboard) intent() {}
func (Connect) intent()          {}
func (DismissNotice) intent()    {}
func (DebugLogin) intent()       {}
