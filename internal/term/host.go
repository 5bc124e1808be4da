// Package term is a line-oriented terminal host for the flow controller: it
// prints each view model and turns typed lines into intents.
package term

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/kolbeh/desktop/internal/cooldown"
	"github.com/kolbeh/desktop/internal/flow"
)

// ErrQuit is returned by Parse for the quit command.
var ErrQuit = errors.New("quit")

// Dispatcher receives intents.
type Dispatcher interface {
	Dispatch(flow.Intent)
}

// Host couples a terminal to the controller.
type Host struct {
	in    io.Reader
	out   io.Writer
	ctl   Dispatcher
	views <-chan flow.View
}

// New creates a host reading commands from in and printing to out.
func New(in io.Reader, out io.Writer, ctl Dispatcher, views <-chan flow.View) *Host {
	return &Host{in: in, out: out, ctl: ctl, views: views}
}

// Run renders views and dispatches parsed input until the user quits, input
// ends, the view stream closes or ctx is cancelled.
func (h *Host) Run(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(h.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	var current flow.View
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case v, ok := <-h.views:
			if !ok {
				return nil
			}
			prev := current
			current = v
			if countdownOnly(prev, v) {
				continue
			}
			Render(h.out, v)
		case line := <-lines:
			intent, err := Parse(current, line)
			if errors.Is(err, ErrQuit) {
				return nil
			}
			if err != nil {
				fmt.Fprintf(h.out, "! %v\n", err)
				continue
			}
			if intent != nil {
				h.ctl.Dispatch(intent)
			}
		}
	}
}

// countdownOnly reports whether next differs from prev only by the remaining
// cooldown. Reprinting the screen every second would break the line the user
// is typing, so such views are not drawn.
func countdownOnly(prev, next flow.View) bool {
	p, ok := prev.(flow.OtpEntryView)
	if !ok {
		return false
	}
	n, ok := next.(flow.OtpEntryView)
	if !ok {
		return false
	}
	p.Remaining, n.Remaining = 0, 0
	return p == n
}

// Parse turns one input line into an intent for the screen v shows. A nil
// intent with a nil error means there was nothing to do.
func Parse(v flow.View, line string) (flow.Intent, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, nil
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	if cmd == "quit" || cmd == "exit" {
		return nil, ErrQuit
	}

	switch v := v.(type) {
	case flow.PhoneEntryView:
		if cmd == "debug" {
			return flow.DebugLogin{AccessToken: arg}, nil
		}
		return flow.SubmitPhone{Phone: line}, nil

	case flow.OtpEntryView:
		switch cmd {
		case "resend":
			return flow.Resend{}, nil
		case "back":
			return flow.Back{}, nil
		}
		return flow.SubmitCode{Code: line}, nil

	case flow.DashboardView:
		if v.ConfirmLogout {
			switch strings.ToLower(cmd) {
			case "y", "yes":
				return flow.ConfirmLogout{Confirmed: true}, nil
			case "n", "no":
				return flow.ConfirmLogout{Confirmed: false}, nil
			}
			return nil, errors.New("answer yes or no")
		}
		switch cmd {
		case "refresh":
			return flow.RefreshDashboard{}, nil
		case "logout":
			return flow.Logout{}, nil
		case "ok", "dismiss":
			return flow.DismissNotice{}, nil
		case "connect":
			n, err := strconv.Atoi(arg)
			if err != nil || n < 1 || n > len(v.VMs) {
				return nil, fmt.Errorf("connect takes a machine number between 1 and %d", len(v.VMs))
			}
			vm := v.VMs[n-1]
			return flow.Connect{VMID: vm.ID, Title: vm.Title}, nil
		}
		return nil, fmt.Errorf("unknown command %q (connect N, refresh, logout, quit)", cmd)
	}
	return nil, errors.New("not ready yet")
}

// Render prints v.
func Render(w io.Writer, v flow.View) {
	switch v := v.(type) {
	case flow.PhoneEntryView:
		fmt.Fprintln(w, "\n== Sign in ==")
		printStatus(w, v.Busy, v.Message)
		if v.DebugLogin {
			fmt.Fprintln(w, "(debug build: 'debug <token>' skips OTP)")
		}
		fmt.Fprint(w, "Phone number: ")

	case flow.OtpEntryView:
		fmt.Fprintf(w, "\n== Enter the %d-digit code sent to %s ==\n", v.CodeLength, v.Phone)
		printStatus(w, v.Busy, v.Message)
		if v.CanResend {
			fmt.Fprintln(w, "Type 'resend' for a new code, 'back' to change the number.")
		} else {
			fmt.Fprintf(w, "Resend available in %s. Type 'back' to change the number.\n", cooldown.FormatRemaining(v.Remaining))
		}
		fmt.Fprint(w, "Code: ")

	case flow.DashboardView:
		fmt.Fprintln(w, "\n== Dashboard ==")
		switch {
		case v.User != nil:
			fmt.Fprintf(w, "%s  balance %s  points %s\n", v.User.DisplayName(), v.User.Balance, v.User.PointBalance)
		case v.UserError != "":
			fmt.Fprintf(w, "Account info unavailable: %s\n", v.UserError)
		}
		switch {
		case v.Loading:
			fmt.Fprintln(w, "Loading...")
		case v.VMError != "":
			fmt.Fprintf(w, "Could not load machines: %s Type 'refresh' to retry.\n", v.VMError)
		case v.Empty:
			fmt.Fprintln(w, "You have no virtual machines.")
		}
		connecting := make(map[string]bool, len(v.Connecting))
		for _, id := range v.Connecting {
			connecting[string(id)] = true
		}
		for i, vm := range v.VMs {
			line := fmt.Sprintf("%2d. %-20s %-8s %d CPU  %d GB RAM  %d GB disk  %s  %s",
				i+1, vm.Title, vm.Status, vm.CPUCores, vm.RAMGB, vm.StorageGB, vm.OSImageTitle, vm.CountryName)
			if connecting[string(vm.ID)] {
				line += "  (connecting...)"
			}
			fmt.Fprintln(w, strings.TrimRight(line, " "))
		}
		if v.Notice != "" {
			fmt.Fprintf(w, "\n[!] %s (type 'ok' to dismiss)\n", v.Notice)
		}
		if v.ConfirmLogout {
			fmt.Fprint(w, "Log out and close all sessions? [y/n] ")
			return
		}
		fmt.Fprint(w, "> ")
	}
}

func printStatus(w io.Writer, busy bool, msg string) {
	if msg != "" {
		fmt.Fprintln(w, msg)
	}
	if busy {
		fmt.Fprintln(w, "Please wait...")
	}
}
