package vmsession

import (
	"context"

	"github.com/kolbeh/desktop/internal/model"
)

// EventKind is what happened in a view.
type EventKind int

const (
	EventLoadFinished EventKind = iota
	EventClosed
	EventCopy
	EventCut
	EventPaste
)

func (k EventKind) String() string {
	switch k {
	case EventLoadFinished:
		return "load_finished"
	case EventClosed:
		return "closed"
	case EventCopy:
		return "copy"
	case EventCut:
		return "cut"
	case EventPaste:
		return "paste"
	default:
		return "unknown"
	}
}

// Event is emitted by a View.
type Event struct {
	Kind EventKind
	URL  string
}

// View is a browser surface bound to one storage directory.
type View interface {
	// Load navigates to url.
	Load(ctx context.Context, url string) error
	// Eval runs a script expression and returns its string result.
	Eval(ctx context.Context, script string) (string, error)
	// Events is closed when the view is gone.
	Events() <-chan Event
	Close() error
}

// ViewOptions configures a new View.
type ViewOptions struct {
	Title      string
	StorageDir string
	Width      int
	Height     int
}

// ViewFactory opens views.
type ViewFactory interface {
	Open(ctx context.Context, opts ViewOptions) (View, error)
}

// Clipboard is the native clipboard.
type Clipboard interface {
	ReadText() (string, error)
	WriteText(text string) error
}

// URLSource hands out one-time VDI connection URLs.
type URLSource interface {
	RequestVMConnectionURL(ctx context.Context, accessToken string, vmID model.VMID) (string, error)
}
