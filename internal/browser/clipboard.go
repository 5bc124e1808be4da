package browser

import (
	"errors"

	"github.com/atotto/clipboard"
)

// ErrClipboardUnsupported is returned when no clipboard utility is available
// (e.g. no xclip/xsel/wl-clipboard on Linux).
var ErrClipboardUnsupported = errors.New("native clipboard unsupported")

// SystemClipboard is the operating system clipboard.
type SystemClipboard struct{}

// NewSystemClipboard returns the native clipboard, or ErrClipboardUnsupported.
func NewSystemClipboard() (SystemClipboard, error) {
	if clipboard.Unsupported {
		return SystemClipboard{}, ErrClipboardUnsupported
	}
	return SystemClipboard{}, nil
}

func (SystemClipboard) ReadText() (string, error) {
	return clipboard.ReadAll()
}

func (SystemClipboard) WriteText(text string) error {
	return clipboard.WriteAll(text)
}
