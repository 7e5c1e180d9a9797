package reveal

import (
	"errors"

	"github.com/atotto/clipboard"
)

// Clipboard receives copied secrets.
type Clipboard interface {
	WriteAll(text string) error
}

// SystemClipboard writes to the desktop clipboard through xclip, xsel,
// wl-copy, pbcopy or the Windows API, whichever the platform provides.
type SystemClipboard struct{}

var _ Clipboard = SystemClipboard{}

func (SystemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return errors.New("no clipboard utility found")
	}
	return clipboard.WriteAll(text)
}
