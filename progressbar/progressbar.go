// Package progressbar shows how far a scan has advanced through an image.
package progressbar

import (
	"os"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

// ProgressBar tracks a position in an image of known size.
type ProgressBar struct {
	*pb.ProgressBar
}

// SetOffset moves the bar to an absolute image offset.
func (b *ProgressBar) SetOffset(off int64) {
	b.SetCurrent(off)
}

// New returns a bar for an image of size bytes. On anything but a
// terminal with the text log formatter the bar is static and only
// prints on Finish.
func New(size int64) (*ProgressBar, error) {
	bar := &ProgressBar{pb.New64(size)}

	bar.Set(pb.Bytes, true)

	if Visible() {
		bar.SetTemplateString(`scanning {{counters . }} {{bar . | green }} {{percent .}} {{speed . "%s/s"}}`)
		bar.SetRefreshRate(200 * time.Millisecond)
	} else {
		bar.Set(pb.Static, true)
	}

	bar.SetWidth(80)
	if err := bar.Err(); err != nil {
		return nil, err
	}

	return bar, nil
}

// Visible reports whether a live bar would reach a terminal.
func Visible() bool {
	// The bar would interleave with JSON log lines.
	if _, ok := logrus.StandardLogger().Formatter.(*logrus.TextFormatter); !ok {
		return false
	}

	// Both logrus and pb write to stderr.
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
