package shell

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// Reporter prints the shell's own status lines: [+] for success, [-] for
// errors and [i] for information.
type Reporter struct {
	w       io.Writer
	success *color.Color
	failure *color.Color
	info    *color.Color
}

// NewReporter returns a reporter writing to w. Colors are used only when
// colored is true.
func NewReporter(w io.Writer, colored bool) *Reporter {
	r := &Reporter{
		w:       w,
		success: color.New(color.FgHiGreen),
		failure: color.New(color.FgHiRed),
		info:    color.New(color.FgHiYellow),
	}
	for _, c := range []*color.Color{r.success, r.failure, r.info} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return r
}

// Success prints a [+] line.
func (r *Reporter) Success(format string, a ...any) {
	r.line(r.success, "[+] ", format, a...)
}

// Error prints a [-] line.
func (r *Reporter) Error(format string, a ...any) {
	r.line(r.failure, "[-] ", format, a...)
}

// Info prints an [i] line.
func (r *Reporter) Info(format string, a ...any) {
	r.line(r.info, "[i] ", format, a...)
}

func (r *Reporter) line(c *color.Color, prefix, format string, a ...any) {
	_, _ = c.Fprintln(r.w, prefix+fmt.Sprintf(format, a...))
}

// ShouldColor resolves a color mode (auto, always or never) against whether
// the output is a terminal.
func ShouldColor(mode string, terminal bool) bool {
	switch mode {
	case "always":
		return true
	case "never":
		return false
	default:
		return terminal
	}
}
