package tracker

import (
	"io"
	"strings"

	"github.com/fatih/color"
)

// View is the presentation surface the Controller projects onto. Calls are
// serialized by the Controller.
type View interface {
	SetStatus(text string)
	ShowStatus(visible bool)
	SetUploadEnabled(enabled bool)
	ShowDownload(url string)
	HideDownload()
	Alert(msg string)
}

// TerminalView renders projections as lines on a terminal.
type TerminalView struct {
	out io.Writer

	status        string
	printed       string
	visible       bool
	uploadEnabled bool
	download      string

	info  *color.Color
	good  *color.Color
	bad   *color.Color
	alert *color.Color
}

// NewTerminalView writes to out; noColor strips ANSI sequences.
func NewTerminalView(out io.Writer, noColor bool) *TerminalView {
	v := &TerminalView{
		out:           out,
		uploadEnabled: true,
		info:          color.New(color.FgCyan),
		good:          color.New(color.FgGreen, color.Bold),
		bad:           color.New(color.FgRed, color.Bold),
		alert:         color.New(color.FgYellow),
	}
	if noColor {
		for _, c := range []*color.Color{v.info, v.good, v.bad, v.alert} {
			c.DisableColor()
		}
	}
	return v
}

// SetStatus records text and prints it when the status area is visible.
func (v *TerminalView) SetStatus(text string) {
	v.status = text
	v.render()
}

// ShowStatus toggles the status area.
func (v *TerminalView) ShowStatus(visible bool) {
	v.visible = visible
	if !visible {
		v.printed = ""
		return
	}
	v.render()
}

// SetUploadEnabled records whether a new upload may start.
func (v *TerminalView) SetUploadEnabled(enabled bool) {
	v.uploadEnabled = enabled
}

// UploadEnabled reports the upload control state.
func (v *TerminalView) UploadEnabled() bool {
	return v.uploadEnabled
}

// ShowDownload prints the download link.
func (v *TerminalView) ShowDownload(url string) {
	if v.download == url {
		return
	}
	v.download = url
	_, _ = v.good.Fprintf(v.out, "Download: %s\n", url)
}

// HideDownload forgets the download link.
func (v *TerminalView) HideDownload() {
	v.download = ""
}

// Alert prints a user-facing warning.
func (v *TerminalView) Alert(msg string) {
	_, _ = v.alert.Fprintf(v.out, "! %s\n", msg)
}

func (v *TerminalView) render() {
	if !v.visible || v.status == "" || v.status == v.printed {
		return
	}
	v.printed = v.status
	c := v.info
	switch v.status {
	case MsgCompleted:
		c = v.good
	case MsgFailed:
		c = v.bad
	default:
		if strings.HasPrefix(v.status, "Error:") {
			c = v.bad
		}
	}
	_, _ = c.Fprintln(v.out, v.status)
}
