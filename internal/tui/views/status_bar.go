package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/desk/internal/tui/ui"
)

// StatusBar displays the profile, connection state and send backlog.
type StatusBar struct {
	*tview.TextView
	theme   *ui.Theme
	profile string
	state   string
	pending int
}

// NewStatusBar creates a new status bar.
func NewStatusBar(theme *ui.Theme) *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv, theme: theme}
}

// SetProfile updates the profile name display.
func (sb *StatusBar) SetProfile(name string) {
	sb.profile = name
	sb.render()
}

// SetState updates the connection state and pending send count.
func (sb *StatusBar) SetState(state string, pending int) {
	sb.state = state
	sb.pending = pending
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()
	_, _ = fmt.Fprint(sb, sb.line(time.Now()))
}

func (sb *StatusBar) line(now time.Time) string {
	state := sb.state
	if state == "" {
		state = "UNKNOWN"
	}
	line := fmt.Sprintf(" [::b]%s[-:-:-] | [%s]%s[-]",
		tview.Escape(sb.profile), colorHex(sb.theme.StateColor(state)), state)
	if state == "OFFLINE" || state == "DISCONNECTED" {
		line += " (c to reconnect)"
	}
	if sb.pending > 0 {
		line += fmt.Sprintf(" | %d sending", sb.pending)
	}
	return line + " | " + now.Format("15:04")
}
