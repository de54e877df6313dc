package ui

import (
	"fmt"
	"strings"

	"github.com/rivo/tview"
)

var logoArt = []string{
	` ╔╦╗╔═╗╔═╗╦╔═`,
	`  ║║║╣ ╚═╗╠╩╗`,
	` ═╩╝╚═╝╚═╝╩ ╩`,
}

// Logo is the header art. Its caption tracks the connection state, so a
// dropped connection is visible from every page.
type Logo struct {
	*tview.TextView
	theme *Theme
	state string
}

// NewLogo creates the header logo.
func NewLogo(theme *Theme) *Logo {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignLeft)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetBorderPadding(1, 0, 1, 0)

	l := &Logo{TextView: tv, theme: theme}
	l.SetText(l.text())
	return l
}

// SetState recolors the caption for a transport state.
func (l *Logo) SetState(state string) {
	if state == l.state {
		return
	}
	l.state = state
	l.SetText(l.text())
}

func (l *Logo) text() string {
	var b strings.Builder
	art := colorName(l.theme.TitleColor)
	for _, line := range logoArt {
		fmt.Fprintf(&b, "[%s::b]%s[-:-:-]\n", art, line)
	}
	caption := "Support Console"
	if l.state != "" && l.state != "ONLINE" {
		caption = strings.ToLower(l.state)
	}
	fmt.Fprintf(&b, "[%s]%s[-:-:-]", colorName(l.theme.StateColor(l.state)), caption)
	return b.String()
}
