package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"

	"github.com/matheus3301/desk/internal/api"
	"github.com/matheus3301/desk/internal/tui/ui"
)

// ConversationInfo displays the ticket details of a conversation.
type ConversationInfo struct {
	*tview.TextView
	theme *ui.Theme
}

// NewConversationInfo creates a new conversation info view.
func NewConversationInfo(theme *ui.Theme) *ConversationInfo {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBorder(true)
	tv.SetBorderColor(theme.BorderColor)
	tv.SetBackgroundColor(theme.BgColor)
	tv.SetTextColor(theme.FgColor)
	tv.SetTitle(" Conversation Details ")
	tv.SetTitleColor(theme.TitleColor)

	return &ConversationInfo{
		TextView: tv,
		theme:    theme,
	}
}

// Name implements Component.
func (ci *ConversationInfo) Name() string { return "Details" }

// Init implements Component.
func (ci *ConversationInfo) Init() {}

// Start implements Component.
func (ci *ConversationInfo) Start() {}

// Stop implements Component.
func (ci *ConversationInfo) Stop() {}

// Hints implements Component.
func (ci *ConversationInfo) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
		{Key: "?", Description: "Help"},
	}
}

// Update renders conversation details.
func (ci *ConversationInfo) Update(c *api.Conversation) {
	ci.Clear()
	if c == nil {
		return
	}
	_, _ = fmt.Fprint(ci, renderDetails(c, ci.theme, time.Now()))
	ci.SetTitle(fmt.Sprintf(" %s Details ", tview.Escape(sanitizeForTerminal(displayName(*c)))))
}

func renderDetails(c *api.Conversation, theme *ui.Theme, now time.Time) string {
	fg := colorHex(theme.FgColor)
	ct := colorHex(theme.CounterColor)

	lastActive := formatTimestamp(c.LastAtMs, now)
	if lastActive == "" {
		lastActive = "-"
	}

	rows := []struct{ label, value string }{
		{"Name:", displayName(*c)},
		{"ID:", c.ID},
		{"Ticket:", orDash(c.TicketNumber)},
		{"Queue:", orDash(c.Queue)},
		{"Channel:", orDash(c.Channel)},
		{"Status:", orDash(c.Status)},
		{"Unread:", fmt.Sprint(c.Unread)},
		{"Last Active:", lastActive},
		{"Last Message:", c.LastSnippet},
	}
	out := "\n"
	for _, r := range rows {
		out += fmt.Sprintf(" [%s::b]%-13s[-:-:-] [%s]%s[-]\n", fg, r.label, ct, tview.Escape(sanitizeForTerminal(r.value)))
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
