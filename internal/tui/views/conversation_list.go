package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/desk/internal/api"
	"github.com/matheus3301/desk/internal/tui/ui"
)

// ConversationList is the main conversation table, most recent first.
type ConversationList struct {
	*tview.Table
	theme         *ui.Theme
	conversations []api.Conversation
	visible       []api.Conversation
	filter        string
}

// NewConversationList creates a new conversation list table.
func NewConversationList(theme *ui.Theme) *ConversationList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true)
	table.SetBorderColor(theme.BorderColor)
	table.SetBackgroundColor(theme.BgColor)
	table.SetSelectedStyle(tcell.StyleDefault.
		Foreground(theme.TableCursorFg).
		Background(theme.TableCursorBg))
	table.SetTitle(" Conversations ")
	table.SetTitleColor(theme.TitleColor)

	return &ConversationList{
		Table: table,
		theme: theme,
	}
}

// Name implements Component.
func (cl *ConversationList) Name() string { return "Conversations" }

// Init implements Component.
func (cl *ConversationList) Init() {}

// Start implements Component.
func (cl *ConversationList) Start() {}

// Stop implements Component.
func (cl *ConversationList) Stop() {}

// Hints implements Component.
func (cl *ConversationList) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "Enter", Description: "Open"},
		{Key: "/", Description: "Filter"},
		{Key: ":", Description: "Command"},
		{Key: "c", Description: "Reconnect"},
		{Key: "?", Description: "Help"},
		{Key: "q", Description: "Quit"},
		{Key: "1-9", Description: "Jump", Numeric: true},
	}
}

// Update replaces the list, keeping the cursor on the same conversation when
// it is still visible.
func (cl *ConversationList) Update(conversations []api.Conversation) {
	selected := cl.SelectedConversation()
	cl.conversations = conversations
	cl.render()
	cl.reselect(selected)
}

// SetFilter sets the active filter text and re-renders.
func (cl *ConversationList) SetFilter(filter string) {
	cl.filter = filter
	cl.render()
	cl.Select(1, 0)
}

// ClearFilter clears the active filter.
func (cl *ConversationList) ClearFilter() {
	cl.SetFilter("")
}

// Filter returns the active filter text.
func (cl *ConversationList) Filter() string { return cl.filter }

func (cl *ConversationList) render() {
	cl.Clear()

	headers := []struct {
		text string
		exp  int
	}{
		{" NAME", 1},
		{" TICKET", 0},
		{" QUEUE", 0},
		{" LAST MESSAGE", 2},
		{" TIME", 0},
	}
	for col, h := range headers {
		cell := tview.NewTableCell(h.text).
			SetSelectable(false).
			SetTextColor(cl.theme.TableHeaderFg).
			SetBackgroundColor(cl.theme.TableHeaderBg).
			SetAttributes(tcell.AttrBold).
			SetExpansion(h.exp)
		cl.SetCell(0, col, cell)
	}

	cl.visible = filterConversations(cl.conversations, cl.filter)
	for i, c := range cl.visible {
		row := i + 1
		fg := cl.theme.FgColor
		name := displayName(c)
		if c.Unread > 0 {
			fg = cl.theme.UnreadColor
			name = fmt.Sprintf("(%d) %s", c.Unread, name)
		}
		if c.Active {
			name = "* " + name
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(name))).SetExpansion(1).SetTextColor(fg))
		cl.SetCell(row, 1, tview.NewTableCell(" "+tview.Escape(c.TicketNumber)).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(c.Queue)).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 3, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.LastSnippet))).SetExpansion(2).SetTextColor(cl.theme.FgColor))
		cl.SetCell(row, 4, tview.NewTableCell(formatTimestamp(c.LastAtMs, time.Now())).SetTextColor(cl.theme.FgColor).SetAlign(tview.AlignRight))
	}

	if cl.filter != "" {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d/%d) filter: %s ", len(cl.visible), len(cl.conversations), tview.Escape(cl.filter)))
	} else {
		cl.SetTitle(fmt.Sprintf(" Conversations (%d) ", len(cl.conversations)))
	}
}

func (cl *ConversationList) reselect(id string) {
	if id == "" {
		return
	}
	for i, c := range cl.visible {
		if c.ID == id {
			cl.Select(i+1, 0)
			return
		}
	}
}

// SelectedConversation returns the id of the conversation under the cursor.
func (cl *ConversationList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	return cl.ConversationByIndex(row)
}

// ConversationByIndex returns the id of the Nth visible conversation (1-based).
func (cl *ConversationList) ConversationByIndex(n int) string {
	if n < 1 || n > len(cl.visible) {
		return ""
	}
	return cl.visible[n-1].ID
}

func filterConversations(all []api.Conversation, filter string) []api.Conversation {
	if filter == "" {
		return all
	}
	f := strings.ToLower(filter)
	var out []api.Conversation
	for _, c := range all {
		for _, field := range []string{displayName(c), c.TicketNumber, c.Queue, c.LastSnippet} {
			if strings.Contains(strings.ToLower(field), f) {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func displayName(c api.Conversation) string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.ID
}

func formatTimestamp(ms int64, now time.Time) string {
	if ms == 0 {
		return ""
	}
	t := time.UnixMilli(ms).In(now.Location())
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
