package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/desk/internal/api"
	"github.com/matheus3301/desk/internal/domain"
	"github.com/matheus3301/desk/internal/outbox"
	"github.com/matheus3301/desk/internal/tui/ui"
)

// MessageThread displays the active conversation's window and a composer.
type MessageThread struct {
	*tview.Flex
	theme    *ui.Theme
	messages *tview.TextView
	composer *tview.InputField
	title    string
	window   *api.WindowResponse
	onSend   func(text string)
}

// NewMessageThread creates a new message thread view.
func NewMessageThread(theme *ui.Theme) *MessageThread {
	messages := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	messages.SetBorder(true)
	messages.SetBorderColor(theme.BorderColor)
	messages.SetBackgroundColor(theme.BgColor)
	messages.SetTextColor(theme.FgColor)
	messages.SetTitle(" Messages ")
	messages.SetTitleColor(theme.TitleColor)

	composer := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0)
	composer.SetBorder(true)
	composer.SetBorderColor(theme.BorderColor)
	composer.SetBackgroundColor(theme.BgColor)
	composer.SetFieldBackgroundColor(theme.BgColor)
	composer.SetFieldTextColor(theme.FgColor)
	composer.SetLabelColor(theme.MenuKeyColor)
	composer.SetTitle(" Compose (i to focus) ")
	composer.SetTitleColor(theme.TitleColor)

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(messages, 0, 1, true).
		AddItem(composer, 3, 0, false)

	mt := &MessageThread{
		Flex:     flex,
		theme:    theme,
		messages: messages,
		composer: composer,
	}

	composer.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter && mt.onSend != nil {
			text := composer.GetText()
			if strings.TrimSpace(text) != "" {
				mt.onSend(text)
				composer.SetText("")
			}
		}
	})

	return mt
}

// Name implements Component.
func (mt *MessageThread) Name() string {
	if mt.title != "" {
		return mt.title
	}
	return "Messages"
}

// Init implements Component.
func (mt *MessageThread) Init() {}

// Start implements Component.
func (mt *MessageThread) Start() {}

// Stop implements Component.
func (mt *MessageThread) Stop() {}

// Hints implements Component.
func (mt *MessageThread) Hints() []ui.MenuHint {
	return []ui.MenuHint{
		{Key: "i", Description: "Compose"},
		{Key: "o", Description: "Older"},
		{Key: "r", Description: "Reply"},
		{Key: "R", Description: "Retry failed"},
		{Key: "d", Description: "Details"},
		{Key: "Esc", Description: "Back"},
		{Key: ":", Description: "Command"},
	}
}

// SetConversation updates the title from the conversation summary.
func (mt *MessageThread) SetConversation(c api.Conversation) {
	mt.title = displayName(c)
	title := mt.title
	if c.TicketNumber != "" {
		title += " #" + c.TicketNumber
	}
	mt.messages.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(title))))
}

// SetOnSend sets the callback when a message is sent.
func (mt *MessageThread) SetOnSend(fn func(text string)) {
	mt.onSend = fn
}

// SetReplyPreview shows the message the next send will quote. Empty clears it.
func (mt *MessageThread) SetReplyPreview(preview string) {
	if preview == "" {
		mt.composer.SetTitle(" Compose (i to focus) ")
		return
	}
	mt.composer.SetTitle(fmt.Sprintf(" Reply to: %s ", tview.Escape(truncate(sanitizeForTerminal(preview), 40))))
}

// Update renders a window. Growing the window keeps the reading position;
// anything else follows the newest message.
func (mt *MessageThread) Update(w *api.WindowResponse) {
	grew := w != nil && mt.window != nil &&
		mt.window.ConversationID == w.ConversationID && w.Pages > mt.window.Pages
	mt.window = w

	mt.messages.Clear()
	_, _ = fmt.Fprint(mt.messages, renderWindow(w, mt.theme, time.Now()))
	if grew {
		mt.messages.ScrollToBeginning()
	} else {
		mt.messages.ScrollToEnd()
	}
}

// LastInbound returns the newest customer message in the window.
func (mt *MessageThread) LastInbound() (api.Message, bool) {
	if mt.window == nil {
		return api.Message{}, false
	}
	for i := len(mt.window.Messages) - 1; i >= 0; i-- {
		if mt.window.Messages[i].Direction == string(domain.Inbound) {
			return mt.window.Messages[i], true
		}
	}
	return api.Message{}, false
}

// Lookup finds a window message by id or id suffix.
func (mt *MessageThread) Lookup(ref string) (api.Message, bool) {
	if mt.window == nil || ref == "" {
		return api.Message{}, false
	}
	return lookup(mt.window.Messages, ref)
}

// Messages returns the messages text view (for focus management).
func (mt *MessageThread) Messages() *tview.TextView {
	return mt.messages
}

// Composer returns the composer input field (for focus management).
func (mt *MessageThread) Composer() *tview.InputField {
	return mt.composer
}

func lookup(msgs []api.Message, ref string) (api.Message, bool) {
	for _, m := range msgs {
		if m.ID == ref {
			return m, true
		}
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if strings.HasSuffix(msgs[i].ID, ref) {
			return msgs[i], true
		}
	}
	return api.Message{}, false
}

func renderWindow(w *api.WindowResponse, theme *ui.Theme, now time.Time) string {
	if w == nil {
		return ""
	}
	var b strings.Builder
	dim := "[::d]"

	if w.HasMore {
		fmt.Fprintf(&b, "%s-- %d of %d shown, o for older --[-:-:-]\n\n", dim, len(w.Messages), w.Total)
	}
	if w.Loading {
		fmt.Fprintf(&b, "%sloading history...[-:-:-]\n\n", dim)
	}
	if w.Error != "" {
		fmt.Fprintf(&b, "[%s]history unavailable: %s[-]\n\n", colorHex(theme.FailedColor), tview.Escape(w.Error))
	}
	if len(w.Messages) == 0 && !w.Loading && w.Error == "" {
		fmt.Fprintf(&b, "%sno messages yet[-:-:-]\n", dim)
	}

	for _, m := range w.Messages {
		sender, color := "Customer", theme.InboundColor
		if m.Direction == string(domain.Outbound) {
			sender, color = "You", theme.OutboundColor
		}
		fmt.Fprintf(&b, "[%s::b]%s[-:-:-] %s%s %s[-:-:-]%s\n",
			colorHex(color), sender, dim, formatTimestamp(m.TimestampMs, now), shortID(m.ID), stateBadge(m, theme))

		if m.ReplyTo != "" {
			quoted := "original message"
			if q, ok := lookup(w.Messages, m.ReplyTo); ok {
				quoted = truncate(q.Preview, 60)
			}
			fmt.Fprintf(&b, "%s  > %s[-:-:-]\n", dim, tview.Escape(sanitizeForTerminal(quoted)))
		}
		b.WriteString(tview.Escape(sanitizeForTerminal(payloadBody(m))))
		b.WriteString("\n\n")
	}
	return b.String()
}

func stateBadge(m api.Message, theme *ui.Theme) string {
	if m.Direction != string(domain.Outbound) {
		return ""
	}
	switch domain.DeliveryState(m.State) {
	case domain.Pending:
		return fmt.Sprintf(" [%s]...[-]", colorHex(theme.PendingColor))
	case domain.Sent:
		return fmt.Sprintf(" [%s]sent[-]", colorHex(theme.PendingColor))
	case domain.Delivered:
		return fmt.Sprintf(" [%s]delivered[-]", colorHex(theme.DeliveredColor))
	case domain.Error:
		return fmt.Sprintf(" [%s::b]failed, R to retry[-:-:-]", colorHex(theme.FailedColor))
	}
	return ""
}

func payloadBody(m api.Message) string {
	p := m.Payload
	switch p.Type {
	case domain.PayloadText:
		return p.Text
	case domain.PayloadList:
		var b strings.Builder
		b.WriteString(p.Preview())
		for _, it := range p.Items {
			b.WriteString("\n  - " + it.Title)
			if it.Description != "" {
				b.WriteString(": " + it.Description)
			}
		}
		return b.String()
	}
	body := m.Preview
	if body == "" {
		body = p.Preview()
	}
	if p.IsMedia() {
		switch {
		case p.MediaURL != "":
			body += " <" + p.MediaURL + ">"
		case p.MediaID != "":
			body += " <media " + p.MediaID + ">"
		}
	}
	return body
}

// shortID trims provisional and backend ids to something typeable.
func shortID(id string) string {
	id = strings.TrimPrefix(id, outbox.ProvisionalPrefix)
	if len(id) > 8 {
		return id[len(id)-8:]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func colorHex(c tcell.Color) string {
	return fmt.Sprintf("#%06x", c.Hex())
}
