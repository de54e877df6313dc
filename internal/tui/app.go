// Package tui is the terminal console. It renders what the daemon reports and
// reloads whenever the daemon's event stream says something changed.
package tui

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/desk/internal/api"
	"github.com/matheus3301/desk/internal/tui/client"
	"github.com/matheus3301/desk/internal/tui/keys"
	"github.com/matheus3301/desk/internal/tui/model"
	"github.com/matheus3301/desk/internal/tui/ui"
	"github.com/matheus3301/desk/internal/tui/views"
)

const (
	pageConversations = "conversations"
	pageThread        = "thread"
	pageDetails       = "details"
	pageHelp          = "help"

	rpcTimeout    = 10 * time.Second
	watchBackoff  = 2 * time.Second
	coalesceDelay = 50 * time.Millisecond
)

// App is the main TUI application shell.
type App struct {
	app      *tview.Application
	pages    *ui.Pages
	vm       *model.ViewModel
	client   *client.Client
	registry *keys.Registry
	flash    *ui.FlashModel
	profile  string

	root        *tview.Flex
	profileInfo *ui.ProfileInfo
	menu        *ui.Menu
	logo        *ui.Logo
	crumbs      *ui.Crumbs
	flashBar    *ui.FlashBar
	prompt      *ui.Prompt
	statusBar   *views.StatusBar
	list        *views.ConversationList
	thread      *views.MessageThread
	info        *views.ConversationInfo
	help        *views.HelpView

	promptVisible bool

	pendingMu sync.Mutex
	pending   model.Refresh
	refreshCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c *client.Client, profile string, theme *ui.Theme) *App {
	ctx, cancel := context.WithCancel(context.Background())
	if theme == nil {
		theme = ui.DefaultTheme()
	}

	a := &App{
		app:         tview.NewApplication(),
		pages:       ui.NewPages(),
		vm:          model.NewViewModel(c),
		client:      c,
		registry:    keys.NewRegistry(),
		flash:       ui.NewFlashModel(),
		profile:     profile,
		profileInfo: ui.NewProfileInfo(theme),
		menu:        ui.NewMenu(theme),
		logo:        ui.NewLogo(theme),
		crumbs:      ui.NewCrumbs(theme),
		flashBar:    ui.NewFlashBar(theme),
		prompt:      ui.NewPrompt(theme),
		statusBar:   views.NewStatusBar(theme),
		list:        views.NewConversationList(theme),
		thread:      views.NewMessageThread(theme),
		info:        views.NewConversationInfo(theme),
		help:        views.NewHelpView(theme),
		refreshCh:   make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
	}

	a.statusBar.SetProfile(profile)
	a.prompt.SetCommands(commandNames)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() {
			if a.pages.Depth() > 1 {
				a.back()
				return
			}
			a.Stop()
		},
	})
	a.registry.AddGlobal("help", &keys.Action{
		Rune: '?', Key: tcell.KeyRune,
		Description: "?:help", Visible: true,
		Handler: func() { a.showHelp() },
	})
	a.registry.AddGlobal("command", &keys.Action{
		Rune: ':', Key: tcell.KeyRune,
		Description: "::command", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptCommand) },
	})
	a.registry.AddGlobal("connect", &keys.Action{
		Rune: 'c', Key: tcell.KeyRune,
		Description: "c:reconnect", Visible: true,
		Handler: func() { a.connect() },
	})

	a.registry.AddView(pageConversations, "filter", &keys.Action{
		Rune: '/', Key: tcell.KeyRune,
		Description: "/:filter", Visible: true,
		Handler: func() { a.showPrompt(ui.PromptFilter) },
	})
	a.registry.AddView(pageConversations, "clear", &keys.Action{
		Rune: '0', Key: tcell.KeyRune,
		Handler: func() { a.list.ClearFilter() },
	})
	for n := 1; n <= 9; n++ {
		a.registry.AddView(pageConversations, "jump"+strconv.Itoa(n), &keys.Action{
			Rune: rune('0' + n), Key: tcell.KeyRune,
			Handler: func() {
				if id := a.list.ConversationByIndex(n); id != "" {
					a.openConversation(id)
				}
			},
		})
	}

	a.registry.AddView(pageThread, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.thread.Composer()) },
	})
	a.registry.AddView(pageThread, "older", &keys.Action{
		Rune: 'o', Key: tcell.KeyRune,
		Description: "o:older", Visible: true,
		Handler: func() { a.loadOlder() },
	})
	a.registry.AddView(pageThread, "reply", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:reply", Visible: true,
		Handler: func() { a.reply("") },
	})
	a.registry.AddView(pageThread, "retry", &keys.Action{
		Rune: 'R', Key: tcell.KeyRune,
		Description: "R:retry", Visible: true,
		Handler: func() { a.retry("") },
	})
	a.registry.AddView(pageThread, "details", &keys.Action{
		Rune: 'd', Key: tcell.KeyRune,
		Description: "d:details", Visible: true,
		Handler: func() { a.showDetails() },
	})
	a.registry.AddView(pageThread, "close", &keys.Action{
		Rune: 'x', Key: tcell.KeyRune,
		Description: "x:close", Visible: true,
		Handler: func() { a.closeConversation() },
	})
}

func (a *App) setupCallbacks() {
	a.list.SetSelectedFunc(func(row, _ int) {
		if id := a.list.ConversationByIndex(row); id != "" {
			a.openConversation(id)
		}
	})

	a.thread.SetOnSend(func(text string) { a.send(text) })

	a.prompt.SetOnSubmit(func(mode ui.PromptMode, text string) {
		a.hidePrompt()
		if mode == ui.PromptFilter {
			a.list.SetFilter(text)
			return
		}
		a.runCommand(ParseCommand(text))
	})
	a.prompt.SetOnCancel(func() { a.hidePrompt() })

	a.pages.SetOnChange(func([]string) {
		a.crumbs.Update(a.pages.Names())
		if c := a.pages.CurrentComponent(); c != nil {
			a.menu.Update(c.Hints())
		}
	})
}

func (a *App) setupLayout() {
	a.pages.Add(pageConversations, a.list, a.list)
	a.pages.Add(pageThread, a.thread, a.thread)
	a.pages.Add(pageDetails, a.info, a.info)
	a.pages.Add(pageHelp, a.help, a.help)

	header := tview.NewFlex().
		AddItem(a.profileInfo, 32, 0, false).
		AddItem(a.menu, 0, 1, false).
		AddItem(a.logo, 16, 0, false)

	a.root = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(header, 6, 0, false).
		AddItem(a.prompt, 0, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.crumbs, 1, 0, false).
		AddItem(a.flashBar, 1, 0, false).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(a.root, true)
	a.pages.Reset(pageConversations)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if a.promptVisible {
			return event
		}

		focused := a.app.GetFocus()
		if focused == a.thread.Composer() {
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.thread.Messages())
				return nil
			}
			return event
		}
		if _, ok := focused.(*tview.InputField); ok {
			return event
		}

		if event.Key() == tcell.KeyEscape {
			a.back()
			return nil
		}

		if a.registry.HandleEvent(a.pages.Current(), event) {
			return nil
		}
		return event
	})
}

func (a *App) back() {
	if a.pages.Pop() == "" {
		return
	}
	a.focusCurrent()
}

func (a *App) focusCurrent() {
	switch a.pages.Current() {
	case pageConversations:
		a.app.SetFocus(a.list)
	case pageThread:
		a.app.SetFocus(a.thread.Messages())
	case pageDetails:
		a.app.SetFocus(a.info)
	case pageHelp:
		a.app.SetFocus(a.help)
	}
}

func (a *App) showPrompt(mode ui.PromptMode) {
	a.prompt.Activate(mode)
	a.promptVisible = true
	a.root.ResizeItem(a.prompt, 3, 0)
	a.app.SetFocus(a.prompt)
}

func (a *App) hidePrompt() {
	a.promptVisible = false
	a.root.ResizeItem(a.prompt, 0, 0)
	a.focusCurrent()
}

func (a *App) runCommand(cmd Command) {
	switch cmd.Name {
	case "quit":
		a.Stop()
	case "help":
		a.showHelp()
	case "open":
		if cmd.Args == "" {
			a.flash.Warn("usage: open <name|ticket|id>")
			return
		}
		c, ok := a.vm.Find(cmd.Args)
		if !ok {
			a.flash.Warn("no conversation matches " + cmd.Args)
			return
		}
		a.openConversation(c.ID)
	case "older":
		a.loadOlder()
	case "reply":
		a.reply(cmd.Args)
	case "retry":
		a.retry(cmd.Args)
	case "close":
		a.closeConversation()
	case "connect":
		a.connect()
	case "disconnect":
		a.async(func(ctx context.Context) error {
			st, err := a.vm.Disconnect(ctx)
			if err == nil {
				a.flash.Info("connection " + st)
			}
			return err
		}, model.Refresh{Status: true})
	default:
		a.flash.Warn("unknown command: " + cmd.Name)
	}
}

// async runs fn off the UI goroutine and then reloads what it touched.
func (a *App) async(fn func(ctx context.Context) error, after model.Refresh) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			a.flash.Err(err)
			a.app.QueueUpdateDraw(a.renderFlash)
			return
		}
		a.requestRefresh(after)
	}()
}

func (a *App) openConversation(id string) {
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
		defer cancel()
		if err := a.vm.Select(ctx, id); err != nil {
			a.flash.Err(err)
			a.app.QueueUpdateDraw(a.renderFlash)
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.renderThread()
			a.pages.Reset(pageConversations)
			a.pages.Push(pageThread)
			a.app.SetFocus(a.thread.Messages())
		})
		a.requestRefresh(model.Refresh{Status: true, Conversations: true})
	}()
}

func (a *App) send(text string) {
	a.async(func(ctx context.Context) error {
		_, err := a.vm.Send(ctx, text)
		return err
	}, model.Refresh{Status: true, Window: true})
}

func (a *App) loadOlder() {
	a.async(func(ctx context.Context) error {
		w := a.vm.Window()
		if w != nil && !w.HasMore {
			a.flash.Info("whole history loaded")
		}
		return a.vm.LoadOlder(ctx)
	}, model.Refresh{Window: true})
}

func (a *App) reply(ref string) {
	var (
		m  api.Message
		ok bool
	)
	if ref == "" {
		m, ok = a.thread.LastInbound()
	} else {
		m, ok = a.thread.Lookup(ref)
	}
	if !ok {
		a.flash.Warn("no message to reply to")
		a.renderFlash()
		return
	}
	if a.vm.ReplyTo() == m.ID {
		a.vm.SetReplyTo("")
		a.thread.SetReplyPreview("")
		return
	}
	a.vm.SetReplyTo(m.ID)
	a.thread.SetReplyPreview(m.Preview)
	a.app.SetFocus(a.thread.Composer())
}

func (a *App) retry(ref string) {
	var (
		m  api.Message
		ok bool
	)
	if ref == "" {
		m, ok = a.vm.LastFailed()
	} else {
		m, ok = a.thread.Lookup(ref)
	}
	if !ok {
		a.flash.Warn("no failed message to retry")
		a.renderFlash()
		return
	}
	a.async(func(ctx context.Context) error {
		_, err := a.vm.Retry(ctx, m.ID)
		return err
	}, model.Refresh{Status: true, Window: true})
}

func (a *App) closeConversation() {
	a.async(func(ctx context.Context) error {
		if err := a.vm.CloseActive(ctx); err != nil {
			return err
		}
		a.app.QueueUpdateDraw(func() {
			a.pages.Reset(pageConversations)
			a.app.SetFocus(a.list)
		})
		a.flash.Info("conversation closed")
		return nil
	}, model.Refresh{Status: true, Conversations: true})
}

func (a *App) connect() {
	a.async(func(ctx context.Context) error {
		st, err := a.vm.Connect(ctx)
		if err == nil {
			a.flash.Info("connection " + st)
		}
		return err
	}, model.Refresh{Status: true, Conversations: true, Window: a.vm.ActiveID() != ""})
}

func (a *App) showHelp() {
	a.pages.Push(pageHelp)
	a.app.SetFocus(a.help)
}

func (a *App) showDetails() {
	id := a.vm.ActiveID()
	for _, c := range a.vm.Conversations() {
		if c.ID == id {
			a.info.Update(&c)
			a.pages.Push(pageDetails)
			a.app.SetFocus(a.info)
			return
		}
	}
}

func (a *App) requestRefresh(r model.Refresh) {
	if !r.Any() {
		return
	}
	a.pendingMu.Lock()
	a.pending.Status = a.pending.Status || r.Status
	a.pending.Conversations = a.pending.Conversations || r.Conversations
	a.pending.Window = a.pending.Window || r.Window
	a.pendingMu.Unlock()
	select {
	case a.refreshCh <- struct{}{}:
	default:
	}
}

// refreshLoop coalesces refresh requests and reloads from the daemon.
func (a *App) refreshLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.refreshCh:
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(coalesceDelay):
		}

		a.pendingMu.Lock()
		r := a.pending
		a.pending = model.Refresh{}
		a.pendingMu.Unlock()

		a.reload(r)
	}
}

func (a *App) reload(r model.Refresh) {
	ctx, cancel := context.WithTimeout(a.ctx, rpcTimeout)
	defer cancel()

	var errs []error
	if r.Status {
		errs = append(errs, a.vm.LoadStatus(ctx))
	}
	if r.Conversations {
		errs = append(errs, a.vm.LoadConversations(ctx))
	}
	if r.Window && a.vm.ActiveID() != "" {
		errs = append(errs, a.vm.LoadWindow(ctx))
	}
	if err := errors.Join(errs...); err != nil && a.ctx.Err() == nil {
		a.flash.Err(err)
	}

	a.app.QueueUpdateDraw(func() {
		if r.Status {
			a.renderStatus()
		}
		if r.Conversations {
			a.list.Update(a.vm.Conversations())
		}
		if r.Window {
			a.renderThread()
		}
		a.renderFlash()
	})
}

// watchLoop follows the daemon's event stream, resubscribing when it drops.
func (a *App) watchLoop() {
	for a.ctx.Err() == nil {
		err := a.watch()
		if a.ctx.Err() != nil {
			return
		}
		if err != nil {
			a.flash.Warn("event stream lost: " + err.Error())
			a.app.QueueUpdateDraw(a.renderFlash)
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(watchBackoff):
		}
		// Anything may have changed while the stream was down.
		a.requestRefresh(model.Refresh{Status: true, Conversations: true, Window: true})
	}
}

func (a *App) watch() error {
	stream, err := a.client.WatchEvents(a.ctx, &api.WatchEventsRequest{})
	if err != nil {
		return err
	}
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		a.requestRefresh(a.vm.Classify(evt))
	}
}

// tickLoop keeps the clock, uptime and flash expiry current.
func (a *App) tickLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	n := 0
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			n++
			if n%5 == 0 {
				a.requestRefresh(model.Refresh{Status: true})
			}
			a.app.QueueUpdateDraw(a.renderFlash)
		}
	}
}

func (a *App) renderStatus() {
	st := a.vm.Status()
	if st == nil {
		return
	}
	a.profileInfo.Update(&ui.ProfileData{
		Profile:       st.Profile,
		State:         st.State,
		Conversations: st.Conversations,
		Unread:        st.Unread,
		PendingSends:  st.PendingSends,
		Uptime:        time.Duration(st.UptimeMs) * time.Millisecond,
	})
	a.statusBar.SetState(st.State, st.PendingSends)
	a.logo.SetState(st.State)
}

func (a *App) renderThread() {
	id := a.vm.ActiveID()
	if id == "" {
		if a.pages.Current() == pageThread || a.pages.Current() == pageDetails {
			a.flash.Warn("conversation is no longer open")
			a.pages.Reset(pageConversations)
			a.app.SetFocus(a.list)
		}
		return
	}
	for _, c := range a.vm.Conversations() {
		if c.ID == id {
			a.thread.SetConversation(c)
			break
		}
	}
	a.thread.Update(a.vm.Window())
	replyTo := a.vm.ReplyTo()
	if replyTo == "" {
		a.thread.SetReplyPreview("")
	} else if m, ok := a.thread.Lookup(replyTo); ok {
		a.thread.SetReplyPreview(m.Preview)
	}
	a.crumbs.Update(a.pages.Names())
}

func (a *App) renderFlash() {
	a.flashBar.Update(a.flash.GetMessage())
}

// Run starts the TUI application.
func (a *App) Run() error {
	go func() {
		a.reload(model.Refresh{Status: true, Conversations: true})
		a.app.QueueUpdateDraw(func() { a.app.SetFocus(a.list) })
		go a.refreshLoop()
		go a.tickLoop()
		a.watchLoop()
	}()

	return a.app.Run()
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
