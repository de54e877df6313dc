package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/matheus3301/desk/internal/api"
	"github.com/matheus3301/desk/internal/lock"
	"github.com/matheus3301/desk/internal/session"
	"github.com/matheus3301/desk/internal/tui/client"
)

func main() {
	profileFlag := flag.String("profile", "", "operator profile (overrides $DESK_PROFILE and config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	replyTo := flag.String("reply-to", "", "message id to reply to (send)")
	noColor := flag.Bool("no-color", false, "disable colored output")
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	profile := session.Resolve(*profileFlag)
	if err := session.ValidateName(profile); err != nil {
		fatal(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	socketPath := session.SocketPath(profile)
	if !client.Probe(socketPath, 2*time.Second) {
		fatal(notRunning(profile))
	}
	c, err := client.New(socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for profile %q: %v\n", profile, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out := printer{json: *jsonFlag}
	switch args[0] {
	case "status":
		cmdStatus(ctx, c, out)
	case "conversations", "ls":
		cmdConversations(ctx, c, out)
	case "select":
		if len(args) < 2 {
			usageExit("deskctl select <conversation-id>")
		}
		cmdSelect(ctx, c, args[1], out)
	case "window":
		cmdWindow(ctx, c, optional(args, 1), out)
	case "older":
		resp, err := c.LoadOlderMessages(ctx, &api.ConversationRequest{ConversationID: optional(args, 1)})
		check(err)
		out.window(resp)
	case "send":
		if len(args) < 2 {
			usageExit("deskctl [--reply-to <id>] send <text>")
		}
		resp, err := c.SubmitMessage(ctx, &api.SubmitMessageRequest{Text: strings.Join(args[1:], " "), ReplyTo: *replyTo})
		check(err)
		out.message(resp.Message)
	case "retry":
		if len(args) < 2 {
			usageExit("deskctl retry <message-id> [conversation-id]")
		}
		resp, err := c.RetryMessage(ctx, &api.RetryMessageRequest{MessageID: args[1], ConversationID: optional(args, 2)})
		check(err)
		out.message(resp.Message)
	case "close":
		if len(args) < 2 {
			usageExit("deskctl close <conversation-id>")
		}
		_, err := c.CloseConversation(ctx, &api.ConversationRequest{ConversationID: args[1]})
		check(err)
		fmt.Printf("Closed %s\n", args[1])
	case "connect":
		resp, err := c.Connect(ctx, &api.Empty{})
		check(err)
		fmt.Printf("Connection: %s\n", resp.State)
	case "disconnect":
		resp, err := c.Disconnect(ctx, &api.Empty{})
		check(err)
		fmt.Printf("Connection: %s\n", resp.State)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

// notRunning explains why the daemon socket did not answer.
func notRunning(profile string) error {
	if pid, since, held := lock.Holder(session.Dir(profile)); held {
		return fmt.Errorf("daemon for profile %q (pid %d, started %s) holds the profile but is not answering",
			profile, pid, since.Format(time.DateTime))
	}
	return fmt.Errorf("daemon not running for profile %q; start it with: deskd --profile %s", profile, profile)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: deskctl [--profile <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                 Show daemon and connection status")
	fmt.Fprintln(os.Stderr, "  conversations          List conversations with unread counters")
	fmt.Fprintln(os.Stderr, "  select <id>            Make a conversation active and print its window")
	fmt.Fprintln(os.Stderr, "  window [id]            Print the window of a conversation (default: active)")
	fmt.Fprintln(os.Stderr, "  older [id]             Grow the window by one page")
	fmt.Fprintln(os.Stderr, "  send <text>            Send a message on the active conversation")
	fmt.Fprintln(os.Stderr, "  retry <msg> [id]       Resend a failed message")
	fmt.Fprintln(os.Stderr, "  close <id>             Close a conversation")
	fmt.Fprintln(os.Stderr, "  connect | disconnect   Open or close the push connection")
	fmt.Fprintln(os.Stderr, "  watch [prefix]         Stream engine events")
}

func cmdStatus(ctx context.Context, c *client.Client, out printer) {
	resp, err := c.GetStatus(ctx, &api.GetStatusRequest{})
	check(err)
	if out.json {
		outputJSON(resp)
		return
	}
	active := resp.ActiveConversation
	if active == "" {
		active = "-"
	}
	fmt.Printf("Profile:       %s\n", resp.Profile)
	fmt.Printf("Connection:    %s\n", stateColor(resp.State).Sprint(resp.State))
	fmt.Printf("Active:        %s\n", active)
	fmt.Printf("Conversations: %d (%d unread)\n", resp.Conversations, resp.Unread)
	fmt.Printf("Pending sends: %d\n", resp.PendingSends)
	fmt.Printf("Uptime:        %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
}

func cmdConversations(ctx context.Context, c *client.Client, out printer) {
	resp, err := c.ListConversations(ctx, &api.ListConversationsRequest{})
	check(err)
	if out.json {
		outputJSON(resp)
		return
	}
	if len(resp.Conversations) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, conv := range resp.Conversations {
		marker := " "
		if conv.Active {
			marker = "*"
		}
		name := conv.DisplayName
		if name == "" {
			name = conv.ID
		}
		unread := "     "
		if conv.Unread > 0 {
			unread = color.YellowString("%-5s", fmt.Sprintf("(%d)", conv.Unread))
		}
		fmt.Printf("%s %-20s %-24s %s %s\n", marker, conv.ID, name, unread, conv.LastSnippet)
	}
}

// cmdSelect waits for the first snapshot so the printed window is complete.
func cmdSelect(ctx context.Context, c *client.Client, id string, out printer) {
	resp, err := c.SelectConversation(ctx, &api.ConversationRequest{ConversationID: id})
	check(err)
	for resp.Loading {
		select {
		case <-ctx.Done():
			fatal(ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
		resp, err = c.GetWindow(ctx, &api.ConversationRequest{ConversationID: id})
		check(err)
	}
	out.window(resp)
}

func cmdWindow(ctx context.Context, c *client.Client, id string, out printer) {
	resp, err := c.GetWindow(ctx, &api.ConversationRequest{ConversationID: id})
	check(err)
	out.window(resp)
}

func cmdWatch(c *client.Client, prefix string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream, err := c.WatchEvents(ctx, &api.WatchEventsRequest{Prefix: prefix})
	check(err)
	for {
		evt, err := stream.Recv()
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return
		}
		check(err)
		if jsonOut {
			outputJSON(evt)
			continue
		}
		ts := time.UnixMilli(evt.TimestampMs).Format("15:04:05.000")
		fmt.Printf("%s %s %v\n", color.HiBlackString(ts), color.CyanString("%-26s", evt.Kind), evt.Data)
	}
}

type printer struct {
	json bool
}

func (p printer) window(w *api.WindowResponse) {
	if p.json {
		outputJSON(w)
		return
	}
	more := ""
	if w.HasMore {
		more = ", older available"
	}
	fmt.Printf("%s: %d of %d messages, %d page(s)%s\n", w.ConversationID, len(w.Messages), w.Total, w.Pages, more)
	if w.Error != "" {
		fmt.Printf("error: %s\n", w.Error)
	}
	for _, m := range w.Messages {
		fmt.Println(formatMessage(m))
	}
}

func (p printer) message(m api.Message) {
	if p.json {
		outputJSON(m)
		return
	}
	fmt.Println(formatMessage(m))
}

func formatMessage(m api.Message) string {
	arrow := "<"
	if m.Direction == "outbound" {
		arrow = ">"
	}
	ts := time.UnixMilli(m.TimestampMs).Format("01-02 15:04")
	return fmt.Sprintf("%s %s [%s] %s  (%s)", ts, arrow, deliveryColor(m.State).Sprintf("%-9s", m.State), m.Preview, m.ID)
}

func stateColor(state string) *color.Color {
	switch state {
	case "ONLINE":
		return color.New(color.FgGreen)
	case "CONNECTING":
		return color.New(color.FgYellow)
	}
	return color.New(color.FgRed, color.Bold)
}

func deliveryColor(state string) *color.Color {
	switch state {
	case "delivered":
		return color.New(color.FgGreen)
	case "sent":
		return color.New(color.FgCyan)
	case "error":
		return color.New(color.FgRed, color.Bold)
	}
	return color.New(color.FgHiBlack)
}

func optional(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

func check(err error) {
	if err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func usageExit(usage string) {
	fmt.Fprintln(os.Stderr, "usage: "+usage)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
