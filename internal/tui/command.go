package tui

import "strings"

// Command represents a parsed command.
type Command struct {
	Name string
	Args string
}

// aliases maps short forms to their command name.
var aliases = map[string]string{
	"q":    "quit",
	"h":    "help",
	"o":    "open",
	"chat": "open",
	"r":    "reply",
}

// commandNames are offered for completion in the command prompt.
var commandNames = []string{
	"close", "connect", "disconnect", "help", "older", "open", "quit", "reply", "retry",
}

// ParseCommand parses a command string (without the leading ':'). Aliases
// resolve to their full name.
func ParseCommand(input string) Command {
	input = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(input), ":"))
	parts := strings.SplitN(input, " ", 2)
	cmd := Command{Name: strings.ToLower(parts[0])}
	if full, ok := aliases[cmd.Name]; ok {
		cmd.Name = full
	}
	if len(parts) > 1 {
		cmd.Args = strings.TrimSpace(parts[1])
	}
	return cmd
}
