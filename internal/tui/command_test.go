package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{"quit", Command{Name: "quit"}},
		{" :Q ", Command{Name: "quit"}},
		{"open Ana Souza", Command{Name: "open", Args: "Ana Souza"}},
		{"chat  T-100 ", Command{Name: "open", Args: "T-100"}},
		{"retry m-3", Command{Name: "retry", Args: "m-3"}},
		{"r", Command{Name: "reply"}},
		{"", Command{}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseCommand(tt.in), tt.in)
	}
}

func TestCommandNamesAreCanonical(t *testing.T) {
	for _, full := range aliases {
		assert.Contains(t, commandNames, full)
	}
}
