package views

import (
	"strings"
	"unicode"
)

// sanitizeForTerminal makes customer-supplied text safe to hand to tview.
// Terminal escape sequences and control characters are removed so a message
// cannot move the cursor or recolor the screen, tabs become spaces, and the
// combining codepoints tcell cannot measure are dropped: skin tone modifiers,
// zero width joiners and variation selectors. A thumbs-up with a skin tone
// therefore renders as the plain two-cell thumbs-up.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	rs := []rune(s)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		switch {
		case r == '\x1b':
			i = skipEscape(rs, i)
		case r == '\t':
			b.WriteString("    ")
		case r == '\n':
			b.WriteRune(r)
		case unicode.IsControl(r), unmeasurable(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// skipEscape returns the index of the last rune of the escape sequence that
// starts at rs[i]. CSI sequences run to their final byte; OSC sequences run
// to BEL or ST; anything else consumes the single following rune.
func skipEscape(rs []rune, i int) int {
	if i+1 >= len(rs) {
		return i
	}
	switch rs[i+1] {
	case '[':
		for j := i + 2; j < len(rs); j++ {
			if rs[j] >= 0x40 && rs[j] <= 0x7e {
				return j
			}
		}
		return len(rs) - 1
	case ']':
		for j := i + 2; j < len(rs); j++ {
			if rs[j] == '\a' {
				return j
			}
			if rs[j] == '\x1b' && j+1 < len(rs) && rs[j+1] == '\\' {
				return j + 1
			}
		}
		return len(rs) - 1
	}
	return i + 1
}

func unmeasurable(r rune) bool {
	return (r >= 0x1F3FB && r <= 0x1F3FF) || // skin tones
		r == 0x200D || // ZWJ
		(r >= 0xFE00 && r <= 0xFE0F) ||
		(r >= 0xE0100 && r <= 0xE01EF)
}
