package ui

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gdamore/tcell/v2"
)

// Theme is the console palette. DefaultTheme is used unless a skin file
// overrides some of its colors.
type Theme struct {
	BgColor           tcell.Color
	FgColor           tcell.Color
	BorderColor       tcell.Color
	BorderFocusColor  tcell.Color
	TableHeaderFg     tcell.Color
	TableHeaderBg     tcell.Color
	TableCursorFg     tcell.Color
	TableCursorBg     tcell.Color
	CrumbActiveFg     tcell.Color
	CrumbActiveBg     tcell.Color
	CrumbInactiveFg   tcell.Color
	CrumbInactiveBg   tcell.Color
	MenuKeyColor      tcell.Color
	NumericKeyColor   tcell.Color
	TitleColor        tcell.Color
	CounterColor      tcell.Color
	FlashInfoColor    tcell.Color
	FlashWarnColor    tcell.Color
	FlashErrColor     tcell.Color
	PromptBorderColor tcell.Color

	UnreadColor    tcell.Color
	InboundColor   tcell.Color
	OutboundColor  tcell.Color
	PendingColor   tcell.Color
	FailedColor    tcell.Color
	DeliveredColor tcell.Color
	OnlineColor    tcell.Color
	OfflineColor   tcell.Color
}

// DefaultTheme returns the dark console theme.
func DefaultTheme() *Theme {
	return &Theme{
		BgColor:           tcell.ColorBlack,
		FgColor:           tcell.ColorCadetBlue,
		BorderColor:       tcell.ColorDodgerBlue,
		BorderFocusColor:  tcell.ColorLightSkyBlue,
		TableHeaderFg:     tcell.ColorWhite,
		TableHeaderBg:     tcell.ColorBlack,
		TableCursorFg:     tcell.ColorBlack,
		TableCursorBg:     tcell.ColorAqua,
		CrumbActiveFg:     tcell.ColorBlack,
		CrumbActiveBg:     tcell.ColorOrange,
		CrumbInactiveFg:   tcell.ColorBlack,
		CrumbInactiveBg:   tcell.ColorAqua,
		MenuKeyColor:      tcell.ColorDodgerBlue,
		NumericKeyColor:   tcell.ColorFuchsia,
		TitleColor:        tcell.ColorFuchsia,
		CounterColor:      tcell.ColorPapayaWhip,
		FlashInfoColor:    tcell.ColorNavajoWhite,
		FlashWarnColor:    tcell.ColorOrange,
		FlashErrColor:     tcell.ColorOrangeRed,
		PromptBorderColor: tcell.ColorDodgerBlue,

		UnreadColor:    tcell.ColorGold,
		InboundColor:   tcell.ColorLightSkyBlue,
		OutboundColor:  tcell.ColorMediumSpringGreen,
		PendingColor:   tcell.ColorGray,
		FailedColor:    tcell.ColorOrangeRed,
		DeliveredColor: tcell.ColorLimeGreen,
		OnlineColor:    tcell.ColorLimeGreen,
		OfflineColor:   tcell.ColorOrangeRed,
	}
}

// skinKeys maps the color names accepted in a skin file to theme fields.
var skinKeys = map[string]func(*Theme) *tcell.Color{
	"background":     func(t *Theme) *tcell.Color { return &t.BgColor },
	"foreground":     func(t *Theme) *tcell.Color { return &t.FgColor },
	"border":         func(t *Theme) *tcell.Color { return &t.BorderColor },
	"border_focus":   func(t *Theme) *tcell.Color { return &t.BorderFocusColor },
	"title":          func(t *Theme) *tcell.Color { return &t.TitleColor },
	"header_fg":      func(t *Theme) *tcell.Color { return &t.TableHeaderFg },
	"header_bg":      func(t *Theme) *tcell.Color { return &t.TableHeaderBg },
	"cursor_fg":      func(t *Theme) *tcell.Color { return &t.TableCursorFg },
	"cursor_bg":      func(t *Theme) *tcell.Color { return &t.TableCursorBg },
	"menu_key":       func(t *Theme) *tcell.Color { return &t.MenuKeyColor },
	"flash_info":     func(t *Theme) *tcell.Color { return &t.FlashInfoColor },
	"flash_warn":     func(t *Theme) *tcell.Color { return &t.FlashWarnColor },
	"flash_error":    func(t *Theme) *tcell.Color { return &t.FlashErrColor },
	"unread":         func(t *Theme) *tcell.Color { return &t.UnreadColor },
	"inbound":        func(t *Theme) *tcell.Color { return &t.InboundColor },
	"outbound":       func(t *Theme) *tcell.Color { return &t.OutboundColor },
	"pending":        func(t *Theme) *tcell.Color { return &t.PendingColor },
	"failed":         func(t *Theme) *tcell.Color { return &t.FailedColor },
	"delivered":      func(t *Theme) *tcell.Color { return &t.DeliveredColor },
	"online":         func(t *Theme) *tcell.Color { return &t.OnlineColor },
	"offline":        func(t *Theme) *tcell.Color { return &t.OfflineColor },
	"crumb_active":   func(t *Theme) *tcell.Color { return &t.CrumbActiveBg },
	"crumb_inactive": func(t *Theme) *tcell.Color { return &t.CrumbInactiveBg },
}

// LoadTheme applies the skin file at path on top of DefaultTheme. A skin is
// a [colors] table of W3C names or #rrggbb values:
//
//	[colors]
//	background = "#1e1e2e"
//	unread = "gold"
//
// A missing file yields the default theme.
func LoadTheme(path string) (*Theme, error) {
	theme := DefaultTheme()
	var skin struct {
		Colors map[string]string `toml:"colors"`
	}
	_, err := toml.DecodeFile(path, &skin)
	if errors.Is(err, fs.ErrNotExist) {
		return theme, nil
	}
	if err != nil {
		return theme, fmt.Errorf("parsing skin: %w", err)
	}
	if err := theme.apply(skin.Colors); err != nil {
		return DefaultTheme(), err
	}
	return theme, nil
}

func (t *Theme) apply(colors map[string]string) error {
	names := make([]string, 0, len(colors))
	for name := range colors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		field, ok := skinKeys[name]
		if !ok {
			return fmt.Errorf("skin: unknown color %q", name)
		}
		value := strings.ToLower(strings.TrimSpace(colors[name]))
		c := tcell.GetColor(value)
		if c == tcell.ColorDefault && value != "default" {
			return fmt.Errorf("skin: %s: unrecognized color %q", name, colors[name])
		}
		*field(t) = c
	}
	return nil
}

// colorName returns a tview color tag value for c.
func colorName(c tcell.Color) string {
	for name, val := range tcell.ColorNames {
		if val == c {
			return name
		}
	}
	return fmt.Sprintf("#%06x", c.Hex())
}

// StateColor picks the color for a transport connection state.
func (t *Theme) StateColor(state string) tcell.Color {
	switch state {
	case "ONLINE":
		return t.OnlineColor
	case "CONNECTING":
		return t.FlashWarnColor
	case "OFFLINE", "DISCONNECTED":
		return t.OfflineColor
	}
	return t.FgColor
}
