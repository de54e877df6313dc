package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
)

func TestViewBindingShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	var hit string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { hit = "global" }})
	r.AddView("thread", "back", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { hit = "view" }})

	q := tcell.NewEventKey(tcell.KeyRune, 'q', tcell.ModNone)
	assert.True(t, r.HandleEvent("thread", q))
	assert.Equal(t, "view", hit)

	assert.True(t, r.HandleEvent("conversations", q))
	assert.Equal(t, "global", hit)

	assert.False(t, r.HandleEvent("thread", tcell.NewEventKey(tcell.KeyRune, 'z', tcell.ModNone)))
}

func TestSpecialKeyMatches(t *testing.T) {
	a := &Action{Key: tcell.KeyCtrlR}
	assert.True(t, a.Matches(tcell.NewEventKey(tcell.KeyCtrlR, 0, tcell.ModCtrl)))
	assert.False(t, a.Matches(tcell.NewEventKey(tcell.KeyRune, 'r', tcell.ModNone)))
}

func TestHintsKeepOrder(t *testing.T) {
	r := NewRegistry()
	noop := func() {}
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Description: "q:quit", Visible: true, Handler: noop})
	r.AddGlobal("help", &Action{Key: tcell.KeyRune, Rune: '?', Description: "?:help", Visible: true, Handler: noop})
	r.AddGlobal("hidden", &Action{Key: tcell.KeyRune, Rune: 'x', Handler: noop})
	r.AddView("thread", "older", &Action{Key: tcell.KeyRune, Rune: 'o', Description: "o:older", Visible: true, Handler: noop})

	for range 5 {
		assert.Equal(t, []string{"o:older", "q:quit", "?:help"}, r.Hints("thread"))
	}

	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'Q', Description: "Q:quit", Visible: true, Handler: noop})
	assert.Equal(t, []string{"Q:quit", "?:help"}, r.Hints("conversations"))
}
