package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	calls []string
}

func (r *recorder) JoinRoom(id string)  { r.calls = append(r.calls, "join:"+id) }
func (r *recorder) LeaveRoom(id string) { r.calls = append(r.calls, "leave:"+id) }

func TestSelectSwitchesRooms(t *testing.T) {
	r := &recorder{}
	c := New(r)

	c.Select("a")
	c.Select("b")
	c.Select("b")
	c.Clear()

	assert.Equal(t, []string{"join:a", "leave:a", "join:b", "leave:b"}, r.calls)
	assert.Equal(t, "", c.Active())
}

func TestTokens(t *testing.T) {
	c := New(nil)
	first := c.Select("a")
	assert.True(t, c.IsCurrent(first))
	assert.True(t, c.IsActive("a"))

	second := c.Select("b")
	assert.False(t, c.IsCurrent(first))
	assert.True(t, c.IsCurrent(second))

	// Coming back to a issues a fresh token; the old one stays stale.
	third := c.Select("a")
	assert.False(t, c.IsCurrent(first))
	assert.True(t, c.IsCurrent(third))
	assert.False(t, c.IsActive(""))
}
