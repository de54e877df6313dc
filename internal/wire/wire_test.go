package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/matheus3301/desk/internal/domain"
)

func TestToDomainLeavesOmittedFieldsEmpty(t *testing.T) {
	m := Message{ID: "m1", ConversationID: "c1", Status: "delivered"}
	got := m.ToDomain()
	assert.Equal(t, domain.Direction(""), got.Direction)
	assert.Equal(t, domain.Delivered, got.State)
	assert.True(t, got.Timestamp.IsZero())
	assert.True(t, got.Payload.Empty())

	m = Message{ID: "m1", ConversationID: "c1", Status: "bogus"}
	assert.Equal(t, domain.DeliveryState(""), m.ToDomain().State)
}

func TestToDomainDirection(t *testing.T) {
	for in, want := range map[string]domain.Direction{
		"outbound": domain.Outbound,
		"inbound":  domain.Inbound,
		"customer": domain.Inbound,
	} {
		m := Message{ID: "m1", Direction: in, Type: "text", Content: json.RawMessage(`"hi"`)}
		assert.Equal(t, want, m.ToDomain().Direction, in)
	}
}

func TestWithDefaultsOnCompleteMessage(t *testing.T) {
	in := Message{ID: "m1", Type: "text", Content: json.RawMessage(`"hi"`)}
	got := in.ToDomain().WithDefaults()
	assert.Equal(t, domain.Inbound, got.Direction)
	assert.Equal(t, domain.Delivered, got.State)

	out := Message{ID: "m2", Direction: "outbound", Type: "text", Content: json.RawMessage(`"hi"`)}
	assert.Equal(t, domain.Sent, out.ToDomain().WithDefaults().State)

	kept := Message{ID: "m3", Direction: "outbound", Status: "pending"}
	assert.Equal(t, domain.Pending, kept.ToDomain().WithDefaults().State)
}
