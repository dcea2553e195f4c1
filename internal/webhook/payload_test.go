package webhook

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePayload = `{
  "object": "whatsapp_business_account",
  "entry": [{
    "id": "waba-1",
    "changes": [
      {"field": "messages", "value": {
        "metadata": {"phone_number_id": "pn-1"},
        "statuses": [{"id": "wamid.1", "status": "delivered", "timestamp": "1712736000", "recipient_id": "6281234567890"}],
        "messages": [
          {"id": "wamid.2", "from": "6281234567890", "timestamp": "1712736001", "type": "text", "text": {"body": "halo"}},
          {"id": "wamid.3", "from": "6281234567890", "timestamp": "1712736002", "type": "image"},
          {"id": "wamid.4", "from": "6281234567890", "timestamp": "1712736003", "type": "interactive",
           "interactive": {"type": "call_permission_reply", "call_permission_reply": {"response": "accept", "expiration_timestamp": 1713340800}}}
        ]
      }},
      {"field": "calls", "value": {
        "calls": [{"id": "wacid.1", "event": "terminate", "status": "COMPLETED", "direction": "BUSINESS_INITIATED", "timestamp": "1712736100", "duration": 42}]
      }},
      {"field": "account_update", "value": {}}
    ]
  }]
}`

func TestChangeEvents(t *testing.T) {
	var p Payload
	require.NoError(t, json.Unmarshal([]byte(samplePayload), &p))
	require.Len(t, p.Entry, 1)
	assert.Equal(t, "waba-1", p.Entry[0].ID)

	changes := p.Entry[0].Changes
	messages := changes[0].Events()
	require.Len(t, messages, 4)

	assert.Equal(t, EventMessageStatus, messages[0].Type)
	assert.Equal(t, "delivered", messages[0].Status)
	assert.Equal(t, "6281234567890", messages[0].RecipientID)

	assert.Equal(t, EventInboundMessage, messages[1].Type)
	require.NotNil(t, messages[1].Text)
	assert.Equal(t, "halo", *messages[1].Text)

	assert.Equal(t, "image", messages[2].MessageType)
	assert.Nil(t, messages[2].Text)

	assert.Equal(t, EventCallPermissionReply, messages[3].Type)
	assert.Equal(t, "accept", messages[3].Response)
	assert.JSONEq(t, `1713340800`, string(messages[3].Expiration))

	calls := changes[1].Events()
	require.Len(t, calls, 1)
	assert.Equal(t, EventCallStatus, calls[0].Type)
	assert.Equal(t, "wacid.1", calls[0].CallID)
	assert.Equal(t, "terminate", calls[0].CallEvent)
	assert.JSONEq(t, `42`, string(calls[0].Duration))

	assert.Empty(t, changes[2].Events())
}

func TestEventJSONOmitsEmptyFields(t *testing.T) {
	raw, err := json.Marshal(Event{Type: EventMessageStatus, MessageID: "wamid.1", Status: "read"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"message_status","message_id":"wamid.1","status":"read"}`, string(raw))
}
