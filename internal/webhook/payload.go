package webhook

import "encoding/json"

// Event types forwarded to tenant sites.
const (
	EventMessageStatus       = "message_status"
	EventInboundMessage      = "inbound_message"
	EventCallPermissionReply = "call_permission_reply"
	EventCallStatus          = "call_status"
)

// Payload is the subset of Meta's webhook body used for routing.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry.ID is the WhatsApp Business Account id.
type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string `json:"field"`
	Value Value  `json:"value"`
}

type Value struct {
	Metadata struct {
		PhoneNumberID      string `json:"phone_number_id"`
		DisplayPhoneNumber string `json:"display_phone_number"`
	} `json:"metadata"`
	Statuses []struct {
		ID          string            `json:"id"`
		Status      string            `json:"status"`
		Timestamp   string            `json:"timestamp"`
		RecipientID string            `json:"recipient_id"`
		Errors      []json.RawMessage `json:"errors"`
	} `json:"statuses"`
	Messages []struct {
		ID        string `json:"id"`
		From      string `json:"from"`
		Timestamp string `json:"timestamp"`
		Type      string `json:"type"`
		Text      *struct {
			Body string `json:"body"`
		} `json:"text"`
		Interactive *struct {
			Type                string `json:"type"`
			CallPermissionReply *struct {
				Response            string          `json:"response"`
				ExpirationTimestamp json.RawMessage `json:"expiration_timestamp"`
			} `json:"call_permission_reply"`
		} `json:"interactive"`
	} `json:"messages"`
	Calls []struct {
		ID        string          `json:"id"`
		Event     string          `json:"event"`
		Status    string          `json:"status"`
		Direction string          `json:"direction"`
		Timestamp string          `json:"timestamp"`
		Duration  json.RawMessage `json:"duration"`
	} `json:"calls"`
}

// Event is the flattened notification a tenant site receives.
type Event struct {
	Type        string            `json:"type"`
	MessageID   string            `json:"message_id,omitempty"`
	CallID      string            `json:"call_id,omitempty"`
	Status      string            `json:"status,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
	RecipientID string            `json:"recipient_id,omitempty"`
	From        string            `json:"from,omitempty"`
	MessageType string            `json:"message_type,omitempty"`
	Text        *string           `json:"text,omitempty"`
	Response    string            `json:"response,omitempty"`
	Expiration  json.RawMessage   `json:"expiration,omitempty"`
	CallEvent   string            `json:"event,omitempty"`
	Direction   string            `json:"direction,omitempty"`
	Duration    json.RawMessage   `json:"duration,omitempty"`
	Errors      []json.RawMessage `json:"errors,omitempty"`
}

// Events flattens one change into tenant events. Interactive permission
// replies are reported as call_permission_reply rather than as messages.
func (c Change) Events() []Event {
	var out []Event
	v := c.Value
	switch c.Field {
	case "messages":
		for _, s := range v.Statuses {
			out = append(out, Event{
				Type:        EventMessageStatus,
				MessageID:   s.ID,
				Status:      s.Status,
				Timestamp:   s.Timestamp,
				RecipientID: s.RecipientID,
				Errors:      s.Errors,
			})
		}
		for _, m := range v.Messages {
			if m.Type == "interactive" && m.Interactive != nil &&
				m.Interactive.Type == EventCallPermissionReply && m.Interactive.CallPermissionReply != nil {
				out = append(out, Event{
					Type:       EventCallPermissionReply,
					MessageID:  m.ID,
					From:       m.From,
					Timestamp:  m.Timestamp,
					Response:   m.Interactive.CallPermissionReply.Response,
					Expiration: m.Interactive.CallPermissionReply.ExpirationTimestamp,
				})
				continue
			}
			ev := Event{
				Type:        EventInboundMessage,
				MessageID:   m.ID,
				From:        m.From,
				Timestamp:   m.Timestamp,
				MessageType: m.Type,
			}
			if m.Type == "text" && m.Text != nil {
				body := m.Text.Body
				ev.Text = &body
			}
			out = append(out, ev)
		}
	case "calls":
		for _, call := range v.Calls {
			out = append(out, Event{
				Type:      EventCallStatus,
				CallID:    call.ID,
				CallEvent: call.Event,
				Status:    call.Status,
				Direction: call.Direction,
				Timestamp: call.Timestamp,
				Duration:  call.Duration,
			})
		}
	}
	return out
}
