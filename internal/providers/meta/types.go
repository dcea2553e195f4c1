package meta

// Message payloads follow the Cloud API shapes. Only the fields this
// service sends are modelled.

type Language struct {
	Code string `json:"code"`
}

type Template struct {
	Name       string           `json:"name"`
	Language   Language         `json:"language"`
	Components []map[string]any `json:"components,omitempty"`
}

type Text struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type Media struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type Interactive struct {
	Type   string            `json:"type"`
	Body   InteractiveBody   `json:"body"`
	Action InteractiveAction `json:"action"`
}

type InteractiveBody struct {
	Text string `json:"text"`
}

type InteractiveAction struct {
	Name       string         `json:"name"`
	Parameters map[string]any `json:"parameters"`
}

// MessageRequest is the body of POST /{phone_number_id}/messages. Exactly
// one content field is set, matching Type.
type MessageRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	RecipientType    string       `json:"recipient_type"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	Template         *Template    `json:"template,omitempty"`
	Text             *Text        `json:"text,omitempty"`
	Image            *Media       `json:"image,omitempty"`
	Video            *Media       `json:"video,omitempty"`
	Document         *Media       `json:"document,omitempty"`
	Audio            *Media       `json:"audio,omitempty"`
	Interactive      *Interactive `json:"interactive,omitempty"`
}

func NewMessage(to, kind string) MessageRequest {
	return MessageRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             kind,
	}
}

type messageResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

const (
	CallActionConnect   = "connect"
	CallActionTerminate = "terminate"
)

// CallRequest is the body of POST /{phone_number_id}/calls.
type CallRequest struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to,omitempty"`
	Action           string       `json:"action"`
	CallID           string       `json:"call_id,omitempty"`
	Session          *CallSession `json:"session,omitempty"`
}

type CallSession struct {
	SDPType string `json:"sdp_type"`
	SDP     string `json:"sdp"`
}

type callResponse struct {
	Calls []struct {
		ID string `json:"id"`
	} `json:"calls"`
	Success bool `json:"success"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type debugTokenResponse struct {
	Data struct {
		AppID string `json:"app_id"`
	} `json:"data"`
}

type listResponse struct {
	Data []struct {
		ID                 string `json:"id"`
		DisplayPhoneNumber string `json:"display_phone_number"`
	} `json:"data"`
}

// WABADetails identifies the account shared through embedded signup.
type WABADetails struct {
	BusinessID    string `json:"business_id"`
	WabaID        string `json:"waba_id"`
	PhoneNumberID string `json:"phone_number_id"`
	PhoneNumber   string `json:"phone_number"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    int    `json:"code"`
	} `json:"error"`
}
