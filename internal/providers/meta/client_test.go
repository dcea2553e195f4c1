package meta

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/walue/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Params{
		Config: config.Config{Meta: config.MetaConfig{
			GraphBaseURL: srv.URL,
			GraphVersion: "v21.0",
			Timeout:      2 * time.Second,
		}},
		Log: zap.NewNop(),
	})
}

func TestSendMessage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v21.0/1555/messages", r.URL.Path)
		assert.Equal(t, "Bearer waba-token", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "whatsapp", body["messaging_product"])
		assert.Equal(t, "template", body["type"])
		assert.NotContains(t, body, "text")

		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.ABC"}]}`))
	})

	msg := NewMessage("+6281234567", "template")
	msg.Template = &Template{Name: "hello_world", Language: Language{Code: "en_US"}}
	id, err := client.SendMessage(context.Background(), "1555", "waba-token", msg)
	require.NoError(t, err)
	require.Equal(t, "wamid.ABC", id)
}

func TestUpstreamErrorsAreNotRetriedOrLeaked(t *testing.T) {
	var hits int32
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"token EAAB-secret expired","code":190}}`))
	})

	_, err := client.SendMessage(context.Background(), "1555", "tok", NewMessage("+62", "text"))
	require.ErrorIs(t, err, ErrUpstream)
	require.NotContains(t, err.Error(), "EAAB")
	require.EqualValues(t, 1, atomic.LoadInt32(&hits))

	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, http.StatusServiceUnavailable, upstream.Status)
	require.Equal(t, 190, upstream.Code)
}

func TestTransportErrorIsUpstream(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	client.baseURL = "http://127.0.0.1:1/v21.0"

	_, err := client.SendMessage(context.Background(), "1555", "tok", NewMessage("+62", "text"))
	require.ErrorIs(t, err, ErrUpstream)
}

func TestCallTerminateFallsBackToRequestID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v21.0/1555/calls", r.URL.Path)
		var body CallRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, CallActionTerminate, body.Action)
		assert.Equal(t, "whatsapp", body.MessagingProduct)
		_, _ = w.Write([]byte(`{"success":true}`))
	})

	id, err := client.Call(context.Background(), "1555", "tok", CallRequest{Action: CallActionTerminate, CallID: "wacid.1"})
	require.NoError(t, err)
	require.Equal(t, "wacid.1", id)
}

func TestExchangeCodeAndSharedWABA(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v21.0/oauth/access_token":
			assert.Equal(t, "app-1", r.URL.Query().Get("client_id"))
			assert.Equal(t, "meta-code", r.URL.Query().Get("code"))
			_, _ = w.Write([]byte(`{"access_token":"user-token","token_type":"bearer"}`))
		case "/v21.0/debug_token":
			_, _ = w.Write([]byte(`{"data":{"app_id":"biz-9"}}`))
		case "/v21.0/me/whatsapp_business_accounts":
			_, _ = w.Write([]byte(`{"data":[{"id":"waba-1"}]}`))
		case "/v21.0/waba-1/phone_numbers":
			_, _ = w.Write([]byte(`{"data":[{"id":"pn-1","display_phone_number":"+62 811"}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	ctx := context.Background()
	token, err := client.ExchangeCode(ctx, ExchangeRequest{AppID: "app-1", AppSecret: "s", Code: "meta-code"})
	require.NoError(t, err)
	require.Equal(t, "user-token", token)

	details, err := client.SharedWABA(ctx, token)
	require.NoError(t, err)
	require.Equal(t, WABADetails{BusinessID: "biz-9", WabaID: "waba-1", PhoneNumberID: "pn-1", PhoneNumber: "+62 811"}, details)
}
