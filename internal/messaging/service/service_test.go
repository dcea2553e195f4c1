package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	"github.com/smallbiznis/walue/internal/messaging/domain"
	"github.com/smallbiznis/walue/internal/pricing"
	"github.com/smallbiznis/walue/internal/providers/meta"
	"github.com/smallbiznis/walue/internal/tenant/tenanttest"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	usagerepository "github.com/smallbiznis/walue/internal/usage/repository"
	usageservice "github.com/smallbiznis/walue/internal/usage/service"
	"github.com/smallbiznis/walue/internal/validation"
	"github.com/smallbiznis/walue/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	svc      domain.Service
	usage    usagedomain.Service
	tenantID snowflake.ID
	hits     *int32
	last     *map[string]any
}

func newFixture(t *testing.T, status int, reply string) fixture {
	t.Helper()
	var hits int32
	var last map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		last = map[string]any{}
		_ = json.NewDecoder(r.Body).Decode(&last)
		last["_path"] = r.URL.Path
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)

	conn := dbtest.New(t)
	clk := clock.NewFakeClock(time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC))
	env := tenanttest.New(t, conn, clk)
	res := env.Register(t, "sender@example.com", "starter", true)
	id, err := snowflake.ParseString(res.TenantID)
	require.NoError(t, err)

	usage := usageservice.New(usageservice.Params{
		DB: conn, Log: zap.NewNop(), Clock: clk, Repo: usagerepository.Provide(), Tenants: env.Tenants,
	})
	client := meta.NewClient(meta.Params{
		Config: config.Config{Meta: config.MetaConfig{GraphBaseURL: srv.URL, GraphVersion: "v21.0", Timeout: 2 * time.Second}},
		Log:    zap.NewNop(),
	})
	svc := New(Params{
		Log:     zap.NewNop(),
		Meta:    client,
		Pricing: pricing.NewCalculator(config.NewStaticSettings(config.DefaultSettings())),
		Tenants: env.Tenants,
		Usage:   usage,
	})
	return fixture{svc: svc, usage: usage, tenantID: id, hits: &hits, last: &last}
}

func (f fixture) target() domain.Target {
	return domain.Target{TenantID: f.tenantID, PhoneNumberID: "1555", AccessToken: "tenant-meta-token", To: "+62 812 3456 789"}
}

func (f fixture) messagesToday(t *testing.T) int64 {
	t.Helper()
	summary, err := f.usage.UsageSummary(context.Background(), f.tenantID, usagedomain.PeriodQuery{Period: usagedomain.PeriodToday})
	require.NoError(t, err)
	return summary.Summary.TotalMessages
}

const okReply = `{"messages":[{"id":"wamid.OK"}]}`

func TestSendTemplate(t *testing.T) {
	f := newFixture(t, http.StatusOK, okReply)

	res, err := f.svc.SendTemplate(context.Background(), domain.TemplateRequest{
		Target:       f.target(),
		TemplateName: "order_update",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "wamid.OK", res.MessageID)
	assert.Equal(t, "0.0050", res.Cost.StringFixed(4))

	body := *f.last
	assert.Equal(t, "/v21.0/1555/messages", body["_path"])
	assert.Equal(t, "+628123456789", body["to"])
	template := body["template"].(map[string]any)
	assert.Equal(t, "order_update", template["name"])
	assert.Equal(t, map[string]any{"code": "en_US"}, template["language"])

	assert.Equal(t, int64(1), f.messagesToday(t))
}

func TestSendTextIsFree(t *testing.T) {
	f := newFixture(t, http.StatusOK, okReply)

	res, err := f.svc.SendText(context.Background(), domain.TextRequest{Target: f.target(), Text: "hello"})
	require.NoError(t, err)
	assert.True(t, res.Cost.IsZero())
	assert.Equal(t, map[string]any{"preview_url": false, "body": "hello"}, (*f.last)["text"])
	assert.Equal(t, int64(1), f.messagesToday(t))
}

func TestSendMediaFields(t *testing.T) {
	f := newFixture(t, http.StatusOK, okReply)
	ctx := context.Background()

	_, err := f.svc.SendMedia(ctx, domain.MediaRequest{
		Target: f.target(), MediaType: "document", MediaURL: "https://cdn.example.com/a.pdf",
		Caption: "dropped", Filename: "a.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"link": "https://cdn.example.com/a.pdf", "filename": "a.pdf"}, (*f.last)["document"])

	_, err = f.svc.SendMedia(ctx, domain.MediaRequest{
		Target: f.target(), MediaType: "image", MediaURL: "https://cdn.example.com/a.png",
		Caption: "look", Filename: "dropped.png",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"link": "https://cdn.example.com/a.png", "caption": "look"}, (*f.last)["image"])
	assert.Equal(t, int64(2), f.messagesToday(t))
}

func TestValidationFailsBeforeSending(t *testing.T) {
	f := newFixture(t, http.StatusOK, okReply)
	ctx := context.Background()

	noToken := f.target()
	noToken.AccessToken = ""
	badNumber := f.target()
	badNumber.To = "call me"
	noNumberID := f.target()
	noNumberID.PhoneNumberID = ""

	cases := []struct {
		name  string
		field string
		send  func() error
	}{
		{"missing template", "template_name", func() error {
			_, err := f.svc.SendTemplate(ctx, domain.TemplateRequest{Target: f.target()})
			return err
		}},
		{"empty text", "text", func() error {
			_, err := f.svc.SendText(ctx, domain.TextRequest{Target: f.target(), Text: "  "})
			return err
		}},
		{"bad media type", "media_type", func() error {
			_, err := f.svc.SendMedia(ctx, domain.MediaRequest{Target: f.target(), MediaType: "sticker", MediaURL: "https://x.io/a"})
			return err
		}},
		{"relative media url", "media_url", func() error {
			_, err := f.svc.SendMedia(ctx, domain.MediaRequest{Target: f.target(), MediaType: "image", MediaURL: "/a.png"})
			return err
		}},
		{"missing token", "access_token", func() error {
			_, err := f.svc.SendText(ctx, domain.TextRequest{Target: noToken, Text: "hi"})
			return err
		}},
		{"bad recipient", "to", func() error {
			_, err := f.svc.SendText(ctx, domain.TextRequest{Target: badNumber, Text: "hi"})
			return err
		}},
		{"no phone number id on tenant", "phone_number_id", func() error {
			_, err := f.svc.SendText(ctx, domain.TextRequest{Target: noNumberID, Text: "hi"})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			vErr, ok := validation.As(tc.send())
			require.True(t, ok)
			assert.Equal(t, tc.field, vErr.Field)
		})
	}
	assert.Equal(t, int32(0), atomic.LoadInt32(f.hits))
	assert.Equal(t, int64(0), f.messagesToday(t))
}

func TestProviderErrorIsNotMetered(t *testing.T) {
	f := newFixture(t, http.StatusBadRequest, `{"error":{"message":"(#131030) Recipient not in allowed list","code":131030}}`)

	_, err := f.svc.SendText(context.Background(), domain.TextRequest{Target: f.target(), Text: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrProvider))
	assert.True(t, errors.Is(err, meta.ErrUpstream))
	assert.NotContains(t, err.Error(), "allowed list")
	assert.Equal(t, int32(1), atomic.LoadInt32(f.hits))
	assert.Equal(t, int64(0), f.messagesToday(t))
}
