package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/smallbiznis/walue/internal/config"
	obslogger "github.com/smallbiznis/walue/internal/observability/logger"
	"github.com/smallbiznis/walue/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrUpstream is returned for any failed Graph API call. The upstream
// payload is logged and never carried in the error text.
var ErrUpstream = errors.New("meta_upstream_error")

// UpstreamError carries the status and Graph error code for logging.
type UpstreamError struct {
	Operation string
	Status    int
	Code      int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("meta %s failed with status %d", e.Operation, e.Status)
}

func (e *UpstreamError) Unwrap() error { return ErrUpstream }

const maxResponseBytes = 1 << 20

type Params struct {
	fx.In

	Config  config.Config
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

type Client struct {
	http    *retryablehttp.Client
	baseURL string
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewClient builds a Graph API client. Sends are never retried because the
// upstream side effect may already have happened.
func NewClient(p Params) *Client {
	log := p.Log.Named("providers.meta")

	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.HTTPClient.Timeout = p.Config.Meta.Timeout
	rc.Logger = obslogger.NewLeveledHTTPLogger(log)
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	version := strings.Trim(p.Config.Meta.GraphVersion, "/")
	return &Client{
		http:    rc,
		baseURL: strings.TrimRight(p.Config.Meta.GraphBaseURL, "/") + "/" + version,
		log:     log,
		metrics: p.Metrics,
	}
}

// SendMessage posts a message and returns the Meta message id.
func (c *Client) SendMessage(ctx context.Context, phoneNumberID, accessToken string, msg MessageRequest) (string, error) {
	var out messageResponse
	endpoint := c.baseURL + "/" + url.PathEscape(phoneNumberID) + "/messages"
	if err := c.do(ctx, "send_message", http.MethodPost, endpoint, accessToken, msg, &out); err != nil {
		return "", err
	}
	if len(out.Messages) == 0 {
		return "", nil
	}
	return out.Messages[0].ID, nil
}

// Call issues a calling action (connect, terminate) and returns the call id.
func (c *Client) Call(ctx context.Context, phoneNumberID, accessToken string, req CallRequest) (string, error) {
	req.MessagingProduct = "whatsapp"
	var out callResponse
	endpoint := c.baseURL + "/" + url.PathEscape(phoneNumberID) + "/calls"
	if err := c.do(ctx, "call_"+req.Action, http.MethodPost, endpoint, accessToken, req, &out); err != nil {
		return "", err
	}
	if len(out.Calls) > 0 {
		return out.Calls[0].ID, nil
	}
	return req.CallID, nil
}

type ExchangeRequest struct {
	AppID       string
	AppSecret   string
	Code        string
	RedirectURI string
}

// ExchangeCode trades an embedded-signup code for a user access token.
func (c *Client) ExchangeCode(ctx context.Context, req ExchangeRequest) (string, error) {
	q := url.Values{}
	q.Set("client_id", req.AppID)
	q.Set("client_secret", req.AppSecret)
	q.Set("code", req.Code)
	if req.RedirectURI != "" {
		q.Set("redirect_uri", req.RedirectURI)
	}
	var out tokenResponse
	if err := c.do(ctx, "exchange_code", http.MethodGet, c.baseURL+"/oauth/access_token?"+q.Encode(), "", nil, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", &UpstreamError{Operation: "exchange_code", Status: http.StatusOK}
	}
	return out.AccessToken, nil
}

// SharedWABA looks up the first account and phone number the token grants.
func (c *Client) SharedWABA(ctx context.Context, accessToken string) (WABADetails, error) {
	var details WABADetails

	var debug debugTokenResponse
	q := url.Values{"input_token": {accessToken}}
	if err := c.do(ctx, "debug_token", http.MethodGet, c.baseURL+"/debug_token?"+q.Encode(), accessToken, nil, &debug); err != nil {
		return details, err
	}
	details.BusinessID = debug.Data.AppID

	var accounts listResponse
	if err := c.do(ctx, "list_waba", http.MethodGet, c.baseURL+"/me/whatsapp_business_accounts", accessToken, nil, &accounts); err != nil {
		return details, err
	}
	if len(accounts.Data) == 0 {
		return details, nil
	}
	details.WabaID = accounts.Data[0].ID

	var phones listResponse
	endpoint := c.baseURL + "/" + url.PathEscape(details.WabaID) + "/phone_numbers"
	if err := c.do(ctx, "list_phone_numbers", http.MethodGet, endpoint, accessToken, nil, &phones); err != nil {
		return details, err
	}
	if len(phones.Data) > 0 {
		details.PhoneNumberID = phones.Data[0].ID
		details.PhoneNumber = phones.Data[0].DisplayPhoneNumber
	}
	return details, nil
}

func (c *Client) do(ctx context.Context, operation, method, endpoint, accessToken string, body, out any) error {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("meta %s: encode request: %w", operation, err)
		}
		payload = bytes.NewReader(raw)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return fmt.Errorf("meta %s: build request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, "meta", operation, "transport_error")
		c.log.Warn("meta request failed", zap.String("operation", operation), zap.Error(err))
		return &UpstreamError{Operation: operation}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.RecordProviderRequest(ctx, "meta", operation, "transport_error")
		c.log.Warn("meta response read failed", zap.String("operation", operation), zap.Error(err))
		return &UpstreamError{Operation: operation, Status: resp.StatusCode}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var env errorEnvelope
		_ = json.Unmarshal(raw, &env)
		c.metrics.RecordProviderRequest(ctx, "meta", operation, "upstream_error")
		c.log.Warn("meta request rejected",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
			zap.Int("code", env.Error.Code),
			zap.String("type", env.Error.Type),
			zap.String("message", env.Error.Message),
		)
		return &UpstreamError{Operation: operation, Status: resp.StatusCode, Code: env.Error.Code}
	}

	c.metrics.RecordProviderRequest(ctx, "meta", operation, "ok")
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		c.log.Warn("meta response decode failed", zap.String("operation", operation), zap.Error(err))
		return &UpstreamError{Operation: operation, Status: resp.StatusCode}
	}
	return nil
}
