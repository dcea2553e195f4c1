package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/smallbiznis/walue/internal/config"
	obslogger "github.com/smallbiznis/walue/internal/observability/logger"
	"github.com/smallbiznis/walue/internal/observability/metrics"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

const (
	forwardTimeout  = 5 * time.Second
	SignatureHeader = "X-Walue-Signature"
)

// Forwarder delivers events to tenant sites in the background. Deliveries
// are best effort: Meta has already been acknowledged when they run.
type Forwarder struct {
	http     *retryablehttp.Client
	settings *config.SettingsHolder
	log      *zap.Logger
	metrics  *metrics.Metrics
	wg       conc.WaitGroup
}

func NewForwarder(settings *config.SettingsHolder, log *zap.Logger, m *metrics.Metrics) *Forwarder {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 0
	rc.HTTPClient.Timeout = forwardTimeout
	rc.Logger = obslogger.NewLeveledHTTPLogger(log)
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return &Forwarder{http: rc, settings: settings, log: log, metrics: m}
}

// Forward schedules delivery of ev to siteURL. ctx only contributes values;
// its cancellation does not abort the delivery.
func (f *Forwarder) Forward(ctx context.Context, siteURL string, ev Event) {
	detached := context.WithoutCancel(ctx)
	f.wg.Go(func() {
		outcome := "delivered"
		if err := f.deliver(detached, siteURL, ev); err != nil {
			outcome = "failed"
			f.log.Warn("webhook forward failed",
				zap.String("event_type", ev.Type),
				zap.String("site_url", siteURL),
				zap.Error(err),
			)
		}
		f.metrics.RecordWebhookForward(detached, ev.Type, outcome)
	})
}

func (f *Forwarder) deliver(ctx context.Context, siteURL string, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	settings := f.settings.Get()
	endpoint := strings.TrimRight(siteURL, "/") + settings.WebhookForwardPath

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(settings.VerifyToken, body))

	resp, err := f.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("tenant site responded %d", resp.StatusCode)
	}
	return nil
}

// Drain waits for in-flight deliveries or until ctx is done.
func (f *Forwarder) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		if r := f.wg.WaitAndRecover(); r != nil {
			f.log.Error("webhook forward panicked", zap.Any("panic", r.Value))
		}
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
