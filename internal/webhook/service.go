package webhook

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/smallbiznis/walue/internal/config"
	"github.com/smallbiznis/walue/internal/observability/metrics"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	ErrVerificationFailed = errors.New("webhook_verification_failed")
	ErrInvalidSignature   = errors.New("invalid_webhook_signature")
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Receipt is acknowledged to Meta. Malformed payloads are still
// acknowledged so Meta does not redeliver them.
type Receipt struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	Forwarded int    `json:"-"`
}

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle `optional:"true"`
	Log       *zap.Logger
	Settings  *config.SettingsHolder
	Tenants   tenantdomain.Service
	Metrics   *metrics.Metrics `optional:"true"`
}

type Service struct {
	log       *zap.Logger
	settings  *config.SettingsHolder
	tenants   tenantdomain.Service
	forwarder *Forwarder
}

func New(p Params) *Service {
	log := p.Log.Named("webhook.service")
	svc := &Service{
		log:       log,
		settings:  p.Settings,
		tenants:   p.Tenants,
		forwarder: NewForwarder(p.Settings, log, p.Metrics),
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{OnStop: svc.forwarder.Drain})
	}
	return svc
}

// Verify answers Meta's subscription handshake with the challenge.
func (s *Service) Verify(mode, token, challenge string) (string, error) {
	expected := s.settings.Get().VerifyToken
	if mode != "subscribe" || expected == "" || token != expected {
		return "", ErrVerificationFailed
	}
	return challenge, nil
}

// Receive authenticates a delivery and fans its events out to the sites of
// the owning tenants.
func (s *Service) Receive(ctx context.Context, body []byte, signature string) (Receipt, error) {
	if !VerifySignature(s.settings.Get().MetaAppSecret, body, signature) {
		return Receipt{}, ErrInvalidSignature
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.log.Warn("malformed webhook payload", zap.Error(err))
		return Receipt{Status: StatusError, Message: "Invalid payload"}, nil
	}

	forwarded := 0
	for _, entry := range payload.Entry {
		tenant, ok := s.route(ctx, entry.ID)
		if !ok {
			continue
		}
		for _, change := range entry.Changes {
			for _, ev := range change.Events() {
				s.forwarder.Forward(ctx, tenant.SiteURL, ev)
				forwarded++
			}
		}
	}
	return Receipt{Status: StatusOK, Forwarded: forwarded}, nil
}

func (s *Service) route(ctx context.Context, wabaID string) (tenantdomain.Tenant, bool) {
	if wabaID == "" {
		return tenantdomain.Tenant{}, false
	}
	tenant, err := s.tenants.GetByWabaID(ctx, wabaID)
	if err != nil {
		if !errors.Is(err, tenantdomain.ErrNotFound) {
			s.log.Error("lookup tenant for webhook", zap.String("waba_id", wabaID), zap.Error(err))
		} else {
			s.log.Info("webhook for unknown waba", zap.String("waba_id", wabaID))
		}
		return tenantdomain.Tenant{}, false
	}
	if !tenant.IsActive() {
		s.log.Info("webhook for inactive tenant", zap.String("tenant_id", tenant.ID.String()))
		return tenantdomain.Tenant{}, false
	}
	return tenant, true
}

// Drain blocks until queued forwards finish.
func (s *Service) Drain(ctx context.Context) error {
	return s.forwarder.Drain(ctx)
}
