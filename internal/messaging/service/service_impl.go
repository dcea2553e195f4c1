package service

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/smallbiznis/walue/internal/messaging/domain"
	"github.com/smallbiznis/walue/internal/pricing"
	"github.com/smallbiznis/walue/internal/providers/meta"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	"github.com/smallbiznis/walue/internal/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var mediaTypes = []string{"image", "video", "document", "audio"}

type Params struct {
	fx.In

	Log     *zap.Logger
	Meta    *meta.Client
	Pricing *pricing.Calculator
	Tenants tenantdomain.Service
	Usage   usagedomain.Service
}

type Service struct {
	log     *zap.Logger
	meta    *meta.Client
	pricing *pricing.Calculator
	tenants tenantdomain.Service
	usage   usagedomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		log:     p.Log.Named("messaging.service"),
		meta:    p.Meta,
		pricing: p.Pricing,
		tenants: p.Tenants,
		usage:   p.Usage,
	}
}

func (s *Service) SendTemplate(ctx context.Context, req domain.TemplateRequest) (domain.SendResult, error) {
	name := strings.TrimSpace(req.TemplateName)
	if name == "" {
		return domain.SendResult{}, validation.New("template_name", "required", "template_name is required")
	}
	lang := strings.TrimSpace(req.Language)
	if lang == "" {
		lang = domain.DefaultTemplateLanguage
	}

	return s.send(ctx, req.Target, pricing.MessageTemplate, name, func(to string) meta.MessageRequest {
		msg := meta.NewMessage(to, "template")
		msg.Template = &meta.Template{
			Name:       name,
			Language:   meta.Language{Code: lang},
			Components: req.Components,
		}
		return msg
	})
}

func (s *Service) SendText(ctx context.Context, req domain.TextRequest) (domain.SendResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return domain.SendResult{}, validation.New("text", "required", "text is required")
	}

	return s.send(ctx, req.Target, pricing.MessageText, "", func(to string) meta.MessageRequest {
		msg := meta.NewMessage(to, "text")
		msg.Text = &meta.Text{PreviewURL: false, Body: req.Text}
		return msg
	})
}

func (s *Service) SendMedia(ctx context.Context, req domain.MediaRequest) (domain.SendResult, error) {
	mediaType := strings.ToLower(strings.TrimSpace(req.MediaType))
	if !slices.Contains(mediaTypes, mediaType) {
		return domain.SendResult{}, validation.New("media_type", "invalid_media_type", "media_type must be image, video, document or audio")
	}
	link := strings.TrimSpace(req.MediaURL)
	if u, err := url.Parse(link); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return domain.SendResult{}, validation.New("media_url", "invalid_url", "media_url must be an absolute http(s) url")
	}

	media := &meta.Media{Link: link}
	switch mediaType {
	case "image", "video":
		media.Caption = strings.TrimSpace(req.Caption)
	case "document":
		media.Filename = strings.TrimSpace(req.Filename)
	}

	return s.send(ctx, req.Target, pricing.MessageMedia, "", func(to string) meta.MessageRequest {
		msg := meta.NewMessage(to, mediaType)
		switch mediaType {
		case "image":
			msg.Image = media
		case "video":
			msg.Video = media
		case "document":
			msg.Document = media
		case "audio":
			msg.Audio = media
		}
		return msg
	})
}

// send validates the target, forwards the message once and meters it. A
// metering failure after a successful send is logged for reconciliation by
// the usage service and does not fail the request.
func (s *Service) send(ctx context.Context, target domain.Target, kind pricing.MessageKind, templateName string, build func(to string) meta.MessageRequest) (domain.SendResult, error) {
	to, ok := meta.NormalizeRecipient(target.To)
	if !ok {
		return domain.SendResult{}, validation.New("to", "invalid_phone_number", "to must be an E.164 phone number")
	}
	token := strings.TrimSpace(target.AccessToken)
	if token == "" {
		return domain.SendResult{}, validation.New("access_token", "required", "access_token is required")
	}

	tenant, err := s.tenants.Get(ctx, target.TenantID)
	if err != nil {
		return domain.SendResult{}, err
	}
	phoneNumberID := strings.TrimSpace(target.PhoneNumberID)
	if phoneNumberID == "" && tenant.PhoneNumberID != nil {
		phoneNumberID = *tenant.PhoneNumberID
	}
	if phoneNumberID == "" {
		return domain.SendResult{}, validation.New("phone_number_id", "required", "phone_number_id is required")
	}
	plan, err := s.tenants.Plan(ctx, tenant)
	if err != nil {
		return domain.SendResult{}, err
	}

	messageID, err := s.meta.SendMessage(ctx, phoneNumberID, token, build(to))
	if err != nil {
		s.log.Warn("message send failed",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return domain.SendResult{}, fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}

	cost := s.pricing.MessageBreakdown(kind, templateName, plan)
	if err := s.usage.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		TenantID: tenant.ID,
		Kind:     usagedomain.KindMessage,
		Count:    1,
		Cost:     cost.BaseCost,
		Markup:   cost.Markup,
	}); err != nil {
		s.log.Error("message sent but not metered",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("message_id", messageID),
			zap.Error(err),
		)
	}

	return domain.SendResult{Success: true, MessageID: messageID, Cost: cost.BaseCost}, nil
}
