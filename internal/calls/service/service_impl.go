package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"github.com/smallbiznis/walue/internal/calls/domain"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	"github.com/smallbiznis/walue/internal/pricing"
	"github.com/smallbiznis/walue/internal/providers/janus"
	"github.com/smallbiznis/walue/internal/providers/meta"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	"github.com/smallbiznis/walue/internal/tokenstore"
	usagedomain "github.com/smallbiznis/walue/internal/usage/domain"
	"github.com/smallbiznis/walue/internal/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	permissionBody     = "We'd like to call you. Please approve to receive our call."
	permissionTemplate = "voice_call_request"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Settings *config.SettingsHolder
	Store    tokenstore.Store
	Gateway  janus.Gateway
	Meta     *meta.Client
	Pricing  *pricing.Calculator
	Tenants  tenantdomain.Service
	Usage    usagedomain.Service
}

type Service struct {
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.Config
	settings *config.SettingsHolder
	store    tokenstore.Store
	gateway  janus.Gateway
	meta     *meta.Client
	pricing  *pricing.Calculator
	tenants  tenantdomain.Service
	usage    usagedomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		log:      p.Log.Named("calls.service"),
		clock:    p.Clock,
		cfg:      p.Config,
		settings: p.Settings,
		store:    p.Store,
		gateway:  p.Gateway,
		meta:     p.Meta,
		pricing:  p.Pricing,
		tenants:  p.Tenants,
		usage:    p.Usage,
	}
}

func (s *Service) Initiate(ctx context.Context, req domain.InitiateRequest) (domain.InitiateResult, error) {
	to, err := callee(req.To)
	if err != nil {
		return domain.InitiateResult{}, err
	}
	if _, ok := meta.NormalizeRecipient(req.FromNumber); !ok {
		return domain.InitiateResult{}, validation.New("from_number", "invalid_phone_number", "from_number must be an E.164 phone number")
	}
	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		return domain.InitiateResult{}, validation.New("access_token", "required", "access_token is required")
	}
	tenant, err := s.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return domain.InitiateResult{}, err
	}
	phoneNumberID, err := resolvePhoneNumberID(req.PhoneNumberID, tenant)
	if err != nil {
		return domain.InitiateResult{}, err
	}

	handle, err := s.gateway.Open(ctx)
	if err != nil {
		s.log.Warn("janus session failed", zap.String("tenant_id", tenant.ID.String()), zap.Error(err))
		return domain.InitiateResult{}, fmt.Errorf("%w: %w", domain.ErrGateway, err)
	}

	now := s.clock.Now().UTC()
	session := domain.Session{
		ID:             ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		TenantID:       tenant.ID.String(),
		JanusSessionID: handle.SessionID,
		JanusHandleID:  handle.HandleID,
		PhoneNumberID:  phoneNumberID,
		StartedAt:      now,
		Status:         domain.StatusInitiating,
	}

	if sdp := strings.TrimSpace(req.SDP); sdp != "" {
		callID, err := s.meta.Call(ctx, phoneNumberID, token, meta.CallRequest{
			To:      to,
			Action:  meta.CallActionConnect,
			Session: &meta.CallSession{SDPType: "offer", SDP: sdp},
		})
		if err != nil {
			s.release(ctx, handle)
			return domain.InitiateResult{}, fmt.Errorf("%w: %w", domain.ErrProvider, err)
		}
		session.MetaCallID = callID
		session.Status = domain.StatusActive
	}

	if err := tokenstore.SetJSON(ctx, s.store, domain.SessionKey(session.ID), session, s.settings.Get().CallSessionTTL); err != nil {
		s.release(ctx, handle)
		return domain.InitiateResult{}, err
	}

	return domain.InitiateResult{
		Success:        true,
		CallSessionID:  session.ID,
		JanusSessionID: handle.SessionID,
		JanusHandleID:  handle.HandleID,
		JanusWSURL:     s.cfg.Janus.PublicWSURL,
		MetaCallID:     session.MetaCallID,
		ICEServers:     s.ICEServers(ctx),
	}, nil
}

// End meters a finished call exactly once. The session is taken out of the
// store atomically, so a concurrent End for the same id sees not found.
func (s *Service) End(ctx context.Context, req domain.EndRequest) (domain.EndResult, error) {
	if req.DurationSeconds < 0 {
		return domain.EndResult{}, validation.New("duration_seconds", "invalid_duration", "duration_seconds must not be negative")
	}
	if _, err := s.owned(ctx, req.TenantID, req.CallSessionID); err != nil {
		return domain.EndResult{}, err
	}

	var session domain.Session
	if err := tokenstore.TakeJSON(ctx, s.store, domain.SessionKey(req.CallSessionID), &session); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return domain.EndResult{}, domain.ErrSessionNotFound
		}
		return domain.EndResult{}, err
	}

	if session.MetaCallID != "" && strings.TrimSpace(req.AccessToken) != "" {
		if _, err := s.meta.Call(ctx, session.PhoneNumberID, strings.TrimSpace(req.AccessToken), meta.CallRequest{
			Action: meta.CallActionTerminate,
			CallID: session.MetaCallID,
		}); err != nil {
			s.log.Warn("meta call terminate failed", zap.String("call_session_id", session.ID), zap.Error(err))
		}
	}
	s.release(ctx, janus.Handle{SessionID: session.JanusSessionID, HandleID: session.JanusHandleID})

	tenant, err := s.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return domain.EndResult{}, err
	}
	plan, err := s.tenants.Plan(ctx, tenant)
	if err != nil {
		return domain.EndResult{}, err
	}
	cost := s.pricing.CallCost(req.DurationSeconds, plan)

	if err := s.usage.RecordUsage(ctx, usagedomain.RecordUsageRequest{
		TenantID:        tenant.ID,
		Kind:            usagedomain.KindCall,
		Count:           1,
		DurationMinutes: cost.DurationMinutes,
		Cost:            cost.BaseCost,
		Markup:          cost.Markup,
	}); err != nil {
		s.log.Error("call ended but not metered",
			zap.String("tenant_id", tenant.ID.String()),
			zap.String("call_session_id", session.ID),
			zap.Error(err),
		)
	}

	return domain.EndResult{
		Success:         true,
		DurationSeconds: req.DurationSeconds,
		Cost:            cost.TotalCost,
		Breakdown:       domain.CostBreakdown{BaseCost: cost.BaseCost, Markup: cost.Markup},
	}, nil
}

func (s *Service) Status(ctx context.Context, tenantID snowflake.ID, callSessionID string) (domain.StatusResult, error) {
	session, err := s.owned(ctx, tenantID, callSessionID)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return domain.StatusResult{Status: domain.StatusNotFound}, nil
	}
	if err != nil {
		return domain.StatusResult{}, err
	}
	startedAt := session.StartedAt
	return domain.StatusResult{Status: session.Status, StartedAt: &startedAt}, nil
}

func (s *Service) RequestPermission(ctx context.Context, req domain.PermissionRequest) (domain.PermissionResult, error) {
	to, err := callee(req.To)
	if err != nil {
		return domain.PermissionResult{}, err
	}
	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		return domain.PermissionResult{}, validation.New("access_token", "required", "access_token is required")
	}
	tenant, err := s.tenants.Get(ctx, req.TenantID)
	if err != nil {
		return domain.PermissionResult{}, err
	}
	phoneNumberID, err := resolvePhoneNumberID(req.PhoneNumberID, tenant)
	if err != nil {
		return domain.PermissionResult{}, err
	}

	var msg meta.MessageRequest
	if req.UseTemplate {
		msg = meta.NewMessage(to, "template")
		msg.Template = &meta.Template{
			Name:     permissionTemplate,
			Language: meta.Language{Code: "en"},
			Components: []map[string]any{{
				"type":       "button",
				"sub_type":   "voice_call",
				"index":      0,
				"parameters": []any{},
			}},
		}
	} else {
		msg = meta.NewMessage(to, "interactive")
		msg.Interactive = &meta.Interactive{
			Type:   "call_permission_request",
			Body:   meta.InteractiveBody{Text: permissionBody},
			Action: meta.InteractiveAction{Name: "voice_call", Parameters: map[string]any{}},
		}
	}

	messageID, err := s.meta.SendMessage(ctx, phoneNumberID, token, msg)
	if err != nil {
		return domain.PermissionResult{}, fmt.Errorf("%w: %w", domain.ErrProvider, err)
	}
	return domain.PermissionResult{Success: true, MessageID: messageID, Message: domain.MsgPermissionSent}, nil
}

func (s *Service) ICEServers(context.Context) []domain.ICEServer {
	return lo.Map(s.cfg.Janus.StunServers, func(url string, _ int) domain.ICEServer {
		return domain.ICEServer{URLs: url}
	})
}

// owned loads a session and hides sessions of other tenants.
func (s *Service) owned(ctx context.Context, tenantID snowflake.ID, id string) (domain.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Session{}, validation.New("call_session_id", "required", "call_session_id is required")
	}
	var session domain.Session
	if err := tokenstore.GetJSON(ctx, s.store, domain.SessionKey(id), &session); err != nil {
		if errors.Is(err, tokenstore.ErrNotFound) {
			return domain.Session{}, domain.ErrSessionNotFound
		}
		return domain.Session{}, err
	}
	if session.TenantID != tenantID.String() {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) release(ctx context.Context, h janus.Handle) {
	if err := s.gateway.Release(ctx, h); err != nil {
		s.log.Warn("janus release failed", zap.Int64("janus_session_id", h.SessionID), zap.Error(err))
	}
}

// callee validates the number to call and rejects restricted regions.
func callee(raw string) (string, error) {
	to, ok := meta.NormalizeRecipient(raw)
	if !ok {
		return "", validation.New("to", "invalid_phone_number", "to must be an E.164 phone number")
	}
	if _, restricted := restrictedCountry(to); restricted {
		return "", domain.ErrCallingRestricted
	}
	return to, nil
}

func resolvePhoneNumberID(raw string, tenant tenantdomain.Tenant) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" && tenant.PhoneNumberID != nil {
		id = *tenant.PhoneNumberID
	}
	if id == "" {
		return "", validation.New("phone_number_id", "required", "phone_number_id is required")
	}
	return id, nil
}
