package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/walue/internal/clock"
	"github.com/smallbiznis/walue/internal/config"
	"github.com/smallbiznis/walue/internal/providers/meta"
	"github.com/smallbiznis/walue/internal/signup/domain"
	tenantdomain "github.com/smallbiznis/walue/internal/tenant/domain"
	"github.com/smallbiznis/walue/internal/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dialogHost  = "https://www.facebook.com"
	signupScope = "whatsapp_business_management,whatsapp_business_messaging"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Config   config.Config
	Settings *config.SettingsHolder
	Repo     domain.Repository
	Meta     *meta.Client
	Tenants  tenantdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	clock    clock.Clock
	cfg      config.Config
	settings *config.SettingsHolder
	repo     domain.Repository
	meta     *meta.Client
	tenants  tenantdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("signup.service"),
		clock:    p.Clock,
		cfg:      p.Config,
		settings: p.Settings,
		repo:     p.Repo,
		meta:     p.Meta,
		tenants:  p.Tenants,
	}
}

func (s *Service) Initiate(ctx context.Context, tenantID string) (domain.InitiateResult, error) {
	settings := s.settings.Get()
	if !settings.Enabled {
		return domain.InitiateResult{}, domain.ErrDisabled
	}
	id, err := snowflake.ParseString(strings.TrimSpace(tenantID))
	if err != nil {
		return domain.InitiateResult{}, tenantdomain.ErrInvalidID
	}
	tenant, err := s.tenants.Get(ctx, id)
	if err != nil {
		return domain.InitiateResult{}, err
	}

	sessionID, err := newSessionID()
	if err != nil {
		return domain.InitiateResult{}, err
	}
	now := s.clock.Now().UTC()
	session := domain.Session{
		ID:        sessionID,
		TenantID:  tenant.ID,
		Status:    domain.StatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, &session); err != nil {
		return domain.InitiateResult{}, err
	}

	s.log.Info("embedded signup initiated", zap.String("tenant_id", tenant.ID.String()))
	return domain.InitiateResult{
		Success:   true,
		Message:   domain.MsgInitiated,
		SignupURL: s.signupURL(settings, sessionID),
		SessionID: sessionID,
	}, nil
}

// Callback completes a session from Meta's redirect. Only one callback can
// claim an initiated session; replays are rejected.
func (s *Service) Callback(ctx context.Context, req domain.CallbackRequest) (domain.CallbackResult, error) {
	state := strings.TrimSpace(req.State)
	if req.Error != "" {
		reason := req.ErrorDescription
		if reason == "" {
			reason = req.Error
		}
		if state != "" {
			s.fail(ctx, state, reason)
		}
		s.log.Warn("embedded signup rejected by meta", zap.String("error", req.Error))
		return domain.CallbackResult{Success: false, Error: reason}, nil
	}

	code := strings.TrimSpace(req.Code)
	if code == "" {
		return domain.CallbackResult{}, validation.New("code", "required", "code is required")
	}
	if state == "" {
		return domain.CallbackResult{}, validation.New("state", "required", "state is required")
	}

	session, err := s.repo.FindByID(ctx, s.db, state)
	if err != nil {
		return domain.CallbackResult{}, err
	}
	if session == nil {
		return domain.CallbackResult{}, domain.ErrInvalidSession
	}
	claimed, err := s.move(ctx, session, domain.StatusInProgress)
	if err != nil {
		return domain.CallbackResult{}, err
	}
	if !claimed {
		return domain.CallbackResult{}, domain.ErrInvalidSession
	}

	creds, err := s.connect(ctx, session, code)
	if err != nil {
		s.log.Warn("embedded signup failed", zap.String("tenant_id", session.TenantID.String()), zap.Error(err))
		s.fail(ctx, session.ID, err.Error())
		return domain.CallbackResult{Success: false, Error: domain.MsgOAuthFailed}, nil
	}

	session.WabaID = &creds.WabaID
	session.PhoneNumberID = optional(creds.PhoneNumberID)
	session.BusinessID = optional(creds.BusinessID)
	if _, err := s.move(ctx, session, domain.StatusCompleted); err != nil {
		return domain.CallbackResult{}, err
	}

	s.log.Info("embedded signup completed", zap.String("tenant_id", session.TenantID.String()))
	return domain.CallbackResult{Success: true, Message: domain.MsgCompleted, Credentials: &creds}, nil
}

func (s *Service) connect(ctx context.Context, session *domain.Session, code string) (domain.Credentials, error) {
	settings := s.settings.Get()
	token, err := s.meta.ExchangeCode(ctx, meta.ExchangeRequest{
		AppID:       settings.MetaAppID,
		AppSecret:   settings.MetaAppSecret,
		Code:        code,
		RedirectURI: settings.SignupRedirectURI,
	})
	if err != nil {
		return domain.Credentials{}, err
	}
	details, err := s.meta.SharedWABA(ctx, token)
	if err != nil {
		return domain.Credentials{}, err
	}
	if details.WabaID == "" {
		return domain.Credentials{}, errors.New("no whatsapp business account shared")
	}

	if _, err := s.tenants.ConnectWABA(ctx, tenantdomain.ConnectWABARequest{
		TenantID:       session.TenantID,
		WabaID:         details.WabaID,
		PhoneNumberID:  details.PhoneNumberID,
		MetaBusinessID: details.BusinessID,
	}); err != nil {
		return domain.Credentials{}, err
	}

	return domain.Credentials{
		WabaID:        details.WabaID,
		PhoneNumberID: details.PhoneNumberID,
		PhoneNumber:   details.PhoneNumber,
		BusinessID:    details.BusinessID,
		AccessToken:   token,
	}, nil
}

func (s *Service) Status(ctx context.Context, sessionID string) (domain.StatusResult, error) {
	session, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(sessionID))
	if err != nil {
		return domain.StatusResult{}, err
	}
	if session == nil {
		return domain.StatusResult{}, domain.ErrNotFound
	}
	out := domain.StatusResult{
		Status:       session.Status,
		ErrorMessage: session.ErrorMessage,
		CreatedAt:    session.CreatedAt,
	}
	if session.Status == domain.StatusCompleted {
		completedAt := session.UpdatedAt
		out.CompletedAt = &completedAt
	}
	return out, nil
}

func (s *Service) PurgeStale(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, errors.New("cutoff is required")
	}
	return s.repo.DeleteCreatedBefore(ctx, s.db, cutoff.UTC(), domain.StaleStatuses)
}

// move applies a transition guarded by the stored status.
func (s *Service) move(ctx context.Context, session *domain.Session, next domain.Status) (bool, error) {
	from := session.Status
	if err := session.Transition(next, s.clock.Now().UTC()); err != nil {
		return false, nil
	}
	return s.repo.UpdateStatus(ctx, s.db, session, from)
}

func (s *Service) fail(ctx context.Context, id, reason string) {
	session, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil || session == nil {
		return
	}
	session.ErrorMessage = &reason
	if _, err := s.move(ctx, session, domain.StatusFailed); err != nil {
		s.log.Warn("signup session not marked failed", zap.Error(err))
	}
}

func (s *Service) signupURL(settings config.Settings, sessionID string) string {
	q := url.Values{}
	q.Set("client_id", settings.MetaAppID)
	q.Set("config_id", settings.MetaConfigID)
	q.Set("response_type", "code")
	q.Set("override_default_response_type", "true")
	q.Set("redirect_uri", settings.SignupRedirectURI)
	q.Set("state", sessionID)
	q.Set("scope", signupScope)
	return dialogHost + "/" + strings.Trim(s.cfg.Meta.GraphVersion, "/") + "/dialog/oauth?" + q.Encode()
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
