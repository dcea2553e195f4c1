package config

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Settings are the runtime values that can be changed without a restart.
type Settings struct {
	Enabled bool `mapstructure:"enabled"`

	MetaAppID     string `mapstructure:"meta_app_id"`
	MetaAppSecret string `mapstructure:"meta_app_secret"`
	MetaConfigID  string `mapstructure:"meta_config_id"`
	VerifyToken   string `mapstructure:"verify_token"`

	OAuthSecret     string        `mapstructure:"oauth_secret"`
	AuthCodeTTL     time.Duration `mapstructure:"auth_code_ttl"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`

	CallRatePerMinute    float64 `mapstructure:"call_rate_per_minute"`
	TemplateMessageCost  float64 `mapstructure:"template_message_cost"`
	DefaultCallMarkup    float64 `mapstructure:"default_call_markup"`
	DefaultMessageMarkup float64 `mapstructure:"default_message_markup"`

	RetentionDays       int           `mapstructure:"retention_days"`
	SignupSessionMaxAge time.Duration `mapstructure:"signup_session_max_age"`
	CallSessionTTL      time.Duration `mapstructure:"call_session_ttl"`
	WebhookForwardPath  string        `mapstructure:"webhook_forward_path"`
	SignupRedirectURI   string        `mapstructure:"signup_redirect_uri"`
}

func DefaultSettings() Settings {
	return Settings{
		Enabled:              false,
		OAuthSecret:          "",
		AuthCodeTTL:          600 * time.Second,
		AccessTokenTTL:       3600 * time.Second,
		RefreshTokenTTL:      2592000 * time.Second,
		CallRatePerMinute:    0.03,
		TemplateMessageCost:  0.005,
		DefaultCallMarkup:    0.35,
		DefaultMessageMarkup: 0.30,
		RetentionDays:        90,
		SignupSessionMaxAge:  24 * time.Hour,
		CallSessionTTL:       3600 * time.Second,
		WebhookForwardPath:   "/api/method/walue_whatsapp_client.api.webhooks.receive",
	}
}

var (
	ErrSettingsIncomplete = errors.New("settings_incomplete")
	ErrSettingsInvalid    = errors.New("settings_invalid")
)

// Validate checks that the settings can be served.
func (s Settings) Validate() error {
	if s.Enabled {
		if strings.TrimSpace(s.MetaAppID) == "" ||
			strings.TrimSpace(s.MetaAppSecret) == "" ||
			strings.TrimSpace(s.VerifyToken) == "" {
			return ErrSettingsIncomplete
		}
	}
	if s.AuthCodeTTL <= 0 || s.AccessTokenTTL <= 0 || s.RefreshTokenTTL <= 0 || s.CallSessionTTL <= 0 {
		return ErrSettingsInvalid
	}
	if s.CallRatePerMinute < 0 || s.TemplateMessageCost < 0 || s.DefaultCallMarkup < 0 || s.DefaultMessageMarkup < 0 {
		return ErrSettingsInvalid
	}
	if s.RetentionDays <= 0 {
		return ErrSettingsInvalid
	}
	return nil
}

// SettingsHolder serves the current Settings and notifies subscribers on reload.
type SettingsHolder struct {
	v       *viper.Viper
	log     *zap.Logger
	current atomic.Value // holds Settings

	mu    sync.Mutex
	hooks []func(Settings)
}

func NewSettingsHolder(cfg Config, log *zap.Logger) (*SettingsHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}

	v := viper.New()
	v.SetConfigName("settings")
	v.SetConfigType("yml")
	if cfg.SettingsDir != "" {
		v.AddConfigPath(cfg.SettingsDir)
	}
	v.AddConfigPath("/etc/walue")
	v.AddConfigPath(".")

	v.SetEnvPrefix("WALUE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultSettings())

	found := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		found = false
	}

	h := &SettingsHolder{v: v, log: log.Named("config.settings")}
	settings, err := h.decode()
	if err != nil {
		return nil, err
	}
	h.current.Store(settings)

	if found {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			if err := h.Reload(); err != nil {
				h.log.Warn("settings reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			h.log.Info("settings reloaded", zap.String("file", e.Name))
		})
	}

	return h, nil
}

// NewStaticSettings returns a holder that is never backed by a file.
func NewStaticSettings(s Settings) *SettingsHolder {
	h := &SettingsHolder{log: zap.NewNop()}
	h.current.Store(s)
	return h
}

func (h *SettingsHolder) Get() Settings {
	return h.current.Load().(Settings)
}

// OnChange registers fn to run after every successful reload.
func (h *SettingsHolder) OnChange(fn func(Settings)) {
	if fn == nil {
		return
	}
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

// Reload re-reads the settings source. Invalid settings keep the previous value.
func (h *SettingsHolder) Reload() error {
	if h.v == nil {
		return nil
	}
	if err := h.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	settings, err := h.decode()
	if err != nil {
		return err
	}
	h.store(settings)
	return nil
}

// Set replaces the current settings after validation.
func (h *SettingsHolder) Set(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	h.store(s)
	return nil
}

func (h *SettingsHolder) store(s Settings) {
	h.current.Store(s)

	h.mu.Lock()
	hooks := append([]func(Settings){}, h.hooks...)
	h.mu.Unlock()

	for _, fn := range hooks {
		fn(s)
	}
}

func (h *SettingsHolder) decode() (Settings, error) {
	var s Settings
	if err := h.v.Unmarshal(&s); err != nil {
		return Settings{}, err
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func setDefaults(v *viper.Viper, d Settings) {
	v.SetDefault("enabled", d.Enabled)
	v.SetDefault("meta_app_id", d.MetaAppID)
	v.SetDefault("meta_app_secret", d.MetaAppSecret)
	v.SetDefault("meta_config_id", d.MetaConfigID)
	v.SetDefault("verify_token", d.VerifyToken)
	v.SetDefault("oauth_secret", d.OAuthSecret)
	v.SetDefault("auth_code_ttl", d.AuthCodeTTL)
	v.SetDefault("access_token_ttl", d.AccessTokenTTL)
	v.SetDefault("refresh_token_ttl", d.RefreshTokenTTL)
	v.SetDefault("call_rate_per_minute", d.CallRatePerMinute)
	v.SetDefault("template_message_cost", d.TemplateMessageCost)
	v.SetDefault("default_call_markup", d.DefaultCallMarkup)
	v.SetDefault("default_message_markup", d.DefaultMessageMarkup)
	v.SetDefault("retention_days", d.RetentionDays)
	v.SetDefault("signup_session_max_age", d.SignupSessionMaxAge)
	v.SetDefault("call_session_ttl", d.CallSessionTTL)
	v.SetDefault("webhook_forward_path", d.WebhookForwardPath)
	v.SetDefault("signup_redirect_uri", d.SignupRedirectURI)
}
