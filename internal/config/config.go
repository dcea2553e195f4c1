package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds process configuration read once at startup.
// Values that may change at runtime live in Settings.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// TokenStore selects the TTL store backend: "redis" or "memory".
	TokenStore string

	AdminAPIKey string
	SettingsDir string

	Meta  MetaConfig
	Janus JanusConfig
	SMTP  SMTPConfig

	RateLimit RateLimitConfig
	Scheduler SchedulerConfig
}

type MetaConfig struct {
	GraphBaseURL string
	GraphVersion string
	Timeout      time.Duration
}

type JanusConfig struct {
	URL         string
	PublicWSURL string
	Timeout     time.Duration
	SessionTTL  time.Duration
	StunServers []string
	PluginName  string
}

type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
}

type RateLimitConfig struct {
	Enabled bool
	Rate    float64
	Burst   int
}

type SchedulerConfig struct {
	Enabled     bool
	RunInterval time.Duration
	// Jobs limits this process to the named jobs; empty runs all of them.
	Jobs []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:           getenv("APP_SERVICE", "walue"),
		AppVersion:        getenv("APP_VERSION", "0.1.0"),
		Environment:       getenv("ENVIRONMENT", "development"),
		HTTPAddr:          getenv("HTTP_ADDR", ":8080"),
		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "walue"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "walue.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 10)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 50)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		RedisAddr:         getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getenv("REDIS_PASSWORD", ""),
		RedisDB:           int(getenvInt64("REDIS_DB", 0)),
		TokenStore:        strings.ToLower(getenv("TOKEN_STORE", "redis")),
		AdminAPIKey:       strings.TrimSpace(getenv("ADMIN_API_KEY", "")),
		SettingsDir:       getenv("SETTINGS_DIR", ""),
		Meta: MetaConfig{
			GraphBaseURL: strings.TrimRight(getenv("META_GRAPH_BASE_URL", "https://graph.facebook.com"), "/"),
			GraphVersion: getenv("META_GRAPH_VERSION", "v21.0"),
			Timeout:      getenvDuration("META_TIMEOUT", 30*time.Second),
		},
		Janus: JanusConfig{
			URL:         getenv("JANUS_URL", "ws://localhost:8188"),
			PublicWSURL: getenv("JANUS_PUBLIC_WS_URL", "wss://localhost:8188"),
			Timeout:     getenvDuration("JANUS_TIMEOUT", 10*time.Second),
			SessionTTL:  getenvDuration("JANUS_SESSION_TTL", 60*time.Second),
			StunServers: splitList(getenv("JANUS_STUN_SERVERS", "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302")),
			PluginName:  getenv("JANUS_PLUGIN", "janus.plugin.sip"),
		},
		SMTP: SMTPConfig{
			Host:      getenv("SMTP_HOST", ""),
			Port:      int(getenvInt64("SMTP_PORT", 587)),
			Username:  getenv("SMTP_USERNAME", ""),
			Password:  getenv("SMTP_PASSWORD", ""),
			FromEmail: getenv("SMTP_FROM_EMAIL", "billing@walue.local"),
			FromName:  getenv("SMTP_FROM_NAME", "Walue Billing"),
		},
		RateLimit: RateLimitConfig{
			Enabled: getenvBool("RATE_LIMIT_ENABLED", true),
			Rate:    getenvFloat("RATE_LIMIT_RPS", 20),
			Burst:   int(getenvInt64("RATE_LIMIT_BURST", 40)),
		},
		Scheduler: SchedulerConfig{
			Enabled:     getenvBool("SCHEDULER_ENABLED", true),
			RunInterval: getenvDuration("SCHEDULER_RUN_INTERVAL", time.Minute),
			Jobs:        splitList(getenv("SCHEDULER_JOBS", "")),
		},
	}
}

func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
