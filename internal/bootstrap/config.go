package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"live-session/internal/service"
)

// RTC 凭证签发方式
const (
	RTCModeJWT  = "jwt"  // 本地用共享密钥签发
	RTCModeHTTP = "http" // 调用提供方的令牌接口
)

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	DBUser        string
	DBPassword    string
	DBHost        string
	DBPort        string
	DBName        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string // Redis Key 前缀，同时作为事件总线频道前缀

	JWTSecret      string
	JWTExpiryHours int
	ServerPort     string
	LogLevel       string
	AppEnv         string // development / production

	RateLimitMax      int
	AuthRateLimitMax  int
	RateLimitWindow   time.Duration
	CORSAllowedOrigin string
	WSAllowedOrigins  []string
	EventBusEnabled   bool // 多实例部署时通过 Redis Pub/Sub 转发事件

	RTCMode     string
	RTCAPIKey   string
	RTCSecret   string
	RTCEndpoint string
	RTCTimeout  time.Duration
	RTCAttempts uint

	AutoApprovePolicy           string
	MaxActiveSessionsPerProject int
	JoinRequestTTL              time.Duration
	JoinRequestRetention        time.Duration
	ExpiryWarning               time.Duration
	AdmissionSweepInterval      time.Duration
	InactivityThreshold         time.Duration
	InactivityCheckInterval     time.Duration
	CredentialTTL               time.Duration
	CredentialGrace             time.Duration
	CredentialRefreshWindow     time.Duration
}

// LoadConfig 从环境变量加载配置，.env 文件存在时先加载它
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	var errs []string
	intVar := func(key string, def int) int {
		raw := os.Getenv(key)
		if raw == "" {
			return def
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			errs = append(errs, fmt.Sprintf("%s must be a non-negative integer, got %q", key, raw))
			return def
		}
		return v
	}
	durationVar := func(key string, def time.Duration) time.Duration {
		raw := os.Getenv(key)
		if raw == "" {
			return def
		}
		v, err := time.ParseDuration(raw)
		if err != nil || v <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be a positive duration, got %q", key, raw))
			return def
		}
		return v
	}
	stringVar := func(key, def string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return def
	}

	cfg := &Config{
		DBUser:        os.Getenv("DB_USER"),
		DBPassword:    os.Getenv("DB_PASSWORD"),
		DBHost:        os.Getenv("DB_HOST"),
		DBPort:        os.Getenv("DB_PORT"),
		DBName:        os.Getenv("DB_NAME"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       intVar("REDIS_DB", 0),
		KeyPrefix:     stringVar("REDIS_KEY_PREFIX", "ls:"),

		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTExpiryHours: intVar("JWT_EXPIRY_HOURS", 24),
		ServerPort:     stringVar("SERVER_PORT", "8080"),
		LogLevel:       stringVar("LOG_LEVEL", "info"),
		AppEnv:         stringVar("APP_ENV", "development"),

		RateLimitMax:      intVar("RATE_LIMIT_MAX", 120),
		AuthRateLimitMax:  intVar("AUTH_RATE_LIMIT_MAX", 10),
		RateLimitWindow:   durationVar("RATE_LIMIT_WINDOW", time.Minute),
		CORSAllowedOrigin: stringVar("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		EventBusEnabled:   stringVar("EVENT_BUS", "redis") == "redis",

		RTCMode:     strings.ToLower(stringVar("RTC_MODE", RTCModeJWT)),
		RTCAPIKey:   os.Getenv("RTC_API_KEY"),
		RTCSecret:   os.Getenv("RTC_API_SECRET"),
		RTCEndpoint: os.Getenv("RTC_TOKEN_ENDPOINT"),
		RTCTimeout:  durationVar("RTC_TIMEOUT", 5*time.Second),
		RTCAttempts: uint(intVar("RTC_ATTEMPTS", 3)),

		AutoApprovePolicy:           stringVar("AUTO_APPROVE_POLICY", service.PolicyAcceptedInvitation),
		MaxActiveSessionsPerProject: intVar("MAX_ACTIVE_SESSIONS_PER_PROJECT", 3),
		JoinRequestTTL:              durationVar("JOIN_REQUEST_TTL", 5*time.Minute),
		JoinRequestRetention:        durationVar("JOIN_REQUEST_RETENTION", 2*time.Minute),
		ExpiryWarning:               durationVar("EXPIRY_WARNING", time.Minute),
		AdmissionSweepInterval:      durationVar("ADMISSION_SWEEP_INTERVAL", 15*time.Second),
		InactivityThreshold:         durationVar("INACTIVITY_THRESHOLD", 30*time.Minute),
		InactivityCheckInterval:     durationVar("INACTIVITY_CHECK_INTERVAL", 5*time.Minute),
		CredentialTTL:               durationVar("CREDENTIAL_TTL", 2*time.Hour),
		CredentialGrace:             durationVar("CREDENTIAL_GRACE", 2*time.Minute),
		CredentialRefreshWindow:     durationVar("CREDENTIAL_REFRESH_WINDOW", 5*time.Minute),
	}
	if origins := os.Getenv("WS_ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.WSAllowedOrigins = append(cfg.WSAllowedOrigins, o)
			}
		}
	}

	if cfg.RedisAddr == "" {
		errs = append(errs, "REDIS_ADDR must be set")
	}
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET must be set")
	}
	switch cfg.RTCMode {
	case RTCModeJWT:
		if cfg.RTCSecret == "" {
			errs = append(errs, "RTC_API_SECRET must be set when RTC_MODE=jwt")
		}
	case RTCModeHTTP:
		if cfg.RTCEndpoint == "" {
			errs = append(errs, "RTC_TOKEN_ENDPOINT must be set when RTC_MODE=http")
		}
	default:
		errs = append(errs, fmt.Sprintf("RTC_MODE must be %q or %q, got %q", RTCModeJWT, RTCModeHTTP, cfg.RTCMode))
	}
	if cfg.ExpiryWarning >= cfg.JoinRequestTTL {
		errs = append(errs, "EXPIRY_WARNING must be shorter than JOIN_REQUEST_TTL")
	}
	if cfg.MaxActiveSessionsPerProject == 0 {
		errs = append(errs, "MAX_ACTIVE_SESSIONS_PER_PROJECT must be positive")
	}
	if cfg.RateLimitMax == 0 || cfg.AuthRateLimitMax == 0 {
		errs = append(errs, "rate limits must be positive")
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}
	return cfg, nil
}
