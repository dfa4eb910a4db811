package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	Port           string
	TrustedProxies []string

	// Database
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string

	// Redis
	RedisAddr     string
	RedisPassword string

	// Auth
	JWTSecret          string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	PhonePrefix        string
	AdminPhoneSuffixes []string
	OTPCodeTTL         time.Duration
	TokenPurgeInterval time.Duration

	// SMS gateway
	SMSAPIKey string
	SMSAPIURL string

	// Classifier
	ModelDir       string
	ModelServerURL string

	// Geocoding
	NominatimURL string

	// Live feed
	PollInterval time.Duration

	// Rate limiting
	RateLimitPerMinute int
}

func Load() *Config {
	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		DBUser:             getEnv("DB_USER", "root"),
		DBPassword:         getEnv("DB_PASSWORD", "password"),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             getEnv("DB_PORT", "3306"),
		DBName:             getEnv("DB_NAME", "citypulse"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		JWTSecret:          getEnv("JWT_SECRET", "your-secret-key-here"),
		AccessTokenTTL:     getEnvDuration("ACCESS_TOKEN_TTL", time.Hour),
		RefreshTokenTTL:    getEnvDuration("REFRESH_TOKEN_TTL", 30*24*time.Hour),
		PhonePrefix:        getEnv("PHONE_PREFIX", "+91"),
		OTPCodeTTL:         getEnvDuration("OTP_CODE_TTL", 5*time.Minute),
		TokenPurgeInterval: getEnvDuration("TOKEN_PURGE_INTERVAL", time.Hour),
		SMSAPIKey:          getEnv("SMS_API_KEY", ""),
		SMSAPIURL:          getEnv("SMS_API_URL", "https://api.mobizon.kz/service/message/sendsmsmessage"),
		ModelDir:           getEnv("MODEL_DIR", "models"),
		ModelServerURL:     getEnv("MODEL_SERVER_URL", "http://localhost:8501"),
		NominatimURL:       getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 5*time.Second),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	// The admin allow-list is configuration, not code. Default is the single
	// dispatcher number the pilot deployment uses.
	suffixes := getEnv("ADMIN_PHONE_SUFFIXES", "9090909090")
	for _, s := range strings.Split(suffixes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.AdminPhoneSuffixes = append(cfg.AdminPhoneSuffixes, s)
		}
	}

	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		for _, p := range strings.Split(proxies, ",") {
			cfg.TrustedProxies = append(cfg.TrustedProxies, strings.TrimSpace(p))
		}
	}

	return cfg
}

// RoleForPhone routes an authenticated phone number to its experience:
// numbers ending in a configured admin suffix get the review dashboard,
// everyone else is an ordinary citizen.
func (c *Config) RoleForPhone(phone string) string {
	for _, suffix := range c.AdminPhoneSuffixes {
		if strings.HasSuffix(phone, suffix) {
			return "admin"
		}
	}
	return "citizen"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
