package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	EmailProviderResend = "resend"
	EmailProviderSES    = "ses"
)

type Config struct {
	AppHost  string
	HTTPPort string
	AppEnv   string
	LogLevel string

	DB struct {
		Host     string
		Port     string
		User     string
		Password string
		Database string
		SSLMode  string
	}

	Email struct {
		Provider     string
		ResendAPIKey string
		ResendAPIURL string
		SESRegion    string
		SESAccessKey string
		SESSecretKey string
		From         string
		ReplyDomain  string
		Timezone     string
		SiteURL      string
	}

	// InboundWebhookSecret is the svix signing secret (whsec_...). Empty disables verification.
	InboundWebhookSecret string
	// InboundDedupKey selects what identifies a redelivered inbound email: "", "svix-id" or "email_id".
	InboundDedupKey string

	ExpoPushURL     string
	ExpoAccessToken string

	JWTSecret          string
	CORSAllowedOrigins []string

	KafkaBrokers   []string
	KafkaTopicCase string

	RedisURL string

	// SweepInterval > 0 starts an in-process scheduler in api mode.
	SweepInterval       time.Duration
	NotifyOnTransitions bool
}

func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	cfg := &Config{
		AppHost:              getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:             firstEnv("APP_PORT", "HTTP_PORT", "8098"),
		AppEnv:               getEnv("APP_ENV", "development"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		InboundWebhookSecret: getEnv("INBOUND_EMAIL_WEBHOOK_SECRET", ""),
		InboundDedupKey:      getEnv("INBOUND_DEDUP_KEY", ""),
		ExpoPushURL:          getEnv("EXPO_PUSH_URL", "https://exp.host/--/api/v2/push/send"),
		ExpoAccessToken:      getEnv("EXPO_ACCESS_TOKEN", ""),
		JWTSecret:            getEnv("SUPABASE_JWT_SECRET", ""),
		CORSAllowedOrigins:   SplitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		KafkaBrokers:         SplitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopicCase:       getEnv("KAFKA_TOPIC_CASE", ""),
		RedisURL:             getEnv("REDIS_URL", ""),
	}
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.Port = getEnv("DB_PORT", "5432")
	cfg.DB.User = getEnv("DB_USER", "postgres")
	cfg.DB.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.DB.Database = getEnv("DB_DATABASE", "case_escalation")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Email.Provider = strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderResend))
	cfg.Email.ResendAPIKey = getEnv("RESEND_API_KEY", "")
	cfg.Email.ResendAPIURL = getEnv("RESEND_API_URL", "https://api.resend.com/emails")
	cfg.Email.SESRegion = getEnv("SES_REGION", "us-east-1")
	cfg.Email.SESAccessKey = getEnv("SES_ACCESS_KEY_ID", "")
	cfg.Email.SESSecretKey = getEnv("SES_SECRET_ACCESS_KEY", "")
	cfg.Email.From = getEnv("EMAIL_FROM", "Lomito <reports@lomito.org>")
	cfg.Email.ReplyDomain = getEnv("REPLY_DOMAIN", "reply.lomito.org")
	cfg.Email.Timezone = getEnv("EMAIL_TIMEZONE", "America/Mexico_City")
	cfg.Email.SiteURL = getEnv("SITE_URL", "https://lomito.org")

	if v := getEnv("SWEEP_INTERVAL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: SWEEP_INTERVAL: %w", err)
		}
		cfg.SweepInterval = d
	}
	notify, err := strconv.ParseBool(getEnv("NOTIFY_ON_TRANSITIONS", "true"))
	if err != nil {
		return nil, fmt.Errorf("config: NOTIFY_ON_TRANSITIONS: %w", err)
	}
	cfg.NotifyOnTransitions = notify
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DB.Host == "" || c.DB.Database == "" {
		return errors.New("config: DB_HOST and DB_DATABASE are required")
	}
	if c.AppEnv == "production" && c.DB.Password == "" {
		return errors.New("config: in production DB_PASSWORD is required")
	}
	switch c.Email.Provider {
	case EmailProviderResend:
		if c.AppEnv == "production" && c.Email.ResendAPIKey == "" {
			return errors.New("config: in production RESEND_API_KEY is required")
		}
	case EmailProviderSES:
		if c.AppEnv == "production" && (c.Email.SESAccessKey == "" || c.Email.SESSecretKey == "") {
			return errors.New("config: in production SES_ACCESS_KEY_ID and SES_SECRET_ACCESS_KEY are required")
		}
	default:
		return fmt.Errorf("config: unknown EMAIL_PROVIDER %q", c.Email.Provider)
	}
	if c.Email.ReplyDomain == "" {
		return errors.New("config: REPLY_DOMAIN is required")
	}
	switch c.InboundDedupKey {
	case "", "svix-id", "email_id":
	default:
		return fmt.Errorf("config: unknown INBOUND_DEDUP_KEY %q (want svix-id or email_id)", c.InboundDedupKey)
	}
	if c.SweepInterval < 0 {
		return errors.New("config: SWEEP_INTERVAL must not be negative")
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) DatabaseURL() string {
	pass := url.QueryEscape(c.DB.Password)
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DB.User, pass, c.DB.Host, c.DB.Port, c.DB.Database, c.DB.SSLMode)
}

func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

// SplitList splits "a,b, c" into its non-empty trimmed elements.
func SplitList(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	for _, k := range keysAndDef[:len(keysAndDef)-1] {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
