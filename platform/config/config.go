// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
	GetDatabaseMaxConns() int32
	GetDatabaseAppName() string
}

// ServiceTokenConfig provides the shared secret for internal service tokens.
type ServiceTokenConfig interface {
	GetInternalJWTSecret() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
}

// SchedulerConfig provides settings for the Redis-backed task queue.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	IsSchedulerEnabled() bool
}

// MinIOConfig provides settings for MinIO S3-compatible storage.
type MinIOConfig interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	GetMinIOMaxFileSize() int64
	GetMinioBucketRawFeeds() string
	GetMinioBucketHandoverBackups() string
	IsMinIOEnabled() bool
}

// FeedConfig provides settings for lead feed parsing.
type FeedConfig interface {
	GetFeedSchemaVersion() string
	GetFeedStrictMode() bool
	GetFeedSchemaDir() string
	GetFeedPhoneRegion() string
}

// DossierConfig provides settings for dossier generation.
type DossierConfig interface {
	GetDossierTimeout() time.Duration
	GetDossierAIProvider() string
	GetMoonshotAPIKey() string
	GetGeminiAPIKey() string
	GetGeminiModel() string
	GetDossierHighUrgencyMessages() int
	GetSLAHigh() time.Duration
	GetSLAMedium() time.Duration
	GetSLALow() time.Duration
}

// BreakerConfig provides circuit breaker tuning values.
type BreakerConfig interface {
	GetBreakerErrorThreshold() float64
	GetBreakerMinSamples() int
	GetBreakerWindow() time.Duration
	GetBreakerCooldown() time.Duration
	GetBreakerConsecutiveFailures() int
}

// EmailConfig provides settings for email sending.
type EmailConfig interface {
	GetEmailProvider() string
	GetSendGridAPIKey() string
	GetBrevoAPIKey() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
	GetEmailFromName() string
	GetEmailFromAddress() string
}

// HandoverConfig provides settings for the handover pipeline.
type HandoverConfig interface {
	GetHandoverEmailEnabled() bool
	GetHandoverTargetInbox() string
	GetDeliveryRetryDelay() time.Duration
	GetHandoverStaleAfter() time.Duration
	GetHandoverSweepInterval() time.Duration
}

// WebhookConfig provides settings for delivery status callbacks.
type WebhookConfig interface {
	GetWebhookSigningSecret() string
	GetWebhookReplayWindow() time.Duration
}

// IMAPConfig provides settings for the feed mailbox poller.
type IMAPConfig interface {
	GetIMAPHost() string
	GetIMAPPort() int
	GetIMAPUsername() string
	GetIMAPPassword() string
	GetIMAPFolder() string
	GetIMAPPollInterval() time.Duration
	GetIMAPDealershipRef() string
	IsIMAPEnabled() bool
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                        string
	HTTPAddr                   string
	DatabaseURL                string
	DatabaseMaxConns           int32
	DatabaseAppName            string
	InternalJWTSecret          string
	CORSAllowAll               bool
	CORSOrigins                []string
	CORSAllowCreds             bool
	RedisURL                   string
	RedisTLSInsecure           bool
	AsynqQueueName             string
	AsynqConcurrency           int
	MinIOEndpoint              string
	MinIOAccessKey             string
	MinIOSecretKey             string
	MinIOUseSSL                bool
	MinIOMaxFileSize           int64
	MinioBucketRawFeeds        string
	MinioBucketHandoverBackups string
	FeedSchemaVersion          string
	FeedStrictMode             bool
	FeedSchemaDir              string
	FeedPhoneRegion            string
	DossierTimeout             time.Duration
	DossierAIProvider          string
	MoonshotAPIKey             string
	GeminiAPIKey               string
	GeminiModel                string
	DossierHighUrgencyMessages int
	SLAHigh                    time.Duration
	SLAMedium                  time.Duration
	SLALow                     time.Duration
	BreakerErrorThreshold      float64
	BreakerMinSamples          int
	BreakerWindow              time.Duration
	BreakerCooldown            time.Duration
	BreakerConsecutiveFailures int
	EmailProvider              string
	SendGridAPIKey             string
	BrevoAPIKey                string
	SMTPHost                   string
	SMTPPort                   int
	SMTPUsername               string
	SMTPPassword               string
	EmailFromName              string
	EmailFromAddress           string
	HandoverEmailEnabled       bool
	HandoverTargetInbox        string
	DeliveryRetryDelay         time.Duration
	HandoverStaleAfter         time.Duration
	HandoverSweepInterval      time.Duration
	WebhookSigningSecret       string
	WebhookReplayWindow        time.Duration
	IMAPHost                   string
	IMAPPort                   int
	IMAPUsername               string
	IMAPPassword               string
	IMAPFolder                 string
	IMAPPollInterval           time.Duration
	IMAPDealershipRef          string
	ShutdownDrainTimeout       time.Duration
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }
func (c *Config) GetDatabaseMaxConns() int32 { return c.DatabaseMaxConns }
func (c *Config) GetDatabaseAppName() string { return c.DatabaseAppName }

// ServiceTokenConfig implementation
func (c *Config) GetInternalJWTSecret() string { return c.InternalJWTSecret }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string      { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool    { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool  { return c.CORSAllowCreds }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }
func (c *Config) IsSchedulerEnabled() bool   { return c.RedisURL != "" }

// MinIOConfig implementation
func (c *Config) GetMinIOEndpoint() string   { return c.MinIOEndpoint }
func (c *Config) GetMinIOAccessKey() string  { return c.MinIOAccessKey }
func (c *Config) GetMinIOSecretKey() string  { return c.MinIOSecretKey }
func (c *Config) GetMinIOUseSSL() bool       { return c.MinIOUseSSL }
func (c *Config) GetMinIOMaxFileSize() int64 { return c.MinIOMaxFileSize }
func (c *Config) GetMinioBucketRawFeeds() string {
	return c.MinioBucketRawFeeds
}
func (c *Config) GetMinioBucketHandoverBackups() string {
	return c.MinioBucketHandoverBackups
}
func (c *Config) IsMinIOEnabled() bool { return c.MinIOEndpoint != "" }

// FeedConfig implementation
func (c *Config) GetFeedSchemaVersion() string { return c.FeedSchemaVersion }
func (c *Config) GetFeedStrictMode() bool      { return c.FeedStrictMode }
func (c *Config) GetFeedSchemaDir() string     { return c.FeedSchemaDir }
func (c *Config) GetFeedPhoneRegion() string   { return c.FeedPhoneRegion }

// DossierConfig implementation
func (c *Config) GetDossierTimeout() time.Duration { return c.DossierTimeout }
func (c *Config) GetDossierAIProvider() string     { return c.DossierAIProvider }
func (c *Config) GetMoonshotAPIKey() string        { return c.MoonshotAPIKey }
func (c *Config) GetGeminiAPIKey() string          { return c.GeminiAPIKey }
func (c *Config) GetGeminiModel() string           { return c.GeminiModel }
func (c *Config) GetDossierHighUrgencyMessages() int {
	return c.DossierHighUrgencyMessages
}
func (c *Config) GetSLAHigh() time.Duration   { return c.SLAHigh }
func (c *Config) GetSLAMedium() time.Duration { return c.SLAMedium }
func (c *Config) GetSLALow() time.Duration    { return c.SLALow }

// BreakerConfig implementation
func (c *Config) GetBreakerErrorThreshold() float64 { return c.BreakerErrorThreshold }
func (c *Config) GetBreakerMinSamples() int         { return c.BreakerMinSamples }
func (c *Config) GetBreakerWindow() time.Duration   { return c.BreakerWindow }
func (c *Config) GetBreakerCooldown() time.Duration { return c.BreakerCooldown }
func (c *Config) GetBreakerConsecutiveFailures() int {
	return c.BreakerConsecutiveFailures
}

// EmailConfig implementation
func (c *Config) GetEmailProvider() string    { return c.EmailProvider }
func (c *Config) GetSendGridAPIKey() string   { return c.SendGridAPIKey }
func (c *Config) GetBrevoAPIKey() string      { return c.BrevoAPIKey }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }

// HandoverConfig implementation
func (c *Config) GetHandoverEmailEnabled() bool        { return c.HandoverEmailEnabled }
func (c *Config) GetHandoverTargetInbox() string       { return c.HandoverTargetInbox }
func (c *Config) GetDeliveryRetryDelay() time.Duration { return c.DeliveryRetryDelay }
func (c *Config) GetHandoverStaleAfter() time.Duration { return c.HandoverStaleAfter }
func (c *Config) GetHandoverSweepInterval() time.Duration {
	return c.HandoverSweepInterval
}

// WebhookConfig implementation
func (c *Config) GetWebhookSigningSecret() string       { return c.WebhookSigningSecret }
func (c *Config) GetWebhookReplayWindow() time.Duration { return c.WebhookReplayWindow }

// IMAPConfig implementation
func (c *Config) GetIMAPHost() string                { return c.IMAPHost }
func (c *Config) GetIMAPPort() int                   { return c.IMAPPort }
func (c *Config) GetIMAPUsername() string            { return c.IMAPUsername }
func (c *Config) GetIMAPPassword() string            { return c.IMAPPassword }
func (c *Config) GetIMAPFolder() string              { return c.IMAPFolder }
func (c *Config) GetIMAPPollInterval() time.Duration { return c.IMAPPollInterval }
func (c *Config) GetIMAPDealershipRef() string       { return c.IMAPDealershipRef }
func (c *Config) IsIMAPEnabled() bool                { return c.IMAPHost != "" }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:4200"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                        getEnv("APP_ENV", "development"),
		HTTPAddr:                   getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:                getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:           int32(mustInt(getEnv("DB_MAX_CONNS", "20"))),
		DatabaseAppName:            getEnv("DB_APPLICATION_NAME", "leadpipeline"),
		InternalJWTSecret:          getEnv("INTERNAL_JWT_SECRET", ""),
		CORSAllowAll:               corsAllowAll,
		CORSOrigins:                corsOrigins,
		CORSAllowCreds:             strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		RedisURL:                   getEnv("REDIS_URL", ""),
		RedisTLSInsecure:           strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:             getEnv("ASYNQ_QUEUE", "leadpipeline"),
		AsynqConcurrency:           mustInt(getEnv("ASYNQ_CONCURRENCY", "10")),
		MinIOEndpoint:              getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey:             getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey:             getEnv("MINIO_SECRET_KEY", ""),
		MinIOUseSSL:                strings.EqualFold(getEnv("MINIO_USE_SSL", "false"), "true"),
		MinIOMaxFileSize:           mustInt64(getEnv("MINIO_MAX_FILE_SIZE", "10485760")),
		MinioBucketRawFeeds:        getEnv("MINIO_BUCKET_RAW_FEEDS", "raw-lead-feeds"),
		MinioBucketHandoverBackups: getEnv("MINIO_BUCKET_HANDOVER_BACKUPS", "handover-backups"),
		FeedSchemaVersion:          getEnv("FEED_SCHEMA_VERSION", "1.0"),
		FeedStrictMode:             strings.EqualFold(getEnv("FEED_STRICT_MODE", "true"), "true"),
		FeedSchemaDir:              getEnv("FEED_SCHEMA_DIR", ""),
		FeedPhoneRegion:            getEnv("FEED_PHONE_REGION", "US"),
		DossierTimeout:             mustDuration(getEnv("DOSSIER_TIMEOUT", "10s")),
		DossierAIProvider:          strings.ToLower(getEnv("DOSSIER_AI_PROVIDER", "none")),
		MoonshotAPIKey:             getEnv("MOONSHOT_API_KEY", ""),
		GeminiAPIKey:               getEnv("GEMINI_API_KEY", ""),
		GeminiModel:                getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		DossierHighUrgencyMessages: mustInt(getEnv("DOSSIER_HIGH_URGENCY_MESSAGES", "20")),
		SLAHigh:                    mustDuration(getEnv("SLA_HIGH", "15m")),
		SLAMedium:                  mustDuration(getEnv("SLA_MEDIUM", "1h")),
		SLALow:                     mustDuration(getEnv("SLA_LOW", "4h")),
		BreakerErrorThreshold:      mustFloat(getEnv("BREAKER_ERROR_THRESHOLD", "0.5")),
		BreakerMinSamples:          mustInt(getEnv("BREAKER_MIN_SAMPLES", "20")),
		BreakerWindow:              mustDuration(getEnv("BREAKER_WINDOW", "60s")),
		BreakerCooldown:            mustDuration(getEnv("BREAKER_COOLDOWN", "30s")),
		BreakerConsecutiveFailures: mustInt(getEnv("BREAKER_CONSECUTIVE_FAILURES", "5")),
		EmailProvider:              strings.ToLower(getEnv("EMAIL_PROVIDER", "noop")),
		SendGridAPIKey:             getEnv("SENDGRID_API_KEY", ""),
		BrevoAPIKey:                getEnv("BREVO_API_KEY", ""),
		SMTPHost:                   getEnv("SMTP_HOST", ""),
		SMTPPort:                   mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:               getEnv("SMTP_USERNAME", ""),
		SMTPPassword:               getEnv("SMTP_PASSWORD", ""),
		EmailFromName:              getEnv("EMAIL_FROM_NAME", "Lead Desk"),
		EmailFromAddress:           getEnv("EMAIL_FROM_ADDRESS", ""),
		HandoverEmailEnabled:       strings.EqualFold(getEnv("HANDOVER_EMAIL_ENABLED", "true"), "true"),
		HandoverTargetInbox:        getEnv("HANDOVER_TARGET_INBOX", ""),
		DeliveryRetryDelay:         mustDuration(getEnv("DELIVERY_RETRY_DELAY", "5m")),
		HandoverStaleAfter:         mustDuration(getEnv("HANDOVER_STALE_AFTER", "15m")),
		HandoverSweepInterval:      mustDuration(getEnv("HANDOVER_SWEEP_INTERVAL", "1m")),
		WebhookSigningSecret:       getEnv("WEBHOOK_SIGNING_SECRET", ""),
		WebhookReplayWindow:        mustDuration(getEnv("WEBHOOK_REPLAY_WINDOW", "5m")),
		IMAPHost:                   getEnv("IMAP_HOST", ""),
		IMAPPort:                   mustInt(getEnv("IMAP_PORT", "993")),
		IMAPUsername:               getEnv("IMAP_USERNAME", ""),
		IMAPPassword:               getEnv("IMAP_PASSWORD", ""),
		IMAPFolder:                 getEnv("IMAP_FOLDER", "INBOX"),
		IMAPPollInterval:           mustDuration(getEnv("IMAP_POLL_INTERVAL", "1m")),
		IMAPDealershipRef:          getEnv("IMAP_DEALERSHIP_REF", ""),
		ShutdownDrainTimeout:       mustDuration(getEnv("SHUTDOWN_DRAIN_TIMEOUT", "10s")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.WebhookSigningSecret == "" {
		return fmt.Errorf("WEBHOOK_SIGNING_SECRET is required")
	}
	if c.DossierTimeout <= 0 {
		return fmt.Errorf("DOSSIER_TIMEOUT must be a positive duration")
	}
	if c.DeliveryRetryDelay <= 0 {
		return fmt.Errorf("DELIVERY_RETRY_DELAY must be a positive duration")
	}
	if c.BreakerErrorThreshold <= 0 || c.BreakerErrorThreshold > 1 {
		return fmt.Errorf("BREAKER_ERROR_THRESHOLD must be in (0, 1]")
	}
	switch c.EmailProvider {
	case "noop":
	case "sendgrid":
		if c.SendGridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required when EMAIL_PROVIDER is sendgrid")
		}
	case "brevo":
		if c.BrevoAPIKey == "" {
			return fmt.Errorf("BREVO_API_KEY is required when EMAIL_PROVIDER is brevo")
		}
	case "smtp":
		if c.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER is smtp")
		}
	default:
		return fmt.Errorf("unsupported EMAIL_PROVIDER %q", c.EmailProvider)
	}
	if c.EmailProvider != "noop" && c.EmailFromAddress == "" {
		return fmt.Errorf("EMAIL_FROM_ADDRESS is required when an email provider is configured")
	}
	switch c.DossierAIProvider {
	case "none":
	case "moonshot":
		if c.MoonshotAPIKey == "" {
			return fmt.Errorf("MOONSHOT_API_KEY is required when DOSSIER_AI_PROVIDER is moonshot")
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when DOSSIER_AI_PROVIDER is gemini")
		}
	default:
		return fmt.Errorf("unsupported DOSSIER_AI_PROVIDER %q", c.DossierAIProvider)
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustInt64(value string) int64 {
	result, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
