package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// WhatsApp Cloud API
	MetaAccessToken      string
	MetaNumberID         string
	MetaVerifyToken      string
	MetaAPIVersion       string
	MetaAppSecret        string
	MetaAPIBaseURL       string
	MetaTemplateName     string
	MetaTemplateLanguage string

	// Language model
	AIProvider      string
	OpenAIAPIKey    string
	OpenAIModel     string
	EnableFallback  bool
	DeepSeekAPIKey  string
	DeepSeekModel   string
	DeepSeekBaseURL string
	BedrockModelID  string
	GeminiAPIKey    string
	GeminiModel     string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Support inbox
	ChatwootEndpoint  string
	ChatwootAccountID string
	ChatwootToken     string
	InboxName         string

	// Dialogue
	DefaultTenantID string
	ClinicTimezone  string
	EmployeeRole    string

	// Queue and workers
	QueueBackend    string
	SQSQueueURL     string
	RabbitMQURL     string
	RabbitMQQueue   string
	WorkerCount     int
	ConversationTTL time.Duration
	LockTTL         time.Duration
	LockWait        time.Duration

	PauseBackend        string
	DeliveryLedgerTable string
	MediaBucket         string

	// Notification email
	EmailProvider  string
	SendGridAPIKey string
	EmailFrom      string
	EmailFromName  string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	WebhookRateLimit   int

	ReminderHour   int
	ReminderMinute int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "3008"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		MetaAccessToken:      getEnv("META_JWT_TOKEN", ""),
		MetaNumberID:         getEnv("META_NUMBER_ID", ""),
		MetaVerifyToken:      getEnv("META_VERIFY_TOKEN", ""),
		MetaAPIVersion:       getEnv("META_VERSION", "v22.0"),
		MetaAppSecret:        getEnv("META_APP_SECRET", ""),
		MetaAPIBaseURL:       getEnv("META_API_BASE_URL", "https://graph.facebook.com"),
		MetaTemplateName:     getEnv("META_APPOINTMENT_TEMPLATE_NAME", "appointment_reminder"),
		MetaTemplateLanguage: getEnv("META_TEMPLATE_LANGUAGE", "es"),

		AIProvider:      strings.ToLower(strings.TrimSpace(getEnv("AI_PROVIDER", "openai"))),
		OpenAIAPIKey:    getEnvFirst([]string{"OPENAI_API_KEY", "apiKey"}, ""),
		OpenAIModel:     getEnvFirst([]string{"OPENAI_MODEL", "Model"}, "gpt-4o-mini"),
		EnableFallback:  getEnvAsBool("ENABLE_FALLBACK", false),
		DeepSeekAPIKey:  getEnv("DEEPSEEK_API_KEY", ""),
		DeepSeekModel:   getEnv("DEEPSEEK_MODEL", "deepseek-chat"),
		DeepSeekBaseURL: getEnv("DEEPSEEK_BASE_URL", "https://api.deepseek.com/v1"),
		BedrockModelID:  getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		AWSRegion:           getEnv("AWS_REGION", "eu-west-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		ChatwootEndpoint:  strings.TrimRight(getEnv("CHATWOOT_ENDPOINT", ""), "/"),
		ChatwootAccountID: getEnv("CHATWOOT_ACCOUNT_ID", ""),
		ChatwootToken:     getEnv("CHATWOOT_TOKEN", ""),
		InboxName:         getEnv("INBOX_NAME", "ClinicAI"),

		DefaultTenantID: getEnv("DEFAULT_TENANT_ID", ""),
		ClinicTimezone:  getEnv("CLINIC_TIMEZONE", "Europe/Madrid"),
		EmployeeRole:    getEnv("EMPLOYEE_ROLE", "fisioterapeuta"),

		QueueBackend:    strings.ToLower(strings.TrimSpace(getEnv("QUEUE_BACKEND", "memory"))),
		SQSQueueURL:     getEnv("SQS_QUEUE_URL", ""),
		RabbitMQURL:     getEnv("RABBITMQ_URL", ""),
		RabbitMQQueue:   getEnv("RABBITMQ_QUEUE", "clinic.inbound"),
		WorkerCount:     getEnvAsInt("WORKER_COUNT", 2),
		ConversationTTL: getEnvAsDuration("CONVERSATION_TTL", 24*time.Hour),
		LockTTL:         getEnvAsDuration("CONVERSATION_LOCK_TTL", 30*time.Second),
		LockWait:        getEnvAsDuration("CONVERSATION_LOCK_WAIT", 10*time.Second),

		PauseBackend:        strings.ToLower(strings.TrimSpace(getEnv("PAUSE_BACKEND", "memory"))),
		DeliveryLedgerTable: getEnv("DELIVERY_LEDGER_TABLE", ""),
		MediaBucket:         getEnv("MEDIA_BUCKET", ""),

		EmailProvider:  strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", ""))),
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		EmailFrom:      getEnv("EMAIL_FROM", ""),
		EmailFromName:  getEnv("EMAIL_FROM_NAME", "ClinicAI"),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		WebhookRateLimit:   getEnvAsInt("WEBHOOK_RATE_LIMIT", 50),

		ReminderHour:   getEnvAsInt("REMINDER_HOUR", 8),
		ReminderMinute: getEnvAsInt("REMINDER_MINUTE", 0),
	}
}

// ChatwootEnabled reports whether every inbox credential is present.
func (c *Config) ChatwootEnabled() bool {
	return c.ChatwootEndpoint != "" && c.ChatwootAccountID != "" && c.ChatwootToken != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFirst returns the first non-empty variable among keys.
func getEnvFirst(keys []string, defaultValue string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
