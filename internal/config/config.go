package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	JWTSecret   string
	MongoURI    string
	DBName      string
	SkipAuth    bool
	Environment string
	AppId       string

	// Remote CRM
	CRMBaseURL      string
	CRMTokenURL     string
	CRMClientID     string
	CRMClientSecret string

	// Webhook ingestion
	WebhookSecret    string
	WebhookNotifyURL string
	SyncModules      []string // modules whose subscriptions we register
	BatchMaxSize     int
	BatchTimeout     time.Duration
	EventMaxRetries  int
	EventRetryBase   time.Duration

	// Sync
	ConflictPolicy string
	SyncSchedule   string
	BackupSchedule string

	// Outbound protection
	RateLimitPerMinute int
	SyncLockTTL        time.Duration

	// Backup & retention
	BackupStorage     string // "fs" or "postgres"
	BackupDir         string
	BackupPostgresDSN string
	RetentionDaily    int
	RetentionWeekly   int
	RetentionMonthly  int
	EventRetentionDays int
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	} else {
		log.Println("Loaded .env file successfully")
	}

	return &Config{
		Port:        getEnv("PORT", "8080"),
		JWTSecret:   getEnv("JWT_SECRET", "secret"),
		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:      getEnv("DB_NAME", "go-crmsync"),
		SkipAuth:    getEnv("SKIP_AUTH", "false") == "true",
		Environment: getEnv("ENVIRONMENT", "development"),
		AppId:       getEnv("APP_ID", "go-crmsync"),

		CRMBaseURL:      getEnv("CRM_BASE_URL", "https://crm.example.com/api/v2"),
		CRMTokenURL:     getEnv("CRM_TOKEN_URL", "https://crm.example.com/oauth/token"),
		CRMClientID:     getEnv("CRM_CLIENT_ID", ""),
		CRMClientSecret: getEnv("CRM_CLIENT_SECRET", ""),

		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		WebhookNotifyURL: getEnv("WEBHOOK_NOTIFY_URL", "http://localhost:8080/webhooks/crm"),
		SyncModules:      getEnvList("SYNC_MODULES", "Accounts,Contacts,Invoices,Products"),
		BatchMaxSize:     getEnvInt("BATCH_MAX_SIZE", 50),
		BatchTimeout:     getEnvDuration("BATCH_TIMEOUT_SECONDS", 30*time.Second),
		EventMaxRetries:  getEnvInt("EVENT_MAX_RETRIES", 3),
		EventRetryBase:   getEnvDurationMs("EVENT_RETRY_BASE_MS", time.Second),

		ConflictPolicy: getEnv("CONFLICT_POLICY", "merge"),
		SyncSchedule:   getEnv("SYNC_SCHEDULE", "*/15 * * * *"),
		BackupSchedule: getEnv("BACKUP_SCHEDULE", "0 2 * * *"),

		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		SyncLockTTL:        getEnvDuration("SYNC_LOCK_TTL_SECONDS", 5*time.Minute),

		BackupStorage:      getEnv("BACKUP_STORAGE", "fs"),
		BackupDir:          getEnv("BACKUP_DIR", "./backups"),
		BackupPostgresDSN:  getEnv("BACKUP_POSTGRES_DSN", ""),
		RetentionDaily:     getEnvInt("RETENTION_DAILY", 7),
		RetentionWeekly:    getEnvInt("RETENTION_WEEKLY", 28),
		RetentionMonthly:   getEnvInt("RETENTION_MONTHLY", 365),
		EventRetentionDays: getEnvInt("EVENT_RETENTION_DAYS", 30),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnvDurationMs(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil && n > 0 {
			return time.Duration(n) * time.Millisecond
		}
	}
	return fallback
}
