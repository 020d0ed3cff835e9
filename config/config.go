package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"reachly/models"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	DB        *gorm.DB
	Redis     *redis.Client
	AppConfig Config
	envLoaded bool
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type OAuthConfig struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"-"`
	RedirectURI  string `json:"redirect_uri"`
}

type Config struct {
	Environment string `json:"environment"`
	ServerPort  string `json:"server_port"`
	AppURL      string `json:"app_url"`
	FrontendURL string `json:"frontend_url"`

	DBHost         string `json:"db_host"`
	DBPort         string `json:"db_port"`
	DBUser         string `json:"db_user"`
	DBPassword     string `json:"-"`
	DBName         string `json:"db_name"`
	DBSSLMode      string `json:"db_ssl_mode"`
	DBMaxIdleConns int    `json:"db_max_idle_conns"`
	DBMaxOpenConns int    `json:"db_max_open_conns"`

	Redis  RedisConfig `json:"redis"`
	Google OAuthConfig `json:"google"`

	JWTSecret  string `json:"-"`
	CronSecret string `json:"-"`

	StripeSecretKey     string `json:"-"`
	StripeWebhookSecret string `json:"-"`

	SentryDSN string `json:"sentry_dsn"`

	// Campaign pacing. Serverless deployments use a tighter delay range so a
	// batch fits inside the function time limit.
	Serverless           bool          `json:"serverless"`
	CampaignPollInterval time.Duration `json:"campaign_poll_interval"`
	SendDelayMinSeconds  int           `json:"send_delay_min_seconds"`
	SendDelayMaxSeconds  int           `json:"send_delay_max_seconds"`

	EnrichmentBatchSize  int    `json:"enrichment_batch_size"`
	EnrichmentProcessURL string `json:"enrichment_process_url"`
	BouncePollInterval   time.Duration `json:"bounce_poll_interval"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
	envLoaded = true
}

func LoadConfig() error {
	AppConfig = Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		AppURL:      getEnv("APP_URL", "http://localhost:5000"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3000"),

		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "reachly"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),

		Redis: RedisConfig{
			Enabled:  getEnv("REDIS_ENABLED", "true") == "true",
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Google: OAuthConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		},

		JWTSecret:  getEnv("JWT_SECRET", ""),
		CronSecret: getEnv("CRON_SECRET", ""),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		SentryDSN: getEnv("SENTRY_DSN", ""),

		Serverless:           getEnv("SERVERLESS", "false") == "true",
		CampaignPollInterval: time.Duration(getEnvAsInt("CAMPAIGN_POLL_SECONDS", 30)) * time.Second,

		EnrichmentBatchSize:  getEnvAsInt("ENRICHMENT_BATCH_SIZE", 5),
		EnrichmentProcessURL: getEnv("ENRICHMENT_PROCESS_URL", ""),
		BouncePollInterval:   time.Duration(getEnvAsInt("BOUNCE_POLL_SECONDS", 300)) * time.Second,
	}

	if AppConfig.Serverless {
		AppConfig.SendDelayMinSeconds = getEnvAsInt("SEND_DELAY_MIN_SECONDS", 15)
		AppConfig.SendDelayMaxSeconds = getEnvAsInt("SEND_DELAY_MAX_SECONDS", 45)
	} else {
		AppConfig.SendDelayMinSeconds = getEnvAsInt("SEND_DELAY_MIN_SECONDS", 30)
		AppConfig.SendDelayMaxSeconds = getEnvAsInt("SEND_DELAY_MAX_SECONDS", 60)
	}
	if AppConfig.EnrichmentProcessURL == "" {
		AppConfig.EnrichmentProcessURL = AppConfig.AppURL + "/api/contacts/bulk-enrich/process"
	}

	// Validate required configurations
	if AppConfig.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if AppConfig.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if AppConfig.StripeSecretKey == "" {
		return fmt.Errorf("STRIPE_SECRET_KEY is required for billing")
	}
	if AppConfig.Environment == "production" && AppConfig.CronSecret == "" {
		return fmt.Errorf("CRON_SECRET is required in production")
	}

	logConfig()
	return nil
}

func ConnectDB() error {
	log.Println("Attempting to connect to database...")

	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBUser,
		AppConfig.DBPassword,
		AppConfig.DBName,
		AppConfig.DBSSLMode,
	)
	log.Println("Using connection string:", maskPassword(dsn))

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to the database")
	log.Println("🔄 Starting database migration...")
	if err := migrateDB(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Println("✅ Database migration completed")
	return nil
}

func ConnectRedis() error {
	if !AppConfig.Redis.Enabled {
		log.Println("Redis disabled, usage cache will fall through to the database")
		return nil
	}

	Redis = redis.NewClient(&redis.Options{
		Addr:     AppConfig.Redis.Address,
		Password: AppConfig.Redis.Password,
		DB:       AppConfig.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := Redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	log.Println("✅ Successfully connected to Redis")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	if !envLoaded && fallback == "" {
		log.Printf("⚠️ Environment variable %s not found and no fallback provided", key)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var value int
	_, err := fmt.Sscanf(valueStr, "%d", &value)
	if err != nil {
		return fallback
	}
	return value
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	log.Println("🔧 Loaded configuration:")
	log.Printf("Environment: %s", AppConfig.Environment)
	log.Printf("Server Port: %s", AppConfig.ServerPort)
	log.Printf("Database: %s@%s:%s/%s",
		AppConfig.DBUser,
		AppConfig.DBHost,
		AppConfig.DBPort,
		AppConfig.DBName)
	log.Printf("Campaign poll: %s, send delay: %d-%ds (serverless=%t)",
		AppConfig.CampaignPollInterval,
		AppConfig.SendDelayMinSeconds,
		AppConfig.SendDelayMaxSeconds,
		AppConfig.Serverless)
}

func migrateDB(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Plan{},
		&models.Subscription{},
		&models.EmailAccount{},
		&models.Contact{},
		&models.ContactList{},
		&models.ContactListMembership{},
		&models.Campaign{},
		&models.CampaignStep{},
		&models.CampaignContactList{},
		&models.EmailTracking{},
		&models.BulkEnrichmentJob{},
		&models.UsageMetrics{},
		&models.UsageRestriction{},
		&models.UsageAlert{},
		&models.Notification{},
	); err != nil {
		return err
	}

	// At most one live (non-failed) tracking record per (campaign, contact).
	// Partial indexes are Postgres-only; sqlite test databases rely on the
	// application-level dedup check alone.
	if db.Dialector.Name() == "postgres" {
		if err := db.Exec(`
            CREATE UNIQUE INDEX IF NOT EXISTS idx_email_trackings_live
            ON email_trackings (campaign_id, contact_id)
            WHERE status != 'failed' AND deleted_at IS NULL
        `).Error; err != nil {
			return fmt.Errorf("failed to create live tracking index: %w", err)
		}
	}

	return models.CreateDefaultPlans(db)
}
