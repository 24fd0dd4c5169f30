package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds all configuration for the vault service
type Config struct {
	Service    ServiceConfig
	Logging    LoggingConfig
	Database   DatabaseConfig
	Telegram   TelegramConfig
	Recovery   RecoveryConfig
	Resolver   ResolverConfig
	Enrichment EnrichmentConfig
	Backfill   BackfillConfig
	Live       LiveConfig
	Scheduler  SchedulerConfig
	Media      MediaConfig
	Detection  DetectionConfig
	Events     EventsConfig
	Kafka      KafkaConfig
	Redis      RedisConfig
	S3         S3Config
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Name string `env:"SERVICE_NAME" envDefault:"tgvault"`
	Port string `env:"SERVICE_PORT" envDefault:"8084" validate:"required"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string        `env:"DATABASE_HOST" envDefault:"localhost" validate:"required"`
	Port            string        `env:"DATABASE_PORT" envDefault:"5432"`
	User            string        `env:"DATABASE_USER" envDefault:"vault_user" validate:"required"`
	Password        string        `env:"DATABASE_PASSWORD" envDefault:"vault_pass"`
	DBName          string        `env:"DATABASE_NAME" envDefault:"vault_db" validate:"required"`
	SSLMode         string        `env:"DATABASE_SSLMODE" envDefault:"disable"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"20" validate:"gte=1"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"30m"`
	MaxRetries      int           `env:"DATABASE_MAX_RETRIES" envDefault:"3" validate:"gte=0"`
	RetryBaseDelay  time.Duration `env:"DATABASE_RETRY_BASE_DELAY" envDefault:"500ms"`
	MigrationsPath  string        `env:"DATABASE_MIGRATIONS" envDefault:"embedded"`
}

// TelegramConfig holds Telegram MTProto configuration
type TelegramConfig struct {
	APIID           int           `env:"TELEGRAM_API_ID" validate:"gt=0"`
	APIHash         string        `env:"TELEGRAM_API_HASH" validate:"required"`
	RateLimit       float64       `env:"TELEGRAM_RATE_LIMIT" envDefault:"2"`
	RateBurst       int           `env:"TELEGRAM_RATE_BURST" envDefault:"5"`
	ConnectTimeout  time.Duration `env:"TELEGRAM_CONNECT_TIMEOUT" envDefault:"30s"`
	InitConcurrency int           `env:"TELEGRAM_INIT_CONCURRENCY" envDefault:"3" validate:"gte=1"`
}

// RecoveryConfig holds session recovery policy
type RecoveryConfig struct {
	ReconnectBaseDelay   time.Duration `env:"RECOVERY_RECONNECT_BASE_DELAY" envDefault:"2s"`
	MaxReconnectAttempts int           `env:"RECOVERY_MAX_RECONNECT_ATTEMPTS" envDefault:"5" validate:"gte=1"`
	MaxFloodWait         time.Duration `env:"RECOVERY_MAX_FLOOD_WAIT" envDefault:"5m"`
	HealthInterval       time.Duration `env:"RECOVERY_HEALTH_INTERVAL" envDefault:"60s"`
	HealthCheckTimeout   time.Duration `env:"RECOVERY_HEALTH_CHECK_TIMEOUT" envDefault:"10s"`
}

// ResolverConfig holds entity resolution cache policy
type ResolverConfig struct {
	CacheTTL             time.Duration `env:"RESOLVER_CACHE_TTL" envDefault:"1h"`
	CacheSize            int           `env:"RESOLVER_CACHE_SIZE" envDefault:"10000" validate:"gte=1"`
	UnavailableTTL       time.Duration `env:"RESOLVER_UNAVAILABLE_TTL" envDefault:"24h"`
	UnavailableThreshold int           `env:"RESOLVER_UNAVAILABLE_THRESHOLD" envDefault:"5" validate:"gte=1"`
	DirectAttempts       int           `env:"RESOLVER_DIRECT_ATTEMPTS" envDefault:"3"`
	UsernameAttempts     int           `env:"RESOLVER_USERNAME_ATTEMPTS" envDefault:"2"`
	PhoneAttempts        int           `env:"RESOLVER_PHONE_ATTEMPTS" envDefault:"1"`
	RefreshAttempts      int           `env:"RESOLVER_REFRESH_ATTEMPTS" envDefault:"1"`
	RetryDelay           time.Duration `env:"RESOLVER_RETRY_DELAY" envDefault:"1s"`
}

// EnrichmentConfig holds enrichment queue configuration
type EnrichmentConfig struct {
	Concurrency    int           `env:"ENRICHMENT_CONCURRENCY" envDefault:"2" validate:"gte=1"`
	QueueSize      int           `env:"ENRICHMENT_QUEUE_SIZE" envDefault:"10000" validate:"gte=1"`
	CompletedTTL   time.Duration `env:"ENRICHMENT_COMPLETED_TTL" envDefault:"1h"`
	CompletedSize  int           `env:"ENRICHMENT_COMPLETED_SIZE" envDefault:"50000" validate:"gte=1"`
	MaxFloodWait   time.Duration `env:"ENRICHMENT_MAX_FLOOD_WAIT" envDefault:"5m"`
	IOAttempts     int           `env:"ENRICHMENT_IO_ATTEMPTS" envDefault:"3" validate:"gte=1"`
	IORetryDelay   time.Duration `env:"ENRICHMENT_IO_RETRY_DELAY" envDefault:"1s"`
	DownloadPhotos bool          `env:"ENRICHMENT_DOWNLOAD_PHOTOS" envDefault:"true"`
}

// BackfillConfig holds historical ingestion configuration
type BackfillConfig struct {
	BatchSize         int           `env:"BACKFILL_BATCH_SIZE" envDefault:"100" validate:"gte=1,lte=100"`
	PerAccountLimit   int           `env:"BACKFILL_PER_ACCOUNT_LIMIT" envDefault:"2" validate:"gte=1"`
	EmptyPageLimit    int           `env:"BACKFILL_EMPTY_PAGE_LIMIT" envDefault:"2" validate:"gte=1"`
	PageDelay         time.Duration `env:"BACKFILL_PAGE_DELAY" envDefault:"1s"`
	MaxFloodWait      time.Duration `env:"BACKFILL_MAX_FLOOD_WAIT" envDefault:"5m"`
	MaxPageFailures   int           `env:"BACKFILL_MAX_PAGE_FAILURES" envDefault:"5" validate:"gte=1"`
	RetryBaseDelay    time.Duration `env:"BACKFILL_RETRY_BASE_DELAY" envDefault:"2s"`
	AutoScrapeMembers bool          `env:"BACKFILL_AUTO_SCRAPE_MEMBERS" envDefault:"true"`
	MemberPageSize    int           `env:"BACKFILL_MEMBER_PAGE_SIZE" envDefault:"200" validate:"gte=1,lte=200"`
}

// LiveConfig holds live ingestion configuration
type LiveConfig struct {
	EditableFields []string `env:"LIVE_EDITABLE_FIELDS" envDefault:"text,edit_date,views,forwards,reactions" envSeparator:","`
}

// SchedulerConfig holds passive enrichment scheduling
type SchedulerConfig struct {
	Enabled          bool          `env:"SCHEDULER_ENABLED" envDefault:"true"`
	Interval         time.Duration `env:"SCHEDULER_INTERVAL" envDefault:"5m"`
	BatchSize        int           `env:"SCHEDULER_BATCH_SIZE" envDefault:"50" validate:"gte=1"`
	ReEnrichAfter    time.Duration `env:"SCHEDULER_REENRICH_AFTER" envDefault:"720h"`
	WatchdogInterval time.Duration `env:"SCHEDULER_WATCHDOG_INTERVAL" envDefault:"60s"`
}

// MediaConfig holds media download configuration
type MediaConfig struct {
	Enabled      bool          `env:"MEDIA_ENABLED" envDefault:"true"`
	Dir          string        `env:"MEDIA_DIR" envDefault:"./media"`
	Workers      int           `env:"MEDIA_WORKERS" envDefault:"2" validate:"gte=1"`
	QueueSize    int           `env:"MEDIA_QUEUE_SIZE" envDefault:"1000" validate:"gte=1"`
	MaxFileSize  int64         `env:"MEDIA_MAX_FILE_SIZE" envDefault:"52428800"`
	MaxAttempts  int           `env:"MEDIA_MAX_ATTEMPTS" envDefault:"3" validate:"gte=1"`
	RetryDelay   time.Duration `env:"MEDIA_RETRY_DELAY" envDefault:"2s"`
	MaxFloodWait time.Duration `env:"MEDIA_MAX_FLOOD_WAIT" envDefault:"5m"`
}

// DetectionConfig holds pattern detection switches
type DetectionConfig struct {
	Enabled bool `env:"DETECTION_ENABLED" envDefault:"true"`
}

// EventsConfig selects the outbound event relay
type EventsConfig struct {
	Transport string `env:"EVENTS_TRANSPORT" envDefault:"kafka" validate:"oneof=kafka redis none"`
	Topic     string `env:"EVENTS_TOPIC" envDefault:"tgvault.events"`
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Brokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9093" envSeparator:","`
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// S3Config holds object storage configuration for archived media
type S3Config struct {
	Enabled   bool   `env:"S3_ENABLED" envDefault:"false"`
	Endpoint  string `env:"S3_ENDPOINT" envDefault:"localhost:9000"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Bucket    string `env:"S3_BUCKET" envDefault:"tgvault-media"`
	UseSSL    bool   `env:"S3_USE_SSL" envDefault:"false"`
	PublicURL string `env:"S3_PUBLIC_URL"`
}

// Result is fx.Out struct for providing config dependencies
type Result struct {
	fx.Out

	Config           *Config
	ServiceConfig    *ServiceConfig
	LoggingConfig    *LoggingConfig
	DatabaseConfig   *DatabaseConfig
	TelegramConfig   *TelegramConfig
	RecoveryConfig   *RecoveryConfig
	ResolverConfig   *ResolverConfig
	EnrichmentConfig *EnrichmentConfig
	BackfillConfig   *BackfillConfig
	LiveConfig       *LiveConfig
	SchedulerConfig  *SchedulerConfig
	MediaConfig      *MediaConfig
	DetectionConfig  *DetectionConfig
	EventsConfig     *EventsConfig
	KafkaConfig      *KafkaConfig
	RedisConfig      *RedisConfig
	S3Config         *S3Config
}

// Out returns fx-compatible config result
func Out() (Result, error) {
	cfg, err := Load()
	if err != nil {
		return Result{}, err
	}

	return Result{
		Config:           cfg,
		ServiceConfig:    &cfg.Service,
		LoggingConfig:    &cfg.Logging,
		DatabaseConfig:   &cfg.Database,
		TelegramConfig:   &cfg.Telegram,
		RecoveryConfig:   &cfg.Recovery,
		ResolverConfig:   &cfg.Resolver,
		EnrichmentConfig: &cfg.Enrichment,
		BackfillConfig:   &cfg.Backfill,
		LiveConfig:       &cfg.Live,
		SchedulerConfig:  &cfg.Scheduler,
		MediaConfig:      &cfg.Media,
		DetectionConfig:  &cfg.Detection,
		EventsConfig:     &cfg.Events,
		KafkaConfig:      &cfg.Kafka,
		RedisConfig:      &cfg.Redis,
		S3Config:         &cfg.S3,
	}, nil
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Events.Transport == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required when EVENTS_TRANSPORT=kafka")
	}

	if c.S3.Enabled && (c.S3.AccessKey == "" || c.S3.SecretKey == "") {
		return fmt.Errorf("S3_ACCESS_KEY and S3_SECRET_KEY are required when S3_ENABLED=true")
	}

	return nil
}

// GetDSN returns database connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}
