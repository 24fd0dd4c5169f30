package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_API_ID", "12345")
	t.Setenv("TELEGRAM_API_HASH", "hash")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8084", cfg.Service.Port)
	assert.Equal(t, 12345, cfg.Telegram.APIID)
	assert.Equal(t, 100, cfg.Backfill.BatchSize)
	assert.Equal(t, 5, cfg.Backfill.MaxPageFailures)
	assert.Equal(t, 2*time.Second, cfg.Backfill.RetryBaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, []string{"text", "edit_date", "views", "forwards", "reactions"}, cfg.Live.EditableFields)
	assert.Equal(t, []string{"localhost:9093"}, cfg.Kafka.Brokers)
	assert.Equal(t, "kafka", cfg.Events.Transport)
	assert.False(t, cfg.S3.Enabled)
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("ENRICHMENT_CONCURRENCY", "8")
	t.Setenv("RESOLVER_CACHE_TTL", "15m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 8, cfg.Enrichment.Concurrency)
	assert.Equal(t, 15*time.Minute, cfg.Resolver.CacheTTL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing api id", map[string]string{"TELEGRAM_API_ID": "0"}},
		{"unknown transport", map[string]string{"EVENTS_TRANSPORT": "nats"}},
		{"batch above page limit", map[string]string{"BACKFILL_BATCH_SIZE": "500"}},
		{"not a duration", map[string]string{"SCHEDULER_INTERVAL": "soon"}},
		{"no page failure budget", map[string]string{"BACKFILL_MAX_PAGE_FAILURES": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestValidate_TransportRequirements(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Kafka.Brokers = nil
	assert.ErrorContains(t, cfg.Validate(), "KAFKA_BROKERS")

	cfg.Events.Transport = "none"
	assert.NoError(t, cfg.Validate())

	cfg.S3.Enabled = true
	assert.ErrorContains(t, cfg.Validate(), "S3_ACCESS_KEY")

	cfg.S3.AccessKey = "key"
	cfg.S3.SecretKey = "secret"
	assert.NoError(t, cfg.Validate())
}

func TestDatabaseConfig_GetDSN(t *testing.T) {
	cfg := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "vault", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=vault sslmode=disable", cfg.GetDSN())
}
