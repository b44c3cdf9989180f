package config

import (
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sendloop/wa-gateway/pkg/logger"
)

const ConfigTagName = "env"
const ConfigDefaultTagName = "default"

var config *Config

// Config holds every environment value the orchestrator reads. Only this
// struct may be used to access configuration; no direct env lookups
// elsewhere.
type Config struct {
	AppEnv   string `env:"APP_ENV" default:"dev"`
	AppName  string `env:"APP_NAME" default:"wa_gateway"`
	AppDebug bool   `env:"APP_DEBUG" default:"1"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR" default:":8080"`

	PostgresReadHost     string `env:"POSTGRES_READ_HOST"`
	PostgresReadPort     string `env:"POSTGRES_READ_PORT"`
	PostgresReadUser     string `env:"POSTGRES_READ_USER"`
	PostgresReadPassword string `env:"POSTGRES_READ_PASSWORD"`
	PostgresReadDatabase string `env:"POSTGRES_READ_DBNAME"`

	PostgresWriteHost     string `env:"POSTGRES_WRITE_HOST"`
	PostgresWritePort     string `env:"POSTGRES_WRITE_PORT"`
	PostgresWriteUser     string `env:"POSTGRES_WRITE_USER"`
	PostgresWritePassword string `env:"POSTGRES_WRITE_PASSWORD"`
	PostgresWriteDatabase string `env:"POSTGRES_WRITE_DBNAME"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	// Identity: SERVER_ID wins when set; DEPLOY_URL is the stable signal
	// a deterministic id is derived from when it is not.
	ServerID  string `env:"SERVER_ID"`
	DeployURL string `env:"DEPLOY_URL"`

	HeartbeatInterval      time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatMissThreshold int           `env:"HEARTBEAT_MISS_THRESHOLD" default:"3"`
	HealthSweepInterval    time.Duration `env:"HEALTH_SWEEP_INTERVAL" default:"60s"`
	ClaimInterval          time.Duration `env:"CLAIM_INTERVAL" default:"15s"`
	ServerPriority         int           `env:"SERVER_PRIORITY" default:"0"`

	SchedulerTickInterval time.Duration `env:"SCHEDULER_TICK_INTERVAL" default:"30s"`
	SchedulerDedupTTL     time.Duration `env:"SCHEDULER_DEDUP_TTL" default:"10m"`
	SchedulerBatchLimit   int           `env:"SCHEDULER_BATCH_LIMIT" default:"100"`

	QueueName              string        `env:"QUEUE_NAME" default:"delivery:jobs"`
	QueueConsumerGroup     string        `env:"QUEUE_CONSUMER_GROUP" default:"delivery-workers"`
	QueueMaxRetries        int           `env:"QUEUE_MAX_RETRIES" default:"3"`
	QueueVisibilityTimeout time.Duration `env:"QUEUE_VISIBILITY_TIMEOUT" default:"5m"`
	QueuePollInterval      time.Duration `env:"QUEUE_POLL_INTERVAL" default:"1s"`
	QueueBatchSize         int64         `env:"QUEUE_BATCH_SIZE" default:"10"`
	QueueMaxLen            int64         `env:"QUEUE_MAX_LEN"`
	QueueEnableDLQ         bool          `env:"QUEUE_ENABLE_DLQ" default:"1"`
	QueueIdempotencyTTL    time.Duration `env:"QUEUE_IDEMPOTENCY_TTL" default:"24h"`

	WorkerCount       int           `env:"WORKER_COUNT" default:"8"`
	WorkerBuffer      int           `env:"WORKER_BUFFER" default:"256"`
	SendTimeout       time.Duration `env:"SEND_TIMEOUT" default:"15s"`
	SendMaxAttempts   int           `env:"SEND_MAX_ATTEMPTS" default:"3"`
	SendRatePerSecond int           `env:"SEND_RATE_PER_SECOND" default:"10"`
	MarkerTTL         time.Duration `env:"RECIPIENT_MARKER_TTL" default:"48h"`

	ConnectorURL string `env:"CONNECTOR_URL" default:"http://localhost:8081"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to load env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	config = c
	return nil
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}
