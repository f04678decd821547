package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName                       string   `env:"APP_NAME" envDefault:"fern-api"`
	Version                       string   `env:"APP_VERSION" envDefault:"dev"`
	Port                          int      `env:"PORT" envDefault:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" envDefault:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" envDefault:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" envDefault:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" envDefault:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" envDefault:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" envDefault:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" envDefault:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" envDefault:"GET,POST"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" envDefault:"5"`

	// Database. DB_DRIVER is one of postgres, sqlite or memory.
	DatabaseDriver                string        `env:"DB_DRIVER" envDefault:"postgres"`
	DatabaseHost                  string        `env:"DB_HOST" envDefault:""`
	DatabasePort                  string        `env:"DB_PORT" envDefault:"5432"`
	DatabaseUserName              string        `env:"DB_USER_NAME" envDefault:""`
	DatabasePassword              string        `env:"DB_PASSWORD" envDefault:""`
	DatabaseName                  string        `env:"DB_NAME" envDefault:"fern"`
	DatabaseSSLMode               string        `env:"DB_SSL_MODE" envDefault:"disable"`
	DatabasePath                  string        `env:"DB_PATH" envDefault:"fern.db"`
	DatabaseMaxOpenConns          int           `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DatabaseMaxIdleConns          int           `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DatabaseConnMaxLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"10s"`
	DatabaseMigrationVersion      int           `env:"DB_MIGRATION_VERSION" envDefault:"0"`
	DatabaseMigrationForce        int           `env:"DB_MIGRATION_FORCE" envDefault:"0"`
	DatabaseMigrationAutoRollback bool          `env:"DB_MIGRATION_AUTO_ROLLBACK" envDefault:"true"`
	VisitorPageSize               int           `env:"VISITOR_PAGE_SIZE" envDefault:"500"`

	// Graph Database (Memgraph / Neo4j)
	GraphEnabled    bool   `env:"GRAPH_ENABLED" envDefault:"false"`
	GraphDBHost     string `env:"GRAPH_DB_HOST" envDefault:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" envDefault:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" envDefault:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" envDefault:""`

	// Kafka Consumer (attendance confirmations from the checkout workflow)
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" envDefault:"false"`
	KafkaBrokers         []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaVisitsTopic     string   `env:"KAFKA_VISITS_TOPIC" envDefault:"attendance-confirmed"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" envDefault:"fern-consumer"`

	// Backoff between attempts at a message whose write failed
	KafkaRetryInitialInterval time.Duration `env:"KAFKA_RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	KafkaRetryMaxInterval     time.Duration `env:"KAFKA_RETRY_MAX_INTERVAL" envDefault:"30s"`

	// Per-key locking around crossing updates. One of none, local or redis.
	CrossingLockMode    string        `env:"CROSSING_LOCK_MODE" envDefault:"none"`
	CrossingLockTTL     time.Duration `env:"CROSSING_LOCK_TTL" envDefault:"10s"`
	CrossingLockTimeout time.Duration `env:"CROSSING_LOCK_TIMEOUT" envDefault:"5s"`
	RedisHost           string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort           int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword       string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB             int           `env:"REDIS_DB" envDefault:"0"`

	// Processing
	CrossingConcurrency int `env:"CROSSING_CONCURRENCY" envDefault:"8"`

	// Tracing
	TracingEnabled  bool   `env:"TRACING_ENABLED" envDefault:"false"`
	TracingEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	TracingProtocol string `env:"OTEL_EXPORTER_OTLP_PROTOCOL" envDefault:"grpc"`
	TracingInsecure bool   `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
}

// Load reads an optional .env file and then parses the environment.
func Load(envFiles ...string) (Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
