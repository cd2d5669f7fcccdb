package config

import "time"

type Config struct {
	AppName                       string   `env:"APP_NAME" env-default:"meld-api"`
	Port                          int      `env:"PORT" env-default:"3004"`
	LogLevel                      string   `env:"LOG_LEVEL" env-default:"info"`
	PrettyLogs                    bool     `env:"PRETTY_LOGS" env-default:"false"`
	HttpServerWriteTimeoutSeconds int      `env:"HTTP_SERVER_WRITE_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerReadTimeoutSeconds  int      `env:"HTTP_SERVER_READ_TIMEOUT_SECONDS" env-default:"10"`
	HttpServerIdleTimeoutSeconds  int      `env:"HTTP_SERVER_IDLE_TIMEOUT_SECONDS" env-default:"10"`
	MaxHeaderBytes                int      `env:"HTTP_SERVER_MAX_HEADER_BYTES" env-default:"64000"` // 64KB
	AllowOrigins                  []string `env:"HTTP_SERVER_ALLOW_ORIGINS" env-default:"*"`
	AllowMethods                  []string `env:"HTTP_SERVER_ALLOW_METHODS" env-default:"GET,POST,PUT,DELETE"`
	StartupMaxAttempts            int      `env:"STARTUP_MAX_ATTEMPTS" env-default:"5"`

	// PostgreSQL (canonical events + merge history)
	DatabaseDriver              string        `env:"DB_DRIVER" env-default:"postgres"`
	DatabaseHost                string        `env:"DB_HOST" env-default:""`
	DatabasePort                string        `env:"DB_PORT" env-default:"5432"`
	DatabaseUserName            string        `env:"DB_USER_NAME" env-default:""`
	DatabasePassword            string        `env:"DB_PASSWORD" env-default:""`
	DatabaseName                string        `env:"DB_NAME" env-default:"meld"`
	DatabaseSSLMode             string        `env:"DB_SQL_MODE" env-default:"disable"`
	DatabaseReconnectRetryCount int           `env:"DB_RECONNECT_RETRY_COUNT" env-default:"3"`
	DatabaseMaxOpenConns        int           `env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	DatabaseMaxIdleConns        int           `env:"DB_MAX_IDLE_CONNS" env-default:"10"`
	DatabaseConnMaxLifetime     time.Duration `env:"DB_CONN_MAX_LIFETIME" env-default:"10s"`
	DatabaseMigrationFolderPath string        `env:"DB_MIGRATION_FOLDER_PATH" env-default:"db/pg"`
	DatabaseMigrationVersion    int           `env:"DB_MIGRATION_VERSION" env-default:"0"`
	DatabaseMigrationForce      int           `env:"DB_MIGRATION_FORCE" env-default:"0"`

	// Graph Database (Memgraph projection of canonical events)
	GraphDBHost     string `env:"GRAPH_DB_HOST" env-default:"localhost"`
	GraphDBPort     int    `env:"GRAPH_DB_PORT" env-default:"7687"`
	GraphDBUser     string `env:"GRAPH_DB_USER" env-default:""`
	GraphDBPassword string `env:"GRAPH_DB_PASSWORD" env-default:""`
	GraphDBEnabled  bool   `env:"GRAPH_DB_ENABLED" env-default:"true"`

	// Kafka Consumer (normalized events from the ingestion adapters)
	KafkaBrokers         []string `env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	KafkaInputTopic      string   `env:"KAFKA_INPUT_TOPIC" env-default:"normalized-events"`
	KafkaConsumerGroup   string   `env:"KAFKA_CONSUMER_GROUP" env-default:"meld-consumer"`
	KafkaConsumerEnabled bool     `env:"KAFKA_CONSUMER_ENABLED" env-default:"true"`

	// Kafka Producer (merge lifecycle events)
	KafkaOutputTopic  string `env:"KAFKA_OUTPUT_TOPIC" env-default:"dedup-events"`
	KafkaBatchSize    int    `env:"KAFKA_BATCH_SIZE" env-default:"100"`
	KafkaBatchTimeout int    `env:"KAFKA_BATCH_TIMEOUT_MS" env-default:"100"`
	KafkaRequiredAcks int    `env:"KAFKA_REQUIRED_ACKS" env-default:"1"`
	KafkaCompression  string `env:"KAFKA_COMPRESSION" env-default:"snappy"`

	// Similarity weights (must sum to 1.0)
	WeightTitle    float64 `env:"DEDUP_WEIGHT_TITLE" env-default:"0.35"`
	WeightVenue    float64 `env:"DEDUP_WEIGHT_VENUE" env-default:"0.25"`
	WeightLocation float64 `env:"DEDUP_WEIGHT_LOCATION" env-default:"0.20"`
	WeightDate     float64 `env:"DEDUP_WEIGHT_DATE" env-default:"0.15"`
	WeightSemantic float64 `env:"DEDUP_WEIGHT_SEMANTIC" env-default:"0.05"`

	// Thresholds
	ThresholdOverall  float64 `env:"DEDUP_THRESHOLD_OVERALL" env-default:"0.80"`
	ThresholdTitle    float64 `env:"DEDUP_THRESHOLD_TITLE" env-default:"0.40"`
	ThresholdVenue    float64 `env:"DEDUP_THRESHOLD_VENUE" env-default:"0.30"`
	ThresholdDate     float64 `env:"DEDUP_THRESHOLD_DATE" env-default:"0.30"`
	ThresholdLocation float64 `env:"DEDUP_THRESHOLD_LOCATION" env-default:"0.0"`
	ThresholdSemantic float64 `env:"DEDUP_THRESHOLD_SEMANTIC" env-default:"0.0"`

	// Algorithms
	StringMatchingAlgorithm string `env:"DEDUP_STRING_ALGORITHM" env-default:"hybrid"`
	LocationFalloff         string `env:"DEDUP_LOCATION_FALLOFF" env-default:"linear"`

	// Matching tolerances
	DateBucketHours    int     `env:"DEDUP_DATE_BUCKET_HOURS" env-default:"24"`
	DateHorizonDays    int     `env:"DEDUP_DATE_HORIZON_DAYS" env-default:"30"`
	MaxLocationRadiusM float64 `env:"DEDUP_MAX_LOCATION_RADIUS_METERS" env-default:"1000"`
	GeoPrecision       int     `env:"DEDUP_GEO_PRECISION" env-default:"3"`

	// Performance
	BatchSize          int  `env:"DEDUP_BATCH_SIZE" env-default:"100"`
	MaxCandidates      int  `env:"DEDUP_MAX_CANDIDATES" env-default:"100"`
	EnableCaching      bool `env:"DEDUP_ENABLE_CACHING" env-default:"true"`
	ParallelProcessing bool `env:"DEDUP_PARALLEL_PROCESSING" env-default:"true"`
	WorkerCount        int  `env:"DEDUP_WORKER_COUNT" env-default:"4"`

	// Quality / review policy
	MinimumQualityScore float64 `env:"DEDUP_MINIMUM_QUALITY_SCORE" env-default:"0.0"`
	RequireManualReview bool    `env:"DEDUP_REQUIRE_MANUAL_REVIEW" env-default:"true"`
	AutoMergeThreshold  float64 `env:"DEDUP_AUTO_MERGE_THRESHOLD" env-default:"0.95"`
	AutoMergeEnabled    bool    `env:"AUTO_MERGE_ENABLED" env-default:"true"`
	ReviewQueueEnabled  bool    `env:"REVIEW_QUEUE_ENABLED" env-default:"true"`
}
