package config

import "time"

// Config is the root application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Sequence SequenceConfig `yaml:"sequence"`
	Audit    AuditConfig    `yaml:"audit"`
	Blob     BlobConfig     `yaml:"blob"`
	Sweep    SweepConfig    `yaml:"sweep"`
	Auth     AuthConfig     `yaml:"auth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"             env:"SERVER_ADDR"             env-default:":8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout"     env:"SERVER_READ_TIMEOUT"     env-default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout"    env:"SERVER_WRITE_TIMEOUT"    env-default:"30s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"     env:"SERVER_IDLE_TIMEOUT"     env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"  env:"LOG_LEVEL"  env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// StoreConfig selects the document store backend.
type StoreConfig struct {
	Driver          string        `yaml:"driver"             env:"STORE_DRIVER"             env-default:"memory"`
	DSN             string        `yaml:"dsn"                env:"STORE_DSN"`
	SQLitePath      string        `yaml:"sqlite_path"        env:"STORE_SQLITE_PATH"        env-default:"./euid.db"`
	MaxConns        int32         `yaml:"max_conns"          env:"STORE_MAX_CONNS"          env-default:"25"`
	MinConns        int32         `yaml:"min_conns"          env:"STORE_MIN_CONNS"          env-default:"2"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"  env:"STORE_MAX_CONN_LIFETIME"  env-default:"1h"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time" env:"STORE_MAX_CONN_IDLE_TIME" env-default:"30m"`
}

// RedisConfig holds the optional Redis connection used for sequence counters.
type RedisConfig struct {
	URL          string        `yaml:"url"           env:"REDIS_URL"`
	PoolSize     int           `yaml:"pool_size"     env:"REDIS_POOL_SIZE"     env-default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" env:"REDIS_MIN_IDLE_CONNS" env-default:"2"`
	DialTimeout  time.Duration `yaml:"dial_timeout"  env:"REDIS_DIAL_TIMEOUT"  env-default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout"  env:"REDIS_READ_TIMEOUT"  env-default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"REDIS_WRITE_TIMEOUT" env-default:"3s"`
}

const (
	SequenceDocstore = "docstore"
	SequenceRedis    = "redis"
)

// SequenceConfig selects where counters are persisted.
type SequenceConfig struct {
	Backend string `yaml:"backend" env:"SEQUENCE_BACKEND" env-default:"docstore"`
}

const (
	AuditMemory   = "memory"
	AuditPostgres = "postgres"
	AuditKafka    = "kafka"
)

// AuditConfig selects the audit sink.
type AuditConfig struct {
	Sink             string        `yaml:"sink"              env:"AUDIT_SINK"              env-default:"memory"`
	BufferSize       int           `yaml:"buffer_size"       env:"AUDIT_BUFFER_SIZE"       env-default:"1024"`
	PostgresDSN      string        `yaml:"postgres_dsn"      env:"AUDIT_POSTGRES_DSN"`
	KafkaBrokers     []string      `yaml:"kafka_brokers"     env:"AUDIT_KAFKA_BROKERS"     env-separator:","`
	KafkaTopic       string        `yaml:"kafka_topic"       env:"AUDIT_KAFKA_TOPIC"       env-default:"euid.audit"`
	BreakerThreshold int           `yaml:"breaker_threshold" env:"AUDIT_BREAKER_THRESHOLD" env-default:"5"`
	BreakerCooldown  time.Duration `yaml:"breaker_cooldown"  env:"AUDIT_BREAKER_COOLDOWN"  env-default:"1m"`
}

const (
	BlobMemory = "memory"
	BlobS3     = "s3"
)

// BlobConfig selects where archived snapshots and quarantined payloads go.
type BlobConfig struct {
	Driver       string `yaml:"driver"         env:"BLOB_DRIVER"         env-default:"memory"`
	Bucket       string `yaml:"bucket"         env:"BLOB_BUCKET"`
	Prefix       string `yaml:"prefix"         env:"BLOB_PREFIX"         env-default:"euid/"`
	Region       string `yaml:"region"         env:"BLOB_REGION"         env-default:"us-east-1"`
	Endpoint     string `yaml:"endpoint"       env:"BLOB_ENDPOINT"`
	UsePathStyle bool   `yaml:"use_path_style" env:"BLOB_USE_PATH_STYLE" env-default:"false"`
}

// SweepConfig holds the periodic maintenance settings.
type SweepConfig struct {
	GovernorInterval      time.Duration `yaml:"governor_interval"        env:"SWEEP_GOVERNOR_INTERVAL"        env-default:"1h"`
	RecoveryInterval      time.Duration `yaml:"recovery_interval"        env:"SWEEP_RECOVERY_INTERVAL"        env-default:"6h"`
	BackupInterval        time.Duration `yaml:"backup_interval"          env:"SWEEP_BACKUP_INTERVAL"          env-default:"24h"`
	ConflictRetentionDays int           `yaml:"conflict_retention_days"  env:"SWEEP_CONFLICT_RETENTION_DAYS"  env-default:"90"`
	QuarantineThreshold   int           `yaml:"quarantine_threshold"     env:"SWEEP_QUARANTINE_THRESHOLD"     env-default:"5"`
	DefaultRetentionDays  int           `yaml:"default_retention_days"   env:"SWEEP_DEFAULT_RETENTION_DAYS"   env-default:"3650"`
	ShutdownGracePeriod   time.Duration `yaml:"shutdown_grace_period"    env:"SWEEP_SHUTDOWN_GRACE_PERIOD"    env-default:"30s"`
	MaxBatchSize          int           `yaml:"max_batch_size"           env:"SWEEP_MAX_BATCH_SIZE"           env-default:"1000"`
	RecoveryKindsRaw      string        `yaml:"recovery_kinds"           env:"SWEEP_RECOVERY_KINDS"           env-default:"euid,reserved_euid,euid_prefix,retention_rule"`

	// RecoveryKinds is parsed from RecoveryKindsRaw during validation.
	RecoveryKinds []string `yaml:"-" env:"-"`
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSigningKey string `yaml:"jwt_signing_key" env:"AUTH_JWT_SIGNING_KEY" env-required:"true"`
	JWTIssuer     string `yaml:"jwt_issuer"      env:"AUTH_JWT_ISSUER"      env-default:"entityid"`
	AdminRole     string `yaml:"admin_role"      env:"AUTH_ADMIN_ROLE"      env-default:"euid-admin"`
}
