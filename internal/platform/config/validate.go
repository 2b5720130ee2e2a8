package config

import (
	"fmt"
	"slices"
	"strings"
)

// Validate performs business-rule validation on the loaded configuration.
// Load calls it automatically.
func (c *Config) Validate() error {
	if len(c.Auth.JWTSigningKey) < 32 {
		return fmt.Errorf("auth.jwt_signing_key must be at least 32 characters (got %d)", len(c.Auth.JWTSigningKey))
	}
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.validateSequence(); err != nil {
		return fmt.Errorf("sequence: %w", err)
	}
	if err := c.Audit.validate(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	if err := c.Blob.validate(); err != nil {
		return fmt.Errorf("blob: %w", err)
	}
	if err := c.Sweep.validate(); err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	return nil
}

func (s StoreConfig) validate() error {
	switch s.Driver {
	case StoreMemory:
	case StorePostgres:
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres driver")
		}
	case StoreSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	return nil
}

func (c *Config) validateSequence() error {
	switch c.Sequence.Backend {
	case SequenceDocstore:
	case SequenceRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Sequence.Backend)
	}
	return nil
}

func (a AuditConfig) validate() error {
	switch a.Sink {
	case AuditMemory:
	case AuditPostgres:
		if a.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required for the postgres sink")
		}
	case AuditKafka:
		if len(a.KafkaBrokers) == 0 || a.KafkaTopic == "" {
			return fmt.Errorf("kafka_brokers and kafka_topic are required for the kafka sink")
		}
	default:
		return fmt.Errorf("unknown sink %q", a.Sink)
	}
	if a.BufferSize < 0 {
		return fmt.Errorf("buffer_size must be >= 0 (got %d)", a.BufferSize)
	}
	return nil
}

func (b BlobConfig) validate() error {
	switch b.Driver {
	case BlobMemory:
	case BlobS3:
		if b.Bucket == "" {
			return fmt.Errorf("bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown driver %q", b.Driver)
	}
	return nil
}

func (s *SweepConfig) validate() error {
	if s.GovernorInterval <= 0 {
		return fmt.Errorf("governor_interval must be > 0 (got %s)", s.GovernorInterval)
	}
	if s.RecoveryInterval <= 0 {
		return fmt.Errorf("recovery_interval must be > 0 (got %s)", s.RecoveryInterval)
	}
	if s.BackupInterval <= 0 {
		return fmt.Errorf("backup_interval must be > 0 (got %s)", s.BackupInterval)
	}
	if s.ConflictRetentionDays <= 0 {
		return fmt.Errorf("conflict_retention_days must be > 0 (got %d)", s.ConflictRetentionDays)
	}
	if s.QuarantineThreshold <= 0 {
		return fmt.Errorf("quarantine_threshold must be > 0 (got %d)", s.QuarantineThreshold)
	}
	if s.DefaultRetentionDays == 0 || s.DefaultRetentionDays < -1 {
		return fmt.Errorf("default_retention_days must be > 0 or -1 (got %d)", s.DefaultRetentionDays)
	}
	if s.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be > 0 (got %d)", s.MaxBatchSize)
	}
	s.RecoveryKinds = parseList(s.RecoveryKindsRaw)
	if len(s.RecoveryKinds) == 0 {
		return fmt.Errorf("recovery_kinds must name at least one record kind")
	}
	return nil
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !slices.Contains(out, part) {
			out = append(out, part)
		}
	}
	return out
}
