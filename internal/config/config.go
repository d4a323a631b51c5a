// Package config loads worker configuration from environment variables,
// mirroring the defaults, ranges, and cross-field checks of the reference
// implementation's Config::from_env.
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"transcode-worker/internal/protocol"
)

// Config holds all static configuration required by the worker.
type Config struct {
	NATSURL                 string `mapstructure:"nats_url" validate:"required,url"`
	WorkerID                string `mapstructure:"worker_id" validate:"required"`
	AssignSubject           string `mapstructure:"caf_assign_subject" validate:"required"`
	ResultSubject           string `mapstructure:"caf_result_subject" validate:"required"`
	HeartbeatSubject        string `mapstructure:"caf_heartbeat_subject" validate:"required"`
	DLQSubject              string `mapstructure:"caf_dlq_subject" validate:"required"`
	HeartbeatIntervalMS     int64  `mapstructure:"caf_heartbeat_interval_ms" validate:"gte=100,lte=600000"`
	MaxConcurrency          int    `mapstructure:"worker_max_concurrency" validate:"gte=1,lte=256"`
	DefaultJobTimeoutMS     int64  `mapstructure:"default_job_timeout_ms" validate:"gte=100,lte=3600000"`
	ResultPublishMaxRetries int    `mapstructure:"result_publish_max_retries" validate:"gte=0,lte=20"`
	HealthBind              string `mapstructure:"health_bind" validate:"required"`
	DLQPath                 string `mapstructure:"dlq_path" validate:"required"`
	DLQMaxBytes             int64  `mapstructure:"dlq_max_bytes" validate:"gte=1000000,lte=10000000000"`
	DLQMaxRotations         int    `mapstructure:"dlq_max_rotations" validate:"gte=1,lte=100"`
	DLQTotalMaxBytes        int64  `mapstructure:"dlq_total_max_bytes" validate:"gte=1000000,lte=100000000000"`
	DLQMaxAgeDays           int    `mapstructure:"dlq_max_age_days" validate:"gte=0,lte=36500"` // 0 means unset
	FSBaseDir               string `mapstructure:"fs_base_dir" validate:"required"`
}

// Load reads configuration from the process environment. Every key binds
// to its literal environment variable name, unprefixed, matching the
// external interface the bus and downstream tooling depend on.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("caf_assign_subject", "caf.exec.assign.v1")
	v.SetDefault("caf_result_subject", "caf.exec.result.v1")
	v.SetDefault("caf_heartbeat_subject", "caf.status.heartbeat.v1")
	v.SetDefault("caf_heartbeat_interval_ms", 5000)
	v.SetDefault("health_bind", "0.0.0.0:9091")
	v.SetDefault("worker_max_concurrency", 8)
	v.SetDefault("default_job_timeout_ms", 60000)
	v.SetDefault("caf_dlq_subject", "caf.deadletter.v1")
	v.SetDefault("dlq_path", "/tmp/worker-dlq.jsonl")
	v.SetDefault("result_publish_max_retries", 5)
	v.SetDefault("dlq_max_bytes", 100*1024*1024)
	v.SetDefault("dlq_max_rotations", 5)
	v.SetDefault("dlq_total_max_bytes", 1024*1024*1024)
	v.SetDefault("dlq_max_age_days", 0)
	v.SetDefault("fs_base_dir", "/tmp/worker-storage")
	v.SetDefault("worker_id", "worker-"+uuid.NewString())

	for _, key := range []string{
		"NATS_URL", "WORKER_ID", "CAF_ASSIGN_SUBJECT", "CAF_RESULT_SUBJECT",
		"CAF_HEARTBEAT_SUBJECT", "CAF_HEARTBEAT_INTERVAL_MS", "WORKER_MAX_CONCURRENCY",
		"DEFAULT_JOB_TIMEOUT_MS", "CAF_DLQ_SUBJECT", "RESULT_PUBLISH_MAX_RETRIES",
		"HEALTH_BIND", "DLQ_PATH", "DLQ_MAX_BYTES", "DLQ_MAX_ROTATIONS",
		"DLQ_TOTAL_MAX_BYTES", "DLQ_MAX_AGE_DAYS", "FS_BASE_DIR",
	} {
		mapKey := toMapKey(key)
		_ = v.BindEnv(mapKey, key)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if err := validateSubjects(&cfg); err != nil {
		return nil, err
	}
	if cfg.DLQTotalMaxBytes < cfg.DLQMaxBytes {
		return nil, fmt.Errorf("config: DLQ_TOTAL_MAX_BYTES must be >= DLQ_MAX_BYTES")
	}
	if raw, ok := os.LookupEnv("DLQ_MAX_AGE_DAYS"); ok {
		if cfg.DLQMaxAgeDays < 1 || cfg.DLQMaxAgeDays > 36500 {
			return nil, fmt.Errorf("config: DLQ_MAX_AGE_DAYS must be 1..36500 when set, got %q", raw)
		}
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

func validateSubjects(cfg *Config) error {
	subjects := map[string]string{
		"CAF_ASSIGN_SUBJECT":    cfg.AssignSubject,
		"CAF_RESULT_SUBJECT":    cfg.ResultSubject,
		"CAF_HEARTBEAT_SUBJECT": cfg.HeartbeatSubject,
		"CAF_DLQ_SUBJECT":       cfg.DLQSubject,
	}
	for name, subj := range subjects {
		if !protocol.IsValidSubject(subj) {
			return fmt.Errorf("config: %s invalid format: %q", name, subj)
		}
	}
	return nil
}

// toMapKey lowercases an upper-snake-case env var name to the mapstructure
// tag it binds to, e.g. CAF_DLQ_SUBJECT -> caf_dlq_subject.
func toMapKey(envVar string) string {
	b := []byte(envVar)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
