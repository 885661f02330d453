// Package config loads the process configuration from environment
// variables (spec.md section 6), with sane defaults for everything but
// the handful of required fields. It follows the teacher's
// viper-based load/validate split: Load builds a *Config from the
// process environment, Validate enforces the invariants that must hold
// before the worker accepts any jobs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Queue carries the SQL backend's connection parameters.
type Queue struct {
	OracleDSN      string `mapstructure:"oracle_dsn"`
	OracleUser     string `mapstructure:"oracle_user"`
	OraclePassword string `mapstructure:"oracle_password"`
	OracleTable    string `mapstructure:"oracle_table"`
}

// Logging carries the structured-logging knobs.
type Logging struct {
	ConsoleJSON bool `mapstructure:"console_json"`
	Debug       bool `mapstructure:"debug"`
}

// Telemetry carries passthrough OTLP exporter settings. The spec treats
// tracing/log export backends as external, interface-only collaborators;
// these fields are read and forwarded to whatever exporter the caller
// wires up, never interpreted by this module.
type Telemetry struct {
	OTLPLogsEndpoint   string `mapstructure:"otlp_logs_endpoint"`
	OTLPTracesEndpoint string `mapstructure:"otlp_traces_endpoint"`
	OTLPUser           string `mapstructure:"otlp_user"`
	OTLPPassword       string `mapstructure:"otlp_password"`
}

// HTTP carries the control-surface bind address.
type HTTP struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Registry carries the optional fleet-wide heartbeat settings. An empty
// URI disables the registry entirely (a no-op Heartbeater is used).
type Registry struct {
	MongoURI              string        `mapstructure:"mongo_uri"`
	MongoDatabase         string        `mapstructure:"mongo_database"`
	HeartbeatInterval     time.Duration `mapstructure:"heartbeat_interval"`
	KeyTTL                time.Duration `mapstructure:"key_ttl"`
	ServiceVersion        string        `mapstructure:"service_version"`
}

// Config is the fully-resolved process configuration.
type Config struct {
	MicroserviceName  string        `mapstructure:"microservice_name"`
	PollingInterval   time.Duration `mapstructure:"polling_interval"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	DevMode           bool          `mapstructure:"dev_mode"`

	Queue     Queue     `mapstructure:"queue"`
	Logging   Logging   `mapstructure:"logging"`
	Telemetry Telemetry `mapstructure:"telemetry"`
	HTTP      HTTP      `mapstructure:"http"`
	Registry  Registry  `mapstructure:"registry"`
}

// Load reads configuration purely from the environment (case-insensitive
// per spec.md section 6), applying defaults for every optional field.
// path, if non-empty, is additionally read as an optional YAML overlay
// (unset fields fall through to env/defaults), matching the teacher's
// file-plus-env layering.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bind := func(key, env string) {
		_ = v.BindEnv(key, env)
	}
	bind("microservice_name", "MICROSERVICE_NAME")
	bind("polling_interval", "POLLING_INTERVAL_SECONDS")
	bind("max_concurrent_jobs", "MAX_CONCURRENT_JOBS")
	bind("shutdown_timeout", "SHUTDOWN_TIMEOUT_SECONDS")
	bind("job_timeout", "JOB_TIMEOUT_SECONDS")
	bind("dev_mode", "DEV_MODE")

	bind("queue.oracle_dsn", "ORACLE_DSN")
	bind("queue.oracle_user", "ORACLE_USER")
	bind("queue.oracle_password", "ORACLE_PASSWORD")
	bind("queue.oracle_table", "ORACLE_TABLE")

	bind("logging.console_json", "LOG_CONSOLE_JSON")
	bind("logging.debug", "DEBUG")

	bind("telemetry.otlp_logs_endpoint", "OTEL_EXPORTER_OTLP_LOGS_ENDPOINT")
	bind("telemetry.otlp_traces_endpoint", "OTEL_EXPORTER_OTLP_TRACES_ENDPOINT")
	bind("telemetry.otlp_user", "OTEL_EXPORTER_OTLP_USER")
	bind("telemetry.otlp_password", "OTEL_EXPORTER_OTLP_PASSWORD")

	bind("http.host", "HTTP_HOST")
	bind("http.port", "HTTP_PORT")

	bind("registry.mongo_uri", "MONGODB_URI")
	bind("registry.mongo_database", "MONGODB_DATABASE")
	bind("registry.heartbeat_interval", "MONGODB_HEARTBEAT_SECONDS")
	bind("registry.key_ttl", "MONGODB_KEY_TTL_SECONDS")
	bind("registry.service_version", "SERVICE_VERSION")

	v.SetDefault("polling_interval", 5)
	v.SetDefault("max_concurrent_jobs", 10)
	v.SetDefault("shutdown_timeout", 60)
	v.SetDefault("job_timeout", 300)
	v.SetDefault("dev_mode", false)
	v.SetDefault("queue.oracle_table", "MICRO_SVC")
	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8000)
	v.SetDefault("registry.heartbeat_interval", 30)
	v.SetDefault("registry.key_ttl", 90)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{
		MicroserviceName:  v.GetString("microservice_name"),
		PollingInterval:   secondsFromConfig(v, "polling_interval"),
		MaxConcurrentJobs: v.GetInt("max_concurrent_jobs"),
		ShutdownTimeout:   secondsFromConfig(v, "shutdown_timeout"),
		JobTimeout:        secondsFromConfig(v, "job_timeout"),
		DevMode:           v.GetBool("dev_mode"),
		Queue: Queue{
			OracleDSN:      v.GetString("queue.oracle_dsn"),
			OracleUser:     v.GetString("queue.oracle_user"),
			OraclePassword: v.GetString("queue.oracle_password"),
			OracleTable:    v.GetString("queue.oracle_table"),
		},
		Logging: Logging{
			ConsoleJSON: v.GetBool("logging.console_json"),
			Debug:       v.GetBool("logging.debug"),
		},
		Telemetry: Telemetry{
			OTLPLogsEndpoint:   v.GetString("telemetry.otlp_logs_endpoint"),
			OTLPTracesEndpoint: v.GetString("telemetry.otlp_traces_endpoint"),
			OTLPUser:           v.GetString("telemetry.otlp_user"),
			OTLPPassword:       v.GetString("telemetry.otlp_password"),
		},
		HTTP: HTTP{
			Host: v.GetString("http.host"),
			Port: v.GetInt("http.port"),
		},
		Registry: Registry{
			MongoURI:          v.GetString("registry.mongo_uri"),
			MongoDatabase:     v.GetString("registry.mongo_database"),
			HeartbeatInterval: secondsFromConfig(v, "registry.heartbeat_interval"),
			KeyTTL:            secondsFromConfig(v, "registry.key_ttl"),
			ServiceVersion:    v.GetString("registry.service_version"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// secondsFromConfig reads key as a plain integer count of seconds, the
// convention every *_SECONDS environment variable in spec.md section 6
// uses (MICROSERVICE_NAME=foo POLLING_INTERVAL_SECONDS=5, not "5s").
func secondsFromConfig(v *viper.Viper, key string) time.Duration {
	return time.Duration(v.GetInt64(key)) * time.Second
}

// Validate checks the invariants spec.md section 6/7 require before the
// worker is allowed to accept any jobs. Failures here are fatal
// (non-zero exit), per spec.md section 6's "Exit codes".
func Validate(cfg *Config) error {
	if cfg.MicroserviceName == "" {
		return fmt.Errorf("config: MICROSERVICE_NAME is required")
	}
	if cfg.MaxConcurrentJobs < 1 {
		return fmt.Errorf("config: MAX_CONCURRENT_JOBS must be >= 1")
	}
	if cfg.PollingInterval <= 0 {
		return fmt.Errorf("config: POLLING_INTERVAL_SECONDS must be > 0")
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: SHUTDOWN_TIMEOUT_SECONDS must be > 0")
	}
	if cfg.JobTimeout <= 0 {
		return fmt.Errorf("config: JOB_TIMEOUT_SECONDS must be > 0")
	}
	if !cfg.DevMode {
		if cfg.Queue.OracleDSN == "" {
			return fmt.Errorf("config: ORACLE_DSN is required unless DEV_MODE=true")
		}
		if cfg.Queue.OracleUser == "" || cfg.Queue.OraclePassword == "" {
			return fmt.Errorf("config: ORACLE_USER and ORACLE_PASSWORD are required unless DEV_MODE=true")
		}
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("config: HTTP_PORT must be 0..65535")
	}
	return nil
}
