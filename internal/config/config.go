package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the full configuration surface for the application.
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	Dispatcher  DispatcherConfig  `mapstructure:"dispatcher"`
	Postgres    PostgresConfig    `mapstructure:"postgres"`
	Scylla      ScyllaConfig      `mapstructure:"scylla"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Throttle    ThrottleConfig    `mapstructure:"throttle"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	Version  string `mapstructure:"version"`
	LogLevel string `mapstructure:"log_level"`
	TimeZone string `mapstructure:"time_zone"`
}

type HTTPConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	BodyLimit    int           `mapstructure:"body_limit"`
}

// DispatcherConfig drives the client-side request dispatcher.
type DispatcherConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DeferWhenHidden bool          `mapstructure:"defer_when_hidden"`
	MaxHiddenDefer  time.Duration `mapstructure:"max_hidden_defer"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout"`
	ToastTTL        time.Duration `mapstructure:"toast_ttl"`
	NotifyTopic     string        `mapstructure:"notify_topic"`
}

type PostgresConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	ApplicationName string        `mapstructure:"application_name"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
}

type ScyllaConfig struct {
	Hosts       []string      `mapstructure:"hosts"`
	Port        int           `mapstructure:"port"`
	Keyspace    string        `mapstructure:"keyspace"`
	Consistency string        `mapstructure:"consistency"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type KafkaConfig struct {
	Brokers         []string `mapstructure:"brokers"`
	ClientID        string   `mapstructure:"client_id"`
	AttendanceTopic string   `mapstructure:"attendance_topic"`
}

type RedisConfig struct {
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

type TelemetryConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	ServiceVersion  string        `mapstructure:"service_version"`
	SampleRatio     float64       `mapstructure:"sample_ratio"`
	TracingEnabled  bool          `mapstructure:"tracing_enabled"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// IdempotencyConfig controls how long the intake server remembers Idempotency-Key values.
type IdempotencyConfig struct {
	KeyPrefix   string        `mapstructure:"key_prefix"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	ResponseTTL time.Duration `mapstructure:"response_ttl"`
}

type ThrottleConfig struct {
	PerDeviceLimit int           `mapstructure:"per_device_limit"`
	Window         time.Duration `mapstructure:"window"`
	KeyPrefix      string        `mapstructure:"key_prefix"`
}

// Load reads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvPrefix("ATTENDANCE")
	v.SetEnvKeyReplacer(NewEnvReplacer())

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "attendance")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.time_zone", "Asia/Jayapura")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.idle_timeout", 60*time.Second)
	v.SetDefault("http.body_limit", 8*1024*1024)

	v.SetDefault("dispatcher.max_retries", 3)
	v.SetDefault("dispatcher.retry_delay", time.Second)
	v.SetDefault("dispatcher.timeout", 60*time.Second)
	v.SetDefault("dispatcher.max_hidden_defer", 4*time.Second)
	v.SetDefault("dispatcher.probe_timeout", 3*time.Second)
	v.SetDefault("dispatcher.toast_ttl", 5*time.Second)

	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.application_name", "attendance-intake")
	v.SetDefault("scylla.consistency", "local_quorum")

	v.SetDefault("idempotency.key_prefix", "attendance:idem")
	v.SetDefault("idempotency.lock_ttl", 2*time.Minute)
	v.SetDefault("idempotency.response_ttl", 24*time.Hour)

	v.SetDefault("throttle.per_device_limit", 30)
	v.SetDefault("throttle.window", time.Minute)
	v.SetDefault("throttle.key_prefix", "attendance:throttle")

	v.SetDefault("telemetry.shutdown_timeout", 5*time.Second)
}

// NewEnvReplacer standardizes environment variable names.
func NewEnvReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_", "-", "_")
}
