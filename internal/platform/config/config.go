// Package config loads service configuration from defaults, an optional config file and
// INSUREFLOW_* environment variables, in increasing order of precedence.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	liststrings "insureflow/pkg/platform/strings"
)

const (
	devJWTSecret = "dev-secret-key-change-in-production"
	devSealKey   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
)

type Config struct {
	Env       string          `mapstructure:"env"`
	LogLevel  string          `mapstructure:"log_level"`
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Biometric BiometricConfig `mapstructure:"biometric"`
	Claims    ClaimsConfig    `mapstructure:"claims"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig configures PostgreSQL. An empty URL selects in-memory stores.
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	TxTimeout       time.Duration `mapstructure:"tx_timeout"`
}

// RedisConfig configures Redis. An empty URL selects in-memory ephemeral stores.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// KafkaConfig configures the broker. No brokers means audit and notifications are logged only.
type KafkaConfig struct {
	Brokers           []string      `mapstructure:"brokers"`
	ClientID          string        `mapstructure:"client_id"`
	AuditTopic        string        `mapstructure:"audit_topic"`
	NotificationTopic string        `mapstructure:"notification_topic"`
	DeliveryTimeout   time.Duration `mapstructure:"delivery_timeout"`
	RelayInterval     time.Duration `mapstructure:"relay_interval"`
}

type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	Issuer    string        `mapstructure:"issuer"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
	OTPTTL    time.Duration `mapstructure:"otp_ttl"`
	// LockoutAttempts failed logins within LockoutWindow lock the account for the rest of it.
	LockoutAttempts int           `mapstructure:"lockout_attempts"`
	LockoutWindow   time.Duration `mapstructure:"lockout_window"`
}

type BiometricConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	Matcher        string        `mapstructure:"matcher"`
	CaptureTimeout time.Duration `mapstructure:"capture_timeout"`
	VerifyTimeout  time.Duration `mapstructure:"verify_timeout"`
	SealKey        string        `mapstructure:"seal_key"`
	ProofTTL       time.Duration `mapstructure:"proof_ttl"`
}

type ClaimsConfig struct {
	RequireBiometric bool `mapstructure:"require_biometric"`
}

// Load reads configuration. configFile may be empty.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("INSUREFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Kafka.Brokers = liststrings.DedupeAndTrim(cfg.Kafka.Brokers)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 45*time.Second)
	v.SetDefault("server.request_timeout", 40*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)
	v.SetDefault("database.tx_timeout", 5*time.Second)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.client_id", "insureflow")
	v.SetDefault("kafka.audit_topic", "insureflow.audit")
	v.SetDefault("kafka.notification_topic", "insureflow.notifications")
	v.SetDefault("kafka.delivery_timeout", 10*time.Second)
	v.SetDefault("kafka.relay_interval", 2*time.Second)

	v.SetDefault("auth.jwt_secret", devJWTSecret)
	v.SetDefault("auth.issuer", "insureflow")
	v.SetDefault("auth.token_ttl", 8*time.Hour)
	v.SetDefault("auth.otp_ttl", 10*time.Minute)
	v.SetDefault("auth.lockout_attempts", 5)
	v.SetDefault("auth.lockout_window", 15*time.Minute)

	v.SetDefault("biometric.base_url", "http://localhost:5000")
	v.SetDefault("biometric.matcher", "remote")
	v.SetDefault("biometric.capture_timeout", 30*time.Second)
	v.SetDefault("biometric.verify_timeout", 10*time.Second)
	v.SetDefault("biometric.seal_key", devSealKey)
	v.SetDefault("biometric.proof_ttl", 5*time.Minute)

	v.SetDefault("claims.require_biometric", true)
}

// Validate rejects unsafe or inconsistent settings.
func (c *Config) Validate() error {
	key, err := hex.DecodeString(c.Biometric.SealKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("biometric.seal_key must be 64 hex characters")
	}
	switch c.Biometric.Matcher {
	case "remote", "exact":
	default:
		return fmt.Errorf("biometric.matcher must be remote or exact, got %q", c.Biometric.Matcher)
	}
	if c.Auth.TokenTTL <= 0 || c.Auth.OTPTTL <= 0 {
		return fmt.Errorf("auth token and otp TTLs must be positive")
	}
	if c.IsProduction() {
		if c.Auth.JWTSecret == devJWTSecret || len(c.Auth.JWTSecret) < 32 {
			return fmt.Errorf("auth.jwt_secret must be set to at least 32 characters in production")
		}
		if c.Biometric.SealKey == devSealKey {
			return fmt.Errorf("biometric.seal_key must be overridden in production")
		}
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required in production")
		}
		if c.Biometric.Matcher == "exact" {
			return fmt.Errorf("biometric.matcher=exact is not allowed in production")
		}
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}
