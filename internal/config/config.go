package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/avikram/notify-service/internal/provider/email"
	"github.com/avikram/notify-service/internal/provider/push"
	"github.com/avikram/notify-service/internal/provider/sms"
	"github.com/avikram/notify-service/internal/ratelimit"
	"github.com/avikram/notify-service/internal/registry"
	"github.com/avikram/notify-service/internal/repository/postgres"
	"github.com/avikram/notify-service/internal/retry"
	"github.com/avikram/notify-service/internal/store"
	"github.com/avikram/notify-service/internal/worker"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Database  DatabaseConfig  `mapstructure:"database"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Workers   WorkersConfig   `mapstructure:"workers"`
	Retention RetentionConfig `mapstructure:"retention"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

type ServerConfig struct {
	Port           int `mapstructure:"port"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type RedisConfig struct {
	URL                   string `mapstructure:"url"`
	PoolSize              int    `mapstructure:"pool_size"`
	MinIdleConns          int    `mapstructure:"min_idle_conns"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
	RetryAttempts         int    `mapstructure:"retry_attempts"`
	RetryIntervalSeconds  int    `mapstructure:"retry_interval_seconds"`
}

type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
}

type RateLimitConfig struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type RetryConfig struct {
	MaxAttempts          int   `mapstructure:"max_attempts"`
	BackoffSeconds       int   `mapstructure:"backoff_seconds"`
	DrainIntervalSeconds int   `mapstructure:"drain_interval_seconds"`
	DrainBatch           int64 `mapstructure:"drain_batch"`
}

type WorkersConfig struct {
	PerChannel            int     `mapstructure:"per_channel"`
	DequeueTimeoutSeconds int     `mapstructure:"dequeue_timeout_seconds"`
	StoreBackoffSeconds   int     `mapstructure:"store_backoff_seconds"`
	DispatchRate          float64 `mapstructure:"dispatch_rate"`
	DispatchBurst         int     `mapstructure:"dispatch_burst"`
	BreakerMaxFailures    int     `mapstructure:"breaker_max_failures"`
	BreakerTimeoutSeconds int     `mapstructure:"breaker_timeout_seconds"`
	HealthPort            int     `mapstructure:"health_port"`
}

type RetentionConfig struct {
	BaseTTLSeconds         int `mapstructure:"base_ttl_seconds"`
	SentTTLSeconds         int `mapstructure:"sent_ttl_seconds"`
	MaxAgeSeconds          int `mapstructure:"max_age_seconds"`
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds"`
}

type ProvidersConfig struct {
	Email EmailConfig `mapstructure:"email"`
	SMS   SMSConfig   `mapstructure:"sms"`
	Push  PushConfig  `mapstructure:"push"`
}

type EmailConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	From           string `mapstructure:"from"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type SMSConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	AccountSID     string `mapstructure:"account_sid"`
	AuthToken      string `mapstructure:"auth_token"`
	From           string `mapstructure:"from"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type PushConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	ServerKey      string `mapstructure:"server_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.timeout_seconds", 30)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("rate_limit.limit", 10)
	viper.SetDefault("rate_limit.window_seconds", 60)
	viper.SetDefault("retry.max_attempts", 3)
	viper.SetDefault("retry.backoff_seconds", 60)
	viper.SetDefault("retry.drain_interval_seconds", 10)
	viper.SetDefault("retry.drain_batch", 100)
	viper.SetDefault("workers.per_channel", 2)
	viper.SetDefault("workers.dequeue_timeout_seconds", 5)
	viper.SetDefault("workers.store_backoff_seconds", 2)
	viper.SetDefault("workers.health_port", 8081)
	viper.SetDefault("retention.base_ttl_seconds", 86400)
	viper.SetDefault("retention.sent_ttl_seconds", 3600)
	viper.SetDefault("retention.max_age_seconds", 604800)
	viper.SetDefault("retention.cleanup_interval_seconds", 3600)
}

func (c RedisConfig) ToStoreConfig() store.Config {
	return store.Config{
		URL:            c.URL,
		ConnectTimeout: seconds(c.ConnectTimeoutSeconds),
		RetryAttempts:  c.RetryAttempts,
		RetryInterval:  seconds(c.RetryIntervalSeconds),
		PoolSize:       c.PoolSize,
		MinIdleConns:   c.MinIdleConns,
	}
}

func (c DatabaseConfig) ToPostgresConfig() postgres.Config {
	return postgres.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Name:     c.Name,
		SSLMode:  c.SSLMode,
	}
}

func (c RateLimitConfig) ToLimiterConfig() ratelimit.Config {
	return ratelimit.Config{
		Limit:  c.Limit,
		Window: seconds(c.WindowSeconds),
	}
}

func (c RetryConfig) ToSchedulerConfig() retry.Config {
	return retry.Config{
		Backoff: seconds(c.BackoffSeconds),
	}
}

func (c RetryConfig) ToDrainerConfig() retry.DrainerConfig {
	return retry.DrainerConfig{
		Interval: seconds(c.DrainIntervalSeconds),
		Batch:    c.DrainBatch,
	}
}

func (c RetentionConfig) ToRegistryConfig() registry.Config {
	return registry.Config{
		BaseTTL: seconds(c.BaseTTLSeconds),
		SentTTL: seconds(c.SentTTLSeconds),
	}
}

func (c WorkersConfig) ToDispatcherConfig(maxAttempts int) worker.Config {
	return worker.Config{
		WorkersPerChannel:  c.PerChannel,
		DequeueTimeout:     seconds(c.DequeueTimeoutSeconds),
		StoreBackoff:       seconds(c.StoreBackoffSeconds),
		MaxAttempts:        maxAttempts,
		DispatchRate:       c.DispatchRate,
		DispatchBurst:      c.DispatchBurst,
		BreakerMaxFailures: c.BreakerMaxFailures,
		BreakerTimeout:     seconds(c.BreakerTimeoutSeconds),
	}
}

func (c EmailConfig) ToSenderConfig() email.Config {
	return email.Config{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		Timeout:  seconds(c.TimeoutSeconds),
	}
}

func (c SMSConfig) ToSenderConfig() sms.Config {
	return sms.Config{
		BaseURL:    c.BaseURL,
		AccountSID: c.AccountSID,
		AuthToken:  c.AuthToken,
		From:       c.From,
		Timeout:    seconds(c.TimeoutSeconds),
	}
}

func (c PushConfig) ToSenderConfig() push.Config {
	return push.Config{
		Endpoint:  c.Endpoint,
		ServerKey: c.ServerKey,
		Timeout:   seconds(c.TimeoutSeconds),
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
