/**
 * @description
 * This package handles configuration management for the approval-service. It
 * uses Viper to read configuration from environment variables (with an
 * optional .env file), providing a centralized way to manage settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the approval-service.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	LedgerAPIBaseURL     string `mapstructure:"LEDGER_API_BASE_URL"`
	LedgerAPIKey         string `mapstructure:"LEDGER_API_KEY"`
	BillPayAPIBaseURL    string `mapstructure:"BILLPAY_API_BASE_URL"`
	BillPayAPIKey        string `mapstructure:"BILLPAY_API_KEY"`
	AuthJWTSecret        string `mapstructure:"AUTH_JWT_SECRET"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	SchedulerCron        string `mapstructure:"SCHEDULER_CRON"`
	OTPTTLMinutes        int    `mapstructure:"OTP_TTL_MINUTES"`
	OTPAttemptsPerMinute int    `mapstructure:"OTP_ATTEMPTS_PER_MINUTE"`
	NotifyWorkers        int    `mapstructure:"NOTIFY_WORKERS"`
	NotifyQueueSize      int    `mapstructure:"NOTIFY_QUEUE_SIZE"`
	// RealtimeBalanceBanks is a comma-separated list of bank codes whose
	// integration exposes a real-time available balance.
	RealtimeBalanceBanks string `mapstructure:"REALTIME_BALANCE_BANKS"`
}

// RealtimeBalanceBankList splits the configured bank codes into a clean slice.
func (c Config) RealtimeBalanceBankList() []string {
	raw := strings.Split(c.RealtimeBalanceBanks, ",")
	banks := make([]string, 0, len(raw))
	for _, code := range raw {
		if trimmed := strings.TrimSpace(code); trimmed != "" {
			banks = append(banks, trimmed)
		}
	}
	return banks
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "corepay:rate_limit")
	viper.SetDefault("SCHEDULER_CRON", "*/5 * * * *")
	viper.SetDefault("OTP_TTL_MINUTES", 15)
	viper.SetDefault("OTP_ATTEMPTS_PER_MINUTE", 5)
	viper.SetDefault("NOTIFY_WORKERS", 4)
	viper.SetDefault("NOTIFY_QUEUE_SIZE", 256)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_API_BASE_URL")
	_ = viper.BindEnv("LEDGER_API_KEY")
	_ = viper.BindEnv("BILLPAY_API_BASE_URL")
	_ = viper.BindEnv("BILLPAY_API_KEY")
	_ = viper.BindEnv("AUTH_JWT_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("SCHEDULER_CRON")
	_ = viper.BindEnv("OTP_TTL_MINUTES")
	_ = viper.BindEnv("OTP_ATTEMPTS_PER_MINUTE")
	_ = viper.BindEnv("NOTIFY_WORKERS")
	_ = viper.BindEnv("NOTIFY_QUEUE_SIZE")
	_ = viper.BindEnv("REALTIME_BALANCE_BANKS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if config.OTPTTLMinutes <= 0 {
		config.OTPTTLMinutes = 15
	}
	if config.OTPAttemptsPerMinute < 0 {
		config.OTPAttemptsPerMinute = 0
	}
	if config.NotifyWorkers <= 0 {
		config.NotifyWorkers = 4
	}
	if config.NotifyQueueSize <= 0 {
		config.NotifyQueueSize = 256
	}
	if strings.TrimSpace(config.SchedulerCron) == "" {
		config.SchedulerCron = "*/5 * * * *"
	}

	return
}
