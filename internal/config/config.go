/**
 * @description
 * This package handles the configuration management for the service. It uses
 * the Viper library to read configuration from environment variables,
 * providing a centralized and straightforward way to manage application
 * settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the settlement-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string  `mapstructure:"SERVER_PORT"`
	DatabaseURL              string  `mapstructure:"DATABASE_URL"`
	RedisURL                 string  `mapstructure:"REDIS_URL"`
	RedisRateCachePrefix     string  `mapstructure:"REDIS_RATE_CACHE_PREFIX"`
	RedisRateCacheTTLSeconds int     `mapstructure:"REDIS_RATE_CACHE_TTL_SECONDS"`
	RabbitMQURL              string  `mapstructure:"RABBITMQ_URL"`
	GatewayEventQueue        string  `mapstructure:"GATEWAY_EVENT_QUEUE"`
	GatewayAPIBaseURL        string  `mapstructure:"GATEWAY_API_BASE_URL"`
	GatewayAPIKey            string  `mapstructure:"GATEWAY_API_KEY"`
	EventsServiceURL         string  `mapstructure:"EVENTS_SERVICE_URL"`
	EventsServiceAPIKey      string  `mapstructure:"EVENTS_SERVICE_INTERNAL_API_KEY"`
	JWKSURL                  string  `mapstructure:"JWKS_URL"`
	InternalAPIKey           string  `mapstructure:"INTERNAL_API_KEY"`
	DefaultCommissionPercent float64 `mapstructure:"DEFAULT_COMMISSION_PERCENT"`
	CommissionBorneBy        string  `mapstructure:"COMMISSION_BORNE_BY"`
	SupportedCurrencies      string  `mapstructure:"SUPPORTED_CURRENCIES"`
	AutoDistribute           bool    `mapstructure:"AUTO_DISTRIBUTE"`
	DistributionDelayHours   int     `mapstructure:"DISTRIBUTION_DELAY_HOURS"`
	HoldPeriodDays           int     `mapstructure:"HOLD_PERIOD_DAYS"`
}

// SupportedCurrencyList splits the comma-separated currency configuration.
func (c Config) SupportedCurrencyList() []string {
	var out []string
	for _, cur := range strings.Split(c.SupportedCurrencies, ",") {
		if cur = strings.TrimSpace(cur); cur != "" {
			out = append(out, strings.ToUpper(cur))
		}
	}
	return out
}

// Validate rejects configurations the service cannot safely run with.
func (c Config) Validate() error {
	if c.DefaultCommissionPercent < 0 || c.DefaultCommissionPercent > 50 {
		return fmt.Errorf("DEFAULT_COMMISSION_PERCENT must be within [0, 50], got %v", c.DefaultCommissionPercent)
	}
	if c.CommissionBorneBy != "customer" && c.CommissionBorneBy != "provider" {
		return fmt.Errorf("COMMISSION_BORNE_BY must be 'customer' or 'provider', got %q", c.CommissionBorneBy)
	}
	return nil
}

// LoadConfig reads configuration from environment variables from the given
// path. It uses Viper to automatically bind environment variables to the
// Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_CACHE_PREFIX", "wedloop:rates")
	viper.SetDefault("REDIS_RATE_CACHE_TTL_SECONDS", 300)
	viper.SetDefault("GATEWAY_EVENT_QUEUE", "settlement_service.gateway_updates")
	viper.SetDefault("DEFAULT_COMMISSION_PERCENT", 8.5)
	viper.SetDefault("COMMISSION_BORNE_BY", "customer")
	viper.SetDefault("SUPPORTED_CURRENCIES", "USD,EUR,ARS,MXN")
	viper.SetDefault("AUTO_DISTRIBUTE", false)
	viper.SetDefault("DISTRIBUTION_DELAY_HOURS", 24)
	viper.SetDefault("HOLD_PERIOD_DAYS", 7)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_CACHE_PREFIX")
	_ = viper.BindEnv("REDIS_RATE_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("GATEWAY_EVENT_QUEUE")
	_ = viper.BindEnv("GATEWAY_API_BASE_URL")
	_ = viper.BindEnv("GATEWAY_API_KEY")
	_ = viper.BindEnv("EVENTS_SERVICE_URL")
	_ = viper.BindEnv("EVENTS_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "SETTLEMENT_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("DEFAULT_COMMISSION_PERCENT")
	_ = viper.BindEnv("COMMISSION_BORNE_BY")
	_ = viper.BindEnv("SUPPORTED_CURRENCIES")
	_ = viper.BindEnv("AUTO_DISTRIBUTE")
	_ = viper.BindEnv("DISTRIBUTION_DELAY_HOURS")
	_ = viper.BindEnv("HOLD_PERIOD_DAYS")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	if err = viper.Unmarshal(&config); err != nil {
		return config, err
	}

	return config, config.Validate()
}
