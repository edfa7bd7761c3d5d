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
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the capacity service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	LedgerAPIBaseURL     string `mapstructure:"LEDGER_API_BASE_URL"`
	LedgerAPIKey         string `mapstructure:"LEDGER_API_KEY"`
	JWTSecret            string `mapstructure:"JWT_SECRET"`
	JWTAudience          string `mapstructure:"JWT_AUDIENCE"`
	JWTIssuer            string `mapstructure:"JWT_ISSUER"`
	InternalAPIKey       string `mapstructure:"INTERNAL_API_KEY"`
	CustodyAccountID     string `mapstructure:"CUSTODY_ACCOUNT_ID"`

	// Auction parameters. The duration is the bidding window in seconds,
	// counted from the first bid; the minimal bid is the opening floor.
	AuctionDurationSeconds int64  `mapstructure:"AUCTION_DURATION_SECONDS"`
	MinimalBid             uint64 `mapstructure:"MINIMAL_BID"`
	AuctionSweepSchedule   string `mapstructure:"AUCTION_SWEEP_SCHEDULE"`

	// Quota parameters. ReferenceCallWeight is the weight of one standard
	// call; DailyRateUTPS is the accrual rate of daily subscriptions.
	ReferenceCallWeight uint64 `mapstructure:"REFERENCE_CALL_WEIGHT"`
	DailyRateUTPS       uint32 `mapstructure:"DAILY_RATE_UTPS"`

	// Asset-to-throughput conversion ratio for lock-backed subscriptions,
	// in uTPS per asset unit.
	AssetToTPSNum uint64 `mapstructure:"ASSET_TO_TPS_NUM"`
	AssetToTPSDen uint64 `mapstructure:"ASSET_TO_TPS_DEN"`

	BidRateLimitPerMinute int `mapstructure:"BID_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
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
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "capacity:rate_limit")
	viper.SetDefault("AUCTION_DURATION_SECONDS", 86400)
	viper.SetDefault("MINIMAL_BID", 100)
	viper.SetDefault("AUCTION_SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("REFERENCE_CALL_WEIGHT", 70_952_000)
	viper.SetDefault("DAILY_RATE_UTPS", 10_000)
	viper.SetDefault("ASSET_TO_TPS_NUM", 100)
	viper.SetDefault("ASSET_TO_TPS_DEN", 1)
	viper.SetDefault("BID_RATE_LIMIT_PER_MINUTE", 30)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "CAPACITY_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_API_BASE_URL")
	_ = viper.BindEnv("LEDGER_API_KEY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_AUDIENCE")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "CAPACITY_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("CUSTODY_ACCOUNT_ID")
	_ = viper.BindEnv("AUCTION_DURATION_SECONDS")
	_ = viper.BindEnv("MINIMAL_BID")
	_ = viper.BindEnv("AUCTION_SWEEP_SCHEDULE")
	_ = viper.BindEnv("REFERENCE_CALL_WEIGHT")
	_ = viper.BindEnv("DAILY_RATE_UTPS")
	_ = viper.BindEnv("ASSET_TO_TPS_NUM")
	_ = viper.BindEnv("ASSET_TO_TPS_DEN")
	_ = viper.BindEnv("BID_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("CAPACITY_SERVICE_INTERNAL_API_KEY"))
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "capacity:rate_limit"
	}

	// Guard the quota math against nonsense values coming from the
	// environment: a zero denominator or duration would wedge the service.
	if config.AssetToTPSDen == 0 {
		config.AssetToTPSDen = 1
	}
	if config.AuctionDurationSeconds <= 0 {
		config.AuctionDurationSeconds = 86400
	}
	if config.AuctionSweepSchedule == "" {
		config.AuctionSweepSchedule = "@every 1m"
	}

	return
}
