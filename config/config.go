package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// ECPay publishes these staging credentials for integration testing
const (
	ecpayStageMerchantID = "2000132"
	ecpayStageHashKey    = "5294y06JbISpM5x9"
	ecpayStageHashIV     = "v77hoKGq4kWxNNIS"
	ecpayStagePaymentURL = "https://payment-stage.ecpay.com.tw/Cashier/AioCheckOut/V5"
)

// Config holds all application configuration
type Config struct {
	DatabaseURL        string
	Port               string
	GoEnv              string
	LogLevel           string
	Auth0Domain        string
	Auth0Audience      string
	AWSRegion          string
	AWSS3Bucket        string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	CORSAllowedOrigins []string

	// Payment gateway (ECPay AIO checkout)
	EcpayMerchantID    string
	EcpayHashKey       string
	EcpayHashIV        string
	EcpayPaymentURL    string
	EcpayReturnURL     string // server-to-server callback
	EcpayClientBackURL string // where the donor's browser lands afterwards

	OrderNumberPrefix      string
	OrderNumberMaxAttempts int
	Timezone               string
}

var appConfig *Config

// Load loads the configuration from environment variables
// It automatically determines which .env file to load based on GO_ENV
func Load() (*Config, error) {
	env := os.Getenv("GO_ENV")
	if env == "" {
		env = "development"
	}

	// Try to load environment-specific file first
	envFile := fmt.Sprintf(".env.%s", env)
	if err := godotenv.Load(envFile); err != nil {
		if err := godotenv.Load(); err != nil {
			// In production environment variables are set directly
			log.Printf("No .env file found, using system environment variables")
		}
	} else {
		log.Printf("Loaded configuration from %s", envFile)
	}

	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		Port:               getEnv("PORT", "8080"),
		GoEnv:              getEnv("GO_ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Auth0Domain:        getEnv("AUTH0_DOMAIN", ""),
		Auth0Audience:      getEnv("AUTH0_AUDIENCE", ""),
		AWSRegion:          getEnv("AWS_REGION", "ap-northeast-1"),
		AWSS3Bucket:        getEnv("AWS_S3_BUCKET", ""),
		AWSAccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),

		EcpayMerchantID:    getEnv("ECPAY_MERCHANT_ID", ""),
		EcpayHashKey:       getEnv("ECPAY_HASH_KEY", ""),
		EcpayHashIV:        getEnv("ECPAY_HASH_IV", ""),
		EcpayPaymentURL:    getEnv("ECPAY_PAYMENT_URL", ""),
		EcpayReturnURL:     getEnv("ECPAY_RETURN_URL", ""),
		EcpayClientBackURL: getEnv("ECPAY_CLIENT_BACK_URL", ""),

		OrderNumberPrefix:      getEnv("ORDER_NUMBER_PREFIX", "NGO"),
		OrderNumberMaxAttempts: getEnvInt("ORDER_NUMBER_MAX_ATTEMPTS", 5),
		Timezone:               getEnv("TIMEZONE", "Asia/Taipei"),
	}

	// Staging credentials keep local checkouts working without secrets
	if !cfg.IsProduction() {
		if cfg.EcpayMerchantID == "" {
			cfg.EcpayMerchantID = ecpayStageMerchantID
		}
		if cfg.EcpayHashKey == "" {
			cfg.EcpayHashKey = ecpayStageHashKey
		}
		if cfg.EcpayHashIV == "" {
			cfg.EcpayHashIV = ecpayStageHashIV
		}
		if cfg.EcpayPaymentURL == "" {
			cfg.EcpayPaymentURL = ecpayStagePaymentURL
		}
		if cfg.EcpayReturnURL == "" {
			cfg.EcpayReturnURL = "http://localhost:8080/api/v1/payments/ecpay/callback"
		}
		if cfg.EcpayClientBackURL == "" {
			cfg.EcpayClientBackURL = "http://localhost:3000/donate/complete"
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	appConfig = cfg
	return cfg, nil
}

// Validate checks that all required configuration values are set
func (c *Config) Validate() error {
	if c.DatabaseURL == "" && !c.IsTest() {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.IsProduction() {
		if c.EcpayMerchantID == "" || c.EcpayHashKey == "" || c.EcpayHashIV == "" {
			return fmt.Errorf("ECPAY_MERCHANT_ID, ECPAY_HASH_KEY and ECPAY_HASH_IV are required in production")
		}
		if c.EcpayPaymentURL == "" || c.EcpayReturnURL == "" {
			return fmt.Errorf("ECPAY_PAYMENT_URL and ECPAY_RETURN_URL are required in production")
		}
	}
	if c.OrderNumberPrefix == "" {
		return fmt.Errorf("ORDER_NUMBER_PREFIX must not be empty")
	}
	if c.OrderNumberMaxAttempts < 1 {
		return fmt.Errorf("ORDER_NUMBER_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

// IsProduction returns true if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.GoEnv == "production"
}

// IsTest returns true if the application is running in test mode
func (c *Config) IsTest() bool {
	return c.GoEnv == "test"
}

// IsDevelopment returns true if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.GoEnv == "development"
}

// GetConfig returns the most recently loaded configuration
func GetConfig() *Config {
	return appConfig
}

// SetConfig replaces the active configuration (primarily for testing)
func SetConfig(cfg *Config) {
	appConfig = cfg
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("invalid %s value %q, defaulting to %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
