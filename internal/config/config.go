// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Pricing     PricingConfig
	Realtime    RealtimeConfig
	Kafka       KafkaConfig
	RateLimit   RateLimitConfig
	Log         LogConfig
	I18n        I18nConfig
	CORS        CORSConfig
	Admin       AdminConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     int
	WriteTimeout    int
	IdleTimeout     int
	ShutdownTimeout int
	PublicURL       string
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	CloudFrontURL   string
}

type PaymentConfig struct {
	StripeSecretKey      string
	StripePublishableKey string
	Currency             string
	// MinorUnitFactor converts an amount into the gateway's smallest unit.
	MinorUnitFactor int64
	GatewayTimeout  time.Duration
}

// PricingConfig drives shipping and tax on every order quote.
type PricingConfig struct {
	FreeShippingThreshold float64
	FlatShippingFee       float64
	TaxRate               float64
	DeliveryEstimateDays  int
}

type RealtimeConfig struct {
	AllowedOrigins  []string
	SendBufferSize  int
	MaxMessageBytes int64
	PongWait        time.Duration
	WriteWait       time.Duration
	HistoryPageSize int
}

type KafkaConfig struct {
	Brokers  []string
	Topic    string
	ClientID string
}

func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

type RateLimitConfig struct {
	GeneralPerSecond float64
	GeneralBurst     int
	AuthPerMinute    int
	UploadPerMinute  int
}

type LogConfig struct {
	Level  string
	Format string
}

type I18nConfig struct {
	DefaultLocale string
}

type CORSConfig struct {
	AllowedOrigins []string
}

// AdminConfig seeds the first admin account when both fields are set.
type AdminConfig struct {
	Email    string
	Password string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "localhost"),
			ReadTimeout:     getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:    getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:     getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			ShutdownTimeout: getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT", 30),
			PublicURL:       getEnv("SERVER_PUBLIC_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "emprendedores"),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:     getEnv("DB_LOG_LEVEL", "warn"),
		},
		JWT: JWTConfig{
			SecretKey:      getEnv("JWT_SECRET", defaultJWTSecret),
			AccessTokenTTL: getEnvAsInt("JWT_ACCESS_TTL", 168), // 7 days
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", "emprendedores-media"),
			CloudFrontURL:   getEnv("AWS_CLOUDFRONT_URL", ""),
		},
		Payment: PaymentConfig{
			StripeSecretKey:      getEnv("STRIPE_SECRET_KEY", ""),
			StripePublishableKey: getEnv("STRIPE_PUBLISHABLE_KEY", ""),
			Currency:             strings.ToLower(getEnv("PAYMENT_CURRENCY", "cop")),
			MinorUnitFactor:      int64(getEnvAsInt("PAYMENT_MINOR_UNIT_FACTOR", 100)),
			GatewayTimeout:       time.Duration(getEnvAsInt("PAYMENT_GATEWAY_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Pricing: PricingConfig{
			FreeShippingThreshold: getEnvAsFloat("PRICING_FREE_SHIPPING_THRESHOLD", 50000),
			FlatShippingFee:       getEnvAsFloat("PRICING_FLAT_SHIPPING_FEE", 5000),
			TaxRate:               getEnvAsFloat("PRICING_TAX_RATE", 0.19),
			DeliveryEstimateDays:  getEnvAsInt("PRICING_DELIVERY_ESTIMATE_DAYS", 3),
		},
		Realtime: RealtimeConfig{
			AllowedOrigins:  getEnvAsSlice("WS_ALLOWED_ORIGINS", nil),
			SendBufferSize:  getEnvAsInt("WS_SEND_BUFFER", 64),
			MaxMessageBytes: int64(getEnvAsInt("WS_MAX_MESSAGE_BYTES", 8192)),
			PongWait:        time.Duration(getEnvAsInt("WS_PONG_WAIT_SECONDS", 60)) * time.Second,
			WriteWait:       time.Duration(getEnvAsInt("WS_WRITE_WAIT_SECONDS", 10)) * time.Second,
			HistoryPageSize: getEnvAsInt("WS_HISTORY_PAGE_SIZE", 50),
		},
		Kafka: KafkaConfig{
			Brokers:  getEnvAsSlice("KAFKA_BROKERS", nil),
			Topic:    getEnv("KAFKA_ORDER_TOPIC", "marketplace.order.events"),
			ClientID: getEnv("KAFKA_CLIENT_ID", "marketplace-api"),
		},
		RateLimit: RateLimitConfig{
			GeneralPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10),
			GeneralBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
			AuthPerMinute:    getEnvAsInt("RATE_LIMIT_AUTH_PER_MINUTE", 5),
			UploadPerMinute:  getEnvAsInt("RATE_LIMIT_UPLOAD_PER_MINUTE", 10),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", ""),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "es"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Admin: AdminConfig{
			Email:    getEnv("ADMIN_EMAIL", ""),
			Password: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == defaultJWTSecret && c.IsProduction() {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.IsProduction() {
		return fmt.Errorf("database password is required in production")
	}

	if c.Pricing.TaxRate < 0 || c.Pricing.FlatShippingFee < 0 || c.Pricing.FreeShippingThreshold < 0 {
		return fmt.Errorf("pricing values must not be negative")
	}

	if c.Payment.MinorUnitFactor <= 0 {
		return fmt.Errorf("payment minor unit factor must be positive")
	}

	if c.Realtime.SendBufferSize <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
