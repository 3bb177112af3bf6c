package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 50000.0, cfg.Pricing.FreeShippingThreshold)
	assert.Equal(t, 5000.0, cfg.Pricing.FlatShippingFee)
	assert.Equal(t, 0.19, cfg.Pricing.TaxRate)
	assert.Equal(t, 3, cfg.Pricing.DeliveryEstimateDays)
	assert.Equal(t, "cop", cfg.Payment.Currency)
	assert.Equal(t, int64(100), cfg.Payment.MinorUnitFactor)
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PRICING_TAX_RATE", "0.08")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("PAYMENT_CURRENCY", "USD")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.08, cfg.Pricing.TaxRate)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
	assert.Equal(t, "usd", cfg.Payment.Currency)
}

func TestValidateRejectsDefaultSecretInProduction(t *testing.T) {
	cfg := &Config{
		Environment: "production",
		JWT:         JWTConfig{SecretKey: defaultJWTSecret},
		Database:    DatabaseConfig{Password: "secret"},
		Payment:     PaymentConfig{MinorUnitFactor: 100},
		Realtime:    RealtimeConfig{SendBufferSize: 8},
	}

	assert.Error(t, cfg.Validate())

	cfg.JWT.SecretKey = "a-real-secret"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsNegativePricing(t *testing.T) {
	cfg := &Config{
		Environment: "development",
		Pricing:     PricingConfig{TaxRate: -0.1},
		Payment:     PaymentConfig{MinorUnitFactor: 100},
		Realtime:    RealtimeConfig{SendBufferSize: 8},
	}

	assert.Error(t, cfg.Validate())
}
