package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                "8375",
		Env:                 "development",
		JWTSecret:           "secure-secret-at-least-32-chars-long",
		DBDriver:            "postgres",
		DBPassword:          "secure-password",
		PolicyFile:          "policies.yml",
		RoleEffectTransport: "redis",
		AppealCooldown:      72 * time.Hour,
	}
}

func TestConfig_ValidateSSLMode(t *testing.T) {
	tests := []struct {
		name        string
		env         string
		sslMode     string
		expectError bool
	}{
		{"Production with empty SSL mode", "production", "", true},
		{"Production with disable SSL mode", "production", "disable", true},
		{"Production with require SSL mode", "production", "require", false},
		{"Prod with empty SSL mode", "prod", "", true},
		{"Prod with verify-full SSL mode", "prod", "verify-full", false},
		{"Development with disable SSL mode", "development", "disable", false},
		{"Test with empty SSL mode", "test", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			c.Env = tt.env
			c.DBSSLMode = tt.sslMode

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"missing port", func(c *Config) { c.Port = "" }, "PORT"},
		{"missing policy file", func(c *Config) { c.PolicyFile = "" }, "POLICY_FILE"},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, "DB_DRIVER"},
		{"unknown transport", func(c *Config) { c.RoleEffectTransport = "smtp" }, "ROLE_EFFECT_TRANSPORT"},
		{"kafka without brokers", func(c *Config) { c.RoleEffectTransport = "kafka"; c.KafkaRoleTopic = "t" }, "KAFKA_BROKERS"},
		{"negative cooldown", func(c *Config) { c.AppealCooldown = -time.Second }, "APPEAL_COOLDOWN"},
		{"default secret in production", func(c *Config) {
			c.Env = "production"
			c.DBSSLMode = "require"
			c.JWTSecret = defaultJWTSecret
		}, "JWT_SECRET"},
		{"sqlite in production", func(c *Config) {
			c.Env = "production"
			c.DBSSLMode = "require"
			c.DBDriver = "sqlite"
		}, "sqlite"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}

	t.Run("kafka with brokers", func(t *testing.T) {
		c := validConfig()
		c.RoleEffectTransport = "kafka"
		c.KafkaBrokers = "k1:9092, k2:9092,"
		c.KafkaRoleTopic = "staffdesk.role-effects"
		require.NoError(t, c.Validate())
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Brokers())
	})
}

func TestLoadConfig_Normalization(t *testing.T) {
	defer viper.Reset()

	t.Setenv("APP_ENV", "development")
	t.Setenv("DB_SSLMODE", "  DISABLE  ")
	t.Setenv("DB_DRIVER", " SQLite ")
	t.Setenv("APPEAL_COOLDOWN", "24h")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, 24*time.Hour, c.AppealCooldown)
	assert.Equal(t, 2*time.Minute, c.HistoryCacheTTL)
}
