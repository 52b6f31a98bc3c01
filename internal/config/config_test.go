package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "shop_backend.db", cfg.DBPath)
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "payment-events", cfg.KafkaTopic)
	assert.Equal(t, "shop:payment:callbacks", cfg.CallbackStream)
	assert.Equal(t, 20, cfg.PlaceRateLimit)
	assert.Equal(t, time.Second, cfg.PlaceRateWindow)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 15*time.Minute, cfg.IntentTTL)
	assert.Equal(t, 5, cfg.CallbackMaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.CallbackBackoff)
	assert.Equal(t, "174379", cfg.MpesaShortCode)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("PLACE_RATE_LIMIT", "5")
	t.Setenv("INTENT_TTL_MIN", "30")
	t.Setenv("CALLBACK_BACKOFF_MS", "200")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 5, cfg.PlaceRateLimit)
	assert.Equal(t, 30*time.Minute, cfg.IntentTTL)
	assert.Equal(t, 200*time.Millisecond, cfg.CallbackBackoff)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"REDIS_DB":              "not-a-number",
		"PLACE_RATE_LIMIT":      "0",
		"PLACE_RATE_WINDOW_SEC": "-1",
		"CACHE_TTL_MIN":         "0",
		"INTENT_TTL_MIN":        "abc",
		"CALLBACK_MAX_ATTEMPTS": "0",
		"CALLBACK_BACKOFF_MS":   "-5",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitCSV("a, b,"))
	assert.Empty(t, splitCSV(" , "))
}
