package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMasterKey = strings.Repeat("ab", 32)

func env(values map[string]string) func(string) string {
	return func(key string) string { return values[key] }
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{"ATTESTOR_MASTER_KEY": testMasterKey}))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 5*time.Second, cfg.RequestDeadline)
	assert.Equal(t, "EdDSA", cfg.SigningAlg)
	assert.Equal(t, "NO", cfg.DefaultOutcome)
	assert.Equal(t, 16, cfg.MaxDepth)
	assert.True(t, cfg.QREnabled)
	assert.Len(t, cfg.MasterKey, 32)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2.0, cfg.Breaker.BackoffFactor)
	assert.Empty(t, cfg.Jurisdictions)
	assert.Equal(t, "attestor.audit", cfg.AuditTopic)
	assert.Contains(t, cfg.SecurityQuestions, "mothers_maiden_name")
	assert.Len(t, cfg.SecurityQuestions, 7)
}

func TestLoadOverrides(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"ATTESTOR_MASTER_KEY":       testMasterKey,
		"ATTESTOR_JURISDICTIONS":    "gb, us ,,de",
		"ATTESTOR_SIGNING_ALG":      "ml-dsa-65",
		"ATTESTOR_DEFAULT_OUTCOME":  "yes",
		"ATTESTOR_REQUEST_DEADLINE": "750ms",
		"ATTESTOR_KAFKA_BROKERS":    "a:9092,b:9092",
		"ATTESTOR_QR_ENABLED":       "false",
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"GB", "US", "DE"}, cfg.Jurisdictions)
	assert.Equal(t, "ML-DSA-65", cfg.SigningAlg)
	assert.Equal(t, "YES", cfg.DefaultOutcome)
	assert.Equal(t, 750*time.Millisecond, cfg.RequestDeadline)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.QREnabled)
}

func TestLoadSecurityQuestions(t *testing.T) {
	tests := []struct {
		value string
		want  []string
	}{
		{"pet_name, birth_town,pet_name", []string{"pet_name", "birth_town"}},
		{"None", nil},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			cfg, err := LoadFrom(env(map[string]string{
				"ATTESTOR_MASTER_KEY":         testMasterKey,
				"ATTESTOR_SECURITY_QUESTIONS": tt.value,
			}))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cfg.SecurityQuestions)
		})
	}
}

func TestLoadCollectsEveryProblem(t *testing.T) {
	_, err := LoadFrom(env(map[string]string{
		"ATTESTOR_MASTER_KEY":           "abcd",
		"ATTESTOR_REQUEST_DEADLINE":     "-1s",
		"ATTESTOR_SIGNING_ALG":          "RS256",
		"ATTESTOR_BREAKER_THRESHOLD":    "zero",
		"ATTESTOR_BREAKER_COOLDOWN":     "10m",
		"ATTESTOR_BREAKER_MAX_COOLDOWN": "1m",
	}))
	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{
		"ATTESTOR_MASTER_KEY",
		"ATTESTOR_REQUEST_DEADLINE",
		"ATTESTOR_SIGNING_ALG",
		"ATTESTOR_BREAKER_THRESHOLD",
		"ATTESTOR_BREAKER_MAX_COOLDOWN",
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadRequiresMasterKey(t *testing.T) {
	_, err := LoadFrom(env(nil))
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "ATTESTOR_MASTER_KEY is required")
}
