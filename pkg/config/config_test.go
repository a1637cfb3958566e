package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_PROVIDER", "")
	t.Setenv("SECRET_KEY", "")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderKeycloak, s.AuthProvider)
	assert.Equal(t, ":8888", s.Address)
	assert.Equal(t, 8*time.Hour, s.SessionMaxAge)
	assert.Equal(t, 24, s.MaxTokenLifetimeHours)
	assert.Equal(t, 8, s.DefaultTokenLifetimeHours)
	assert.Equal(t, 10, s.MaxTokensPerUserPerHour)
	assert.Equal(t, "placeholder", s.EmbeddingBackend)
	assert.Equal(t, 384, s.EmbeddingDimension)
	// A missing SECRET_KEY is replaced with a random one.
	assert.NotEmpty(t, s.SecretKey)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("AUTH_PROVIDER", "COGNITO")
	t.Setenv("SECRET_KEY", "fixed-secret")
	t.Setenv("SESSION_MAX_AGE_SECONDS", "3600")
	t.Setenv("COGNITO_USER_POOL_ID", "us-east-1_Example")
	t.Setenv("COGNITO_REGION", "us-east-1")
	t.Setenv("KEYCLOAK_URL", "https://idp.example.com")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ProviderCognito, s.AuthProvider)
	assert.Equal(t, "fixed-secret", s.SecretKey)
	assert.Equal(t, time.Hour, s.SessionMaxAge)
	assert.Equal(t, "us-east-1_Example", s.Cognito.UserPoolID)
	assert.Equal(t, "us-east-1", s.Cognito.Region)
	assert.Equal(t, "https://idp.example.com", s.Keycloak.URL)
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("AUTH_PROVIDER", "okta")

	_, err := Load()
	assert.Error(t, err)
}
