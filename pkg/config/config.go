// Package config loads process configuration from the environment using
// viper. All recognized options are documented on the Settings struct.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gatewaymesh/mcpgate/pkg/logger"
)

// Provider names accepted for AUTH_PROVIDER.
const (
	ProviderCognito  = "cognito"
	ProviderKeycloak = "keycloak"
)

// CognitoSettings holds Cognito-specific endpoints and credentials.
type CognitoSettings struct {
	UserPoolID   string
	ClientID     string
	ClientSecret string
	Region       string
	Domain       string
}

// KeycloakSettings holds Keycloak-specific endpoints and credentials.
type KeycloakSettings struct {
	URL          string
	AdminURL     string
	Realm        string
	ClientID     string
	ClientSecret string
	M2MClientID  string
	M2MSecret    string
}

// Settings is the full configuration for the auth server and the refresher.
type Settings struct {
	// AuthProvider selects the identity provider adapter: cognito or keycloak.
	AuthProvider string

	// SecretKey signs session cookies and self-signed JWTs. When unset a
	// process-local random key is generated and tokens do not survive restart.
	SecretKey string

	// SessionMaxAge bounds session cookie validity.
	SessionMaxAge time.Duration

	// SessionCookieSecure toggles the Secure attribute on session cookies.
	SessionCookieSecure bool

	// Address is the listen address of the auth server.
	Address string

	// ScopePolicyPath points at the scope policy YAML document.
	ScopePolicyPath string

	// TokenVaultDir is the directory holding stored token records.
	TokenVaultDir string

	// Issuer policy.
	MaxTokenLifetimeHours     int
	DefaultTokenLifetimeHours int
	MaxTokensPerUserPerHour   int

	// Optional out-of-band metrics sink; empty URL disables emission.
	MetricsServiceURL string
	MetricsAPIKey     string

	// Tool index files and embedding backend.
	ToolIndexPath     string
	ToolMetadataPath  string
	EmbeddingBackend  string
	EmbeddingBaseURL  string
	EmbeddingModel    string
	EmbeddingDimension int

	Cognito  CognitoSettings
	Keycloak KeycloakSettings
}

// Load reads settings from the environment. It never fails on absent
// optional values; a missing SECRET_KEY is replaced with a random one.
func Load() (*Settings, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("AUTH_PROVIDER", ProviderKeycloak)
	v.SetDefault("ADDRESS", ":8888")
	v.SetDefault("SESSION_MAX_AGE_SECONDS", 28800)
	v.SetDefault("SESSION_COOKIE_SECURE", false)
	v.SetDefault("SCOPE_POLICY_PATH", "scopes.yml")
	v.SetDefault("TOKEN_VAULT_DIR", ".oauth-tokens")
	v.SetDefault("MAX_TOKEN_LIFETIME_HOURS", 24)
	v.SetDefault("DEFAULT_TOKEN_LIFETIME_HOURS", 8)
	v.SetDefault("MAX_TOKENS_PER_USER_PER_HOUR", 10)
	v.SetDefault("TOOL_INDEX_PATH", "tool_index.bin")
	v.SetDefault("TOOL_METADATA_PATH", "tool_metadata.json")
	v.SetDefault("EMBEDDING_BACKEND", "placeholder")
	v.SetDefault("EMBEDDING_DIMENSION", 384)

	s := &Settings{
		AuthProvider:              strings.ToLower(v.GetString("AUTH_PROVIDER")),
		SecretKey:                 v.GetString("SECRET_KEY"),
		SessionMaxAge:             time.Duration(v.GetInt("SESSION_MAX_AGE_SECONDS")) * time.Second,
		SessionCookieSecure:       v.GetBool("SESSION_COOKIE_SECURE"),
		Address:                   v.GetString("ADDRESS"),
		ScopePolicyPath:           v.GetString("SCOPE_POLICY_PATH"),
		TokenVaultDir:             v.GetString("TOKEN_VAULT_DIR"),
		MaxTokenLifetimeHours:     v.GetInt("MAX_TOKEN_LIFETIME_HOURS"),
		DefaultTokenLifetimeHours: v.GetInt("DEFAULT_TOKEN_LIFETIME_HOURS"),
		MaxTokensPerUserPerHour:   v.GetInt("MAX_TOKENS_PER_USER_PER_HOUR"),
		MetricsServiceURL:         v.GetString("METRICS_SERVICE_URL"),
		MetricsAPIKey:             v.GetString("METRICS_API_KEY"),
		ToolIndexPath:             v.GetString("TOOL_INDEX_PATH"),
		ToolMetadataPath:          v.GetString("TOOL_METADATA_PATH"),
		EmbeddingBackend:          v.GetString("EMBEDDING_BACKEND"),
		EmbeddingBaseURL:          v.GetString("EMBEDDING_BASE_URL"),
		EmbeddingModel:            v.GetString("EMBEDDING_MODEL"),
		EmbeddingDimension:        v.GetInt("EMBEDDING_DIMENSION"),
		Cognito: CognitoSettings{
			UserPoolID:   v.GetString("COGNITO_USER_POOL_ID"),
			ClientID:     v.GetString("COGNITO_CLIENT_ID"),
			ClientSecret: v.GetString("COGNITO_CLIENT_SECRET"),
			Region:       v.GetString("COGNITO_REGION"),
			Domain:       v.GetString("COGNITO_DOMAIN"),
		},
		Keycloak: KeycloakSettings{
			URL:          v.GetString("KEYCLOAK_URL"),
			AdminURL:     v.GetString("KEYCLOAK_ADMIN_URL"),
			Realm:        v.GetString("KEYCLOAK_REALM"),
			ClientID:     v.GetString("KEYCLOAK_CLIENT_ID"),
			ClientSecret: v.GetString("KEYCLOAK_CLIENT_SECRET"),
			M2MClientID:  v.GetString("KEYCLOAK_M2M_CLIENT_ID"),
			M2MSecret:    v.GetString("KEYCLOAK_M2M_CLIENT_SECRET"),
		},
	}

	if s.AuthProvider != ProviderCognito && s.AuthProvider != ProviderKeycloak {
		return nil, fmt.Errorf("unsupported AUTH_PROVIDER: %s", s.AuthProvider)
	}

	if s.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate session secret: %w", err)
		}
		s.SecretKey = hex.EncodeToString(key)
		logger.Warn("SECRET_KEY not set; generated a process-local key, sessions and self-signed tokens will not survive restart")
	}

	return s, nil
}
