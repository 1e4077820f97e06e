package config

import "time"

// AuthConfig configures authentication for the run-control API.
type AuthConfig struct {
	JWTSecret   string         `yaml:"jwt_secret"`
	TokenExpiry time.Duration  `yaml:"token_expiry"`
	APIKeys     []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig is a pre-shared key granting an owner access to the
// run-control API.
type APIKeyConfig struct {
	Key     string `yaml:"key"`
	OwnerID string `yaml:"owner_id"`
	Name    string `yaml:"name"`
}
