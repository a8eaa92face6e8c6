package config

import (
	"fmt"
	"os"

	"github.com/google/uuid"
)

// GetAPIToken returns the bearer token protecting the local HTTP API,
// generating and persisting one in the platform secret store on first use.
// NORMA_API_TOKEN overrides the stored token (useful for scripting and tests).
func GetAPIToken() (string, error) {
	if v := os.Getenv("NORMA_API_TOKEN"); v != "" {
		return v, nil
	}

	if token, err := keychainGet(serviceName, "api_token"); err == nil && token != "" {
		return token, nil
	}

	token := uuid.NewString()
	if err := keychainSet(serviceName, "api_token", token); err != nil {
		return "", fmt.Errorf("storing API token: %w", err)
	}
	return token, nil
}
