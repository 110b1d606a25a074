// Package config loads envsync configuration from the environment and
// parses desired-state files.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/almops/envsync/internal/validation"
)

// Config holds all application configuration.
type Config struct {
	// EnvironmentURL is the target Dataverse environment,
	// e.g. https://org.crm4.dynamics.com
	EnvironmentURL string

	// App registration used for the client credentials grant.
	TenantID     string
	ClientID     string
	ClientSecret string

	// RequestTimeout bounds each remote call.
	RequestTimeout time.Duration
}

// Load loads configuration from environment variables.
// The client secret can come from ENVSYNC_CLIENT_SECRET or, preferably, a
// file referenced by ENVSYNC_CLIENT_SECRET_FILE.
func Load() (*Config, error) {
	secret := os.Getenv("ENVSYNC_CLIENT_SECRET")
	if secretFile := os.Getenv("ENVSYNC_CLIENT_SECRET_FILE"); secretFile != "" {
		data, err := os.ReadFile(secretFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", secretFile, err)
		}
		secret = strings.TrimSpace(string(data))
	}

	timeout, err := parseTimeout(getEnv("ENVSYNC_REQUEST_TIMEOUT", "30s"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		EnvironmentURL: strings.TrimRight(os.Getenv("ENVSYNC_URL"), "/"),
		TenantID:       os.Getenv("ENVSYNC_TENANT_ID"),
		ClientID:       os.Getenv("ENVSYNC_CLIENT_ID"),
		ClientSecret:   secret,
		RequestTimeout: timeout,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and well formed.
// The tenant can be a GUID or a domain, so it is only checked for presence;
// the client ID is always an app registration GUID.
func (cfg *Config) Validate() error {
	if err := validation.HTTPSURL("ENVSYNC_URL", cfg.EnvironmentURL); err != nil {
		return err
	}
	if err := validation.RequiredString("ENVSYNC_TENANT_ID", cfg.TenantID); err != nil {
		return err
	}
	if err := validation.UUID("ENVSYNC_CLIENT_ID", cfg.ClientID); err != nil {
		return err
	}
	if err := validation.RequiredString("ENVSYNC_CLIENT_SECRET", cfg.ClientSecret); err != nil {
		return err
	}
	return nil
}

// parseTimeout parses a duration and rejects nonsensical values.
func parseTimeout(value string) (time.Duration, error) {
	timeout, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid ENVSYNC_REQUEST_TIMEOUT %q: %w", value, err)
	}
	if timeout <= 0 {
		return 0, fmt.Errorf("ENVSYNC_REQUEST_TIMEOUT must be positive, got %s", timeout)
	}
	return timeout, nil
}

// getEnv retrieves an environment variable with a fallback default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
