package server

import (
	"fmt"
	"strings"
)

const (
	defaultListenAddr    = ":8080"
	defaultDatabaseURL   = "sqlite://thanglish.db"
	defaultAllowedOrigin = "http://localhost:5173"
	defaultSessionIssuer = "thanglish"
	defaultSessionCookie = "thanglish_session"
	defaultCurrency      = "INR"
)

// Config aggregates runtime settings for the API server.
type Config struct {
	ListenAddr     string
	DatabaseURL    string
	StaticDir      string
	AllowedOrigins []string

	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	SecureCookies     bool

	GoogleClientID string

	GatewayKeyID     string
	GatewayKeySecret string
	GatewayBaseURL   string

	GenerativeAPIKey   string
	GenerativeEndpoint string
	GenerativeModel    string

	PerMinuteRateCents int64

	DevLoginEnabled bool
	DevLoginOrigins []string
}

// Validate ensures the configuration contains sane values. Missing required
// secrets are fatal.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.DatabaseURL = defaultIfEmpty(cfg.DatabaseURL, defaultDatabaseURL)
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("session signing key is required")
	}
	if strings.TrimSpace(cfg.GoogleClientID) == "" {
		return fmt.Errorf("google client id is required")
	}
	if strings.TrimSpace(cfg.GatewayKeyID) == "" {
		return fmt.Errorf("gateway key id is required")
	}
	if strings.TrimSpace(cfg.GatewayKeySecret) == "" {
		return fmt.Errorf("gateway key secret is required")
	}
	if strings.TrimSpace(cfg.GenerativeAPIKey) == "" {
		return fmt.Errorf("generative api key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseOrigins splits comma-delimited origins into a slice.
func ParseOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
