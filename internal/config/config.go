package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config aggregates every setting the service needs.
type Config struct {
	Server    ServerConfig
	Messenger MessengerConfig
	Wit       WitConfig
	Session   SessionConfig
}

// Load reads configuration from environment variables. Missing required
// secrets are an error: the process must not serve a single request without
// them.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	msgr, err := loadMessengerConfig()
	if err != nil {
		return nil, err
	}

	wit, err := loadWitConfig()
	if err != nil {
		return nil, err
	}

	sess, err := loadSessionConfig()
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Messenger: msgr, Wit: wit, Session: sess}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8445"
	}

	if strings.Contains(port, ":") {
		// Allow passing ":8445" or "127.0.0.1:8445" directly.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// MessengerConfig holds Messenger platform credentials.
type MessengerConfig struct {
	PageToken   string
	AppSecret   string
	VerifyToken string
	APIBaseURL  string
}

func loadMessengerConfig() (MessengerConfig, error) {
	pageToken, err := requireEnv("FB_PAGE_TOKEN")
	if err != nil {
		return MessengerConfig{}, err
	}

	appSecret, err := requireEnv("FB_APP_SECRET")
	if err != nil {
		return MessengerConfig{}, err
	}

	verifyToken, err := requireEnv("FB_VERIFY_TOKEN")
	if err != nil {
		return MessengerConfig{}, err
	}

	return MessengerConfig{
		PageToken:   pageToken,
		AppSecret:   appSecret,
		VerifyToken: verifyToken,
		APIBaseURL:  strings.TrimSpace(os.Getenv("FB_API_URL")),
	}, nil
}

// WitConfig holds Wit.ai credentials.
type WitConfig struct {
	Token      string
	APIBaseURL string
}

func loadWitConfig() (WitConfig, error) {
	token, err := requireEnv("WIT_TOKEN")
	if err != nil {
		return WitConfig{}, err
	}

	return WitConfig{
		Token:      token,
		APIBaseURL: strings.TrimSpace(os.Getenv("WIT_API_URL")),
	}, nil
}

// SessionConfig selects and tunes the session store backend.
type SessionConfig struct {
	// DBPath points at the SQLite file; empty keeps sessions in memory.
	DBPath string
	// LookupFallthrough makes find-or-create treat a failed lookup as "not
	// found" and create a fresh session instead of propagating the error.
	LookupFallthrough bool
}

func loadSessionConfig() (SessionConfig, error) {
	fallthroughOnError, err := parseBoolEnv("SESSION_LOOKUP_FALLTHROUGH", false)
	if err != nil {
		return SessionConfig{}, err
	}

	return SessionConfig{
		DBPath:            strings.TrimSpace(os.Getenv("SESSION_DB_PATH")),
		LookupFallthrough: fallthroughOnError,
	}, nil
}

func requireEnv(key string) (string, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", fmt.Errorf("missing %s", key)
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}
