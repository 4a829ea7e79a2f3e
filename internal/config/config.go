package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Backend selection: "docker" (default) or "e2b".
	SANDBOX_BACKEND string

	// Docker backend configuration
	SANDBOX_IMAGE   string
	SANDBOX_NETWORK bool

	// E2B backend configuration (only needed when SANDBOX_BACKEND=e2b)
	E2B_API_KEY         string
	E2B_DOMAIN          string
	DEFAULT_TEMPLATE_ID string

	// Sandbox lifetime in seconds
	DEFAULT_TIMEOUT int

	// Local filesystem root for downloaded artifacts
	LOGS_DIR string

	// Otel
	OTEL_EXPORTER_OTLP_ENDPOINT string
}

func ReadConfig() *Config {
	defaultTimeout := 1800
	if timeoutStr := os.Getenv("DEFAULT_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			defaultTimeout = timeout
		}
	}

	return &Config{
		SANDBOX_BACKEND: getEnvOrDefault("SANDBOX_BACKEND", "docker"),

		SANDBOX_IMAGE:   getEnvOrDefault("SANDBOX_IMAGE", "isobox-sandbox"),
		SANDBOX_NETWORK: getEnvOrDefault("SANDBOX_NETWORK", "true") == "true",

		E2B_API_KEY:         os.Getenv("E2B_API_KEY"),
		E2B_DOMAIN:          os.Getenv("E2B_DOMAIN"),
		DEFAULT_TEMPLATE_ID: getEnvOrDefault("DEFAULT_TEMPLATE_ID", "all_pip_apt_pkg"),

		DEFAULT_TIMEOUT: defaultTimeout,

		LOGS_DIR: getEnvOrDefault("LOGS_DIR", "./logs"),

		OTEL_EXPORTER_OTLP_ENDPOINT: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
