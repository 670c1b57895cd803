package config

import (
	"os"
	"strconv"
	"time"
)

type LedgerConfig struct {
	MaxBulkSize         int
	DefaultPageSize     int
	MaxPageSize         int
	ListCacheTTL        time.Duration
	SubmitRateLimit     int
	SubmitRateWindow    time.Duration
	DefaultChangeReason string
}

func LoadLedgerConfig() *LedgerConfig {
	return &LedgerConfig{
		MaxBulkSize:         getEnvAsInt("LEDGER_MAX_BULK_SIZE", 100),
		DefaultPageSize:     getEnvAsInt("LEDGER_DEFAULT_PAGE_SIZE", 25),
		MaxPageSize:         getEnvAsInt("LEDGER_MAX_PAGE_SIZE", 100),
		ListCacheTTL:        getEnvAsDuration("LEDGER_LIST_CACHE_TTL", 30*time.Second),
		SubmitRateLimit:     getEnvAsInt("SUBMIT_RATE_LIMIT", 10),
		SubmitRateWindow:    getEnvAsDuration("SUBMIT_RATE_WINDOW", 1*time.Minute),
		DefaultChangeReason: getEnv("LEDGER_DEFAULT_CHANGE_REASON", "salary update"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
