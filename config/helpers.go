package config

import (
	"os"
	"strconv"
	"time"
)

// Environment fallbacks for CLI flags. Flags beat environment beats file
// beats defaults; the binaries wire these as flag defaults so the ordering
// falls out of flag.Parse.

// Env returns the variable's value, or def when unset or empty.
func Env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// EnvBool parses the variable as a bool, or returns def.
func EnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return def
}

// EnvInt parses the variable as an int, or returns def.
func EnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

// EnvFloat parses the variable as a float, or returns def.
func EnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

// EnvDuration parses the variable as a duration, or returns def.
func EnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			return parsed
		}
	}
	return def
}
