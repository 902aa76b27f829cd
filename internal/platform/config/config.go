package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Load reads environment variables from .env files. With no paths ".env" in
// the working directory is used. Variables already set in the environment
// win; a missing file is an error the caller may ignore.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// lookup parses the variable named by key, falling back when it is unset,
// empty or rejected by parse.
func lookup[T any](key string, fallback T, parse func(string) (T, error)) T {
	s := os.Getenv(key)
	if s == "" {
		return fallback
	}
	v, err := parse(s)
	if err != nil {
		return fallback
	}
	return v
}

// GetEnv returns the variable named by key, or fallback when unset or empty.
func GetEnv(key, fallback string) string {
	return lookup(key, fallback, func(s string) (string, error) { return s, nil })
}

// GetEnvInt parses a base 10 integer.
func GetEnvInt(key string, fallback int) int {
	return lookup(key, fallback, strconv.Atoi)
}

// GetEnvDuration parses values like "100ms" or "10s".
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	return lookup(key, fallback, time.ParseDuration)
}

// GetEnvLocation resolves an IANA zone name such as "Europe/London".
// "Local" and "UTC" are accepted.
func GetEnvLocation(key string, fallback *time.Location) *time.Location {
	return lookup(key, fallback, time.LoadLocation)
}
