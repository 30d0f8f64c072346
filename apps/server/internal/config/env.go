package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// IntFromEnv reads an int, falling back to defaultValue when unset or blank.
func IntFromEnv(key string, defaultValue int) (int, error) {
	rawValue, ok := lookup(key)
	if !ok {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(rawValue)
	if err != nil {
		return 0, fmt.Errorf("invalid int env %s=%q: %w", key, rawValue, err)
	}
	return value, nil
}

func Int64FromEnv(key string, defaultValue int64) (int64, error) {
	rawValue, ok := lookup(key)
	if !ok {
		return defaultValue, nil
	}
	value, err := strconv.ParseInt(rawValue, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid int64 env %s=%q: %w", key, rawValue, err)
	}
	return value, nil
}

// DurationMillisFromEnv reads a non-negative millisecond count.
func DurationMillisFromEnv(key string, defaultMillis int64) (time.Duration, error) {
	valueMillis, err := Int64FromEnv(key, defaultMillis)
	if err != nil {
		return 0, err
	}
	if valueMillis < 0 {
		return 0, fmt.Errorf("invalid duration millis env %s=%d", key, valueMillis)
	}
	return time.Duration(valueMillis) * time.Millisecond, nil
}

// DurationFromEnv reads a Go duration string such as "720h".
func DurationFromEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	rawValue, ok := lookup(key)
	if !ok {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(rawValue)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid duration env %s=%q", key, rawValue)
	}
	return value, nil
}

// BoolFromEnv accepts true/1/yes/y and false/0/no/n.
func BoolFromEnv(key string, defaultValue bool) (bool, error) {
	rawValue, ok := lookup(key)
	if !ok {
		return defaultValue, nil
	}
	switch strings.ToLower(rawValue) {
	case "true", "1", "yes", "y":
		return true, nil
	case "false", "0", "no", "n":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool env %s=%q", key, rawValue)
	}
}

func StringFromEnv(key string, defaultValue string) string {
	rawValue, ok := lookup(key)
	if !ok {
		return defaultValue
	}
	return rawValue
}

// StringFromEnvFirstNonEmpty returns the first key that carries a value.
func StringFromEnvFirstNonEmpty(keys []string, defaultValue string) string {
	for _, key := range keys {
		if rawValue, ok := lookup(key); ok {
			return rawValue
		}
	}
	return defaultValue
}

// StringListFromEnv splits on commas and whitespace.
func StringListFromEnv(key string, defaultValue []string) []string {
	rawValue, ok := lookup(key)
	if !ok {
		return defaultValue
	}
	parts := strings.FieldsFunc(rawValue, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(parts) == 0 {
		return defaultValue
	}
	return parts
}

func lookup(key string) (string, bool) {
	rawValue, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	rawValue = strings.TrimSpace(rawValue)
	if rawValue == "" {
		return "", false
	}
	return rawValue, true
}
