package env

import (
	"os"
	"strconv"
)

// Bool reads a boolean environment variable, falling back to defaultValue
// when unset or unparsable.
func Bool(env string, defaultValue bool) bool {
	if env == "" || os.Getenv(env) == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(os.Getenv(env))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Int reads an integer environment variable, falling back to defaultValue
// when unset or unparsable.
func Int(env string, defaultValue int) int {
	if env == "" || os.Getenv(env) == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(os.Getenv(env))
	if err != nil {
		return defaultValue
	}
	return parsed
}

// Float64 reads a float environment variable, falling back to defaultValue
// when unset or unparsable.
func Float64(env string, defaultValue float64) float64 {
	if env == "" || os.Getenv(env) == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseFloat(os.Getenv(env), 64)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// String reads a string environment variable, falling back to defaultValue
// when unset.
func String(env string, defaultValue string) string {
	if env == "" || os.Getenv(env) == "" {
		return defaultValue
	}
	return os.Getenv(env)
}
