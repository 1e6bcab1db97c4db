// Package environment reads glum's configuration from environment variables.
//
// Every helper returns either the parsed value or the supplied default, so a
// malformed optional variable never stops the process. Required values and
// closed choices return errors and leave the exit decision to the caller.
package environment

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// StringOr returns the variable's value, or defaultValue when it is unset or
// empty.
func StringOr(name, defaultValue string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return defaultValue
}

// RequiredString returns the variable's value or an error when it is unset or
// empty.
func RequiredString(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("required environment variable %q is not set", name)
	}
	return v, nil
}

// OneOf returns the variable's value when it is one of allowed, defaultValue
// when it is unset, and an error for anything else. Comparison ignores case.
func OneOf(name, defaultValue string, allowed ...string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	if v == "" {
		return defaultValue, nil
	}
	if !slices.Contains(allowed, v) {
		return "", fmt.Errorf("environment variable %q: %q is not one of %s", name, v, strings.Join(allowed, ", "))
	}
	return v, nil
}

// BoolOr parses the variable with strconv.ParseBool.
func BoolOr(name string, defaultValue bool) bool {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue
	}
	return b
}

// IntOr parses the variable as a decimal integer.
func IntOr(name string, defaultValue int) int {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return defaultValue
	}
	return n
}

// DurationOr parses the variable with time.ParseDuration ("30s", "5m").
func DurationOr(name string, defaultValue time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return defaultValue
	}
	return d
}

// StringSliceOr splits the variable on commas and drops blank elements.
func StringSliceOr(name string, defaultValue []string) []string {
	v := os.Getenv(name)
	if v == "" {
		return defaultValue
	}
	var result []string
	for _, p := range strings.Split(v, ",") {
		if t := strings.TrimSpace(p); t != "" {
			result = append(result, t)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
