package config

import (
	"os"
	"regexp"
)

// EnvironmentExpander expands environment variable placeholders in raw configuration bytes.
type EnvironmentExpander interface {
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands ${VAR} and ${VAR:-default} placeholders from the process environment.
// A bare $VAR is left untouched so DSNs and passwords containing '$' survive.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates and returns a new instance of OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// Expand replaces every placeholder with the variable's value, or with its default when the variable is unset or empty.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	return placeholderPattern.ReplaceAllFunc(input, func(m []byte) []byte {
		groups := placeholderPattern.FindSubmatch(m)
		if v, ok := os.LookupEnv(string(groups[1])); ok && v != "" {
			return []byte(v)
		}
		return groups[2]
	}), nil
}
