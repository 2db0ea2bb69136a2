package config

import "os"

// EnvironmentExpander defines an interface for expanding environment variables in a string.
type EnvironmentExpander interface {
	// Expand replaces ${var} or $var in the string with the values of the current environment variables.
	Expand(s string) string
}

// OsEnvironmentExpander implements EnvironmentExpander using os.ExpandEnv.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates a new OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand implements the EnvironmentExpander interface.
func (e *OsEnvironmentExpander) Expand(s string) string {
	return os.ExpandEnv(s)
}

// Verify interface implementation
var _ EnvironmentExpander = (*OsEnvironmentExpander)(nil)
