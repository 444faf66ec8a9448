// Package config loads host configuration.
//
// Precedence, lowest first: built-in defaults, the YAML file named by
// REMOTEUI_CONFIG, environment variables.
package config
