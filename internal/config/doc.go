// Package config loads, validates, and defaults Scribe's TOML configuration.
package config
