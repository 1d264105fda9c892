// Package logging builds slog loggers from configuration and provides
// shared attribute helpers and field name conventions.
package logging
