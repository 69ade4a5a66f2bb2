// Package logging wraps log/slog with reelpipe's output handlers and the
// standardized field vocabulary used across workflow runs.
package logging
