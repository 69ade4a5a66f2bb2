// Package config loads and validates reelpipe's TOML configuration and the
// YAML record-database mapping file.
package config
