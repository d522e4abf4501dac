// Package config loads, normalizes, and validates cubemill's TOML
// configuration.
package config
