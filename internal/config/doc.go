// ABOUTME: Package config documentation
// ABOUTME: Describes file formats, env expansion, overrides and defaults

// Package config handles configuration loading for coven-bot.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_BOT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/bot.yaml
//  3. ~/.config/coven/bot.yaml
//
// Files ending in .toml are decoded as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	sessions:
//	  - id: main
//	    access_token: "${MATRIX_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Environment Overrides
//
// After the file is decoded, COVEN_BOT_DATABASE_PATH, COVEN_BOT_PLUGINS_DIR,
// COVEN_BOT_PREFIXES (comma separated), COVEN_BOT_HTTP_ADDR,
// COVEN_BOT_GRPC_ADDR, COVEN_BOT_LOG_LEVEL and COVEN_BOT_LOG_FORMAT replace
// the corresponding values.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	dedup:
//	  lock_timeout: "15s"
//	  retention: "30s"
//
// Zero durations leave the component's own default in place.
package config
