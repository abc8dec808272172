// Package config handles configuration loading for coven-router.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_ROUTER_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/router.yaml
//  3. ~/.config/coven/router.yaml
//
// Files ending in .toml are decoded as TOML; anything else as YAML. Both
// formats use the same keys.
//
// # Environment Variable Expansion
//
// Values can reference environment variables, which keeps secrets out of
// the file:
//
//	auth:
//	  app_id: "${MS_APP_ID}"
//	  app_secret: "${MS_APP_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// auth.timeout and dedupe.ttl use time.ParseDuration syntax ("10s", "5m").
// auth.polling_interval_seconds is a plain integer.
//
// # Defaults
//
// Everything but auth.app_id and auth.app_secret has a default pointing at
// the Bot Framework identity endpoint: see the Default* constants.
//
// # Usage
//
//	cfg, err := config.Load(path)
//	creds := credential.NewManager(credential.ManagerParams{Config: cfg.CredentialConfig()})
package config
