// Package config manages application configuration for the sect API.
//
// Configuration is parsed from environment variables into tagged structs
// with github.com/caarlos0/env, then checked as a whole:
//
//	cfg, err := config.Load()
//	if err != nil { ... }
//	if err := cfg.Validate(); err != nil { ... } // every problem, joined
//
// # Configuration Groups
//
//   - ServerConfig: HTTP server settings (port, timeouts, CORS)
//   - StorageConfig: driver selection (surrealdb, sqlite, memory)
//   - DatabaseConfig: SurrealDB connection settings
//   - RedisConfig: shared cache for rate limiting and idempotency
//   - JWTConfig: token validation settings
//   - RateLimitConfig, IdempotencyConfig, LedgerConfig, JobsConfig
//
// # Balance Tables
//
// The economy (rates, caps, level tiers, building effects, attacks) defaults
// to model.DefaultBalance. BALANCE_PATH points at a YAML file whose keys
// override the defaults:
//
//	balance, err := config.LoadBalance(cfg.BalancePath)
package config
