// Package config loads licsrv configuration.
//
// # Configuration Sources
//
// Values are resolved in increasing order of precedence:
//
//	1. Defaults (see Default)
//	2. A YAML file named by LICSRV_CONFIG, or ./config.yaml when present
//	3. Environment variables with the LICSRV_ prefix
//
// # Environment Variables
//
//	LICSRV_SERVER_PORT=8080
//	LICSRV_STORE_DRIVER=postgres
//	LICSRV_STORE_DSN=postgres://licsrv@localhost/licsrv?sslmode=disable
//	LICSRV_ADMIN_USERNAME=admin
//	LICSRV_ADMIN_PASSWORD_HASH=$2a$10$...
//	LICSRV_LOGGING_LEVEL=debug
//	LICSRV_TELEMETRY_TRACE_EXPORTER=stdout
//
// The admin password hash is produced by `licensectl hash-password`. Plaintext
// passwords are never read from configuration.
package config
