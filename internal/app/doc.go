// Package app wires the license server together and runs it.
//
// New builds every component from a loaded configuration:
//
//	1. Logging and OpenTelemetry providers
//	2. The key store (in-memory or PostgreSQL, optionally migrating the schema)
//	3. The lifecycle engine and validator, publishing to the WebSocket hub
//	4. Services, handlers and the chi router
//	5. The http.Server
//
// Run serves until the context is cancelled and then shuts down gracefully:
// in-flight requests finish within the configured shutdown timeout and
// event-stream clients are disconnected. Close releases the store, flushes
// telemetry and closes the log file. Errors are returned to the caller; the
// package never exits the process.
package app
