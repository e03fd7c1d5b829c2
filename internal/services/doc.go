// Package services sits between the HTTP handlers and the license core.
//
// KeyService wraps the lifecycle engine and the validator with tracing spans
// and the export writers; HealthService reports liveness and store readiness.
// Handlers depend on the interfaces so they can be tested with mocks.
package services
