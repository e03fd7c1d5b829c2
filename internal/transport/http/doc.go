// Package http implements the HTTP surface of the license server.
//
// Handlers are thin: they decode and validate requests, pull the
// authenticated admin from the request context, call services.KeyService and
// render contract types from pkg/contracts/api/v1. Every error goes through
// the shared ErrorHandler, which renders RFC 7807 problems.
//
// # Routes
//
//	POST   /api/v1/validate                      public
//	GET    /api/v1/admin/keys                    list
//	POST   /api/v1/admin/keys                    generate
//	GET    /api/v1/admin/keys/export?format=     csv | xlsx
//	GET    /api/v1/admin/keys/{key}              get
//	PATCH  /api/v1/admin/keys/{key}              update note
//	DELETE /api/v1/admin/keys/{key}              delete
//	POST   /api/v1/admin/keys/{key}/revoke
//	POST   /api/v1/admin/keys/{key}/activate
//	GET    /api/v1/admin/events                  WebSocket event feed
//	GET    /healthz, /readyz, /metrics
//
// A rejected license is not an HTTP error: /validate answers 200 with
// {"valid": false, "reason": ...}.
package http
