// Package license implements the license-key lifecycle and the device binding
// protocol.
//
// # Components
//
//	- Store:     durable mapping from key token to KeyRecord with an atomic
//	             BindIfUnbound (MemoryStore here; PostgreSQL in internal/database)
//	- Engine:    admin operations (generate, revoke, activate, note, delete)
//	- Validator: client validation of a (key, hwid) pair
//
// # Key States
//
// A key is UNBOUND until its first successful validation, BOUND afterwards, and
// REVOKED whenever its active flag is cleared. Revocation is orthogonal to
// binding: reactivating a bound key restores it for the same device only. There
// is no unbind operation; rebinding requires deleting the key and issuing a new
// one.
//
// # Binding
//
// The first validation that reaches an unbound, active key binds it to the
// presented HWID. The check and the write happen inside a single store call so
// two devices racing on the same fresh key cannot both succeed:
//
//	verdict, err := validator.Validate(ctx, key, hwid)
//	if err != nil {
//	    // ErrStoreUnavailable: transient, caller decides whether to retry
//	}
//	if !verdict.Valid {
//	    // verdict.Reason is one of ReasonUnknownKey, ReasonRevoked,
//	    // ReasonBoundElsewhere, ReasonMalformed
//	}
//
// # Admin Operations
//
// Engine methods take an explicit Actor describing the authenticated admin for
// the current request. A zero Actor is rejected with ErrUnauthenticated.
package license
