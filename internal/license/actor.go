package license

import (
	"context"
	"time"
)

// Actor identifies the authenticated administrator performing an operation.
// It is built per request by the authentication layer and passed explicitly to
// Engine methods.
type Actor struct {
	Subject         string
	Method          string // e.g. "basic", "cli"
	AuthenticatedAt time.Time
}

// IsZero reports whether the actor carries no identity.
func (a Actor) IsZero() bool {
	return a.Subject == ""
}

type actorKey struct{}

// WithActor attaches an authenticated actor to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFromContext returns the actor attached by WithActor.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok && !a.IsZero()
}
