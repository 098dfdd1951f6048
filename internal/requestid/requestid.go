// Package requestid carries a per-request identifier through contexts so
// log lines and audit entries from one API call can be correlated.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header a request ID is read from and echoed in.
const Header = "X-Request-ID"

type ctxKey struct{}

// New returns a fresh random request ID.
func New() string {
	return uuid.NewString()
}

// With returns a copy of ctx carrying id.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// From returns the request ID stored in ctx, or "" when there is none.
func From(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Valid reports whether id is acceptable from a client. Only UUIDs are
// trusted so arbitrary header values never reach the logs.
func Valid(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
