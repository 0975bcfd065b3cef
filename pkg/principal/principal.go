// Package principal defines the caller identity handle the core treats as
// an opaque value, per spec.md §3 ("Principal — opaque, comparable,
// hashable identity handle obtained from the ambient transport. The core
// never generates principals; it treats them as values.").
package principal

import (
	"context"
	"errors"
)

// Principal identifies the caller of a core operation. The core never
// constructs one from scratch; it is always handed one by the ambient
// transport (pkg/authn in this build).
type Principal interface {
	// ID is the opaque, comparable identity string.
	ID() string
}

// Base is the default Principal implementation.
type Base struct {
	id string
}

func New(id string) Base {
	return Base{id: id}
}

func (b Base) ID() string { return b.id }

type contextKey struct{}

// WithContext attaches a Principal to ctx.
func WithContext(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext retrieves the Principal attached to ctx.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	if !ok {
		return nil, errors.New("principal: no principal in context")
	}
	return p, nil
}
