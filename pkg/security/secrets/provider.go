package secrets

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no provider holds the named secret.
var ErrNotFound = errors.New("secret not found")

// Provider retrieves secrets from one backend.
type Provider interface {
	// Get returns the value of the named secret. It returns an error
	// wrapping ErrNotFound when the backend does not hold it.
	Get(ctx context.Context, name string) (string, error)

	// Name identifies the backend in logs ("env", "file").
	Name() string
}

// Refresher is implemented by providers that cache values and can drop
// them when the backend changes.
type Refresher interface {
	Refresh()
}
