package storage

import (
	"context"
)

// ObjectStore is the conditional-write object store the lease protocol runs
// against. Implementations translate their native failures into the domain
// taxonomy: domain.ErrObjectNotFound, domain.ErrPreconditionFailed,
// *domain.AuthError, *domain.TimeoutError and *domain.RequestError.
type ObjectStore interface {
	// EnsureBucket creates the backing bucket if it does not exist yet.
	// Idempotent and safe to call repeatedly.
	EnsureBucket(ctx context.Context) error

	// Exists reports whether the object is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Get returns the object body and its current version token.
	Get(ctx context.Context, key string) ([]byte, string, error)

	// Create writes the object only if it does not exist yet and returns
	// the version token assigned to it.
	Create(ctx context.Context, key string, body []byte) (string, error)

	// Update overwrites the object only if its current version token equals
	// version, returning the fresh token.
	Update(ctx context.Context, key string, body []byte, version string) (string, error)

	// Delete removes the object. Deleting an absent object returns
	// domain.ErrObjectNotFound where the backend can tell the difference.
	Delete(ctx context.Context, key string) error

	Close() error
}
