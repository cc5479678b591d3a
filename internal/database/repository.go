package database

import (
	"context"
	"errors"
)

// ErrStoreUnavailable is wrapped by repositories when the backing store could
// not be read at all (connection refused, query failure during a full load).
var ErrStoreUnavailable = errors.New("store unavailable")

// IdentityReader provides read-only access to enrolled identities
type IdentityReader interface {
	// LoadIdentitiesWithEmbeddings returns every identity that has a face embedding,
	// in enrollment order. Failures wrap ErrStoreUnavailable.
	LoadIdentitiesWithEmbeddings(ctx context.Context) ([]EnrolledIdentity, error)
	// FindIdentity retrieves an identity by ID, returns nil if not found
	FindIdentity(ctx context.Context, id string) (*Identity, error)
	// CountIdentities returns the number of identities stored, with or without a face
	CountIdentities(ctx context.Context) (int, error)
}

// IdentityWriter provides write access to identities
type IdentityWriter interface {
	IdentityReader

	// UpsertIdentity inserts the identity or, if the ID exists, replaces its
	// mutable fields and embedding. The ID itself never changes.
	UpsertIdentity(ctx context.Context, identity Identity, embedding []float32) error
}

// AttendanceReader provides read-only access to attendance history
type AttendanceReader interface {
	// QueryAttendance returns records matching the filter, newest first
	QueryAttendance(ctx context.Context, filter AttendanceFilter) ([]AttendanceRecord, error)
}

// AttendanceWriter provides append access to attendance history
type AttendanceWriter interface {
	AttendanceReader

	// AppendAttendance durably stores a record. Records are never updated.
	AppendAttendance(ctx context.Context, record AttendanceRecord) error
}

// Store is the full storage surface a backend provides.
type Store interface {
	IdentityWriter
	AttendanceWriter

	// Close releases the underlying connection pool
	Close() error
}

// MigrationLister is implemented by backends that track schema migrations.
type MigrationLister interface {
	MigrationsApplied(ctx context.Context) ([]string, error)
}
