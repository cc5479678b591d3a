package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/pgvector/pgvector-go"
)

// IdentityRepository stores identities and their face embeddings.
type IdentityRepository struct {
	pool *Pool
}

// NewIdentityRepository creates a new PostgreSQL identity repository.
func NewIdentityRepository(pool *Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// LoadIdentitiesWithEmbeddings returns every identity with a face, in enrollment order.
func (r *IdentityRepository) LoadIdentitiesWithEmbeddings(ctx context.Context) ([]database.EnrolledIdentity, error) {
	query := `
		SELECT id, name, role, branch, designation, embedding, updated_at
		FROM identities
		WHERE embedding IS NOT NULL
		ORDER BY seq
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: load identities: %w", database.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []database.EnrolledIdentity
	for rows.Next() {
		var row database.EnrolledIdentity
		var role string
		var vec pgvector.Vector
		if err := rows.Scan(
			&row.Identity.ID, &row.Identity.Name, &role,
			&row.Identity.Branch, &row.Identity.Designation,
			&vec, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan identity: %w", database.ErrStoreUnavailable, err)
		}
		row.Identity.Role = database.Role(role)
		row.Embedding = vec.Slice()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate identities: %w", database.ErrStoreUnavailable, err)
	}
	return out, nil
}

// FindIdentity retrieves an identity by ID, nil if absent.
func (r *IdentityRepository) FindIdentity(ctx context.Context, id string) (*database.Identity, error) {
	query := `SELECT id, name, role, branch, designation FROM identities WHERE id = $1`

	var identity database.Identity
	var role string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&identity.ID, &identity.Name, &role, &identity.Branch, &identity.Designation,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find identity %s: %w", id, err)
	}
	identity.Role = database.Role(role)
	return &identity, nil
}

// CountIdentities returns the number of stored identities.
func (r *IdentityRepository) CountIdentities(ctx context.Context) (int, error) {
	var n int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

// UpsertIdentity inserts an identity or replaces the fields and embedding of
// an existing one. The enrollment order (seq) of an existing identity is kept.
func (r *IdentityRepository) UpsertIdentity(ctx context.Context, identity database.Identity, embedding []float32) error {
	var vec any
	if embedding != nil {
		vec = pgvector.NewVector(embedding)
	}

	query := `
		INSERT INTO identities (id, name, role, branch, designation, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			branch = EXCLUDED.branch,
			designation = EXCLUDED.designation,
			embedding = EXCLUDED.embedding,
			updated_at = NOW()
	`

	_, err := r.pool.Exec(ctx, query,
		identity.ID, identity.Name, string(identity.Role),
		identity.Branch, identity.Designation, vec,
	)
	if err != nil {
		return fmt.Errorf("upsert identity %s: %w", identity.ID, err)
	}
	return nil
}

var _ database.IdentityWriter = (*IdentityRepository)(nil)
