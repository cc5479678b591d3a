package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/sirupsen/logrus"
)

// IdentityRepository stores identities with blob-encoded embeddings.
type IdentityRepository struct {
	pool *Pool
	log  logrus.FieldLogger
}

// LoadIdentitiesWithEmbeddings returns every identity with a face, in enrollment order.
// Rows whose blob cannot be decoded are logged and returned without an
// embedding, so the gallery skips them instead of failing the whole load.
func (r *IdentityRepository) LoadIdentitiesWithEmbeddings(ctx context.Context) ([]database.EnrolledIdentity, error) {
	rows, err := r.pool.db.QueryContext(ctx, `
		SELECT id, name, role, branch, designation, embedding, updated_at
		FROM identities
		WHERE embedding IS NOT NULL
		ORDER BY seq
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: load identities: %w", database.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []database.EnrolledIdentity
	for rows.Next() {
		var row database.EnrolledIdentity
		var role string
		var blob []byte
		if err := rows.Scan(
			&row.Identity.ID, &row.Identity.Name, &role,
			&row.Identity.Branch, &row.Identity.Designation,
			&blob, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: scan identity: %w", database.ErrStoreUnavailable, err)
		}
		row.Identity.Role = database.Role(role)
		row.Embedding = r.decode(row.Identity.ID, blob)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate identities: %w", database.ErrStoreUnavailable, err)
	}
	return out, nil
}

func (r *IdentityRepository) decode(id string, blob []byte) []float32 {
	e, err := embedding.Decode(blob)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"identity_id": id,
			"error":       err,
		}).Warn("Skipping identity with undecodable embedding")
		return nil
	}
	return e
}

// FindIdentity retrieves an identity by ID, nil if absent.
func (r *IdentityRepository) FindIdentity(ctx context.Context, id string) (*database.Identity, error) {
	var identity database.Identity
	var role string
	err := r.pool.db.QueryRowContext(ctx,
		`SELECT id, name, role, branch, designation FROM identities WHERE id = ?`, id,
	).Scan(&identity.ID, &identity.Name, &role, &identity.Branch, &identity.Designation)
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
	if err := r.pool.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM identities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

// UpsertIdentity inserts an identity or replaces the fields and embedding of
// an existing one, keeping its enrollment order.
func (r *IdentityRepository) UpsertIdentity(ctx context.Context, identity database.Identity, e []float32) error {
	var blob []byte
	if e != nil {
		blob = embedding.Encode(e)
	}

	query := `
		INSERT INTO identities (id, name, role, branch, designation, embedding)
		VALUES (` + placeholders(6) + `)
		ON DUPLICATE KEY UPDATE
			name = VALUES(name),
			role = VALUES(role),
			branch = VALUES(branch),
			designation = VALUES(designation),
			embedding = VALUES(embedding),
			updated_at = CURRENT_TIMESTAMP(6)
	`
	_, err := r.pool.db.ExecContext(ctx, query,
		identity.ID, identity.Name, string(identity.Role),
		identity.Branch, identity.Designation, blob,
	)
	if err != nil {
		return fmt.Errorf("upsert identity %s: %w", identity.ID, err)
	}
	return nil
}

var _ database.IdentityWriter = (*IdentityRepository)(nil)
