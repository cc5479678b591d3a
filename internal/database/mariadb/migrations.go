package mariadb

import (
	"context"
	"fmt"
)

// migration is one versioned schema step. The driver runs one statement per
// Exec, so each step is a list of statements.
type migration struct {
	version    string
	statements []string
}

var migrations = []migration{
	{
		version: "001_initial",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS identities (
				seq         BIGINT NOT NULL AUTO_INCREMENT,
				id          VARCHAR(64) NOT NULL,
				name        VARCHAR(255) NOT NULL,
				role        ENUM('student', 'teacher') NOT NULL,
				branch      VARCHAR(255) NOT NULL DEFAULT '',
				designation VARCHAR(255) NOT NULL DEFAULT '',
				embedding   BLOB NULL,
				created_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
				updated_at  DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6),
				PRIMARY KEY (id),
				UNIQUE KEY uk_identities_seq (seq)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS attendance (
				id          CHAR(36) NOT NULL,
				identity_id VARCHAR(64) NOT NULL,
				name        VARCHAR(255) NOT NULL,
				role        ENUM('student', 'teacher') NOT NULL,
				branch      VARCHAR(255) NOT NULL DEFAULT '',
				designation VARCHAR(255) NOT NULL DEFAULT '',
				date        DATE NOT NULL,
				time_of_day TIME NOT NULL,
				marked_at   DATETIME(6) NOT NULL,
				PRIMARY KEY (id),
				KEY idx_attendance_identity (identity_id),
				KEY idx_attendance_date (date),
				KEY idx_attendance_marked_at (marked_at),
				CONSTRAINT fk_attendance_identity FOREIGN KEY (identity_id) REFERENCES identities (id)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		},
	},
	{
		version: "002_role_date_index",
		statements: []string{
			`CREATE INDEX idx_attendance_role_date ON attendance (role, date)`,
		},
	},
}

func (p *Pool) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at DATETIME(6) NOT NULL DEFAULT CURRENT_TIMESTAMP(6)
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("create migrations table: %w", err)
	}

	versions, err := p.MigrationsApplied(ctx)
	if err != nil {
		return nil, err
	}
	applied := make(map[string]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

// Migrate applies pending migrations in order and returns their versions.
// DDL is not transactional in MariaDB; a failed step is retried as a whole
// on the next run, so every statement must be safe to repeat: tables use
// IF NOT EXISTS and a duplicate index error (1061) counts as done, since
// MySQL has no CREATE INDEX IF NOT EXISTS.
func (p *Pool) Migrate(ctx context.Context) ([]string, error) {
	applied, err := p.appliedMigrations(ctx)
	if err != nil {
		return nil, err
	}

	var done []string
	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		for i, stmt := range m.statements {
			if _, err := p.db.ExecContext(ctx, stmt); err != nil && !isDuplicateIndex(err) {
				return done, fmt.Errorf("execute migration %s step %d: %w", m.version, i+1, err)
			}
		}
		if _, err := p.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return done, fmt.Errorf("record migration %s: %w", m.version, err)
		}
		done = append(done, m.version)
	}
	return done, nil
}

// MigrationsApplied returns the applied migrations in order.
func (p *Pool) MigrationsApplied(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan migration version: %w", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate migration versions: %w", err)
	}
	return versions, nil
}
