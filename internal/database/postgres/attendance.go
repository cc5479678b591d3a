package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/kozaktomas/face-attendance/internal/database"
)

// AttendanceRepository stores the append-only attendance log.
type AttendanceRepository struct {
	pool *Pool
}

// NewAttendanceRepository creates a new PostgreSQL attendance repository.
func NewAttendanceRepository(pool *Pool) *AttendanceRepository {
	return &AttendanceRepository{pool: pool}
}

// AppendAttendance inserts a record.
func (r *AttendanceRepository) AppendAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	query := `
		INSERT INTO attendance (id, identity_id, name, role, branch, designation, date, time_of_day, marked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.pool.Exec(ctx, query,
		rec.ID, rec.IdentityID, rec.Name, string(rec.Role), rec.Branch, rec.Designation,
		rec.Date, rec.TimeOfDay, rec.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append attendance for %s: %w", rec.IdentityID, err)
	}
	return nil
}

// buildAttendanceQuery builds the history query for filter with positional
// ($n) parameters.
func buildAttendanceQuery(filter database.AttendanceFilter) (string, []any) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.IdentityID != "" {
		add("identity_id = $%d", filter.IdentityID)
	}
	if filter.Date != "" {
		add("date = $%d", filter.Date)
	}
	if filter.Role != "" {
		add("role = $%d", string(filter.Role))
	}

	var b strings.Builder
	b.WriteString(`SELECT id, identity_id, name, role, branch, designation,
		to_char(date, 'YYYY-MM-DD'), to_char(time_of_day, 'HH24:MI:SS'), marked_at
		FROM attendance`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY marked_at DESC, id DESC")
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

// QueryAttendance returns matching records, newest first.
func (r *AttendanceRepository) QueryAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	query, args := buildAttendanceQuery(filter)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attendance: %w", err)
	}
	defer rows.Close()

	var out []database.AttendanceRecord
	for rows.Next() {
		var rec database.AttendanceRecord
		var role string
		if err := rows.Scan(
			&rec.ID, &rec.IdentityID, &rec.Name, &role, &rec.Branch, &rec.Designation,
			&rec.Date, &rec.TimeOfDay, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		rec.Role = database.Role(role)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance: %w", err)
	}
	return out, nil
}

var _ database.AttendanceWriter = (*AttendanceRepository)(nil)
