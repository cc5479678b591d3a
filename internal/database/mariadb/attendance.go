package mariadb

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

// AppendAttendance inserts a record.
func (r *AttendanceRepository) AppendAttendance(ctx context.Context, rec database.AttendanceRecord) error {
	query := `
		INSERT INTO attendance (id, identity_id, name, role, branch, designation, date, time_of_day, marked_at)
		VALUES (` + placeholders(9) + `)
	`
	_, err := r.pool.db.ExecContext(ctx, query,
		rec.ID, rec.IdentityID, rec.Name, string(rec.Role), rec.Branch, rec.Designation,
		rec.Date, rec.TimeOfDay, rec.Timestamp.UTC(),
	)
	if isMissingReference(err) {
		return fmt.Errorf("append attendance: identity %s is not enrolled: %w", rec.IdentityID, err)
	}
	if err != nil {
		return fmt.Errorf("append attendance for %s: %w", rec.IdentityID, err)
	}
	return nil
}

// buildAttendanceQuery builds the history query for filter with ? parameters.
func buildAttendanceQuery(filter database.AttendanceFilter) (string, []any) {
	var where []string
	var args []any

	if filter.IdentityID != "" {
		where = append(where, "identity_id = ?")
		args = append(args, filter.IdentityID)
	}
	if filter.Date != "" {
		where = append(where, "date = ?")
		args = append(args, filter.Date)
	}
	if filter.Role != "" {
		where = append(where, "role = ?")
		args = append(args, string(filter.Role))
	}

	var b strings.Builder
	b.WriteString(`SELECT id, identity_id, name, role, branch, designation,
		DATE_FORMAT(date, '%Y-%m-%d'), TIME_FORMAT(time_of_day, '%H:%i:%s'), marked_at
		FROM attendance`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY marked_at DESC, id DESC")
	if filter.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}
	return b.String(), args
}

// QueryAttendance returns matching records, newest first.
func (r *AttendanceRepository) QueryAttendance(ctx context.Context, filter database.AttendanceFilter) ([]database.AttendanceRecord, error) {
	query, args := buildAttendanceQuery(filter)

	rows, err := r.pool.db.QueryContext(ctx, query, args...)
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
