package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository persists attendance records in Postgres. A unique index on
// (student_id, course_id, day) backs the natural key, so concurrent upserts
// on the same key serialize inside the database.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the record for one natural key, or nil when the day is still
// unmarked.
func (r *Repository) Get(ctx context.Context, studentID, courseID string, day time.Time) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT student_id, course_id, day, ts, status, attendance_type, digital_method, marked_by, created_at
		FROM attendance_records
		WHERE student_id = $1 AND course_id = $2 AND day = $3
	`, studentID, courseID, DayOf(day))
	var rec Record
	if err := row.Scan(&rec.StudentID, &rec.CourseID, &rec.Day, &rec.Timestamp, &rec.Status, &rec.Type, &rec.DigitalMethod, &rec.MarkedBy, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert writes the day's record, updating in place when the natural key
// already exists. The xmax trick distinguishes a fresh insert from an
// update of an existing row in a single statement.
func (r *Repository) Upsert(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.StudentID == "" {
		return Record{}, false, errors.New("student id required")
	}
	if rec.Day.IsZero() {
		rec.Day = DayOf(rec.Timestamp)
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_records (student_id, course_id, day, ts, status, attendance_type, digital_method, marked_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (student_id, course_id, day) DO UPDATE SET
			ts              = EXCLUDED.ts,
			status          = EXCLUDED.status,
			attendance_type = EXCLUDED.attendance_type,
			digital_method  = EXCLUDED.digital_method,
			marked_by       = EXCLUDED.marked_by
		RETURNING created_at, (xmax <> 0) AS updated
	`, rec.StudentID, rec.CourseID, rec.Day, rec.Timestamp, rec.Status, rec.Type, rec.DigitalMethod, rec.MarkedBy)
	var updated bool
	if err := row.Scan(&rec.CreatedAt, &updated); err != nil {
		return Record{}, false, err
	}
	return rec, updated, nil
}

// List returns records matching the filter, newest day first.
func (r *Repository) List(ctx context.Context, f Filter) ([]Record, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	query := `SELECT student_id, course_id, day, ts, status, attendance_type, digital_method, marked_by, created_at FROM attendance_records`
	args := []any{}
	clauses := []string{}
	add := func(clause string, val any) {
		args = append(args, val)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}
	if f.StudentID != "" {
		add("student_id = $%d", f.StudentID)
	}
	if f.CourseID != "" {
		add("course_id = $%d", f.CourseID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if !f.From.IsZero() {
		add("day >= $%d", DayOf(f.From))
	}
	if !f.To.IsZero() {
		add("day <= $%d", DayOf(f.To))
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += fmt.Sprintf(" ORDER BY day DESC, student_id LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.StudentID, &rec.CourseID, &rec.Day, &rec.Timestamp, &rec.Status, &rec.Type, &rec.DigitalMethod, &rec.MarkedBy, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}
