package student

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Student is one enrolled student. The three human-facing identifiers are
// assigned at creation and never change; updates deliberately exclude them.
type Student struct {
	ID          string    `json:"id"`
	SerialNo    string    `json:"serial_no"`
	AdmissionNo string    `json:"admission_no"`
	RollNo      string    `json:"roll_no"`
	FullName    string    `json:"full_name"`
	FatherName  string    `json:"father_name,omitempty"`
	CourseID    *string   `json:"course_id,omitempty"`
	PhotoURL    *string   `json:"photo_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ErrDuplicateIdentifier is returned when a serial, admission, or roll
// number is already taken.
var ErrDuplicateIdentifier = errors.New("identifier already in use")

// Repository persists students and their card registrations in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const studentCols = `id, serial_no, admission_no, roll_no, full_name, father_name, course_id, photo_url, created_at`

// Create inserts a new student. IDs are never reused; a fresh UUID is
// assigned when none is provided.
func (r *Repository) Create(ctx context.Context, s Student) (Student, error) {
	if s.SerialNo == "" || s.AdmissionNo == "" || s.RollNo == "" {
		return Student{}, errors.New("serial, admission and roll numbers required")
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO students (id, serial_no, admission_no, roll_no, full_name, father_name, course_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, s.ID, s.SerialNo, s.AdmissionNo, s.RollNo, s.FullName, s.FatherName, s.CourseID)
	if err := row.Scan(&s.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Student{}, ErrDuplicateIdentifier
		}
		return Student{}, err
	}
	return s, nil
}

// Get returns a student by id, or nil when absent.
func (r *Repository) Get(ctx context.Context, id string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentCols+` FROM students WHERE id = $1`, id)
	return scanStudent(row)
}

// GetByAdmissionNo returns a student by admission number, or nil.
func (r *Repository) GetByAdmissionNo(ctx context.Context, admissionNo string) (*Student, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+studentCols+` FROM students WHERE admission_no = $1`, admissionNo)
	return scanStudent(row)
}

// List returns students ordered by serial number.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Student, error) {
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+studentCols+` FROM students ORDER BY serial_no LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []Student
	for rows.Next() {
		var s Student
		if err := rows.Scan(&s.ID, &s.SerialNo, &s.AdmissionNo, &s.RollNo, &s.FullName, &s.FatherName, &s.CourseID, &s.PhotoURL, &s.CreatedAt); err != nil {
			return nil, err
		}
		students = append(students, s)
	}
	return students, rows.Err()
}

// SetPhoto stores the uploaded ID-card photo URL.
func (r *Repository) SetPhoto(ctx context.Context, id, photoURL string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE students SET photo_url = $2 WHERE id = $1`, id, photoURL)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return err
}

// RegisterCard binds a scan card to a student. Re-registering the same card
// moves it to the new student.
func (r *Repository) RegisterCard(ctx context.Context, cardID, studentID string) error {
	if cardID == "" || studentID == "" {
		return errors.New("card and student required")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cards (card_id, student_id)
		VALUES ($1, $2)
		ON CONFLICT (card_id) DO UPDATE SET student_id = EXCLUDED.student_id
	`, cardID, studentID)
	return err
}

// ResolveCard returns the student bound to a card, or "" when unknown.
// Satisfies attendance.CardResolver.
func (r *Repository) ResolveCard(ctx context.Context, cardID string) (string, error) {
	var studentID string
	err := r.db.QueryRowContext(ctx, `SELECT student_id FROM cards WHERE card_id = $1`, cardID).Scan(&studentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return studentID, err
}

func scanStudent(row *sql.Row) (*Student, error) {
	var s Student
	if err := row.Scan(&s.ID, &s.SerialNo, &s.AdmissionNo, &s.RollNo, &s.FullName, &s.FatherName, &s.CourseID, &s.PhotoURL, &s.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// isUniqueViolation matches Postgres unique_violation without importing the
// driver's error type here.
func isUniqueViolation(err error) bool {
	type coder interface{ SQLState() string }
	var c coder
	if errors.As(err, &c) {
		return c.SQLState() == "23505"
	}
	return false
}
